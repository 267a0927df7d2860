package cachepolicy

import "time"

// freshnessLifetime implements RFC 9111 §4.2.1's precedence, extended
// with the heuristic case (§4.2.2) and two zeroing rules carried over
// from this engine's reference crate: a shared cache must not treat a
// Set-Cookie-bearing response as fresh unless it is explicitly public or
// immutable, and a response Vary: * can never be considered fresh since
// no future request could ever match it.
func (p CachePolicy) freshnessLifetime() time.Duration {
	resCC := responseCacheControl(p.res, p.opts)

	if hasStar(p.res.Header.CommaList("vary")) {
		return 0
	}

	if p.opts.Shared && p.res.Header.Has("set-cookie") &&
		!resCC.Has("public") && !resCC.Has("immutable") {
		return 0
	}

	if p.opts.Shared {
		if d, ok := resCC.DeltaSeconds("s-maxage"); ok {
			return d
		}
	}
	if d, ok := resCC.DeltaSeconds("max-age"); ok {
		if resCC.Has("immutable") && d < p.opts.ImmutableMinTimeToLive {
			return p.opts.ImmutableMinTimeToLive
		}
		return d
	}
	if expires, ok := parseHTTPDate(p.res.Header.Get("expires")); ok {
		date, dateOK := p.dateHeader()
		if !dateOK {
			date = p.responseTime
		}
		if expires.Before(date) {
			return 0
		}
		return expires.Sub(date)
	}
	if resCC.Has("immutable") {
		return p.opts.ImmutableMinTimeToLive
	}
	return p.heuristicFreshnessLifetime()
}

// heuristicFreshnessLifetime implements RFC 9111 §4.2.2: absent an
// explicit freshness signal, a cache may estimate one as a fraction of
// the time since the resource was last modified, for status codes that
// are cacheable by default.
func (p CachePolicy) heuristicFreshnessLifetime() time.Duration {
	if p.opts.CacheHeuristic <= 0 {
		return 0
	}
	if !p.opts.CacheableByDefaultStatusCodes[p.res.StatusCode] {
		return 0
	}
	lastModified, ok := parseHTTPDate(p.res.Header.Get("last-modified"))
	if !ok {
		return 0
	}
	date, ok := p.dateHeader()
	if !ok {
		date = p.responseTime
	}
	if !date.After(lastModified) {
		return 0
	}
	age := date.Sub(lastModified)
	return time.Duration(float64(age) * p.opts.CacheHeuristic)
}

// isHeuristicallyFresh reports whether this policy's freshness lifetime
// was derived heuristically rather than from an explicit signal, which
// callers use to decide whether to attach a 113 Heuristic Expiration
// warning per RFC 9111 §5.5.
func (p CachePolicy) isHeuristicallyFresh() bool {
	resCC := responseCacheControl(p.res, p.opts)
	if p.opts.Shared {
		if _, ok := resCC.DeltaSeconds("s-maxage"); ok {
			return false
		}
	}
	if _, ok := resCC.DeltaSeconds("max-age"); ok {
		return false
	}
	if p.res.Header.Has("expires") {
		return false
	}
	if resCC.Has("immutable") {
		return false
	}
	return p.freshnessLifetime() > 0
}

// HeuristicWarningHeader returns "113 - \"Heuristic Expiration\"" when
// this policy's current age exceeds 24 hours and its freshness came from
// heuristic estimation, or the empty string otherwise. Callers that want
// the warning added to a served response append it to the Warning field
// themselves; the engine does not mutate ResponseSnapshot in place.
func (p CachePolicy) HeuristicWarningHeader(now time.Time) string {
	if p.isHeuristicallyFresh() && p.Age(now) > 24*time.Hour {
		return `113 - "Heuristic Expiration"`
	}
	return ""
}

func hasStar(values []string) bool {
	for _, v := range values {
		if v == "*" {
			return true
		}
	}
	return false
}

// TimeToLive returns how much longer, as of now, the response remains
// fresh. A non-positive result means the response is stale.
func (p CachePolicy) TimeToLive(now time.Time) time.Duration {
	return p.freshnessLifetime() - p.Age(now)
}

// IsStale reports whether the response is no longer fresh as of now.
func (p CachePolicy) IsStale(now time.Time) bool {
	return p.TimeToLive(now) <= 0
}
