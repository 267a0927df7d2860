package cachepolicy

import (
	"strings"
	"time"
)

// Outcome distinguishes the two possible results of BeforeRequest.
type Outcome int

const (
	// Fresh means the stored response may be returned to the client
	// without contacting the origin.
	Fresh Outcome = iota
	// Stale means the origin must be contacted before the stored
	// response (if any) can be reused; RevalidationRequest is what to
	// send it.
	Stale
)

func (o Outcome) String() string {
	if o == Fresh {
		return "fresh"
	}
	return "stale"
}

// BeforeRequestResult is the result of deciding whether a stored
// response may satisfy a new request.
type BeforeRequestResult struct {
	Outcome Outcome
	// Headers carries extra response headers implied by the decision
	// (currently only a 113 Heuristic Expiration warning, when
	// applicable) that a caller returning the stored response verbatim
	// should merge in.
	Headers Header
	// RevalidationRequest is populated when Outcome is Stale: the
	// request the caller should send to the origin. If the stored
	// response does not even match the new request (different URL, Host,
	// or Vary-named fields, or a different method other than a HEAD
	// request against a stored GET response, which still gets a
	// conditional request), this is newReq unmodified and
	// the caller should treat any response to it as a fresh cache
	// entry rather than something to merge with the stale one.
	RevalidationRequest RequestSnapshot
}

// BeforeRequest implements RFC 9111 §4: given a new request for the
// resource this policy's stored response answered, decide whether the
// stored response can be served as-is, or must be revalidated (or
// wholesale replaced) first.
func (p CachePolicy) BeforeRequest(newReq RequestSnapshot, now time.Time) BeforeRequestResult {
	matches, mayRevalidate := p.requestMatches(newReq)
	if !matches {
		if mayRevalidate {
			return BeforeRequestResult{Outcome: Stale, RevalidationRequest: p.RevalidationRequest(newReq, now)}
		}
		return BeforeRequestResult{Outcome: Stale, RevalidationRequest: cloneRequest(newReq)}
	}

	reqCC := requestCacheControl(newReq, p.opts)
	resCC := responseCacheControl(p.res, p.opts)
	ttl := p.TimeToLive(now)
	isStale := ttl <= 0

	if reqCC.Has("no-store") {
		return p.staleResult(newReq, now)
	}
	// A qualified no-cache="field" only marks fields for stripping (see
	// ReusedResponseHeaders); only the unqualified directive forces Stale.
	resNoCache, hasResNoCache := resCC.Get("no-cache")
	if reqCC.Has("no-cache") || (hasResNoCache && resNoCache == "") || pragmaNoCache(newReq.Header) {
		return p.staleResult(newReq, now)
	}
	if maxAge, ok := reqCC.DeltaSeconds("max-age"); ok && p.Age(now) > maxAge {
		return p.staleResult(newReq, now)
	}
	if minFresh, ok := reqCC.DeltaSeconds("min-fresh"); ok && ttl < minFresh {
		return p.staleResult(newReq, now)
	}

	if isStale {
		if resCC.Has("must-revalidate") || (p.opts.Shared && resCC.Has("proxy-revalidate")) {
			return p.staleResult(newReq, now)
		}
		if maxStale, ok := reqCC.DeltaSeconds("max-stale"); ok {
			if -ttl <= maxStale {
				return p.freshResult(now)
			}
		} else if reqCC.Has("max-stale") {
			// max-stale with no argument accepts any staleness.
			return p.freshResult(now)
		}
		return p.staleResult(newReq, now)
	}

	return p.freshResult(now)
}

// pragmaNoCache reports whether h carries a legacy Pragma: no-cache
// token, checked independently of whatever Cache-Control also says.
func pragmaNoCache(h Header) bool {
	for _, p := range h.CommaList("pragma") {
		if strings.EqualFold(p, "no-cache") {
			return true
		}
	}
	return false
}

func (p CachePolicy) freshResult(now time.Time) BeforeRequestResult {
	headers := NewHeader()
	if w := p.HeuristicWarningHeader(now); w != "" {
		headers.Add("warning", w)
	}
	return BeforeRequestResult{Outcome: Fresh, Headers: headers}
}

func (p CachePolicy) staleResult(newReq RequestSnapshot, now time.Time) BeforeRequestResult {
	return BeforeRequestResult{
		Outcome:             Stale,
		RevalidationRequest: p.RevalidationRequest(newReq, now),
	}
}

// requestMatches reports whether newReq is an exact match for the
// request this policy's response was stored for (same method, URL,
// Host, and equal values for every field the stored response's Vary
// names), and, separately, whether the stored response may at least be
// revalidated on newReq's behalf even without an exact match — which is
// only ever the case for a HEAD request against a GET-cached response.
// Only an exact match may reach a Fresh verdict; mayRevalidate is solely
// for building a revalidation request.
func (p CachePolicy) requestMatches(newReq RequestSnapshot) (matches, mayRevalidate bool) {
	sameResource := newReq.URL == p.req.URL &&
		newReq.Host == p.req.Host &&
		varyMatches(p.res.Header.Values("vary"), p.req, newReq)
	matches = sameResource && newReq.Method == p.req.Method
	mayRevalidate = matches || (sameResource && p.req.Method == "GET" && newReq.Method == "HEAD")
	return matches, mayRevalidate
}
