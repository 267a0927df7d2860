package cachepolicy

import "time"

// Options configures the decision rules that RFC 9111 leaves to local
// cache policy rather than mandating outright.
type Options struct {
	// Shared marks the cache as shared (e.g. a reverse proxy serving
	// many clients) rather than private (e.g. a browser cache). Shared
	// caches must not store responses marked private, must not store
	// responses to authenticated requests unless the response carries
	// public, must-revalidate or s-maxage, and must honor s-maxage.
	// Defaults to true: most deployments of this engine are reverse
	// proxies.
	Shared bool
	// CacheHeuristic is the fraction of the interval from a response's
	// Last-Modified to its Date (or, without a usable Date, its receipt
	// time) used as its heuristic freshness lifetime when neither
	// max-age/s-maxage nor Expires is present. RFC 9111 §4.2.2
	// recommends 10%. Zero disables heuristic freshness entirely.
	CacheHeuristic float64
	// ImmutableMinTimeToLive is the minimum freshness lifetime granted
	// to a response carrying the immutable directive, regardless of
	// any shorter max-age it also carries.
	ImmutableMinTimeToLive time.Duration
	// IgnoreCargoCult enables §4.3's cargo-cult cleanup: when a
	// response's Cache-Control carries both pre-check and post-check,
	// those two directives plus no-cache, no-store, and max-age=0 are
	// treated as absent. Off by default; only legacy servers still
	// sending this Internet-Explorer-only cruft need it.
	IgnoreCargoCult bool
	// TrustServerDate makes the engine trust a response's Date header
	// as the response time rather than using the caller-supplied
	// receipt time for age calculations not covered by RFC 9111's
	// clock-skew correction. Defaults to true.
	TrustServerDate bool
	// CacheableByDefaultStatusCodes lists the response status codes
	// that are storable without an explicit freshness signal (i.e.
	// heuristic freshness applies to them). RFC 9111 §4.2.2's list is
	// the default. A code outside the engine's fixed set of understood
	// status codes is never storable, whatever this map says.
	CacheableByDefaultStatusCodes map[int]bool
}

// DefaultOptions returns the options a reverse-proxy-style shared cache
// should start from.
func DefaultOptions() Options {
	return Options{
		Shared:                 true,
		CacheHeuristic:         0.1,
		ImmutableMinTimeToLive: 24 * time.Hour,
		IgnoreCargoCult:        false,
		TrustServerDate:        true,
		CacheableByDefaultStatusCodes: map[int]bool{
			200: true, 203: true, 204: true, 206: true,
			300: true, 301: true, 404: true, 405: true,
			410: true, 414: true, 501: true,
		},
	}
}

func (o Options) understoodStatusCodes() map[int]bool {
	return map[int]bool{
		200: true, 203: true, 204: true, 206: true, 300: true, 301: true,
		302: true, 303: true, 307: true, 308: true, 404: true,
		405: true, 410: true, 414: true, 501: true,
	}
}

var defaultUnderstoodMethods = map[string]bool{
	"GET":  true,
	"HEAD": true,
}
