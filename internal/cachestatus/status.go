// Package cachestatus builds RFC 9211 Cache-Status header values so a
// deployment can see, request by request, what this server's cache did.
// It has no bearing on the cachepolicy engine's own decisions; it exists
// purely to explain them.
package cachestatus

import "fmt"

// ForwardReason names why a request could not be satisfied from cache,
// per RFC 9211 §2.2's fwd parameter values.
type ForwardReason string

const (
	ForwardReasonMethod  ForwardReason = "method"
	ForwardReasonURIMiss ForwardReason = "uri-miss"
	ForwardReasonVary    ForwardReason = "vary-miss"
	ForwardReasonMiss    ForwardReason = "miss"
	ForwardReasonRequest ForwardReason = "request"
	ForwardReasonStale   ForwardReason = "stale"
	ForwardReasonBypass  ForwardReason = "bypass"
)

// Status accumulates the fields of a single Cache-Status entry.
type Status struct {
	CacheName  string
	hit        bool
	fwd        ForwardReason
	fwdStatus  int
	stored     bool
	ttl        int
	hasTTL     bool
}

// New returns a Status for cacheName (the deployment's identifying name
// in the Cache-Status header).
func New(cacheName string) Status {
	return Status{CacheName: cacheName}
}

// Hit marks the request as served from cache with the given remaining
// time-to-live in seconds (negative for a stale-but-served hit).
func (s Status) Hit(ttlSeconds int) Status {
	s.hit = true
	s.ttl = ttlSeconds
	s.hasTTL = true
	return s
}

// Forward marks the request as forwarded to the origin for reason.
func (s Status) Forward(reason ForwardReason) Status {
	s.fwd = reason
	return s
}

// ForwardStatus records the status code the origin returned when this
// server had to forward the request (e.g. 304 on a successful
// revalidation).
func (s Status) ForwardStatus(code int) Status {
	s.fwdStatus = code
	return s
}

// Stored marks that the origin's response was written to the cache.
func (s Status) Stored() Status {
	s.stored = true
	return s
}

// IsHit reports whether this status represents a cache hit.
func (s Status) IsHit() bool { return s.hit }

// String renders the Cache-Status field value per RFC 9211 §2.
func (s Status) String() string {
	out := s.CacheName
	if s.hit {
		out += "; hit"
	} else if s.fwd != "" {
		out += fmt.Sprintf("; fwd=%s", s.fwd)
		if s.fwdStatus != 0 {
			out += fmt.Sprintf("; fwd-status=%d", s.fwdStatus)
		}
	}
	if s.hasTTL {
		out += fmt.Sprintf("; ttl=%d", s.ttl)
	}
	if s.stored {
		out += "; stored"
	}
	return out
}
