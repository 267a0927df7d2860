package cachepolicy

import (
	"errors"
	"time"
)

// CachePolicy is an immutable decision snapshot for a single request and
// the response that answered it. It is safe for concurrent read-only
// use; every method that depends on the current time takes it as an
// explicit parameter instead of consulting a clock.
//
// Invariants, enforced by New:
//   - req.Method and req.URL are non-empty.
//   - req.Header and res.Header are non-nil.
//   - res.StatusCode is a valid three-digit HTTP status code.
//   - responseTime is not the zero Time.
//   - requestTime is not after responseTime.
type CachePolicy struct {
	opts         Options
	req          RequestSnapshot
	res          ResponseSnapshot
	requestTime  time.Time
	responseTime time.Time
}

// ErrInvalidSnapshot is returned by New when a RequestSnapshot or
// ResponseSnapshot violates CachePolicy's invariants.
var ErrInvalidSnapshot = errors.New("cachepolicy: invalid request or response snapshot")

// New builds a CachePolicy describing the exchange between req and res.
// requestTime is when req was sent; responseTime is when res was fully
// received by the caller (not by any intermediate hop).
func New(opts Options, req RequestSnapshot, res ResponseSnapshot, requestTime, responseTime time.Time) (CachePolicy, error) {
	if req.Method == "" || req.URL == "" || req.Header == nil || res.Header == nil {
		return CachePolicy{}, ErrInvalidSnapshot
	}
	if res.StatusCode < 100 || res.StatusCode > 599 {
		return CachePolicy{}, ErrInvalidSnapshot
	}
	if responseTime.IsZero() || requestTime.After(responseTime) {
		return CachePolicy{}, ErrInvalidSnapshot
	}
	if opts.CacheableByDefaultStatusCodes == nil {
		opts = DefaultOptions()
	}
	return CachePolicy{
		opts:         opts,
		req:          cloneRequest(req),
		res:          cloneResponse(res),
		requestTime:  requestTime,
		responseTime: responseTime,
	}, nil
}

// Request returns the request this policy was built from.
func (p CachePolicy) Request() RequestSnapshot { return cloneRequest(p.req) }

// Response returns the response this policy was built from.
func (p CachePolicy) Response() ResponseSnapshot { return cloneResponse(p.res) }

// ReusedResponseHeaders returns the headers a cache hit should actually
// serve: hop-by-hop headers stripped, and any field named by a
// qualified Cache-Control: no-cache="field" on the stored response also
// stripped, since RFC 9111 §4.4 item 5 requires those fields to be
// revalidated before reuse even though the qualified directive does
// not block reuse of the rest of the response.
func (p CachePolicy) ReusedResponseHeaders() Header {
	resCC := responseCacheControl(p.res, p.opts)
	return stripQualifiedNoCacheFields(StripHopByHop(p.res.Header), resCC)
}
