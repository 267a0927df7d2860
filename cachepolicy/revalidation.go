package cachepolicy

import (
	"errors"
	"strings"
	"time"
)

// excludedFromRevalidationUpdate lists response headers a 304 must not
// be allowed to overwrite on the stored response, since a 304 carries no
// body and these fields describe one.
var excludedFromRevalidationUpdate = map[string]bool{
	"content-length":    true,
	"content-encoding":  true,
	"transfer-encoding": true,
	"content-range":     true,
}

// RevalidationRequest builds the conditional request this policy's
// stored response should be revalidated with against newReq, per RFC
// 9111 §4.3.1.
func (p CachePolicy) RevalidationRequest(newReq RequestSnapshot, now time.Time) RequestSnapshot {
	req := cloneRequest(newReq)
	forbidWeak := forbidsWeakValidators(req.Method)

	if etag := p.res.Header.Get("etag"); etag != "" {
		if !(forbidWeak && isWeakETag(etag)) {
			req.Header.Set("if-none-match", etag)
		}
	}
	if lastModified := p.res.Header.Get("last-modified"); lastModified != "" && !req.Header.Has("if-none-match") {
		req.Header.Set("if-modified-since", lastModified)
	}
	return req
}

// forbidsWeakValidators reports whether method may not be revalidated
// with a weak entity tag. RFC 9110 §8.8.3.2 forbids weak validators on
// any request other than GET or HEAD.
func forbidsWeakValidators(method string) bool {
	return method != "GET" && method != "HEAD"
}

func isWeakETag(etag string) bool {
	return strings.HasPrefix(etag, "W/")
}

func stripWeakPrefix(etag string) string {
	return strings.TrimPrefix(etag, "W/")
}

// AfterOutcome distinguishes the two possible results of AfterResponse.
type AfterOutcome int

const (
	// NotModified means the stored response remains valid; its
	// metadata (Cache-Control, Date, Expires, ...) has been refreshed
	// from the revalidation response, but its body is unchanged.
	NotModified AfterOutcome = iota
	// Modified means the revalidation attempt produced a new
	// representation entirely; the returned Policy replaces the stored
	// one and its response body must be used instead of the old one.
	Modified
)

func (o AfterOutcome) String() string {
	if o == NotModified {
		return "not-modified"
	}
	return "modified"
}

// AfterResponseResult is the result of merging a revalidation attempt
// into a stored policy.
type AfterResponseResult struct {
	Outcome AfterOutcome
	Policy  CachePolicy
}

// ErrRevalidationFailed is returned by AfterResponse when the
// revalidation attempt reached no response at all (revalidationResponse
// is nil) and stale-if-error does not license serving the stale entry
// anyway; the caller must surface the underlying transport failure.
var ErrRevalidationFailed = errors.New("cachepolicy: revalidation failed and stale-if-error does not apply")

// AfterResponse implements RFC 9111 §4.3.3/§4.3.4: given the outcome of
// sending revalidationRequest (as built by RevalidationRequest) to the
// origin, decide what to store and serve going forward.
//
// revalidationResponse is nil when the request could not be completed
// at all (a network failure, not an HTTP error response); a 5xx
// response is passed as a normal *ResponseSnapshot.
func (p CachePolicy) AfterResponse(revalidationRequest RequestSnapshot, revalidationResponse *ResponseSnapshot, now time.Time) (AfterResponseResult, error) {
	if revalidationResponse == nil {
		if p.allowsStaleIfError(now) {
			return AfterResponseResult{Outcome: NotModified, Policy: p}, nil
		}
		return AfterResponseResult{}, ErrRevalidationFailed
	}

	if revalidationResponse.StatusCode >= 500 {
		if p.allowsStaleIfError(now) {
			return AfterResponseResult{Outcome: NotModified, Policy: p}, nil
		}
		policy, err := New(p.opts, revalidationRequest, *revalidationResponse, now, now)
		if err != nil {
			return AfterResponseResult{}, err
		}
		return AfterResponseResult{Outcome: Modified, Policy: policy}, nil
	}

	if revalidationResponse.StatusCode == 304 {
		if validatorsAgree(p.res, *revalidationResponse) {
			merged := p.mergeRevalidated(revalidationRequest, *revalidationResponse, now)
			return AfterResponseResult{Outcome: NotModified, Policy: merged}, nil
		}
		// The 304 named a different representation than the one we have
		// stored; the host cannot know which stored entry it answers
		// for, so treat it as a Modified response carrying the raw 304
		// and let the host fall back to an unconditional GET.
		policy, err := New(p.opts, revalidationRequest, *revalidationResponse, now, now)
		if err != nil {
			return AfterResponseResult{}, err
		}
		return AfterResponseResult{Outcome: Modified, Policy: policy}, nil
	}

	policy, err := New(p.opts, revalidationRequest, *revalidationResponse, now, now)
	if err != nil {
		return AfterResponseResult{}, err
	}
	return AfterResponseResult{Outcome: Modified, Policy: policy}, nil
}

// mergeRevalidated freshens the stored response's metadata from a 304's
// headers, keeping the original stored body and request identity.
// Callers must have already confirmed validatorsAgree.
func (p CachePolicy) mergeRevalidated(revalidationRequest RequestSnapshot, revalidationResponse ResponseSnapshot, now time.Time) CachePolicy {
	merged := cloneResponse(p.res)
	for name, values := range revalidationResponse.Header {
		if excludedFromRevalidationUpdate[name] {
			continue
		}
		merged.Header[name] = append([]string(nil), values...)
	}
	next, err := New(p.opts, revalidationRequest, merged, now, now)
	if err != nil {
		// The merge cannot violate New's invariants since it only
		// copies headers between two already-valid snapshots.
		return p
	}
	return next
}

// validatorsAgree reports whether a revalidation response's validators
// identify the same representation as the stored response's, per RFC
// 9111 §4.3.3. When neither response carries any validator at all, the
// only sensible interpretation is that the origin has nothing better to
// offer, so they are treated as agreeing.
func validatorsAgree(stored, revalidated ResponseSnapshot) bool {
	storedETag := stored.Header.Get("etag")
	newETag := revalidated.Header.Get("etag")
	if newETag != "" {
		if !isWeakETag(newETag) && !isWeakETag(storedETag) {
			return storedETag == newETag
		}
		return stripWeakPrefix(storedETag) == stripWeakPrefix(newETag)
	}
	storedLM := stored.Header.Get("last-modified")
	newLM := revalidated.Header.Get("last-modified")
	if newLM != "" {
		return storedLM == newLM
	}
	return storedETag == "" && storedLM == ""
}

// allowsStaleIfError reports whether this policy's response or the
// original request licenses serving the stale entry when revalidation
// itself fails or errors, per RFC 5861.
func (p CachePolicy) allowsStaleIfError(now time.Time) bool {
	resCC := responseCacheControl(p.res, p.opts)
	reqCC := requestCacheControl(p.req, p.opts)
	staleIfError, ok := resCC.DeltaSeconds("stale-if-error")
	if !ok {
		staleIfError, ok = reqCC.DeltaSeconds("stale-if-error")
	}
	if !ok {
		return false
	}
	if p.opts.Shared {
		if resCC.Has("must-revalidate") {
			return false
		}
	}
	return -p.TimeToLive(now) <= staleIfError
}
