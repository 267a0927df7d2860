package cachepolicy

// IsStorable implements RFC 9111 §3: whether the response this policy
// describes, produced in answer to this policy's request, may be stored
// by a cache at all. It does not decide freshness or reusability — see
// TimeToLive and BeforeRequest for that.
func (p CachePolicy) IsStorable() bool {
	reqCC := requestCacheControl(p.req, p.opts)
	resCC := responseCacheControl(p.res, p.opts)

	if !understoodMethod(p.req.Method) {
		return false
	}
	if !p.opts.understoodStatusCodes()[p.res.StatusCode] {
		return false
	}
	if reqCC.Has("no-store") || resCC.Has("no-store") {
		return false
	}
	if p.opts.Shared && resCC.Has("private") {
		return false
	}
	if p.opts.Shared && p.req.Header.Get("authorization") != "" {
		if !mayStoreAuthenticated(resCC) {
			return false
		}
	}
	if !responseHasFreshnessSignal(resCC, p.res, p.opts) && !p.opts.CacheableByDefaultStatusCodes[p.res.StatusCode] {
		return false
	}
	return true
}

// understoodMethod reports whether method is one this engine caches
// responses for. RFC 9111 leaves the exact set to local policy; GET and
// HEAD are the only methods with well-defined, side-effect-free
// semantics that every cache implementation agrees on.
func understoodMethod(method string) bool {
	return defaultUnderstoodMethods[method]
}

// mayStoreAuthenticated implements RFC 9111 §3.5: a shared cache may
// only store a response to a request carrying Authorization if the
// response explicitly opts in.
func mayStoreAuthenticated(resCC CacheControl) bool {
	return resCC.Has("public") || resCC.Has("must-revalidate") || resCC.Has("s-maxage")
}

// responseHasFreshnessSignal reports whether the response carries an
// explicit freshness signal: Expires, max-age, or — shared caches
// only — s-maxage.
func responseHasFreshnessSignal(resCC CacheControl, res ResponseSnapshot, opts Options) bool {
	if resCC.Has("max-age") {
		return true
	}
	if opts.Shared && resCC.Has("s-maxage") {
		return true
	}
	return res.Header.Has("expires")
}
