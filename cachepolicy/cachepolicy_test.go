package cachepolicy

import (
	"testing"
	"time"
)

func mustPolicy(t *testing.T, opts Options, req RequestSnapshot, res ResponseSnapshot, reqTime, resTime time.Time) CachePolicy {
	t.Helper()
	p, err := New(opts, req, res, reqTime, resTime)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func getReq(headers Header) RequestSnapshot {
	if headers == nil {
		headers = NewHeader()
	}
	return RequestSnapshot{Method: "GET", URL: "https://example.com/thing", Host: "example.com", Header: headers}
}

func okRes(headers Header) ResponseSnapshot {
	if headers == nil {
		headers = NewHeader()
	}
	return ResponseSnapshot{StatusCode: 200, Header: headers}
}

func TestIsStorable_MaxAgeIsStorable(t *testing.T) {
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=60")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if !p.IsStorable() {
		t.Fatal("expected storable")
	}
}

func TestIsStorable_NoStoreIsNotStorable(t *testing.T) {
	res := okRes(nil)
	res.Header.Set("cache-control", "no-store, max-age=60")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if p.IsStorable() {
		t.Fatal("expected not storable")
	}
}

func TestIsStorable_PrivateNotStorableForSharedCache(t *testing.T) {
	res := okRes(nil)
	res.Header.Set("cache-control", "private, max-age=60")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if p.IsStorable() {
		t.Fatal("expected not storable in shared cache")
	}
}

func TestIsStorable_AuthenticatedRequiresOptIn(t *testing.T) {
	req := getReq(nil)
	req.Header.Set("authorization", "Bearer token")

	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=60")
	p := mustPolicy(t, DefaultOptions(), req, res, time.Unix(0, 0), time.Unix(0, 0))
	if p.IsStorable() {
		t.Fatal("expected not storable without public/must-revalidate/s-maxage")
	}

	res2 := okRes(nil)
	res2.Header.Set("cache-control", "public, max-age=60")
	p2 := mustPolicy(t, DefaultOptions(), req, res2, time.Unix(0, 0), time.Unix(0, 0))
	if !p2.IsStorable() {
		t.Fatal("expected storable with public opt-in")
	}
}

func TestFreshnessLifetime_SMaxageBeatsMaxAge(t *testing.T) {
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10, s-maxage=100")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if got := p.freshnessLifetime(); got != 100*time.Second {
		t.Fatalf("got %v, want 100s", got)
	}
}

func TestFreshnessLifetime_ExpiresHeader(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("date", now.Format(time.RFC1123))
	res.Header.Set("expires", now.Add(2*time.Hour).Format(time.RFC1123))
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, now, now)
	if got := p.freshnessLifetime(); got != 2*time.Hour {
		t.Fatalf("got %v, want 2h", got)
	}
}

func TestFreshnessLifetime_VaryStarIsNeverFresh(t *testing.T) {
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	res.Header.Set("vary", "*")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if p.freshnessLifetime() != 0 {
		t.Fatal("expected zero freshness lifetime for Vary: *")
	}
}

func TestFreshnessLifetime_SetCookieWithoutPublicIsZeroInSharedCache(t *testing.T) {
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	res.Header.Set("set-cookie", "sid=abc")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if p.freshnessLifetime() != 0 {
		t.Fatal("expected zero freshness lifetime for uncachable Set-Cookie response")
	}
}

func TestAge_AddsResidentTime(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	res.Header.Set("age", "5")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	now := responseTime.Add(10 * time.Second)
	if got := p.Age(now); got != 15*time.Second {
		t.Fatalf("got %v, want 15s", got)
	}
}

func TestBeforeRequest_FreshIsReusable(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	result := p.BeforeRequest(getReq(nil), responseTime.Add(10*time.Second))
	if result.Outcome != Fresh {
		t.Fatalf("got %v, want Fresh", result.Outcome)
	}
}

func TestBeforeRequest_StaleTriggersRevalidation(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10")
	res.Header.Set("etag", `"v1"`)
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	result := p.BeforeRequest(getReq(nil), responseTime.Add(time.Minute))
	if result.Outcome != Stale {
		t.Fatalf("got %v, want Stale", result.Outcome)
	}
	if got := result.RevalidationRequest.Header.Get("if-none-match"); got != `"v1"` {
		t.Fatalf("got If-None-Match %q, want the stored ETag", got)
	}
}

func TestBeforeRequest_VaryMismatchIsStale(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storedReq := getReq(nil)
	storedReq.Header.Set("accept-encoding", "gzip")
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	res.Header.Set("vary", "Accept-Encoding")
	p := mustPolicy(t, DefaultOptions(), storedReq, res, responseTime, responseTime)

	newReq := getReq(nil)
	newReq.Header.Set("accept-encoding", "br")
	result := p.BeforeRequest(newReq, responseTime.Add(time.Second))
	if result.Outcome != Stale {
		t.Fatal("expected Vary mismatch to force revalidation/miss")
	}
}

func TestBeforeRequest_MaxStaleAllowsStaleReuse(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	req := getReq(nil)
	req.Header.Set("cache-control", "max-stale=60")
	result := p.BeforeRequest(req, responseTime.Add(30*time.Second))
	if result.Outcome != Fresh {
		t.Fatalf("got %v, want Fresh (within max-stale budget)", result.Outcome)
	}
}

func TestBeforeRequest_MustRevalidateOverridesMaxStale(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10, must-revalidate")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	req := getReq(nil)
	req.Header.Set("cache-control", "max-stale=60")
	result := p.BeforeRequest(req, responseTime.Add(30*time.Second))
	if result.Outcome != Stale {
		t.Fatal("expected must-revalidate to override max-stale")
	}
}

func TestAfterResponse_304MergesHeadersKeepsBody(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10")
	res.Header.Set("etag", `"v1"`)
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	revReq := p.RevalidationRequest(getReq(nil), responseTime.Add(time.Minute))
	revRes := okRes(nil)
	revRes.StatusCode = 304
	revRes.Header.Set("etag", `"v1"`)
	revRes.Header.Set("cache-control", "max-age=600")

	result, err := p.AfterResponse(revReq, &revRes, responseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("AfterResponse: %v", err)
	}
	if result.Outcome != NotModified {
		t.Fatalf("got %v, want NotModified", result.Outcome)
	}
	if got := result.Policy.freshnessLifetime(); got != 600*time.Second {
		t.Fatalf("expected refreshed max-age to apply, got %v", got)
	}
}

func TestAfterResponse_200Replaces(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	revReq := p.RevalidationRequest(getReq(nil), responseTime.Add(time.Minute))
	revRes := okRes(nil)
	revRes.Header.Set("cache-control", "max-age=30")

	result, err := p.AfterResponse(revReq, &revRes, responseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("AfterResponse: %v", err)
	}
	if result.Outcome != Modified {
		t.Fatalf("got %v, want Modified", result.Outcome)
	}
}

func TestAfterResponse_NetworkFailureUsesStaleIfError(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10, stale-if-error=120")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	revReq := p.RevalidationRequest(getReq(nil), responseTime.Add(time.Minute))
	result, err := p.AfterResponse(revReq, nil, responseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("AfterResponse: %v", err)
	}
	if result.Outcome != NotModified {
		t.Fatalf("got %v, want NotModified (served stale on error)", result.Outcome)
	}
}

func TestAfterResponse_NetworkFailureWithoutStaleIfErrorFails(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	revReq := p.RevalidationRequest(getReq(nil), responseTime.Add(time.Minute))
	_, err := p.AfterResponse(revReq, nil, responseTime.Add(time.Minute))
	if err == nil {
		t.Fatal("expected ErrRevalidationFailed")
	}
}

func TestAfterResponse_5xxWithoutStaleIfErrorReplaces(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	revReq := p.RevalidationRequest(getReq(nil), responseTime.Add(time.Minute))
	errRes := ResponseSnapshot{StatusCode: 503, Header: NewHeader()}

	result, err := p.AfterResponse(revReq, &errRes, responseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("AfterResponse: %v", err)
	}
	if result.Outcome != Modified {
		t.Fatalf("got %v, want Modified (503 stored verbatim)", result.Outcome)
	}
}

func TestHopByHop_StripsConnectionListedAndFixedHeaders(t *testing.T) {
	h := NewHeader()
	h.Set("connection", "X-Custom")
	h.Add("x-custom", "secret")
	h.Set("keep-alive", "timeout=5")
	h.Set("content-type", "text/plain")

	out := StripHopByHop(h)
	if out.Has("x-custom") || out.Has("connection") || out.Has("keep-alive") {
		t.Fatal("expected hop-by-hop headers stripped")
	}
	if out.Get("content-type") != "text/plain" {
		t.Fatal("expected end-to-end header preserved")
	}
}

func TestHopByHop_Strips1xxWarningOnly(t *testing.T) {
	h := NewHeader()
	h.Add("warning", `112 - "Disconnected Operation"`)
	h.Add("warning", `299 - "Miscellaneous Persistent Warning"`)

	out := StripHopByHop(h)
	values := out.Values("warning")
	if len(values) != 1 || values[0] != `299 - "Miscellaneous Persistent Warning"` {
		t.Fatalf("got %v, want only the 2xx warning kept", values)
	}
}

func TestSerialize_RoundTrips(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req := getReq(nil)
	req.Header.Set("accept-encoding", "gzip")
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=60")
	res.Header.Set("etag", `"v1"`)
	p := mustPolicy(t, DefaultOptions(), req, res, responseTime, responseTime)

	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	round, err := UnmarshalBinaryWithOptions(data, DefaultOptions())
	if err != nil {
		t.Fatalf("UnmarshalBinaryWithOptions: %v", err)
	}
	if round.freshnessLifetime() != p.freshnessLifetime() {
		t.Fatal("expected freshness lifetime to survive round trip")
	}
	if round.Response().Header.Get("etag") != `"v1"` {
		t.Fatal("expected etag to survive round trip")
	}
}

func TestBeforeRequest_RequestNoStoreForcesStale(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	req := getReq(nil)
	req.Header.Set("cache-control", "no-store")
	result := p.BeforeRequest(req, responseTime.Add(time.Second))
	if result.Outcome != Stale {
		t.Fatal("expected request no-store to force Stale even while fresh")
	}
}

func TestBeforeRequest_PragmaNoCacheForcesStaleRegardlessOfCacheControl(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	req := getReq(nil)
	req.Header.Set("cache-control", "max-age=500")
	req.Header.Set("pragma", "no-cache")
	result := p.BeforeRequest(req, responseTime.Add(time.Second))
	if result.Outcome != Stale {
		t.Fatal("expected Pragma: no-cache to force Stale even with an unrelated Cache-Control present")
	}
}

func TestBeforeRequest_HEADDoesNotReachFreshAgainstMismatchedResource(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	storedReq := getReq(nil)
	storedReq.Header.Set("accept-encoding", "gzip")
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=1000")
	res.Header.Set("vary", "Accept-Encoding")
	p := mustPolicy(t, DefaultOptions(), storedReq, res, responseTime, responseTime)

	newReq := getReq(nil)
	newReq.Method = "HEAD"
	newReq.Header.Set("accept-encoding", "br")
	result := p.BeforeRequest(newReq, responseTime.Add(time.Second))
	if result.Outcome != Stale {
		t.Fatal("expected Vary mismatch to force Stale even for a HEAD request")
	}
}

func TestIsStorable_SMaxageOnlyCountsForSharedCache(t *testing.T) {
	res := okRes(nil)
	// 302 is not cacheable by default, so only an explicit freshness
	// signal can make it storable.
	res.StatusCode = 302
	res.Header.Set("cache-control", "s-maxage=60")

	opts := DefaultOptions()
	opts.Shared = true
	shared := mustPolicy(t, opts, getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if !shared.IsStorable() {
		t.Fatal("expected s-maxage to grant storability in a shared cache")
	}

	opts.Shared = false
	private := mustPolicy(t, opts, getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))
	if private.IsStorable() {
		t.Fatal("expected s-maxage to be suppressed in a private cache")
	}
}

func TestCargoCultRule_StripsLegacyDirectivesWhenEnabled(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", `no-cache, pre-check=0, post-check=0`)
	res.Header.Set("date", responseTime.Format(time.RFC1123))
	res.Header.Set("expires", responseTime.Add(time.Hour).Format(time.RFC1123))

	opts := DefaultOptions()
	opts.IgnoreCargoCult = true
	p := mustPolicy(t, opts, getReq(nil), res, responseTime, responseTime)

	if !p.IsStorable() {
		t.Fatal("expected the Expires-bearing response to be storable once cargo-cult directives are stripped")
	}
	result := p.BeforeRequest(getReq(nil), responseTime.Add(time.Second))
	if result.Outcome != Fresh {
		t.Fatal("expected Fresh once the stripped no-cache no longer applies")
	}
}

func TestAfterResponse_304ValidatorMismatchIsModified(t *testing.T) {
	responseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := okRes(nil)
	res.Header.Set("cache-control", "max-age=10")
	res.Header.Set("etag", `"v1"`)
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, responseTime, responseTime)

	revReq := p.RevalidationRequest(getReq(nil), responseTime.Add(time.Minute))
	revRes := okRes(nil)
	revRes.StatusCode = 304
	revRes.Header.Set("etag", `"v2"`)

	result, err := p.AfterResponse(revReq, &revRes, responseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("AfterResponse: %v", err)
	}
	if result.Outcome != Modified {
		t.Fatal("expected a 304 with a mismatched ETag to be surfaced as Modified")
	}
}

func TestReusedResponseHeaders_StripsQualifiedNoCacheFields(t *testing.T) {
	res := okRes(nil)
	res.Header.Set("cache-control", `no-cache="set-cookie", max-age=60`)
	res.Header.Set("set-cookie", "sid=abc")
	res.Header.Set("content-type", "text/plain")
	p := mustPolicy(t, DefaultOptions(), getReq(nil), res, time.Unix(0, 0), time.Unix(0, 0))

	out := p.ReusedResponseHeaders()
	if out.Has("set-cookie") {
		t.Fatal("expected the field named by a qualified no-cache to be stripped from reused headers")
	}
	if out.Get("content-type") != "text/plain" {
		t.Fatal("expected unrelated headers to survive")
	}
}

func TestVaryMatches_AbsentOnBothSidesCountsAsEqual(t *testing.T) {
	if !varyMatches([]string{"Accept-Language"}, getReq(nil), getReq(nil)) {
		t.Fatal("expected absent header on both sides to match")
	}
}

func TestVaryMatches_StarNeverMatches(t *testing.T) {
	if varyMatches([]string{"*"}, getReq(nil), getReq(nil)) {
		t.Fatal("expected Vary: * to never match")
	}
}
