// Package cachepolicy implements the storability, freshness, and
// revalidation rules of RFC 9111 (HTTP Caching, obsoleting RFC 7234) as a
// pure decision engine.
//
// The package never performs network or disk I/O and never reads a clock:
// every operation that depends on the current time takes it as an
// explicit parameter. Callers own the HTTP transport, the storage, and
// the wall clock; cachepolicy only tells them what to do with what they
// already have.
package cachepolicy
