package cachepolicy

import "strings"

// varyMatches implements RFC 9111 §4.1: a stored response with a Vary
// header may only be reused for a new request if every field named in
// Vary has the same value (or is absent from both requests) as it was
// for the original request. A Vary of "*" never matches.
func varyMatches(varyValues []string, storedReq, newReq RequestSnapshot) bool {
	fields := commaList(varyValues)
	if len(fields) == 0 {
		return true
	}
	if hasStar(fields) {
		return false
	}
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !headerValuesEqual(storedReq.Header.Values(field), newReq.Header.Values(field)) {
			return false
		}
	}
	return true
}

func headerValuesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
