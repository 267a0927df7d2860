package cachepolicy

// hopByHopHeaders are stripped from any response before it is stored or
// forwarded, regardless of what Connection names.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"proxy-connection":    true,
}

// StripHopByHop returns a copy of h with every hop-by-hop header removed,
// including any field named by a Connection header (RFC 9110 §7.6.1).
func StripHopByHop(h Header) Header {
	out := h.Clone()
	for _, name := range out.CommaList("connection") {
		out.Del(name)
	}
	for name := range hopByHopHeaders {
		out.Del(name)
	}
	stripWarning1xx(out)
	return out
}

// stripQualifiedNoCacheFields removes, from a response's headers, every
// field named by that same response's qualified
// Cache-Control: no-cache="field1, field2" directive (RFC 9111 §4.7). A
// qualified no-cache is not itself a reuse blocker, but the fields it
// names must be revalidated before reuse, so a cache must not hand its
// stored copy of them back out.
func stripQualifiedNoCacheFields(h Header, resCC CacheControl) Header {
	fields := resCC.NoCacheFields()
	if len(fields) == 0 {
		return h
	}
	out := h.Clone()
	for _, field := range fields {
		out.Del(field)
	}
	return out
}

// stripWarning1xx removes Warning values whose code is in the 1xx range;
// those describe transformations applied by this hop and must not be
// forwarded by the next one (RFC 9111 §5.5, obsoleted text retained for
// compatibility with senders that still set it).
func stripWarning1xx(h Header) {
	values := h.Values("warning")
	if len(values) == 0 {
		return
	}
	var kept []string
	for _, v := range values {
		if len(v) >= 3 && v[0] == '1' {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		h.Del("warning")
	} else {
		h["warning"] = kept
	}
}
