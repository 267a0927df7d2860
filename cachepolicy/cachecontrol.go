package cachepolicy

import (
	"strconv"
	"strings"
	"time"
)

// CacheControl is a parsed Cache-Control field, directive name lowercased,
// quoted-string arguments unquoted. When a directive repeats across
// header occurrences, the last occurrence wins — matching the precedent
// set by this engine's reference implementation rather than the
// first-wins behavior seen in some other caches; either choice is
// defensible since RFC 9111 leaves duplicate directives undefined.
type CacheControl struct {
	directives map[string]string
}

// ParseCacheControl parses every value recorded for a Cache-Control
// header field (one string per header occurrence) into a CacheControl.
func ParseCacheControl(values []string) CacheControl {
	cc := CacheControl{directives: map[string]string{}}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, arg := splitDirective(part)
			cc.directives[name] = arg
		}
	}
	return cc
}

func splitDirective(part string) (name, arg string) {
	if i := strings.IndexByte(part, '='); i >= 0 {
		name = strings.ToLower(strings.TrimSpace(part[:i]))
		arg = strings.TrimSpace(part[i+1:])
		arg = strings.Trim(arg, `"`)
		return name, arg
	}
	return strings.ToLower(part), ""
}

// Has reports whether directive is present, with or without an argument.
func (cc CacheControl) Has(directive string) bool {
	_, ok := cc.directives[directive]
	return ok
}

// Get returns the directive's argument and whether the directive was
// present at all.
func (cc CacheControl) Get(directive string) (string, bool) {
	v, ok := cc.directives[directive]
	return v, ok
}

// DeltaSeconds returns the delta-seconds argument of directive (e.g.
// max-age, s-maxage, stale-while-revalidate) and whether it parsed as a
// non-negative integer.
func (cc CacheControl) DeltaSeconds(directive string) (time.Duration, bool) {
	v, ok := cc.Get(directive)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// NoCacheFields returns the field names named by a qualified
// no-cache="field1, field2" directive, or nil if no-cache is unqualified
// or absent.
func (cc CacheControl) NoCacheFields() []string {
	v, ok := cc.directives["no-cache"]
	if !ok || v == "" {
		return nil
	}
	return commaList([]string{v})
}

// cargoCultFiltered implements §4.3's cargo-cult rule: a handful of
// legacy servers send pre-check/post-check alongside no-cache, no-store,
// and max-age=0 as Internet-Explorer-only cache-busting cruft that was
// never meant for a modern cache to honor. When both pre-check and
// post-check are present, all five directives are treated as absent.
func (cc CacheControl) cargoCultFiltered() CacheControl {
	if !cc.Has("pre-check") || !cc.Has("post-check") {
		return cc
	}
	out := CacheControl{directives: make(map[string]string, len(cc.directives))}
	for k, v := range cc.directives {
		out.directives[k] = v
	}
	delete(out.directives, "pre-check")
	delete(out.directives, "post-check")
	delete(out.directives, "no-cache")
	delete(out.directives, "no-store")
	if v, ok := out.directives["max-age"]; ok && v == "0" {
		delete(out.directives, "max-age")
	}
	return out
}

func requestCacheControl(req RequestSnapshot, opts Options) CacheControl {
	cc := ParseCacheControl(req.Header.Values("cache-control"))
	if opts.IgnoreCargoCult {
		cc = cc.cargoCultFiltered()
	}
	return cc
}

func responseCacheControl(res ResponseSnapshot, opts Options) CacheControl {
	cc := ParseCacheControl(res.Header.Values("cache-control"))
	if opts.IgnoreCargoCult {
		cc = cc.cargoCultFiltered()
	}
	return cc
}
