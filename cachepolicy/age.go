package cachepolicy

import (
	"strconv"
	"time"
)

// httpDateLayouts are the date forms parseHTTPDate accepts, tried in order.
var httpDateLayouts = []string{
	"Mon, 02 Jan 2006 15:04:05 GMT",
	time.RFC850,
	time.ANSIC,
	time.RFC1123,
}

// parseHTTPDate parses an HTTP-date using the tolerant rules of RFC 9110
// §5.6.7 (preferred RFC 1123 form, with RFC 850 and asctime fallbacks),
// rather than the single-format parse the reference implementation used.
// An RFC 1123 date whose zone is named other than GMT (e.g. "UTC") is
// accepted as well.
func parseHTTPDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range httpDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p CachePolicy) dateHeader() (time.Time, bool) {
	return parseHTTPDate(p.res.Header.Get("date"))
}

// ageValue is the value of the response's Age header, or zero if absent
// or unparseable.
func (p CachePolicy) ageValue() time.Duration {
	v := p.res.Header.Get("age")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}

// dateOrResponseTime is the baseline for the response's apparent age: the
// response's Date header when TrustServerDate is set and the header
// parses, and otherwise the caller-supplied response time (the moment the
// caller observed the response). The reference implementation this engine
// is grounded on assumed zero network latency by aliasing request and
// response time to the Date header; this engine keeps both caller-supplied
// times.
func (p CachePolicy) dateOrResponseTime() time.Time {
	if p.opts.TrustServerDate {
		if d, ok := p.dateHeader(); ok {
			return d
		}
	}
	return p.responseTime
}

// currentAge implements RFC 9111 §4.2.3's age calculation at time now.
func (p CachePolicy) currentAge(now time.Time) time.Duration {
	apparentAge := maxDuration(0, p.responseTime.Sub(p.dateOrResponseTime()))
	responseDelay := p.responseTime.Sub(p.requestTime)
	if responseDelay < 0 {
		responseDelay = 0
	}
	correctedAgeValue := p.ageValue() + responseDelay
	correctedInitialAge := maxDuration(apparentAge, correctedAgeValue)
	residentTime := now.Sub(p.responseTime)
	if residentTime < 0 {
		residentTime = 0
	}
	return correctedInitialAge + residentTime
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// Age returns how long ago, as of now, the response this policy
// describes was (or will be, if now precedes its receipt) generated by
// or revalidated with the origin server.
func (p CachePolicy) Age(now time.Time) time.Duration {
	return p.currentAge(now)
}
