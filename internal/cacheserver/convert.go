package cacheserver

import (
	"net/http"
	"strings"

	"github.com/freshcache/cachepolicy/cachepolicy"
)

func fromHTTPHeader(h http.Header) cachepolicy.Header {
	out := cachepolicy.NewHeader()
	for name, values := range h {
		out[strings.ToLower(name)] = append([]string(nil), values...)
	}
	return out
}

func toHTTPHeader(h cachepolicy.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}

func requestSnapshot(r *http.Request) cachepolicy.RequestSnapshot {
	return cachepolicy.RequestSnapshot{
		Method: r.Method,
		URL:    r.URL.String(),
		Host:   r.Host,
		Header: fromHTTPHeader(r.Header),
	}
}

func responseSnapshot(header http.Header, statusCode int) cachepolicy.ResponseSnapshot {
	return cachepolicy.ResponseSnapshot{
		StatusCode: statusCode,
		Header:     fromHTTPHeader(header),
	}
}

func snapshotToRequest(s cachepolicy.RequestSnapshot) (*http.Request, error) {
	req, err := http.NewRequest(s.Method, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = toHTTPHeader(s.Header)
	if s.Host != "" {
		req.Host = s.Host
	}
	return req, nil
}
