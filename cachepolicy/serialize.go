package cachepolicy

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireFormatVersion is bumped whenever wireCachePolicy's shape changes in
// a way that breaks decoding of previously stored bytes.
const wireFormatVersion = 1

// wireCachePolicy is the on-the-wire shape of a CachePolicy. Options is
// deliberately not part of it: options describe how a cache is
// configured, not a fact about one exchange, so a consumer is expected
// to supply the same Options it was constructed with when unmarshaling.
type wireCachePolicy struct {
	Method       string              `json:"method"`
	URL          string              `json:"url"`
	Host         string              `json:"host"`
	RequestHead  map[string][]string `json:"request_header"`
	StatusCode   int                 `json:"status_code"`
	ResponseHead map[string][]string `json:"response_header"`
	RequestTime  time.Time           `json:"request_time"`
	ResponseTime time.Time           `json:"response_time"`
}

// MarshalBinary encodes p as a one-byte format version followed by a
// JSON-encoded wire struct, so a consumer can round-trip a policy
// through any []byte-oriented store without cachepolicy depending on a
// particular serialization library.
func (p CachePolicy) MarshalBinary() ([]byte, error) {
	body, err := json.Marshal(wireCachePolicy{
		Method:       p.req.Method,
		URL:          p.req.URL,
		Host:         p.req.Host,
		RequestHead:  map[string][]string(p.req.Header),
		StatusCode:   p.res.StatusCode,
		ResponseHead: map[string][]string(p.res.Header),
		RequestTime:  p.requestTime,
		ResponseTime: p.responseTime,
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, wireFormatVersion)
	out = append(out, body...)
	return out, nil
}

// UnmarshalBinaryWithOptions decodes data produced by MarshalBinary,
// reapplying opts (which is not itself serialized) to the result.
func UnmarshalBinaryWithOptions(data []byte, opts Options) (CachePolicy, error) {
	if len(data) < 1 {
		return CachePolicy{}, fmt.Errorf("cachepolicy: empty data")
	}
	if data[0] != wireFormatVersion {
		return CachePolicy{}, fmt.Errorf("cachepolicy: unsupported wire format version %d", data[0])
	}
	var w wireCachePolicy
	if err := json.Unmarshal(data[1:], &w); err != nil {
		return CachePolicy{}, err
	}
	return New(opts,
		RequestSnapshot{Method: w.Method, URL: w.URL, Host: w.Host, Header: Header(w.RequestHead)},
		ResponseSnapshot{StatusCode: w.StatusCode, Header: Header(w.ResponseHead)},
		w.RequestTime, w.ResponseTime,
	)
}
