// Package cachekey builds and parses the storage keys the cache server
// uses to group and retrieve the variants of a resource the cachepolicy
// engine has approved for storage.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/freshcache/cachepolicy/cachepolicy"
)

// ErrMethodNotSupported is returned by GetRequestFromKey for keys built
// from a method the server does not know how to reconstruct a request
// for (only GET is supported, since that is the only method this
// server's update loop revalidates on its own initiative).
var ErrMethodNotSupported = fmt.Errorf("cachekey: method not supported for reconstruction")

const (
	originSeparator = ":"
	methodSeparator = ":"
	varySeparator   = "\t"
)

// Keyer builds cache keys scoped to a single origin, so one storage
// backend can safely hold entries for several origins at once.
type Keyer struct {
	OriginID     string
	OriginPrefix string
}

// New returns a Keyer scoped to originID (typically the origin's URL).
func New(originID string) Keyer {
	return Keyer{OriginID: originID, OriginPrefix: originID + originSeparator}
}

// MethodPrefix returns the key prefix covering every stored entry for
// method regardless of URI, e.g. for driving a background refresh loop.
func (k Keyer) MethodPrefix(method string) string {
	return k.OriginID + originSeparator + method + methodSeparator
}

// Prefix returns the key prefix for r, ignoring any Vary-selected
// variant; querying storage with this prefix returns every variant.
// A request carrying a Cache-Key header appends its value verbatim,
// letting a caller partition variants that Vary alone cannot express
// (e.g. by authenticated principal).
func (k Keyer) Prefix(r *http.Request) (string, error) {
	body, err := requestBodyDigest(r)
	if err != nil {
		return "", err
	}
	key := k.OriginID + originSeparator + r.Method + methodSeparator + r.URL.RequestURI()
	if body != "" {
		key += "#" + body
	}
	key += varySeparator
	if ck := r.Header.Get("Cache-Key"); ck != "" {
		key += ck
	}
	return key, nil
}

// WithVary appends the values of every field the response's Vary header
// names, producing the full key for that specific variant.
func (k Keyer) WithVary(prefix string, reqHeader, resHeader http.Header) string {
	key := prefix
	for _, name := range cachepolicy.Header(toLowerHeader(resHeader)).CommaList("vary") {
		if v := reqHeader.Get(name); v != "" {
			key += "\n" + strings.ToLower(name) + ": " + v
		}
	}
	return key
}

// GetRequestFromKey reconstructs a GET request equivalent (from the
// engine's point of view) to the one that produced key, for use by the
// server's proactive refresh loop.
func (k Keyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, k.OriginPrefix) {
		return nil, fmt.Errorf("cachekey: key does not belong to origin %s", k.OriginID)
	}
	rest := strings.TrimPrefix(key, k.OriginPrefix)
	withoutVary, _, _ := strings.Cut(rest, varySeparator)
	method, uri, found := strings.Cut(withoutVary, methodSeparator)
	if !found {
		return nil, fmt.Errorf("cachekey: malformed key %q", key)
	}
	if method != http.MethodGet {
		return nil, ErrMethodNotSupported
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header = VaryHeaders(key)
	return req, nil
}

// VaryHeaders reconstructs the request headers a full (Vary-suffixed)
// key encodes.
func VaryHeaders(key string) http.Header {
	header := make(http.Header)
	lines := strings.Split(key, "\n")
	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ": ")
		if found {
			header.Add(name, value)
		}
	}
	return header
}

func toLowerHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

// requestBodyDigest hashes a request body so that two POST/PUT requests
// to the same URI with different payloads never collide in storage. The
// body is read and then replaced so the caller can still forward it.
func requestBodyDigest(r *http.Request) (string, error) {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return "", nil
	}
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	hash := sha256.New()
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := hashMultipart(r, hash, params["boundary"]); err != nil {
			return "", err
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		hash.Write(body)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func hashMultipart(r *http.Request, hash io.Writer, boundary string) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	mr := multipart.NewReader(strings.NewReader(string(body)), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		io.Copy(hash, part)
	}
	return nil
}
