package cacheserver

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// cacheUpdate is a single parsed `Cache-Update` response header entry,
// used by origins to tell this server which other cached URIs just
// became stale as a side effect of handling an unsafe request.
type cacheUpdate struct {
	Path  string
	Delay time.Duration
}

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// parseCacheUpdates extracts every Cache-Update entry from header,
// resolving relative paths against req's URL.
func parseCacheUpdates(req *http.Request, header http.Header) []cacheUpdate {
	var updates []cacheUpdate
	for _, value := range header.Values("Cache-Update") {
		path, _, _ := strings.Cut(value, ";")
		resolved := req.URL.ResolveReference(&url.URL{Path: strings.TrimSpace(path)})
		updates = append(updates, cacheUpdate{Path: resolved.Path, Delay: parseDelay(value)})
	}
	return updates
}

func parseDelay(value string) time.Duration {
	m := delayDirective.FindStringSubmatch(value)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}
