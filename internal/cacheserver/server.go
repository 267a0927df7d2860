// Package cacheserver is an HTTP middleware that fronts an origin
// server, using cachepolicy to decide what to store, what to reuse, and
// when to revalidate.
package cacheserver

import (
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freshcache/cachepolicy/cachepolicy"
	"github.com/freshcache/cachepolicy/internal/cachekey"
	"github.com/freshcache/cachepolicy/internal/cacheserver/rules"
	"github.com/freshcache/cachepolicy/internal/cachestatus"
	"github.com/freshcache/cachepolicy/internal/cachestore"
	"github.com/freshcache/cachepolicy/internal/metrics"
)

// DefaultRefreshInterval is the refresh interval cachepolicyd gives each
// origin's Server unless that origin disables updates. New does not apply
// it: a Server built with a zero RefreshInterval runs no refresh loop.
const DefaultRefreshInterval = 5 * time.Minute

// Config configures a Server.
type Config struct {
	Origin          *url.URL
	OriginHost      string
	Store           cachestore.Store
	Options         cachepolicy.Options
	Rules           rules.Rules
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	RefreshInterval time.Duration
	CacheName       string
}

// Server is an http.Handler that caches an origin's responses per
// cachepolicy's decisions.
type Server struct {
	origin          *url.URL
	hostHeader      string
	store           cachestore.Store
	keyer           cachekey.Keyer
	opts            cachepolicy.Options
	rules           rules.Rules
	log             zerolog.Logger
	client          *http.Client
	metrics         *metrics.Metrics
	cacheName       string
	refreshInterval time.Duration
}

// New builds a Server from cfg and, unless RefreshInterval is zero,
// starts its proactive-refresh background loop.
func New(cfg Config) *Server {
	transport := http.DefaultTransport
	hostHeader := cfg.OriginHost
	if hostHeader == "" {
		hostHeader = cfg.Origin.Host
	} else {
		transport = &http.Transport{TLSClientConfig: &tls.Config{ServerName: cfg.OriginHost}}
	}
	cacheName := cfg.CacheName
	if cacheName == "" {
		cacheName = "CachePolicy"
	}
	s := &Server{
		origin:          cfg.Origin,
		hostHeader:      hostHeader,
		store:           cfg.Store,
		keyer:           cachekey.New(cfg.Origin.String()),
		opts:            cfg.Options,
		rules:           cfg.Rules,
		log:             cfg.Logger,
		client:          &http.Client{Transport: transport},
		metrics:         cfg.Metrics,
		cacheName:       cacheName,
		refreshInterval: cfg.RefreshInterval,
	}
	if s.refreshInterval > 0 {
		go s.refreshLoop()
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.log.With().Str("request_id", uuid.NewString()).Str("method", r.Method).Str("url", r.URL.String()).Logger()
	now := time.Now()

	prefix, err := s.keyer.Prefix(r)
	if err != nil {
		logger.Error().Err(err).Msg("could not compute cache key")
		s.forwardAndServe(w, r, logger)
		return
	}

	entries, err := s.store.All(prefix)
	if err != nil {
		logger.Error().Err(err).Msg("could not query cache store")
	}
	for _, entry := range entries {
		policy, err := cachepolicy.UnmarshalBinaryWithOptions(entry.Policy, s.opts)
		if err != nil {
			continue
		}
		if s.handleEntry(w, r, entry, policy, now, logger) {
			return
		}
	}

	s.forwardAndServe(w, r, logger)
}

// handleEntry attempts to satisfy r from entry, returning true if it
// wrote a response (whether served from cache or after revalidation).
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request, entry cachestore.Entry, policy cachepolicy.CachePolicy, now time.Time, logger zerolog.Logger) bool {
	decision := policy.BeforeRequest(requestSnapshot(r), now)
	if decision.Outcome == cachepolicy.Fresh {
		status := cachestatus.New(s.cacheName).Hit(int(policy.TimeToLive(now).Seconds()))
		s.serveStored(w, entry, policy, decision.Headers, status, now, logger)
		if s.metrics != nil {
			s.metrics.Hits.Inc()
		}
		return true
	}

	revReq, err := snapshotToRequest(decision.RevalidationRequest)
	if err != nil {
		logger.Error().Err(err).Msg("could not build revalidation request")
		return false
	}
	s.directUpstream(revReq)

	resp, doErr := s.client.Do(revReq)
	var resSnap *cachepolicy.ResponseSnapshot
	if doErr == nil {
		defer resp.Body.Close()
		snap := responseSnapshot(resp.Header, resp.StatusCode)
		resSnap = &snap
	}

	after, err := policy.AfterResponse(decision.RevalidationRequest, resSnap, time.Now())
	if err != nil {
		logger.Warn().Err(err).Msg("revalidation failed without stale-if-error, falling through to a direct forward")
		return false
	}

	switch after.Outcome {
	case cachepolicy.NotModified:
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
		}
		entry.Policy, _ = after.Policy.MarshalBinary()
		entry.Expires = expiryOf(after.Policy)
		s.store.Put(entry)
		status := cachestatus.New(s.cacheName).Hit(int(after.Policy.TimeToLive(time.Now()).Seconds()))
		s.serveStored(w, entry, after.Policy, nil, status, time.Now(), logger)
		if s.metrics != nil {
			s.metrics.Hits.Inc()
		}
		return true
	case cachepolicy.Modified:
		if resp != nil && resp.StatusCode == http.StatusNotModified {
			// The origin's 304 named a different representation than
			// the one we stored; it carries no body to serve or merge,
			// so drop the stale entry and issue an unconditional fetch.
			io.Copy(io.Discard, resp.Body)
			s.store.Purge(entry.Key)
			s.forwardAndServe(w, r, logger)
			return true
		}
		s.storeAndServe(w, r, resp, after.Policy, logger)
		return true
	}
	return false
}

// forwardAndServe handles a full cache miss: fetch directly from the
// origin, decide storability, and serve the result.
func (s *Server) forwardAndServe(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) {
	if s.metrics != nil {
		s.metrics.Forwards.WithLabelValues("uri-miss").Inc()
	}
	upstream := r.Clone(r.Context())
	s.directUpstream(upstream)
	upstream.Body = r.Body

	requestTime := time.Now()
	resp, err := s.client.Do(upstream)
	if err != nil {
		logger.Error().Err(err).Msg("origin request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	policy, perr := cachepolicy.New(s.opts, requestSnapshot(r), responseSnapshot(resp.Header, resp.StatusCode), requestTime, time.Now())
	if perr != nil {
		logger.Error().Err(perr).Msg("could not build policy for origin response, serving uncached")
		header := toHTTPHeader(cachepolicy.StripHopByHop(fromHTTPHeader(resp.Header)))
		body, _ := io.ReadAll(resp.Body)
		writeResponse(w, header, resp.StatusCode, body, cachestatus.New(s.cacheName).Forward(cachestatus.ForwardReasonBypass).ForwardStatus(resp.StatusCode))
		return
	}
	s.storeAndServe(w, r, resp, policy, logger)
}

// storeAndServe writes resp's body to the client, and, if policy allows,
// persists it to the store as a new cache entry.
func (s *Server) storeAndServe(w http.ResponseWriter, r *http.Request, resp *http.Response, policy cachepolicy.CachePolicy, logger zerolog.Logger) {
	header, body, status := s.persist(r, resp, policy, logger)
	writeResponse(w, toHTTPHeader(header), resp.StatusCode, body, status)
	logger.Debug().Str("status", status.String()).Msg("forwarded origin response")
}

// persist decides whether resp is storable and, if so, writes it to the
// store. It always returns the response's hop-by-hop-stripped headers,
// body, and a Cache-Status describing what happened, regardless of
// storability.
func (s *Server) persist(r *http.Request, resp *http.Response, policy cachepolicy.CachePolicy, logger zerolog.Logger) (cachepolicy.Header, []byte, cachestatus.Status) {
	s.rules.Apply(r, resp.Header, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error().Err(err).Msg("could not read origin response body")
	}

	header := cachepolicy.StripHopByHop(fromHTTPHeader(resp.Header))
	status := cachestatus.New(s.cacheName).Forward(cachestatus.ForwardReasonMiss).ForwardStatus(resp.StatusCode)

	for _, update := range parseCacheUpdates(r, resp.Header) {
		s.expireStalePath(update, logger)
	}

	if policy.IsStorable() {
		ttl := policy.TimeToLive(time.Now())
		policyBytes, merr := policy.MarshalBinary()
		if merr == nil {
			prefix, kerr := s.keyer.Prefix(r)
			if kerr == nil {
				key := s.keyer.WithVary(prefix, r.Header, resp.Header)
				now := time.Now()
				s.store.Put(cachestore.Entry{
					Key:         key,
					Expires:     now.Add(ttl),
					RequestedAt: now,
					ReceivedAt:  now,
					Policy:      policyBytes,
					Body:        body,
				})
				status = status.Stored()
				if s.metrics != nil {
					s.metrics.StoreCalls.Inc()
					s.metrics.TTL.Observe(ttl.Seconds())
				}
			}
		}
	}

	return header, body, status
}

func (s *Server) serveStored(w http.ResponseWriter, entry cachestore.Entry, policy cachepolicy.CachePolicy, extra cachepolicy.Header, status cachestatus.Status, now time.Time, logger zerolog.Logger) {
	header := toHTTPHeader(policy.ReusedResponseHeaders())
	header.Set("Age", itoa(int(policy.Age(now).Seconds())))
	for name, values := range extra {
		for _, v := range values {
			header.Add(http.CanonicalHeaderKey(name), v)
		}
	}
	writeResponse(w, header, policy.Response().StatusCode, entry.Body, status)
	logger.Debug().Str("status", status.String()).Msg("served cached response")
}

func writeResponse(w http.ResponseWriter, header http.Header, statusCode int, body []byte, status cachestatus.Status) {
	for name, values := range header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Cache-Status", status.String())
	w.WriteHeader(statusCode)
	if len(body) > 0 {
		io.Copy(w, bytes.NewReader(body))
	}
}

// directUpstream points req at the configured origin, preserving the
// caller's path and query.
func (s *Server) directUpstream(req *http.Request) {
	req.URL.Scheme = s.origin.Scheme
	req.URL.Host = s.origin.Host
	req.Host = s.hostHeader
	req.RequestURI = ""
}

func expiryOf(p cachepolicy.CachePolicy) time.Time {
	return time.Now().Add(p.TimeToLive(time.Now()))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
