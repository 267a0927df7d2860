package cacheserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/freshcache/cachepolicy/cachepolicy"
)

// expireStalePath evicts every cached variant of update.Path once
// update.Delay has elapsed, per a Cache-Update response header telling
// this server that an unsafe request just invalidated it.
func (s *Server) expireStalePath(update cacheUpdate, logger zerolog.Logger) {
	fake, err := http.NewRequest(http.MethodGet, s.origin.String()+update.Path, nil)
	if err != nil {
		return
	}
	prefix, err := s.keyer.Prefix(fake)
	if err != nil {
		return
	}
	run := func() {
		s.store.AllKeys(prefix, func(key string) {
			if err := s.store.Purge(key); err != nil {
				logger.Error().Err(err).Str("key", key).Msg("could not purge updated entry")
			}
		})
	}
	if update.Delay <= 0 {
		run()
		return
	}
	time.AfterFunc(update.Delay, run)
}

// refreshLoop periodically walks the whole store, proactively
// revalidating entries close to expiry so a real client request never
// has to pay the revalidation's latency.
func (s *Server) refreshLoop() {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.refreshOnce()
	}
}

func (s *Server) refreshOnce() {
	horizon := time.Now().Add(s.refreshInterval)
	s.store.AllKeys(s.keyer.OriginPrefix, func(key string) {
		entry, ok, err := s.store.Get(key)
		if err != nil || !ok || entry.Expires.After(horizon) {
			return
		}
		s.refreshEntry(key)
	})
}

func (s *Server) refreshEntry(key string) {
	req, err := s.keyer.GetRequestFromKey(key)
	if err != nil {
		return
	}
	logger := s.log.With().Str("key", key).Logger()
	s.directUpstream(req)

	requestTime := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("proactive refresh request failed")
		return
	}
	defer resp.Body.Close()

	policy, perr := cachepolicy.New(s.opts, requestSnapshot(req), responseSnapshot(resp.Header, resp.StatusCode), requestTime, time.Now())
	if perr != nil {
		logger.Warn().Err(perr).Msg("proactive refresh produced an invalid policy")
		return
	}
	if !policy.IsStorable() {
		s.store.Purge(key)
		return
	}
	s.persist(req, resp, policy, logger)
}
