/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/loadshed/internal/cache"
	"github.com/friendsincode/loadshed/internal/config"
	"github.com/friendsincode/loadshed/internal/coordinator"
	"github.com/friendsincode/loadshed/internal/eventbus"
	"github.com/friendsincode/loadshed/internal/feed"
	"github.com/friendsincode/loadshed/internal/leadership"
	"github.com/friendsincode/loadshed/internal/loadshedding"
	"github.com/friendsincode/loadshed/internal/logbuffer"
	"github.com/friendsincode/loadshed/internal/telemetry"
	"github.com/friendsincode/loadshed/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	cache       *cache.Cache
	bus         eventbus.Bus
	service     *loadshedding.Service
	coordinator *coordinator.Coordinator
	leaderAware *coordinator.LeaderAware
	election    *leadership.Election
	webhooks    *webhooks.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. Background polling
// starts with Start.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:    cfg,
		logger: logger,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.router = newRouter(handlers{
		snapshots: srv.coordinator,
		refresher: srv,
		leader:    srv,
		calendar:  srv.service,
		logs:      logBuf,
		logger:    logger,
	})

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A manual refresh can take as long as the feed retries do.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// newRouter builds the HTTP surface around h.
func newRouter(h handlers) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("loadshed-api"))
	router.Use(telemetry.MetricsMiddleware)

	router.Get("/healthz", h.health)
	router.Handle("/metrics", telemetry.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", h.snapshot)
		r.Post("/refresh", h.refresh)
		if h.calendar != nil {
			r.Get("/calendar.ics", h.exportCalendar)
		}
		if h.logs != nil {
			r.Get("/logs", h.recentLogs)
		}
	})
	return router
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	loc, err := loadshedding.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}

	fetcher := feed.NewClient(s.logger,
		feed.WithHTTPClient(feed.NewHTTPClient(s.cfg.FetchTimeout)),
		feed.WithRetryPolicy(feed.RetryPolicy{MaxAttempts: s.cfg.FetchAttempts}),
		feed.WithUserAgent(s.cfg.UserAgent),
	)
	refresher := loadshedding.NewService(fetcher, loadshedding.Config{
		ChangesURL:      s.cfg.ChangesURL,
		SlotsURL:        s.cfg.SlotsURL,
		Area:            s.cfg.Area,
		MunicipalityTag: s.cfg.MunicipalityTag,
		Location:        loc,
		Sanity:          loadshedding.SanityPolicy{MaxAttempts: s.cfg.StageAttempts},
	}, s.logger)
	s.service = refresher

	if s.cfg.SnapshotStoreEnabled || s.cfg.LeaderElectionEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		store, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("snapshot store initialization failed, continuing without it")
		} else {
			s.cache = store
			s.DeferClose(store.Close)
		}
	}

	bus, err := eventbus.New(eventbus.Config{
		Transport: s.cfg.EventTransport,
		NodeID:    s.cfg.InstanceID,
		NATS: eventbus.NATSConfig{
			URL:           s.cfg.NATSURL,
			Token:         s.cfg.NATSToken,
			SubjectPrefix: s.cfg.NATSSubjectPrefix,
			MaxReconnects: -1,
		},
		Redis: eventbus.RedisConfig{
			Addr:          s.cfg.RedisAddr,
			Password:      s.cfg.RedisPassword,
			DB:            s.cfg.RedisDB,
			ChannelPrefix: s.cfg.NATSSubjectPrefix,
		},
	}, s.logger)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	if len(s.cfg.WebhookURLs) > 0 {
		s.webhooks = webhooks.NewService(bus, webhooks.Config{
			Targets: webhooks.TargetsFromConfig(s.cfg.WebhookURLs, s.cfg.WebhookSecret, s.cfg.WebhookEvents),
			Timeout: s.cfg.WebhookTimeout,
			Gate:    s.IsLeader,
		}, s.logger)
	}

	coordCfg := coordinator.Config{
		Interval:  s.cfg.ScanPeriod,
		Publisher: bus,
	}
	if s.cache != nil {
		coordCfg.Store = s.cache
	}
	s.coordinator = coordinator.New(refresher, coordCfg, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		electionCfg.ElectionKey = "loadshed:leader:" + s.cfg.Area
		if s.cfg.InstanceID != "" {
			electionCfg.InstanceID = s.cfg.InstanceID
		}
		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return fmt.Errorf("initialize leader election: %w", err)
		}
		s.election = election
		s.leaderAware = coordinator.NewLeaderAware(s.coordinator, election, bus, s.logger)
	}

	return nil
}

// Start launches the refresh loop in the background.
func (s *Server) Start() {
	if s.bgCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.webhooks != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.webhooks.Start(ctx)
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		var err error
		if s.leaderAware != nil {
			err = s.leaderAware.Run(ctx)
		} else {
			s.coordinator.Restore(ctx)
			err = s.coordinator.Run(ctx)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("refresh loop exited")
		}
	}()
}

// RefreshNow runs a refresh on request when this instance polls.
func (s *Server) RefreshNow(ctx context.Context) (coordinator.State, error) {
	if !s.IsLeader() {
		return coordinator.State{}, errNotLeader
	}
	return s.coordinator.RefreshNow(ctx)
}

// IsLeader reports whether this instance polls the feeds.
func (s *Server) IsLeader() bool {
	return s.leaderAware == nil || s.leaderAware.IsPolling()
}

// LeaderElection reports whether leader election is configured.
func (s *Server) LeaderElection() bool {
	return s.leaderAware != nil
}

// InstanceID identifies this instance in the election, or "" without one.
func (s *Server) InstanceID() string {
	if s.election == nil {
		return ""
	}
	return s.election.InstanceID()
}

// LeaderID returns the instance currently holding the lease.
func (s *Server) LeaderID(ctx context.Context) (string, error) {
	if s.election == nil {
		return "", nil
	}
	return s.election.GetLeader(ctx)
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close stops background work and releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}
