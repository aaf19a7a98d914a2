// Package server wires the gateway's routes and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/nextstep-labs/interviewd/pkg/gateway/config"
	"github.com/nextstep-labs/interviewd/pkg/gateway/handlers"
	"github.com/nextstep-labs/interviewd/pkg/gateway/judge"
	"github.com/nextstep-labs/interviewd/pkg/gateway/lifecycle"
	"github.com/nextstep-labs/interviewd/pkg/gateway/metrics"
	"github.com/nextstep-labs/interviewd/pkg/gateway/mw"
	"github.com/nextstep-labs/interviewd/pkg/gateway/persona"
	"github.com/nextstep-labs/interviewd/pkg/gateway/ratelimit"
	"github.com/nextstep-labs/interviewd/pkg/gateway/session"
	"github.com/nextstep-labs/interviewd/pkg/gateway/sessions"
	"github.com/nextstep-labs/interviewd/pkg/gateway/store"
)

// Dependencies carries everything the route table needs. Store and
// Metrics may be nil.
type Dependencies struct {
	Registry  *sessions.Registry
	Personas  *persona.Registry
	Judge     judge.Judge
	Store     *store.Store
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps    Dependencies
	limiter *ratelimit.Limiter
}

func New(cfg config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentSessions: cfg.LimitMaxConcurrentSessions,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle})

	s.mux.Handle("/v1/sessions", handlers.SessionsHandler{
		Config:    s.cfg,
		Registry:  s.deps.Registry,
		Personas:  s.deps.Personas,
		Logger:    s.logger,
		Lifecycle: s.deps.Lifecycle,
	})
	s.mux.Handle("/v1/roles", handlers.RolesHandler{Personas: s.deps.Personas})

	if s.deps.Store != nil {
		s.mux.Handle("/v1/reports/", handlers.ReportsHandler{
			Store:  s.deps.Store,
			Logger: s.logger,
		})
	}

	// A typed nil *store.Store inside the Archiver interface would defeat
	// the runner's nil check, so only assign when configured.
	var archive session.Archiver
	if s.deps.Store != nil {
		archive = s.deps.Store
	}
	s.mux.Handle("/ws/interview/", handlers.InterviewHandler{
		Config:    s.cfg,
		Registry:  s.deps.Registry,
		Judge:     s.deps.Judge,
		Archive:   archive,
		Metrics:   s.deps.Metrics,
		Logger:    s.logger,
		Lifecycle: s.deps.Lifecycle,
		Limiter:   s.limiter,
	})

	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the full middleware chain around the route table.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
