// Package server assembles the gateway's routes and middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bezaspace/rak4/pkg/gateway/config"
	"github.com/bezaspace/rak4/pkg/gateway/handlers"
	"github.com/bezaspace/rak4/pkg/gateway/lifecycle"
	"github.com/bezaspace/rak4/pkg/gateway/live/sessions"
	"github.com/bezaspace/rak4/pkg/gateway/mw"
	"github.com/bezaspace/rak4/pkg/gateway/ratelimit"
	"github.com/bezaspace/rak4/pkg/gateway/telemetry"
)

// Dependencies are the domain services behind the routes. Schedule and DB
// are optional. LiveSessions and Metrics are created when nil; pass them in
// when the bridge must report into the same metrics.
type Dependencies struct {
	Bridge   handlers.LiveServer
	Schedule handlers.ScheduleReader
	DB       handlers.Pinger

	LiveSessions *sessions.Tracker
	Metrics      *telemetry.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	limiter      *ratelimit.Limiter
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
	metrics      *telemetry.Metrics
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	liveSessions := deps.LiveSessions
	if liveSessions == nil {
		liveSessions = sessions.NewTracker()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(cfg.AppName, liveSessions.Count)
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                cfg.RateLimitRPS,
			Burst:              cfg.RateLimitBurst,
			MaxSessionsPerUser: cfg.MaxSessionsPerUser,
		}),
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: liveSessions,
		metrics:      metrics,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/health", handlers.HealthHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
		DB:           s.deps.DB,
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	if s.deps.Bridge != nil {
		s.mux.Handle("/ws/live", handlers.LiveHandler{
			Config:       s.cfg,
			Bridge:       s.deps.Bridge,
			Logger:       s.logger,
			Limiter:      s.limiter,
			Lifecycle:    s.lifecycle,
			LiveSessions: s.liveSessions,
			Metrics:      s.metrics,
		})
	}

	if s.deps.Schedule != nil {
		schedule := handlers.ScheduleHandler{Schedule: s.deps.Schedule, Logger: s.logger}
		s.mux.HandleFunc("GET /api/schedule/today", schedule.Today)
		s.mux.HandleFunc("GET /api/schedule/items/{id}/reports", schedule.ItemReports)
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, s.metrics.RecordRateLimitHit, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return otelhttp.NewHandler(h, s.cfg.AppName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string { return spanName(r) }),
		otelhttp.WithFilter(traced),
	)
}

// spanName keeps span names low-cardinality by collapsing path parameters.
func spanName(r *http.Request) string {
	path := r.URL.Path
	if strings.HasPrefix(path, "/api/schedule/items/") && strings.HasSuffix(path, "/reports") {
		path = "/api/schedule/items/{id}/reports"
	}
	return r.Method + " " + path
}

// traced skips probes and scrapes.
func traced(r *http.Request) bool {
	switch r.URL.Path {
	case "/health", "/healthz", "/readyz", "/metrics":
		return false
	}
	return true
}

// Drain stops accepting live sessions, warns the open ones, and shuts srv
// down.
func (s *Server) Drain(ctx context.Context, srv lifecycle.Shutdowner) error {
	return s.lifecycle.Drain(ctx, srv, s.liveSessions, s.logger)
}
