package server

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/solace/internal/config"
	"github.com/lazypower/solace/internal/engine"
	"github.com/lazypower/solace/internal/logger"
	"github.com/lazypower/solace/internal/metrics"
)

// Server is the solace HTTP API server.
type Server struct {
	svc      engine.Service
	router   chi.Router
	version  string
	started  time.Time
	log      *logger.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *ipLimiter
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request error logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics counts rejected requests in m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithRateLimit enables the per-address limit on the chat endpoint.
func WithRateLimit(c config.RateLimitConfig) Option {
	return func(s *Server) {
		if c.Enabled {
			s.limiter = newIPLimiter(c.PerSecond, c.Burst)
		}
	}
}

// New creates a new Server over svc.
func New(svc engine.Service, version string, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		version: version,
		started: time.Now(),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.With(s.rateLimit).Post("/chat", s.handleChat)

		r.Route("/user", func(r chi.Router) {
			r.Post("/{userID}/reset", s.handleReset)
			r.Get("/statistics/{userID}", s.handleStatistics)
			r.Get("/emotion-history/{userID}", s.handleEmotionHistory)
			r.Get("/stage-trajectory/{userID}", s.handleStageTrajectory)
			r.Get("/interaction-summary/{userID}", s.handleInteractionSummary)
			r.Get("/stage-analysis/{userID}", s.handleStageAnalysis)
			r.Get("/overview/{userID}", s.handleOverview)
		})
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"backend": s.svc.Available(),
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
