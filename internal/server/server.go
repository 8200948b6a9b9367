// Package server wires the evaluation service, event bus, metrics and HTTP
// surface together.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/pkg/middleware"
)

// Server is the HTTP server that wires all services together.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server
	handler    http.Handler

	// Services
	bus      bus.Bus
	service  *evaluation.Service
	recorder *metrics.Recorder
	limiter  *middleware.RateLimiter

	mu      sync.Mutex
	started bool
	serving atomic.Bool
}

// Config configures the HTTP server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// New creates a server and all of its dependencies from appCfg.
func New(cfg Config, appCfg config.Config, log *logger.Logger) (*Server, error) {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Default()
	}

	alignment, err := evaluation.ParseAlignment(appCfg.Evaluation.Alignment)
	if err != nil {
		return nil, err
	}
	evaluator, err := evaluation.NewHitRateEvaluator(evaluation.Options{
		Cutoffs:   appCfg.Evaluation.Cutoffs,
		Alignment: alignment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}

	b, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	s := &Server{
		cfg: cfg,
		log: log,
	}

	var observers []evaluation.Observer
	if appCfg.Observability.MetricsEnabled {
		s.recorder = metrics.New()
		b = bus.NewInstrumentedBus(b, s.recorder)
		observers = append(observers, s.recorder)
	}
	s.bus = b
	observers = append(observers, evaluation.NewSnapshotPublisher(b, appCfg.Bus.Topic, log))

	s.service = evaluation.NewService(evaluator, log, observers...)

	if appCfg.Security.RateLimit > 0 {
		limiterCfg := middleware.DefaultRateLimiterConfig()
		limiterCfg.RequestsPerSecond = float64(appCfg.Security.RateLimit)
		limiterCfg.Burst = 2 * appCfg.Security.RateLimit
		s.limiter = middleware.NewRateLimiter(limiterCfg)
	}

	s.handler = s.setupRoutes(appCfg.Observability.MetricsPath)

	log.Info("Server initialized",
		"bus", appCfg.Bus.Type,
		"cutoffs", evaluator.Cutoffs(),
		"alignment", string(alignment),
		"metrics", s.recorder != nil,
		"rate_limit", appCfg.Security.RateLimit,
	)

	return s, nil
}

// Service returns the evaluation service shared by every surface.
func (s *Server) Service() *evaluation.Service {
	return s.service
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves HTTP on ln until Stop is called. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.serving.Store(true)
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and closes the bus.
func (s *Server) Stop(ctx context.Context) error {
	s.serving.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}

	if s.started {
		s.log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
		}
		s.started = false
	}

	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.log.Warn("Bus close error", "error", err)
		}
	}

	s.log.Info("Server stopped")
	return nil
}

// Health reports whether the server is serving and not shutting down.
func (s *Server) Health() bool {
	return s.serving.Load()
}

// setupRoutes configures all HTTP routes and middleware.
func (s *Server) setupRoutes(metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	evaluation.NewHandler(s.service).RegisterRoutes(mux)

	if s.recorder != nil {
		mux.Handle("GET "+metricsPath, s.recorder.Handler())
	}

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.AccessLog(s.log),
	}
	if s.recorder != nil {
		mws = append(mws, s.recorder.HTTPMiddleware)
	}
	if s.limiter != nil {
		mws = append(mws, s.limiter.Middleware)
	}

	return middleware.Chain(mux, mws...)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Evaluations int    `json:"evaluations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.Health() {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:      status,
		Version:     s.cfg.Version,
		Evaluations: len(s.service.History()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
