package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/advisory-alert-etl/internal/pipeline"
)

const maxBatchSize = 1000

// Drainer runs queue drains.
type Drainer interface {
	Run(ctx context.Context, batchSize int) (pipeline.Summary, error)
	Running() bool
}

// Server exposes health, readiness, metrics, and a manual drain trigger.
type Server struct {
	httpServer   *http.Server
	drainer      Drainer
	defaultBatch int
	baseCtx      context.Context
	logger       *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// POST /drain routes. Drains started over HTTP run under ctx rather than the
// request context so they outlive the request.
func NewServer(ctx context.Context, addr string, ready sharedobs.ReadinessChecker, drainer Drainer, defaultBatch int, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		drainer:      drainer,
		defaultBatch: defaultBatch,
		baseCtx:      ctx,
		logger:       logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/drain", s.handleDrain)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	batch := s.defaultBatch
	if v := r.URL.Query().Get("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxBatchSize {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": "batch_size must be an integer between 1 and 1000",
			})
			return
		}
		batch = n
	}

	if s.drainer.Running() {
		sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{"error": pipeline.ErrDrainRunning.Error()})
		return
	}

	go func() {
		sum, err := s.drainer.Run(s.baseCtx, batch)
		switch {
		case errors.Is(err, pipeline.ErrDrainRunning):
			s.logger.Info("manual drain skipped, another drain started first")
		case err != nil:
			s.logger.Error("manual drain failed", "error", err)
		default:
			s.logger.Info("manual drain finished", "jobs", sum.Jobs)
		}
	}()

	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "draining", "batch_size": batch})
}

// Readiness combines checkers; the first error wins.
func Readiness(checkers ...sharedobs.ReadinessChecker) sharedobs.ReadinessChecker {
	return readinessGroup(checkers)
}

type readinessGroup []sharedobs.ReadinessChecker

func (g readinessGroup) CheckReadiness(ctx context.Context) error {
	for _, c := range g {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
