// Package api serves the provider webhook and the operator HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/meetwise/pkg/assistant"
	"github.com/otherjamesbrown/meetwise/pkg/buildinfo"
	"github.com/otherjamesbrown/meetwise/pkg/logging"
	"github.com/otherjamesbrown/meetwise/pkg/meeting"
	"github.com/otherjamesbrown/meetwise/pkg/orchestrator"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
)

// Config configures the HTTP server.
type Config struct {
	Addr string `yaml:"addr"`

	// WebhookSecret enables HMAC-SHA256 verification of provider webhooks.
	WebhookSecret string `yaml:"webhook_secret"`

	// OperatorTokenHash is the argon2id hash of the operator bearer token.
	// Operator routes reject every request while it is empty.
	OperatorTokenHash string `yaml:"operator_token_hash"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// EventHandler applies provider events and cancellations.
type EventHandler interface {
	HandleEvent(ctx context.Context, e orchestrator.Event) (orchestrator.Result, error)
	Cancel(ctx context.Context, meetingID string) (*meeting.Meeting, error)
}

// PipelineController exposes job state and redrive.
type PipelineController interface {
	Job(ctx context.Context, meetingID string) (*pipeline.Job, error)
	Redrive(ctx context.Context, meetingID string) (*pipeline.Job, error)
}

// Asker answers transcript questions.
type Asker interface {
	Ask(ctx context.Context, meetingID, question string, history []assistant.Turn) (*assistant.Answer, error)
}

// MeetingReader loads meetings.
type MeetingReader interface {
	Get(ctx context.Context, id string) (*meeting.Meeting, error)
}

// HealthChecker is a dependency probed by /healthz.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// Deps are the services behind the routes.
type Deps struct {
	Meetings  MeetingReader
	Events    EventHandler
	Pipeline  PipelineController
	Assistant Asker

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Checks   []HealthChecker
}

// Server is the HTTP front end.
type Server struct {
	cfg    Config
	deps   Deps
	auth   *tokenAuth
	router chi.Router
	logger logging.Logger
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps, logger logging.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		auth:   newTokenAuth(cfg.OperatorTokenHash),
		logger: logger.With(logging.Component("api")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", buildinfo.Handler("meetwise"))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Post("/webhooks/events", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.middleware)
		r.Route("/meetings/{meetingID}", func(r chi.Router) {
			r.Get("/", s.handleGetMeeting)
			r.Post("/cancel", s.handleCancel)
			r.Get("/job", s.handleGetJob)
			r.Post("/redrive", s.handleRedrive)
			r.Post("/ask", s.handleAsk)
		})
	})

	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", logging.F("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logging.Field{
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", status),
			logging.F("duration_ms", time.Since(start).Milliseconds()),
			logging.F("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= 500 {
			s.logger.Warn("HTTP request failed", fields...)
			return
		}
		s.logger.Debug("HTTP request", fields...)
	})
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK
	for _, c := range s.deps.Checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name()] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name()] = "ok"
	}
	writeJSON(w, code, resp)
}
