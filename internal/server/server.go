// Package server hosts the HTTP router and its middleware chain.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configures New.
type Options struct {
	Addr string
	// RequestTimeout bounds every request not matched by LongRunning.
	RequestTimeout time.Duration
	// LongRunning selects the streaming requests that manage their own
	// deadline.
	LongRunning func(*http.Request) bool
	// ServiceName names the otelhttp server spans.
	ServiceName string
	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string
}

type Server struct {
	Router *chi.Mux
	logger *slog.Logger
	http   *http.Server
}

func New(opts Options, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(CORSMiddleware(opts.AllowedOrigins))
	}
	if opts.RequestTimeout > 0 {
		r.Use(TimeoutMiddleware(opts.RequestTimeout, opts.LongRunning))
	}
	r.Use(middleware.Recoverer)

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "deep-interviewer"
	}
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	})

	return &Server{
		Router: r,
		logger: logger,
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
