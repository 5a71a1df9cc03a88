// Package runtime wires the interviewer together from configuration and
// manages the lifecycle of its HTTP server.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/deep-interviewer/internal/api/interviews"
	"github.com/tjfontaine/deep-interviewer/internal/config"
	"github.com/tjfontaine/deep-interviewer/internal/controlplane"
	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/orchestrator"
	"github.com/tjfontaine/deep-interviewer/internal/provider"
	"github.com/tjfontaine/deep-interviewer/internal/registration"
	"github.com/tjfontaine/deep-interviewer/internal/server"
	"github.com/tjfontaine/deep-interviewer/internal/session"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/tokens"
	"github.com/tjfontaine/deep-interviewer/internal/tools"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

// App is a fully wired interviewer: store, model provider, orchestrator,
// session service and HTTP server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Dependencies (injected via options or built from cfg)
	store     storage.Store
	provider  domain.Provider
	archiver  session.Archiver
	providers *provider.Registry

	service *session.Service
	server  *server.Server
	// ownsStore is set when the store was opened from cfg and must be
	// closed by the app.
	ownsStore bool
}

// New builds an App. Dependencies not supplied through options are created
// from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if a.store == nil {
		store, err := OpenStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.ownsStore = true
	}

	if err := a.initProvider(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initArchiver(); err != nil {
		a.Close()
		return nil, err
	}

	reg := topic.MustDefault()
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithConfig(orchestrator.Config{
			Model:       cfg.Model.Name,
			MaxTokens:   cfg.Model.MaxTokens,
			Temperature: cfg.Model.Temperature,
			MaxRounds:   cfg.Model.MaxRounds,
		}),
	}
	if est, err := tokens.NewEstimator(); err != nil {
		a.logger.Warn("prompt token estimates disabled", slog.String("error", err.Error()))
	} else {
		orchOpts = append(orchOpts, orchestrator.WithTokenEstimator(est))
	}
	orch := orchestrator.New(a.provider, reg, tools.New(reg, tools.WithSlidesURL(cfg.Interview.SlidesURL)), orchOpts...)

	svcOpts := []session.Option{session.WithLogger(a.logger)}
	if a.archiver != nil {
		svcOpts = append(svcOpts, session.WithArchiver(a.archiver))
	}
	a.service = session.New(a.store, reg, orch, svcOpts...)

	origins := server.ParseOrigins(cfg.Server.AllowedOrigins)
	a.server = server.New(server.Options{
		Addr:           cfg.Addr(),
		RequestTimeout: cfg.Server.RequestTimeout,
		LongRunning:    interviews.IsStreamRequest,
		ServiceName:    cfg.Telemetry.ServiceName,
		AllowedOrigins: origins,
	}, a.logger)
	interviews.NewHandler(a.service, a.logger,
		interviews.WithChatTimeout(cfg.Server.ChatTimeout),
		interviews.WithAllowedOrigins(origins),
	).Routes(a.server.Router)
	controlplane.NewServer(a.store, a.logger).Routes(a.server.Router)

	a.logger.Info("interviewer configured",
		slog.String("provider", a.provider.Name()),
		slog.String("model", cfg.Model.Name),
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("archive", a.archiver != nil),
	)
	return a, nil
}

func (a *App) initProvider(ctx context.Context) error {
	if a.provider != nil {
		return nil
	}
	if a.providers == nil {
		r, err := registration.Providers()
		if err != nil {
			return fmt.Errorf("register providers: %w", err)
		}
		a.providers = r
	}
	p, err := a.providers.Create(ctx, provider.Config{
		Type:       a.cfg.Model.Provider,
		APIKey:     a.cfg.Model.APIKey,
		BaseURL:    a.cfg.Model.BaseURL,
		Model:      a.cfg.Model.Name,
		MaxRetries: a.cfg.Model.MaxRetries,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	a.provider = p
	return nil
}

// Handler returns the HTTP handler with every route and middleware.
func (a *App) Handler() http.Handler {
	return a.server.Router
}

// Service returns the session service.
func (a *App) Service() *session.Service {
	return a.service
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully within
// server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		return err
	}
	return <-errCh
}

// Close releases the store if the app opened it.
func (a *App) Close() error {
	if !a.ownsStore || a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close storage", slog.String("error", err.Error()))
		return err
	}
	return nil
}
