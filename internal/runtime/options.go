package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/provider"
	"github.com/tjfontaine/deep-interviewer/internal/session"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		if logger == nil {
			return fmt.Errorf("logger is nil")
		}
		a.logger = logger
		return nil
	}
}

// WithStore uses store instead of opening storage.driver. The caller keeps
// ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(a *App) error {
		a.store = store
		return nil
	}
}

// WithProvider uses p instead of creating model.provider from the registry.
func WithProvider(p domain.Provider) Option {
	return func(a *App) error {
		a.provider = p
		return nil
	}
}

// WithProviderRegistry creates model.provider from r instead of the
// built-in registry.
func WithProviderRegistry(r *provider.Registry) Option {
	return func(a *App) error {
		a.providers = r
		return nil
	}
}

// WithArchiver archives completed interviews through archiver regardless of
// archive.enabled.
func WithArchiver(archiver session.Archiver) Option {
	return func(a *App) error {
		a.archiver = archiver
		return nil
	}
}
