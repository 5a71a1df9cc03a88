// Package provider creates model providers from configuration.
//
// # Adding a New Provider
//
// Implement domain.Provider in its own package and expose an explicit
// registration function. Wire that registration from cmd/interviewer (or
// tests) so we avoid init() side effects:
//
//	func Register(r *provider.Registry) error {
//	    return r.Register(provider.Factory{
//	        Type:        ProviderType,
//	        Description: "Google Gemini API provider",
//	        Create:      CreateFromConfig,
//	        Validate:    ValidateConfig,
//	    })
//	}
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// Config is the provider-facing slice of the application configuration.
type Config struct {
	// Type selects the factory, e.g. "anthropic".
	Type    string
	APIKey  string
	BaseURL string
	// Model is filled into requests that do not name one.
	Model      string
	MaxRetries int
	Logger     *slog.Logger
}

// Factory defines how to create a provider of a specific type.
type Factory struct {
	Type        string
	Description string
	Create      func(ctx context.Context, cfg Config) (domain.Provider, error)
	// Validate is optional.
	Validate func(cfg Config) error
}

// ErrUnknownType is returned for a provider type without a factory.
var ErrUnknownType = errors.New("unknown provider type")

// Registry holds the provider factories known to one process.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering the same type twice is an error.
func (r *Registry) Register(f Factory) error {
	if f.Type == "" {
		return errors.New("provider factory type cannot be empty")
	}
	if f.Create == nil {
		return fmt.Errorf("provider factory %q must have a Create function", f.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[f.Type]; exists {
		return fmt.Errorf("provider factory %q already registered", f.Type)
	}
	r.factories[f.Type] = f
	return nil
}

// Types returns the registered provider types sorted by name.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Factories returns the registered factories sorted by type.
func (r *Registry) Factories() []Factory {
	types := r.Types()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Factory, len(types))
	for i, t := range types {
		out[i] = r.factories[t]
	}
	return out
}

// Create validates cfg and instantiates the provider of type cfg.Type.
func (r *Registry) Create(ctx context.Context, cfg Config) (domain.Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered types: %v)", ErrUnknownType, cfg.Type, r.Types())
	}

	if f.Validate != nil {
		if err := f.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for provider type %s: %w", cfg.Type, err)
		}
	}

	p, err := f.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", cfg.Type, err)
	}
	if cfg.Model != "" {
		p = NewDefaultModelProvider(p, cfg.Model)
	}
	return p, nil
}

// RequireAPIKey is a Validate function for providers that need a key.
func RequireAPIKey(cfg Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("%s provider requires an API key", cfg.Type)
	}
	return nil
}
