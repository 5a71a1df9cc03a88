package anthropic

import (
	"context"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/provider"
)

// Register adds the Anthropic factory to r.
func Register(r *provider.Registry) error {
	return r.Register(provider.Factory{
		Type:        ProviderType,
		Description: "Anthropic Messages API provider",
		Create:      CreateFromConfig,
		Validate:    provider.RequireAPIKey,
	})
}

// CreateFromConfig creates a new Anthropic provider from configuration.
func CreateFromConfig(_ context.Context, cfg provider.Config) (domain.Provider, error) {
	var opts []ProviderOption
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Logger != nil {
		opts = append(opts, WithLogger(cfg.Logger))
	}
	return New(cfg.APIKey, opts...), nil
}
