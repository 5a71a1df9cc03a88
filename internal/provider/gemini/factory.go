package gemini

import (
	"context"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/provider"
)

// Register adds the Gemini factory to r.
func Register(r *provider.Registry) error {
	return r.Register(provider.Factory{
		Type:        ProviderType,
		Description: "Google Gemini API provider",
		Create:      CreateFromConfig,
		Validate:    provider.RequireAPIKey,
	})
}

// CreateFromConfig creates a new Gemini provider from configuration.
func CreateFromConfig(ctx context.Context, cfg provider.Config) (domain.Provider, error) {
	var opts []ProviderOption
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	return New(ctx, cfg.APIKey, opts...)
}
