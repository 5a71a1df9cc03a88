package openai

import (
	"context"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/provider"
)

// Register adds the OpenAI factory to r.
func Register(r *provider.Registry) error {
	return r.Register(provider.Factory{
		Type:        ProviderType,
		Description: "OpenAI chat completions provider (also OpenAI-compatible servers)",
		Create:      CreateFromConfig,
	})
}

// CreateFromConfig creates a new OpenAI provider from configuration. The API
// key is optional since local OpenAI-compatible servers often need none.
func CreateFromConfig(_ context.Context, cfg provider.Config) (domain.Provider, error) {
	var opts []ProviderOption
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	return New(cfg.APIKey, opts...), nil
}
