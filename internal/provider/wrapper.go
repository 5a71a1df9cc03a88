package provider

import (
	"context"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// DefaultModelProvider wraps a provider and fills in the model for requests
// that do not name one.
type DefaultModelProvider struct {
	inner domain.Provider
	model string
}

var _ domain.Provider = (*DefaultModelProvider)(nil)

// NewDefaultModelProvider creates a new DefaultModelProvider.
func NewDefaultModelProvider(inner domain.Provider, model string) *DefaultModelProvider {
	return &DefaultModelProvider{inner: inner, model: model}
}

func (p *DefaultModelProvider) Name() string {
	return p.inner.Name()
}

func (p *DefaultModelProvider) Stream(ctx context.Context, req *domain.CanonicalRequest) (<-chan domain.CanonicalEvent, error) {
	if req.Model != "" {
		return p.inner.Stream(ctx, req)
	}
	// Clone request to avoid side effects
	newReq := *req
	newReq.Model = p.model
	return p.inner.Stream(ctx, &newReq)
}

// Unwrap returns the wrapped provider.
func (p *DefaultModelProvider) Unwrap() domain.Provider {
	return p.inner
}
