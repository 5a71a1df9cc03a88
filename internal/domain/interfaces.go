package domain

import (
	"context"
)

// Provider defines the interface for chat-completion model backends.
type Provider interface {
	Name() string

	// Stream returns a channel of events.
	// The channel MUST be closed by the provider when done. A stream ends
	// with exactly one EventTypeDone or EventTypeError event unless ctx is
	// cancelled first.
	Stream(ctx context.Context, req *CanonicalRequest) (<-chan CanonicalEvent, error)
}
