package registration

import (
	"github.com/tjfontaine/deep-interviewer/internal/provider"
	"github.com/tjfontaine/deep-interviewer/internal/provider/anthropic"
	"github.com/tjfontaine/deep-interviewer/internal/provider/gemini"
	"github.com/tjfontaine/deep-interviewer/internal/provider/openai"
)

// Providers returns a registry holding the built-in providers. It replaces
// init-based side effects and is intended to be called from cmd/interviewer
// and tests.
func Providers() (*provider.Registry, error) {
	r := provider.NewRegistry()
	for _, register := range []func(*provider.Registry) error{
		anthropic.Register,
		gemini.Register,
		openai.Register,
	} {
		if err := register(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}
