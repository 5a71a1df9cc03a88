package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/provider"
	"github.com/tjfontaine/deep-interviewer/internal/testutil"
)

func stubFactory(typ string, p domain.Provider) provider.Factory {
	return provider.Factory{
		Type:     typ,
		Create:   func(context.Context, provider.Config) (domain.Provider, error) { return p, nil },
		Validate: provider.RequireAPIKey,
	}
}

func TestRegistry_Create(t *testing.T) {
	r := provider.NewRegistry()
	if err := r.Register(stubFactory("scripted", testutil.NewScriptedProvider())); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name    string
		cfg     provider.Config
		wantErr bool
		unknown bool
	}{
		{name: "known", cfg: provider.Config{Type: "scripted", APIKey: "k"}},
		{name: "missing key", cfg: provider.Config{Type: "scripted"}, wantErr: true},
		{name: "unknown", cfg: provider.Config{Type: "openrouter", APIKey: "k"}, wantErr: true, unknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.Create(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.unknown && !errors.Is(err, provider.ErrUnknownType) {
				t.Errorf("Create() error = %v, want ErrUnknownType", err)
			}
			if err == nil && p.Name() != "scripted" {
				t.Errorf("Name() = %q", p.Name())
			}
		})
	}
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := provider.NewRegistry()
	f := stubFactory("scripted", testutil.NewScriptedProvider())
	if err := r.Register(f); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(f); err == nil {
		t.Error("second Register() error = nil")
	}
	if err := r.Register(provider.Factory{Type: "nocreate"}); err == nil {
		t.Error("Register() without Create error = nil")
	}
	if got := r.Types(); len(got) != 1 || got[0] != "scripted" {
		t.Errorf("Types() = %v", got)
	}
}

func TestRegistry_DefaultModel(t *testing.T) {
	scripted := testutil.NewScriptedProvider(testutil.Step{Text: []string{"a"}}, testutil.Step{Text: []string{"b"}})
	r := provider.NewRegistry()
	_ = r.Register(stubFactory("scripted", scripted))

	p, err := r.Create(context.Background(), provider.Config{Type: "scripted", APIKey: "k", Model: "claude-haiku-4-5"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, model := range []string{"", "explicit"} {
		ch, err := p.Stream(context.Background(), &domain.CanonicalRequest{Model: model})
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		for range ch {
		}
	}

	reqs := scripted.Requests()
	if reqs[0].Model != "claude-haiku-4-5" || reqs[1].Model != "explicit" {
		t.Errorf("models = %q, %q", reqs[0].Model, reqs[1].Model)
	}
}
