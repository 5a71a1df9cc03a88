// Package gemini adapts the Gemini API, through the official genai SDK, to
// the domain.Provider interface.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// ProviderType is the provider type identifier used in configuration.
const ProviderType = "gemini"

const (
	roleUser  = "user"
	roleModel = "model"

	openingMessage = "Start het interview."
)

// ProviderOption configures the provider.
type ProviderOption func(*genai.ClientConfig)

// WithBaseURL points the SDK at a different endpoint.
func WithBaseURL(baseURL string) ProviderOption {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(c *genai.ClientConfig) {
		c.HTTPClient = httpClient
	}
}

// Provider implements domain.Provider over genai.
type Provider struct {
	client *genai.Client
}

var _ domain.Provider = (*Provider)(nil)

// New creates a Gemini provider.
func New(ctx context.Context, apiKey string, opts ...ProviderOption) (*Provider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string {
	return ProviderType
}

func (p *Provider) Stream(ctx context.Context, req *domain.CanonicalRequest) (<-chan domain.CanonicalEvent, error) {
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}
	config := toConfig(req)

	out := make(chan domain.CanonicalEvent)
	go func() {
		defer close(out)

		emit := func(ev domain.CanonicalEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			usage      = &domain.Usage{}
			stopReason string
		)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				if ctx.Err() == nil {
					emit(domain.CanonicalEvent{Type: domain.EventTypeError, Error: canonicalError(err)})
				}
				return
			}
			if resp.UsageMetadata != nil {
				usage = &domain.Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			cand := resp.Candidates[0]
			if cand.FinishReason != "" {
				stopReason = string(cand.FinishReason)
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					call, err := toToolCall(part.FunctionCall)
					if err != nil {
						emit(domain.CanonicalEvent{Type: domain.EventTypeError, Error: err})
						return
					}
					if !emit(domain.CanonicalEvent{Type: domain.EventTypeToolCall, ToolCall: call}) {
						return
					}
				case part.Text != "" && !part.Thought:
					if !emit(domain.CanonicalEvent{Type: domain.EventTypeTextDelta, Text: part.Text}) {
						return
					}
				}
			}
		}
		if ctx.Err() != nil {
			return
		}
		emit(domain.CanonicalEvent{Type: domain.EventTypeDone, StopReason: stopReason, Usage: usage})
	}()

	return out, nil
}

func toToolCall(fc *genai.FunctionCall) (*domain.ToolCall, error) {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	input, err := json.Marshal(args)
	if err != nil {
		return nil, domain.ErrProvider(fmt.Sprintf("encode function call arguments: %v", err))
	}
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return &domain.ToolCall{ID: id, Name: fc.Name, Input: input}, nil
}

// canonicalError maps SDK errors onto the domain taxonomy.
func canonicalError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return domain.ErrProvider(err.Error())
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests:
		return domain.ErrRateLimit(apiErr.Message)
	case http.StatusServiceUnavailable:
		return domain.ErrOverloaded(apiErr.Message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrAuthentication(apiErr.Message).WithCode(domain.ErrorCodeInvalidAPIKey)
	}
	return domain.ErrProvider(apiErr.Message)
}

func toConfig(req *domain.CanonicalRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toSchema(t.InputSchema),
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// toContents converts the conversation history. Consecutive messages of the
// same role share one Content, and the history always starts with a user turn.
func toContents(msgs []domain.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	add := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			if m.Content != "" {
				add(roleUser, &genai.Part{Text: m.Content})
			}
		case domain.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Input) > 0 {
					if err := json.Unmarshal(tc.Input, &args); err != nil {
						// Malformed arguments were already answered with an
						// error result; keep the call without them.
						args = map[string]any{}
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			add(roleModel, parts...)
		case domain.RoleTool:
			key := "output"
			if m.IsError {
				key = "error"
			}
			add(roleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.ToolName,
				Response: map[string]any{key: m.Content},
			}})
		default:
			return nil, domain.ErrServer(fmt.Sprintf("unsupported message role %q", m.Role))
		}
	}

	if len(out) == 0 || out[0].Role != roleUser {
		out = append([]*genai.Content{{Role: roleUser, Parts: []*genai.Part{{Text: openingMessage}}}}, out...)
	}
	return out, nil
}

// toSchema converts a JSON schema map into the SDK's OpenAPI subset.
func toSchema(in map[string]any) *genai.Schema {
	if in == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := in["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := in["description"].(string); ok {
		s.Description = d
	}
	if v, ok := toFloat(in["minimum"]); ok {
		s.Minimum = &v
	}
	if v, ok := toFloat(in["maximum"]); ok {
		s.Maximum = &v
	}
	s.Enum = toStrings(in["enum"])
	s.Required = toStrings(in["required"])
	if items, ok := in["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	if props, ok := in["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	}
	return genai.TypeUnspecified
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toStrings(v any) []string {
	switch vs := v.(type) {
	case []string:
		return append([]string(nil), vs...)
	case []any:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
