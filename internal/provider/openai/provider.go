// Package openai adapts OpenAI-compatible chat completion endpoints to the
// domain.Provider interface.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	openaiapi "github.com/tjfontaine/deep-interviewer/internal/api/openai"
	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// ProviderType is the provider type identifier used in configuration.
const ProviderType = "openai"

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// Provider implements domain.Provider over the chat completions API.
type Provider struct {
	client     *openaiapi.Client
	baseURL    string
	httpClient *http.Client
}

var _ domain.Provider = (*Provider)(nil)

// New creates a new OpenAI provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []openaiapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, openaiapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, openaiapi.WithHTTPClient(p.httpClient))
	}

	p.client = openaiapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return ProviderType
}

// pendingCall accumulates the streamed fragments of one tool call.
type pendingCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (p *Provider) Stream(ctx context.Context, req *domain.CanonicalRequest) (<-chan domain.CanonicalEvent, error) {
	stream, err := p.client.StreamChatCompletion(ctx, toAPIRequest(req))
	if err != nil {
		return nil, err
	}

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
			calls      = map[int]*pendingCall{}
			stopReason string
			usage      = &domain.Usage{}
		)

		flush := func() bool {
			pending := make([]*pendingCall, 0, len(calls))
			for _, c := range calls {
				pending = append(pending, c)
			}
			sort.Slice(pending, func(i, j int) bool { return pending[i].index < pending[j].index })
			for _, c := range pending {
				input := json.RawMessage(c.args.String())
				if strings.TrimSpace(c.args.String()) == "" {
					input = json.RawMessage("{}")
				}
				call := &domain.ToolCall{ID: c.id, Name: c.name, Input: input}
				if !emit(domain.CanonicalEvent{Type: domain.EventTypeToolCall, ToolCall: call}) {
					return false
				}
			}
			clear(calls)
			return true
		}

		for result := range stream {
			if result.Err != nil {
				emit(domain.CanonicalEvent{Type: domain.EventTypeError, Error: domain.ErrProvider(result.Err.Error())})
				return
			}
			if result.Done {
				if !flush() {
					return
				}
				emit(domain.CanonicalEvent{Type: domain.EventTypeDone, StopReason: stopReason, Usage: usage})
				return
			}

			chunk := result.Chunk
			if chunk.Usage != nil {
				usage = &domain.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !emit(domain.CanonicalEvent{Type: domain.EventTypeTextDelta, Text: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				c, ok := calls[tc.Index]
				if !ok {
					c = &pendingCall{index: tc.Index}
					calls[tc.Index] = c
				}
				if tc.ID != "" {
					c.id = tc.ID
				}
				if tc.Function != nil {
					if tc.Function.Name != "" {
						c.name = tc.Function.Name
					}
					c.args.WriteString(tc.Function.Arguments)
				}
			}
			if choice.FinishReason != nil {
				stopReason = *choice.FinishReason
				if !flush() {
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		emit(domain.CanonicalEvent{Type: domain.EventTypeError, Error: domain.ErrProvider("stream ended before [DONE]")})
	}()

	return out, nil
}

// toAPIRequest converts a canonical request to a chat completion request.
func toAPIRequest(req *domain.CanonicalRequest) *openaiapi.ChatCompletionRequest {
	messages := make([]openaiapi.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiapi.ChatCompletionMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openaiapi.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		switch m.Role {
		case domain.RoleTool:
			msg.ToolCallID = m.ToolCallID
		case domain.RoleAssistant:
			for _, tc := range m.ToolCalls {
				args := string(tc.Input)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openaiapi.ToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: openaiapi.FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
		}
		messages = append(messages, msg)
	}

	apiReq := &openaiapi.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = make([]openaiapi.Tool, len(req.Tools))
		for i, t := range req.Tools {
			apiReq.Tools[i] = openaiapi.Tool{
				Type: "function",
				Function: openaiapi.FunctionTool{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
	}

	return apiReq
}
