// Package anthropic implements domain.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	anthropicapi "github.com/tjfontaine/deep-interviewer/internal/api/anthropic"
	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// ProviderType is the provider type identifier used in configuration.
const ProviderType = "anthropic"

// openingMessage stands in for the participant when the history starts
// with an assistant entry; the API requires a user message first.
const openingMessage = "Start het interview."

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, anthropicapi.WithBaseURL(baseURL))
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, anthropicapi.WithHTTPClient(httpClient))
	}
}

// WithMaxRetries sets the retry budget for overloaded responses.
func WithMaxRetries(n int) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, anthropicapi.WithMaxRetries(n))
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, anthropicapi.WithLogger(logger))
	}
}

// Provider implements the domain.Provider interface using our custom Anthropic client.
type Provider struct {
	client     *anthropicapi.Client
	clientOpts []anthropicapi.ClientOption
}

var _ domain.Provider = (*Provider)(nil)

// New creates a new Anthropic provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	p.client = anthropicapi.NewClient(apiKey, p.clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return ProviderType
}

// toolBlock accumulates a streamed tool_use block.
type toolBlock struct {
	id    string
	name  string
	input strings.Builder
}

func (p *Provider) Stream(ctx context.Context, req *domain.CanonicalRequest) (<-chan domain.CanonicalEvent, error) {
	apiReq := toAPIRequest(req)

	stream, err := p.client.StreamMessage(ctx, apiReq)
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
		fail := func(err error) {
			emit(domain.CanonicalEvent{Type: domain.EventTypeError, Error: err})
		}

		var (
			inputTokens, outputTokens int
			stopReason                string
			blocks                    = map[int]*toolBlock{}
		)

		for result := range stream {
			if result.Err != nil {
				fail(domain.ErrProvider(result.Err.Error()))
				return
			}

			switch result.EventType {
			case "message_start":
				event, err := result.ParseMessageStart()
				if err != nil {
					fail(fmt.Errorf("parse message_start: %w", err))
					return
				}
				inputTokens = event.Message.Usage.InputTokens

			case "content_block_start":
				event, err := result.ParseContentBlockStart()
				if err != nil {
					fail(fmt.Errorf("parse content_block_start: %w", err))
					return
				}
				if event.ContentBlock.Type == "tool_use" {
					blocks[event.Index] = &toolBlock{id: event.ContentBlock.ID, name: event.ContentBlock.Name}
				}

			case "content_block_delta":
				event, err := result.ParseContentBlockDelta()
				if err != nil {
					fail(fmt.Errorf("parse content_block_delta: %w", err))
					return
				}
				switch event.Delta.Type {
				case "text_delta":
					if event.Delta.Text != "" && !emit(domain.CanonicalEvent{Type: domain.EventTypeTextDelta, Text: event.Delta.Text}) {
						return
					}
				case "input_json_delta":
					if b, ok := blocks[event.Index]; ok {
						b.input.WriteString(event.Delta.PartialJSON)
					}
				}

			case "content_block_stop":
				event, err := result.ParseContentBlockStop()
				if err != nil {
					fail(fmt.Errorf("parse content_block_stop: %w", err))
					return
				}
				b, ok := blocks[event.Index]
				if !ok {
					continue
				}
				delete(blocks, event.Index)
				input := json.RawMessage(b.input.String())
				if len(strings.TrimSpace(b.input.String())) == 0 {
					input = json.RawMessage("{}")
				}
				call := &domain.ToolCall{ID: b.id, Name: b.name, Input: input}
				if !emit(domain.CanonicalEvent{Type: domain.EventTypeToolCall, ToolCall: call}) {
					return
				}

			case "message_delta":
				event, err := result.ParseMessageDelta()
				if err != nil {
					fail(fmt.Errorf("parse message_delta: %w", err))
					return
				}
				if event.Delta.StopReason != "" {
					stopReason = event.Delta.StopReason
				}
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}

			case "message_stop":
				emit(domain.CanonicalEvent{
					Type:       domain.EventTypeDone,
					StopReason: stopReason,
					Usage:      &domain.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
				})
				return

			case "error":
				fail(result.ParseError())
				return

			case "ping":
				continue
			}
		}

		if err := ctx.Err(); err != nil {
			return
		}
		fail(domain.ErrProvider("stream ended before message_stop"))
	}()

	return out, nil
}

// toAPIRequest converts a canonical request to an Anthropic API request.
func toAPIRequest(req *domain.CanonicalRequest) *anthropicapi.MessagesRequest {
	apiReq := &anthropicapi.MessagesRequest{
		Model:     req.Model,
		Messages:  toAPIMessages(req.Messages),
		MaxTokens: req.MaxTokens,
	}

	if req.System != "" {
		apiReq.System = anthropicapi.SystemMessages{{
			Type:         "text",
			Text:         req.System,
			CacheControl: &anthropicapi.Cache{Type: "ephemeral"},
		}}
	}

	// Set max tokens (required for Anthropic)
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = 1024
	}

	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = make([]anthropicapi.Tool, len(req.Tools))
		for i, t := range req.Tools {
			apiReq.Tools[i] = anthropicapi.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			}
		}
	}

	return apiReq
}

// toAPIMessages maps the history onto alternating user/assistant turns.
// Tool results travel as tool_result parts of a user message, and
// consecutive entries of the same role are merged.
func toAPIMessages(history []domain.Message) []anthropicapi.Message {
	var messages []anthropicapi.Message

	appendParts := func(role string, parts anthropicapi.ContentBlock) {
		if len(parts) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, parts...)
			return
		}
		messages = append(messages, anthropicapi.Message{Role: role, Content: parts})
	}

	for _, m := range history {
		switch m.Role {
		case domain.RoleUser:
			if m.Text() != "" {
				appendParts("user", anthropicapi.ContentBlock{{Type: "text", Text: m.Content}})
			}
		case domain.RoleAssistant:
			var parts anthropicapi.ContentBlock
			if m.Text() != "" {
				parts = append(parts, anthropicapi.ContentPart{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				parts = append(parts, anthropicapi.ContentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			appendParts("assistant", parts)
		case domain.RoleTool:
			appendParts("user", anthropicapi.ContentBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
				IsError:   m.IsError,
			}})
		}
	}

	if len(messages) > 0 && messages[0].Role != "user" {
		opening := anthropicapi.Message{
			Role:    "user",
			Content: anthropicapi.ContentBlock{{Type: "text", Text: openingMessage}},
		}
		messages = append([]anthropicapi.Message{opening}, messages...)
	}

	return messages
}
