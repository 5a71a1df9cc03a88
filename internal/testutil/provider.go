// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// Step is one scripted model response.
type Step struct {
	// Text is streamed as one delta per element.
	Text []string
	// Calls are emitted after the text.
	Calls []domain.ToolCall
	// Err fails the stream after the text and calls.
	Err error
	// OpenErr fails the call before any event.
	OpenErr error
	// Block keeps the stream open until the context is canceled.
	Block bool
}

// ScriptedProvider replays Steps in order, one per Stream call, and keeps
// the requests it received.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Step
	requests []*domain.CanonicalRequest
}

// NewScriptedProvider creates a provider that answers with steps.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Name implements domain.Provider.
func (p *ScriptedProvider) Name() string { return "scripted" }

// Stream implements domain.Provider.
func (p *ScriptedProvider) Stream(ctx context.Context, req *domain.CanonicalRequest) (<-chan domain.CanonicalEvent, error) {
	p.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]domain.Message{}, req.Messages...)
	p.requests = append(p.requests, &snapshot)
	if len(p.steps) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider: no step left for request %d", len(p.requests))
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	p.mu.Unlock()

	if step.OpenErr != nil {
		return nil, step.OpenErr
	}

	ch := make(chan domain.CanonicalEvent)
	go func() {
		defer close(ch)
		send := func(ev domain.CanonicalEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, t := range step.Text {
			if !send(domain.CanonicalEvent{Type: domain.EventTypeTextDelta, Text: t}) {
				return
			}
		}
		for i := range step.Calls {
			call := step.Calls[i]
			if !send(domain.CanonicalEvent{Type: domain.EventTypeToolCall, ToolCall: &call}) {
				return
			}
		}
		if step.Block {
			<-ctx.Done()
			return
		}
		if step.Err != nil {
			send(domain.CanonicalEvent{Type: domain.EventTypeError, Error: step.Err})
			return
		}
		stop := "end_turn"
		if len(step.Calls) > 0 {
			stop = "tool_use"
		}
		send(domain.CanonicalEvent{
			Type:       domain.EventTypeDone,
			StopReason: stop,
			Usage:      &domain.Usage{InputTokens: 10, OutputTokens: 5},
		})
	}()
	return ch, nil
}

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []*domain.CanonicalRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.CanonicalRequest{}, p.requests...)
}

// Remaining reports how many steps were not consumed.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

// Call builds a tool call with JSON-encoded arguments.
func Call(id, name string, args any) domain.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return domain.ToolCall{ID: id, Name: name, Input: raw}
}

var _ domain.Provider = (*ScriptedProvider)(nil)
