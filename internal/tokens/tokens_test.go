package tokens

import (
	"encoding/json"
	"testing"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

func TestEstimator_Request(t *testing.T) {
	e, err := NewEstimator()
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	tests := []struct {
		name      string
		req       *domain.CanonicalRequest
		minTokens int
		maxTokens int
	}{
		{
			name: "simple message",
			req: &domain.CanonicalRequest{
				Messages: []domain.Message{
					{Role: domain.RoleUser, Content: "Hello, how are you?"},
				},
			},
			minTokens: 5,
			maxTokens: 20,
		},
		{
			name: "with system message",
			req: &domain.CanonicalRequest{
				System: "You are a helpful assistant.",
				Messages: []domain.Message{
					{Role: domain.RoleUser, Content: "Hello"},
				},
			},
			minTokens: 8,
			maxTokens: 30,
		},
		{
			name: "with tool call and result",
			req: &domain.CanonicalRequest{
				Messages: []domain.Message{
					{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{
						ID: "call_1", Name: "record_difficulty", Input: json.RawMessage(`{"paceRating":3}`),
					}}},
					{Role: domain.RoleTool, ToolCallID: "call_1", Content: "ok"},
				},
			},
			minTokens: 10,
			maxTokens: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Request(tt.req)
			if got < tt.minTokens || got > tt.maxTokens {
				t.Errorf("Request() = %d, want between %d and %d", got, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestEstimator_ToolsAddTokens(t *testing.T) {
	e, err := NewEstimator()
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}

	base := &domain.CanonicalRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hoi"}}}
	withTools := &domain.CanonicalRequest{
		Messages: base.Messages,
		Tools: []domain.ToolDefinition{{
			Name:        "record_clarity",
			Description: "Leg de duidelijkheid vast",
			InputSchema: map[string]any{"type": "object"},
		}},
	}

	if e.Request(withTools) <= e.Request(base) {
		t.Error("tool definitions should increase the estimate")
	}
	if e.Count("") != 0 {
		t.Error("Count(\"\") != 0")
	}
}
