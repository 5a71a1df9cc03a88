package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role tags an entry in the conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool marks a tool result entry. It only exists for model context
	// and is never shown to participants.
	RoleTool Role = "tool"
)

// ToolCall is a model-issued request to run a named tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message is one entry of the conversation history.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on RoleTool entries and pair the
	// result with the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasToolCalls reports whether the message requests any tool executions.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Text returns the trimmed text content.
func (m *Message) Text() string {
	return strings.TrimSpace(m.Content)
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// CanonicalRequest is the provider-neutral model request.
type CanonicalRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// Usage reports token consumption for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// EventType identifies the kind of a CanonicalEvent.
type EventType string

const (
	// EventTypeTextDelta carries a chunk of assistant text.
	EventTypeTextDelta EventType = "text_delta"
	// EventTypeToolCall carries one complete tool call with its arguments.
	EventTypeToolCall EventType = "tool_call"
	// EventTypeDone terminates a successful stream.
	EventTypeDone EventType = "done"
	// EventTypeError terminates a failed stream.
	EventTypeError EventType = "error"
)

// CanonicalEvent is one element of a provider stream.
type CanonicalEvent struct {
	Type       EventType
	Text       string
	ToolCall   *ToolCall
	StopReason string
	Usage      *Usage
	Error      error
}
