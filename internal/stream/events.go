// Package stream encodes an interview turn as an ordered sequence of typed
// client events and writes them to SSE or WebSocket connections.
package stream

import (
	"encoding/json"

	"github.com/tjfontaine/deep-interviewer/internal/interview"
)

// EventType names a client event.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventToken        EventType = "token"
	EventMessageEnd   EventType = "message_end"
	EventToolStart    EventType = "tool_start"
	EventToolEnd      EventType = "tool_end"
	EventProgress     EventType = "progress"
	EventDone         EventType = "done"
	EventError        EventType = "error"
)

// Event is one encoded occurrence. Data holds one of the payload types
// below.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// MessageStart opens a logical assistant message.
type MessageStart struct {
	MessageID string `json:"messageId"`
}

// Token carries a chunk of assistant text.
type Token struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// MessageEnd closes a logical assistant message.
type MessageEnd struct {
	MessageID string `json:"messageId"`
}

// ToolStart announces a tool execution.
type ToolStart struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolEnd reports the output of a tool execution.
type ToolEnd struct {
	Name   string `json:"name"`
	Output string `json:"output"`
	Link   string `json:"link,omitempty"`
}

// ToolCallSummary lists one tool call in the done event.
type ToolCallSummary struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Segment is a finalized, non-empty logical message.
type Segment struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// Done terminates a successful turn.
type Done struct {
	FullResponse string             `json:"fullResponse"`
	ToolCalls    []ToolCallSummary  `json:"toolCalls"`
	Messages     []Segment          `json:"messages"`
	Progress     interview.Progress `json:"progress"`
}

// Error terminates a failed turn.
type Error struct {
	Error string `json:"error"`
}
