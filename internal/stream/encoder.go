package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/interview"
)

var (
	// ErrClosed is returned once the stream has ended with done or error.
	ErrClosed = errors.New("stream: closed")
	// ErrUnpairedToolEnd is returned for a tool end without a matching start.
	ErrUnpairedToolEnd = errors.New("stream: tool_end without tool_start")
)

// Sink transmits events to a client.
type Sink interface {
	Send(ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event) error

// Send calls f.
func (f SinkFunc) Send(ev Event) error {
	return f(ev)
}

type segment struct {
	id   string
	text strings.Builder
}

// Encoder turns turn occurrences into client events.
//
// Assistant text is grouped into logical messages bounded by tool calls: a
// message opens on the first token, closes before a tool start if it holds
// text, and the first token after a tool end always opens a new message.
// A message that closes without text gets no end marker and is not part of
// the done event, so clients discard it.
type Encoder struct {
	mu    sync.Mutex
	sink  Sink
	newID func() string

	current   *segment
	needsNew  bool
	segments  []Segment
	openTools map[string]int

	full      strings.Builder
	toolCalls []ToolCallSummary
	closed    bool
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithIDGenerator replaces the message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Encoder) {
		e.newID = fn
	}
}

// NewEncoder creates an encoder writing to sink.
func NewEncoder(sink Sink, opts ...Option) *Encoder {
	e := &Encoder{
		sink:      sink,
		newID:     uuid.NewString,
		openTools: make(map[string]int),
		toolCalls: []ToolCallSummary{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) emit(t EventType, data any) error {
	if err := e.sink.Send(Event{Type: t, Data: data}); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

// Token appends assistant text, opening a message first when needed.
func (e *Encoder) Token(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if text == "" {
		return nil
	}

	if e.current == nil || e.needsNew {
		e.current = &segment{id: e.newID()}
		e.needsNew = false
		if err := e.emit(EventMessageStart, MessageStart{MessageID: e.current.id}); err != nil {
			return err
		}
	}
	e.current.text.WriteString(text)
	e.full.WriteString(text)
	return e.emit(EventToken, Token{MessageID: e.current.id, Content: text})
}

// ToolStart closes the open message if it has text, then announces the tool.
func (e *Encoder) ToolStart(name string, input json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.closeCurrent(); err != nil {
		return err
	}
	e.openTools[name]++
	e.toolCalls = append(e.toolCalls, ToolCallSummary{Name: name, Args: input})
	return e.emit(EventToolStart, ToolStart{Name: name, Input: input})
}

// ToolEnd reports a tool's output. The next token opens a new message.
func (e *Encoder) ToolEnd(name, output, link string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.openTools[name] == 0 {
		return fmt.Errorf("%w: %s", ErrUnpairedToolEnd, name)
	}
	e.openTools[name]--
	e.needsNew = true
	return e.emit(EventToolEnd, ToolEnd{Name: name, Output: output, Link: link})
}

// Finish closes the open message and emits progress followed by done.
func (e *Encoder) Finish(progress interview.Progress) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.closeCurrent(); err != nil {
		return err
	}
	e.closed = true
	if err := e.emit(EventProgress, progress); err != nil {
		return err
	}
	return e.emit(EventDone, Done{
		FullResponse: e.full.String(),
		ToolCalls:    e.toolCalls,
		Messages:     append([]Segment{}, e.segments...),
		Progress:     progress,
	})
}

// Fail emits a single terminal error event. Later calls are no-ops.
func (e *Encoder) Fail(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	return e.emit(EventError, Error{Error: ErrorMessage(err)})
}

// closeCurrent ends the open message. Messages without text are dropped.
func (e *Encoder) closeCurrent() error {
	if e.current == nil {
		return nil
	}
	seg := e.current
	e.current = nil
	content := seg.text.String()
	if strings.TrimSpace(content) == "" {
		return nil
	}
	e.segments = append(e.segments, Segment{MessageID: seg.id, Content: content})
	return e.emit(EventMessageEnd, MessageEnd{MessageID: seg.id})
}

// ErrorMessage renders err for participants.
func ErrorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
