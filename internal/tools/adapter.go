// Package tools presents interview topics to the model as callable tools
// and executes the model's tool calls.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

// SlidesToolName is the utility tool that surfaces the workshop slides.
const SlidesToolName = "provide_workshop_slides"

const (
	slidesDescription = "Provide the link to the workshop slides when the user asks for them."
	slidesOutput      = "Slides link provided to user. You can now continue with the interview."
)

// ErrUnknownTool is reported for calls whose name resolves to no capability.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Kind separates topic extraction from utility capabilities.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindUtility    Kind = "utility"
)

// Recorder receives validated topic payloads. It runs synchronously before
// the confirmation is returned to the model.
type Recorder interface {
	Record(ctx context.Context, topicID string, data map[string]any) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, topicID string, data map[string]any) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, topicID string, data map[string]any) error {
	return f(ctx, topicID, data)
}

// Capability is one tool the model may call.
type Capability struct {
	Name        string
	Description string
	Kind        Kind
	TopicID     string
	InputSchema map[string]any

	topic topic.Topic
}

// Invocation is the outcome of one tool call within a turn.
type Invocation struct {
	CallID  string
	Name    string
	Kind    Kind
	TopicID string
	Args    json.RawMessage

	// Payload is the normalized topic data when validation succeeded.
	Payload map[string]any
	// Err is the validation or execution failure, if any.
	Err error
	// Output is the text returned to the model.
	Output string
	// Link is set by the slides utility.
	Link string
}

// Recorded reports whether the invocation produced topic data.
func (inv *Invocation) Recorded() bool {
	return inv.Kind == KindExtraction && inv.Err == nil && inv.Payload != nil
}

// Adapter resolves tool names to capabilities and runs them.
type Adapter struct {
	caps      map[string]*Capability
	order     []*Capability
	slidesURL string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSlidesURL sets the link surfaced by the slides utility.
func WithSlidesURL(url string) Option {
	return func(a *Adapter) {
		a.slidesURL = url
	}
}

// New builds one extraction capability per topic plus the slides utility.
func New(reg *topic.Registry, opts ...Option) *Adapter {
	a := &Adapter{caps: make(map[string]*Capability)}
	for _, opt := range opts {
		opt(a)
	}

	for _, t := range reg.Topics() {
		a.add(&Capability{
			Name:        t.ToolName(),
			Description: t.Description,
			Kind:        KindExtraction,
			TopicID:     t.ID,
			InputSchema: t.InputSchema(),
			topic:       t,
		})
	}
	a.add(&Capability{
		Name:        SlidesToolName,
		Description: slidesDescription,
		Kind:        KindUtility,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Set to true to provide the slides link",
				},
			},
			"required": []string{"confirm"},
		},
	})
	return a
}

func (a *Adapter) add(c *Capability) {
	a.caps[c.Name] = c
	a.order = append(a.order, c)
}

// Definitions lists every capability as a model tool definition.
func (a *Adapter) Definitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(a.order))
	for _, c := range a.order {
		defs = append(defs, domain.ToolDefinition{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: c.InputSchema,
		})
	}
	return defs
}

// Resolve looks up a capability by tool name.
func (a *Adapter) Resolve(name string) (*Capability, bool) {
	c, ok := a.caps[name]
	return c, ok
}

// SlidesURL returns the configured slides link.
func (a *Adapter) SlidesURL() string {
	return a.slidesURL
}

// Invoke runs one tool call. Failures never escape: validation errors,
// recorder errors and panics all become an "Error: ..." output for the
// model, and the recorder is only reached with valid data.
func (a *Adapter) Invoke(ctx context.Context, call domain.ToolCall, rec Recorder) (inv *Invocation) {
	inv = &Invocation{CallID: call.ID, Name: call.Name, Args: call.Input}

	c, ok := a.caps[call.Name]
	if !ok {
		inv.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		inv.Output = "Error: " + inv.Err.Error()
		return inv
	}
	inv.Kind = c.Kind
	inv.TopicID = c.TopicID

	defer func() {
		if r := recover(); r != nil {
			inv.Payload = nil
			inv.Err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
			inv.Output = "Error: " + inv.Err.Error()
		}
	}()

	if c.Kind == KindUtility {
		inv.Link = a.slidesURL
		inv.Output = slidesOutput
		return inv
	}

	payload, err := c.topic.Validate(call.Input)
	if err != nil {
		inv.Err = err
		inv.Output = "Error: " + err.Error()
		return inv
	}
	if rec != nil {
		if err := rec.Record(ctx, c.TopicID, payload); err != nil {
			inv.Err = err
			inv.Output = "Error: " + err.Error()
			return inv
		}
	}
	inv.Payload = payload
	inv.Output = Confirmation(c.TopicID)
	return inv
}

// Confirmation is the text returned to the model after a topic is recorded.
func Confirmation(topicID string) string {
	return fmt.Sprintf("✓ Feedback voor %q vastgelegd.", topicID)
}
