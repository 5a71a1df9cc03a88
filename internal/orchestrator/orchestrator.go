// Package orchestrator drives one interview turn: it calls the model, runs
// the tools the model asks for, folds their effects into the conversation
// state and repeats until the model answers without tool calls.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/interview"
	"github.com/tjfontaine/deep-interviewer/internal/prompt"
	"github.com/tjfontaine/deep-interviewer/internal/tools"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

const (
	tracerName       = "github.com/tjfontaine/deep-interviewer/internal/orchestrator"
	defaultMaxRounds = 8
	defaultMaxTokens = 4096
)

// ErrTooManyRounds is returned when the model keeps calling tools past the
// round limit.
var ErrTooManyRounds = errors.New("orchestrator: too many tool rounds")

// Observer receives the visible occurrences of a turn as they happen.
// *stream.Encoder satisfies it.
type Observer interface {
	Token(text string) error
	ToolStart(name string, input json.RawMessage) error
	ToolEnd(name, output, link string) error
}

// Config holds the model parameters of a turn.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxRounds bounds the number of model calls that end in tool calls.
	MaxRounds int
}

// TokenEstimator approximates the prompt size of a request.
type TokenEstimator interface {
	Request(req *domain.CanonicalRequest) int
}

// TurnResult describes a finished or aborted turn.
type TurnResult struct {
	// State is the working copy with every committed round applied.
	State *interview.State
	// Rounds counts the folded tool batches.
	Rounds int
	// Committed reports whether State differs from the input state.
	Committed bool
	// NewlyComplete reports that the interview became complete in this turn.
	NewlyComplete bool
	// Recorded lists the topics recorded in this turn, in call order.
	Recorded []string
}

// Orchestrator runs turns against a model provider.
type Orchestrator struct {
	provider  domain.Provider
	registry  *topic.Registry
	adapter   *tools.Adapter
	prompts   *prompt.Builder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
	estimator TokenEstimator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithConfig sets the model parameters.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithTokenEstimator enables prompt size estimates on model call spans.
func WithTokenEstimator(e TokenEstimator) Option {
	return func(o *Orchestrator) {
		o.estimator = e
	}
}

// WithTracer sets the tracer used for turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an orchestrator.
func New(provider domain.Provider, reg *topic.Registry, adapter *tools.Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		registry: reg,
		adapter:  adapter,
		prompts:  prompt.NewBuilder(reg),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MaxRounds <= 0 {
		o.cfg.MaxRounds = defaultMaxRounds
	}
	if o.cfg.MaxTokens <= 0 {
		o.cfg.MaxTokens = defaultMaxTokens
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// modelResponse is one completed model call.
type modelResponse struct {
	text  string
	calls []domain.ToolCall
	usage *domain.Usage
}

// batch is the outcome of executing one model response's tool calls.
type batch struct {
	results []domain.Message
	effects []interview.Effect
	topics  []string
}

// RunTurn processes one participant message. The input state is never
// modified; the returned result carries a working copy holding every
// round that was folded before the turn ended. On error the result is
// still returned so the caller can persist committed rounds.
func (o *Orchestrator) RunTurn(ctx context.Context, st *interview.State, userMessage string, obs Observer) (*TurnResult, error) {
	ctx, span := o.tracer.Start(ctx, "interview.turn", trace.WithAttributes(
		attribute.String("interview.session_id", st.SessionID),
	))
	defer span.End()

	ids := o.registry.IDs()
	work := st.Clone()
	res := &TurnResult{State: work}
	obs = &guardedObserver{Observer: obs, logger: o.logger, sessionID: st.SessionID}

	pending := domain.Message{Role: domain.RoleUser, Content: userMessage, CreatedAt: o.now()}
	userAppended := false

	phase, err := Next(PhaseTurnComplete, Signal{Kind: SignalTurnStarted})
	if err != nil {
		return res, err
	}

	for phase != PhaseTurnComplete {
		if res.Rounds >= o.cfg.MaxRounds {
			err := fmt.Errorf("%w (%d)", ErrTooManyRounds, o.cfg.MaxRounds)
			return o.end(span, res, ids, err)
		}

		history := work.Messages
		if !userAppended {
			history = append(append([]domain.Message{}, work.Messages...), pending)
		}
		resp, err := o.callModel(ctx, work, history, obs)
		if err != nil {
			return o.end(span, res, ids, err)
		}

		phase, err = Next(phase, Signal{Kind: SignalModelResponded, ToolCalls: len(resp.calls)})
		if err != nil {
			return o.end(span, res, ids, err)
		}

		if phase == PhaseTurnComplete {
			if !userAppended {
				work.Append(pending)
				userAppended = true
			}
			if strings.TrimSpace(resp.text) != "" {
				work.Append(domain.Message{Role: domain.RoleAssistant, Content: resp.text, CreatedAt: o.now()})
			}
			res.Committed = true
			break
		}

		b := o.executeTools(ctx, resp.calls, obs)

		// Fold the whole round at once: the assistant tool-call message,
		// every tool result and the recorded topic data.
		if !userAppended {
			work.Append(pending)
			userAppended = true
		}
		work.Append(domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.text,
			ToolCalls: sanitizeCalls(resp.calls),
			CreatedAt: o.now(),
		})
		for _, m := range b.results {
			work.Append(m)
		}
		work.Apply(b.effects)
		res.Recorded = append(res.Recorded, b.topics...)
		res.Rounds++
		res.Committed = true

		phase, err = Next(phase, Signal{Kind: SignalToolsFolded})
		if err != nil {
			return o.end(span, res, ids, err)
		}
	}

	return o.end(span, res, ids, nil)
}

// end finalizes completion for any committed work and closes the span.
func (o *Orchestrator) end(span trace.Span, res *TurnResult, ids []string, err error) (*TurnResult, error) {
	if res.Committed {
		res.NewlyComplete = res.State.CheckCompletion(ids, o.now())
	}
	span.SetAttributes(
		attribute.Int("interview.rounds", res.Rounds),
		attribute.Int("interview.topics_recorded", len(res.Recorded)),
		attribute.Bool("interview.complete", res.State.IsComplete),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("turn failed",
			slog.String("session_id", res.State.SessionID),
			slog.Int("rounds", res.Rounds),
			slog.Bool("committed", res.Committed),
			slog.String("error", err.Error()),
		)
		return res, err
	}
	o.logger.Info("turn completed",
		slog.String("session_id", res.State.SessionID),
		slog.Int("rounds", res.Rounds),
		slog.Any("recorded", res.Recorded),
		slog.Bool("complete", res.State.IsComplete),
	)
	return res, nil
}

func (o *Orchestrator) request(st *interview.State, history []domain.Message) *domain.CanonicalRequest {
	ids := o.registry.IDs()
	return &domain.CanonicalRequest{
		Model:       o.cfg.Model,
		System:      o.prompts.System(st.CompletedTopics(ids), st.RemainingTopics(ids)),
		Messages:    history,
		Tools:       o.adapter.Definitions(),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
}

// callModel streams one model response, forwarding text to obs. The system
// prompt is rebuilt from st so every round sees current progress.
func (o *Orchestrator) callModel(ctx context.Context, st *interview.State, history []domain.Message, obs Observer) (*modelResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := o.request(st, history)
	ctx, span := o.tracer.Start(ctx, "interview.model_call", trace.WithAttributes(
		attribute.String("llm.provider", o.provider.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	))
	defer span.End()
	if o.estimator != nil {
		span.SetAttributes(attribute.Int("llm.estimated_input_tokens", o.estimator.Request(req)))
	}

	fail := func(err error) (*modelResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	events, err := o.provider.Stream(ctx, req)
	if err != nil {
		return fail(err)
	}

	resp := &modelResponse{}
	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return fail(err)
				}
				return fail(domain.ErrProvider("model stream ended without a final event"))
			}
			switch ev.Type {
			case domain.EventTypeTextDelta:
				text.WriteString(ev.Text)
				obs.Token(ev.Text)
			case domain.EventTypeToolCall:
				if ev.ToolCall != nil {
					resp.calls = append(resp.calls, *ev.ToolCall)
				}
			case domain.EventTypeError:
				if ev.Error == nil {
					return fail(domain.ErrProvider("model stream failed"))
				}
				return fail(ev.Error)
			case domain.EventTypeDone:
				resp.text = text.String()
				resp.usage = ev.Usage
				if ev.Usage != nil {
					span.SetAttributes(
						attribute.Int("llm.input_tokens", ev.Usage.InputTokens),
						attribute.Int("llm.output_tokens", ev.Usage.OutputTokens),
					)
				}
				span.SetAttributes(
					attribute.String("llm.stop_reason", ev.StopReason),
					attribute.Int("llm.tool_calls", len(resp.calls)),
				)
				return resp, nil
			}
		}
	}
}

// executeTools runs a batch of tool calls in order. Every call gets a
// result message so the next request pairs each call with its result.
func (o *Orchestrator) executeTools(ctx context.Context, calls []domain.ToolCall, obs Observer) batch {
	var b batch
	for _, call := range calls {
		var effect *interview.Effect
		rec := tools.RecorderFunc(func(_ context.Context, topicID string, data map[string]any) error {
			effect = &interview.Effect{TopicID: topicID, Data: data, Source: interview.SourceAgent, At: o.now()}
			return nil
		})

		_, known := o.adapter.Resolve(call.Name)
		if known {
			obs.ToolStart(call.Name, sanitizeInput(call.Input))
		}

		_, span := o.tracer.Start(ctx, "interview.tool", trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		))
		inv := o.adapter.Invoke(ctx, call, rec)
		if inv.Err != nil {
			span.RecordError(inv.Err)
			span.SetStatus(codes.Error, inv.Err.Error())
		}
		span.End()

		if known {
			obs.ToolEnd(call.Name, inv.Output, inv.Link)
		} else {
			o.logger.Warn("model called unknown tool", slog.String("tool", call.Name))
		}
		if inv.Err != nil && known {
			o.logger.Info("tool call rejected",
				slog.String("tool", call.Name),
				slog.String("error", inv.Err.Error()),
			)
		}

		if inv.Recorded() && effect != nil {
			b.effects = append(b.effects, *effect)
			b.topics = append(b.topics, inv.TopicID)
		}
		b.results = append(b.results, domain.Message{
			Role:       domain.RoleTool,
			Content:    inv.Output,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			IsError:    inv.Err != nil,
			CreatedAt:  o.now(),
		})
	}
	return b
}

// emptyInput replaces tool arguments that are not valid JSON.
var emptyInput = json.RawMessage(`{}`)

// sanitizeInput returns raw when it is valid JSON and an empty object
// otherwise. Models can stream truncated arguments; those bytes must not
// reach the event stream, the checkpoint or the next request.
func sanitizeInput(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || json.Valid(raw) {
		return raw
	}
	return emptyInput
}

// sanitizeCalls returns a copy of calls with every input made safe to
// re-encode.
func sanitizeCalls(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		c.Input = sanitizeInput(c.Input)
		out[i] = c
	}
	return out
}

// guardedObserver keeps observer failures from aborting the turn. Once the
// client is gone, the remaining occurrences are dropped and the turn still
// records its data.
type guardedObserver struct {
	Observer
	logger    *slog.Logger
	sessionID string
	failed    bool
}

func (g *guardedObserver) check(err error) error {
	if err != nil && !g.failed {
		g.failed = true
		g.logger.Warn("event delivery failed, continuing turn",
			slog.String("session_id", g.sessionID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (g *guardedObserver) Token(text string) error {
	if g.failed || g.Observer == nil {
		return nil
	}
	return g.check(g.Observer.Token(text))
}

func (g *guardedObserver) ToolStart(name string, input json.RawMessage) error {
	if g.failed || g.Observer == nil {
		return nil
	}
	return g.check(g.Observer.ToolStart(name, input))
}

func (g *guardedObserver) ToolEnd(name, output, link string) error {
	if g.failed || g.Observer == nil {
		return nil
	}
	return g.check(g.Observer.ToolEnd(name, output, link))
}
