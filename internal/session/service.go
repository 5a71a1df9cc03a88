// Package session runs interviews for the HTTP layer: it resolves invite
// codes, serializes turns per session, loads and saves checkpoints around
// the orchestrator and serves the read and edit views.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/interview"
	"github.com/tjfontaine/deep-interviewer/internal/orchestrator"
	"github.com/tjfontaine/deep-interviewer/internal/prompt"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/stream"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

const (
	defaultSaveTimeout = 10 * time.Second

	resumeMessage = "Resuming existing interview session."
)

// TurnRunner runs one participant turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, st *interview.State, userMessage string, obs orchestrator.Observer) (*orchestrator.TurnResult, error)
}

// Archiver stores the results document of a completed interview.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, doc any) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithArchiver enables archiving of completed interviews.
func WithArchiver(a Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithSaveTimeout bounds checkpoint writes that outlive the request.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.saveTimeout = d
	}
}

// Service implements the interview operations on top of a store.
type Service struct {
	store       storage.Store
	registry    *topic.Registry
	runner      TurnRunner
	archiver    Archiver
	logger      *slog.Logger
	now         func() time.Time
	saveTimeout time.Duration
	ids         []string

	mu     sync.Mutex
	turns  map[string]bool
	writes map[string]*writeLock
}

// New creates a Service.
func New(store storage.Store, reg *topic.Registry, runner TurnRunner, opts ...Option) *Service {
	s := &Service{
		store:       store,
		registry:    reg,
		runner:      runner,
		logger:      slog.Default(),
		now:         time.Now,
		saveTimeout: defaultSaveTimeout,
		ids:         reg.IDs(),
		turns:       make(map[string]bool),
		writes:      make(map[string]*writeLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateResult is returned by CreateOrResume.
type CreateResult struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Message   string    `json:"message"`
	IsResumed bool      `json:"isResumed"`
}

// CreateOrResume starts the session behind an invite code, or returns the
// session the code is already linked to.
func (s *Service) CreateOrResume(ctx context.Context, code string) (*CreateResult, error) {
	code = storage.NormalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidRequest("Invite code is required").WithParam("code")
	}

	inv, err := s.store.GetInvite(ctx, code)
	if errors.Is(err, storage.ErrInviteNotFound) {
		return nil, errInvalidInvite()
	}
	if err != nil {
		return nil, fmt.Errorf("get invite: %w", err)
	}

	sessionID := inv.SessionID
	if !inv.Linked() {
		// Link first so that concurrent first logins agree on one session.
		linked, err := s.store.LinkInvite(ctx, code, uuid.NewString())
		switch {
		case errors.Is(err, storage.ErrInviteTaken):
			sessionID = linked.SessionID
		case errors.Is(err, storage.ErrInviteNotFound):
			return nil, errInvalidInvite()
		case err != nil:
			return nil, fmt.Errorf("link invite: %w", err)
		default:
			sessionID = linked.SessionID
		}
	}

	cp, err := s.store.Load(ctx, sessionID)
	if err == nil {
		s.logger.Info("interview resumed",
			slog.String("session_id", sessionID),
			slog.String("invite_code", code),
		)
		return &CreateResult{ID: sessionID, CreatedAt: cp.CreatedAt, Message: resumeMessage, IsResumed: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	st := interview.New(sessionID, s.ids, s.now())
	st.InviteCode = code
	if err := s.save(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("interview created",
		slog.String("session_id", sessionID),
		slog.String("invite_code", code),
	)
	return &CreateResult{ID: sessionID, CreatedAt: st.StartedAt, Message: prompt.WelcomeMessage}, nil
}

// ListSessions returns every session, most recently updated first.
func (s *Service) ListSessions(ctx context.Context) ([]storage.SessionInfo, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// StateView is the participant-visible state of a session.
type StateView struct {
	ID        string                        `json:"id"`
	CreatedAt time.Time                     `json:"createdAt"`
	Messages  []interview.TranscriptMessage `json:"messages"`
	Progress  interview.Progress            `json:"progress"`
}

// GetState returns the transcript and progress of a session.
func (s *Service) GetState(ctx context.Context, sessionID string) (*StateView, error) {
	st, err := s.loadForRead(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &StateView{
		ID:        sessionID,
		CreatedAt: st.StartedAt,
		Messages:  st.Transcript(),
		Progress:  st.Progress(s.ids),
	}, nil
}

// Chat runs one turn. Request errors (unknown session, empty message, a
// turn already running) are returned before open is called; afterwards
// every outcome is reported on the sink and the turn error, if any, is
// returned for logging only.
func (s *Service) Chat(ctx context.Context, sessionID, message string, open func() (stream.Sink, error)) error {
	if strings.TrimSpace(message) == "" {
		return domain.ErrInvalidRequest("Message is required").WithParam("message")
	}
	if !s.beginTurn(sessionID) {
		return domain.ErrConflict("A response is still being generated for this interview").
			WithCode(domain.ErrorCodeTurnInProgress)
	}
	defer s.endTurn(sessionID)

	st, err := s.loadForRead(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(st.Messages) == 0 {
		st.Append(domain.Message{Role: domain.RoleAssistant, Content: prompt.WelcomeMessage, CreatedAt: s.now()})
	}

	sink, err := open()
	if err != nil {
		return err
	}
	enc := stream.NewEncoder(sink)

	res, turnErr := s.runner.RunTurn(ctx, st, message, enc)
	final := st
	if res != nil && res.Committed {
		final = s.commitTurn(ctx, st, res)
	}

	if turnErr != nil {
		if err := enc.Fail(turnErr); err != nil {
			s.logger.Debug("failed to deliver error event",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
		return turnErr
	}
	if err := enc.Finish(final.Progress(s.ids)); err != nil {
		s.logger.Debug("failed to deliver final events",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// commitTurn persists a committed turn on top of whatever was saved while
// it ran and returns the state that was written.
func (s *Service) commitTurn(ctx context.Context, base *interview.State, res *orchestrator.TurnResult) *interview.State {
	// The participant may be gone; the committed rounds are saved anyway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.saveTimeout)
	defer cancel()

	unlock := s.lockWrites(base.SessionID)
	defer unlock()

	st := res.State
	newlyComplete := res.NewlyComplete
	if latest, err := s.load(ctx, base.SessionID); err == nil && latest.Version != base.Version {
		newlyComplete = rebase(st, base, latest, s.ids, s.now()) || newlyComplete
	}

	if err := s.save(ctx, st); err != nil {
		s.logger.Error("failed to save turn",
			slog.String("session_id", st.SessionID),
			slog.String("error", err.Error()),
		)
		return st
	}
	if newlyComplete {
		s.archive(ctx, st)
	}
	return st
}

// rebase folds topic writes that landed in latest while a turn ran on base
// into the turn's state. For each topic the later write wins. It reports
// whether the merge completed the interview.
func rebase(turn, base, latest *interview.State, ids []string, now time.Time) bool {
	var effects []interview.Effect
	for id, rec := range latest.TopicData {
		if prev, ok := base.TopicData[id]; ok && prev.RecordedAt.Equal(rec.RecordedAt) && prev.Source == rec.Source {
			continue
		}
		if mine, ok := turn.TopicData[id]; ok && mine.RecordedAt.After(rec.RecordedAt) {
			continue
		}
		effects = append(effects, interview.Effect{TopicID: id, Data: rec.Data, Source: rec.Source, At: rec.RecordedAt})
	}
	turn.Apply(effects)
	turn.Version = latest.Version
	if latest.CompletedAt != nil && turn.CompletedAt == nil {
		turn.CompletedAt = latest.CompletedAt
		turn.IsComplete = true
	}
	return turn.CheckCompletion(ids, now)
}

// GetResponse returns the recorded payload of one topic.
func (s *Service) GetResponse(ctx context.Context, sessionID, topicID string) (*interview.TopicResponse, error) {
	if err := s.checkTopic(topicID); err != nil {
		return nil, err
	}
	st, err := s.loadForRead(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r, ok := st.Response(topicID)
	if !ok {
		return nil, domain.ErrNotFound("No response recorded for topic: " + topicID)
	}
	return &r, nil
}

// PutResponse overwrites a topic payload as a participant edit and marks
// the topic complete.
func (s *Service) PutResponse(ctx context.Context, sessionID, topicID string, data map[string]any) (*interview.TopicResponse, error) {
	if err := s.checkTopic(topicID); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, domain.ErrInvalidRequest("Request body must be a valid JSON object")
	}

	unlock := s.lockWrites(sessionID)
	defer unlock()

	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	st.Apply([]interview.Effect{{TopicID: topicID, Data: data, Source: interview.SourceUserEdit, At: now}})
	newlyComplete := st.CheckCompletion(s.ids, now)
	if err := s.save(ctx, st); err != nil {
		return nil, err
	}

	s.logger.Info("topic response edited",
		slog.String("session_id", sessionID),
		slog.String("topic", topicID),
	)
	if newlyComplete {
		s.archive(ctx, st)
	}
	r, _ := st.Response(topicID)
	return &r, nil
}

// ResponsesView lists every recorded topic of a session.
type ResponsesView struct {
	SessionID       string                             `json:"sessionId"`
	Responses       map[string]interview.TopicResponse `json:"responses"`
	CompletedTopics []string                           `json:"completedTopics"`
	TotalTopics     int                                `json:"totalTopics"`
}

// AllResponses returns every recorded topic.
func (s *Service) AllResponses(ctx context.Context, sessionID string) (*ResponsesView, error) {
	st, err := s.loadForRead(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ResponsesView{
		SessionID:       sessionID,
		Responses:       st.Responses(s.ids),
		CompletedTopics: st.CompletedTopics(s.ids),
		TotalTopics:     len(s.ids),
	}, nil
}

// Results returns the labeled results of a completed interview.
func (s *Service) Results(ctx context.Context, sessionID string) (*Results, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !st.IsComplete {
		p := st.Progress(s.ids)
		return nil, domain.ErrInvalidRequest(fmt.Sprintf("Interview not complete (%d of %d topics)", p.CompletedCount, p.TotalTopics)).
			WithCode(domain.ErrorCodeNotComplete)
	}
	return buildResults(s.registry, st), nil
}

func (s *Service) checkTopic(topicID string) error {
	if !s.registry.Has(topicID) {
		return domain.ErrInvalidRequest("Invalid topic: " + topicID).
			WithCode(domain.ErrorCodeUnknownTopic).
			WithParam("topic")
	}
	return nil
}

func (s *Service) archive(ctx context.Context, st *interview.State) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, st.SessionID, buildResults(s.registry, st)); err != nil {
		s.logger.Error("failed to archive interview",
			slog.String("session_id", st.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("interview archived", slog.String("session_id", st.SessionID))
}

// load reads and decodes a checkpoint.
func (s *Service) load(ctx context.Context, sessionID string) (*interview.State, error) {
	cp, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrNotFound("Interview not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", sessionID, err)
	}
	st, err := interview.Decode(cp.Data, s.ids)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", sessionID, err)
	}
	if st.SessionID == "" {
		st.SessionID = sessionID
	}
	if st.InviteCode == "" {
		st.InviteCode = cp.InviteCode
	}
	return st, nil
}

// loadForRead is load for the read and chat paths: a checkpoint that
// cannot be read degrades to a fresh state instead of failing.
func (s *Service) loadForRead(ctx context.Context, sessionID string) (*interview.State, error) {
	st, err := s.load(ctx, sessionID)
	var apiErr *domain.APIError
	if err == nil || errors.As(err, &apiErr) {
		return st, err
	}
	s.logger.Warn("checkpoint unreadable, starting from a fresh state",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
	return interview.New(sessionID, s.ids, s.now()), nil
}

func (s *Service) save(ctx context.Context, st *interview.State) error {
	st.Touch(s.now())
	data, err := st.Encode()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp := &storage.Checkpoint{
		SessionID:  st.SessionID,
		InviteCode: st.InviteCode,
		Version:    st.Version,
		Data:       data,
		IsComplete: st.IsComplete,
		CreatedAt:  st.StartedAt,
		UpdatedAt:  st.UpdatedAt,
	}
	if err := s.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", st.SessionID, err)
	}
	return nil
}

func (s *Service) beginTurn(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns[sessionID] {
		return false
	}
	s.turns[sessionID] = true
	return true
}

func (s *Service) endTurn(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
}

// writeLock is a per-session mutex shared by refs holders and waiters.
type writeLock struct {
	mu   sync.Mutex
	refs int
}

// lockWrites serializes read-modify-write cycles of one checkpoint. The
// entry is removed once its last holder or waiter releases it.
func (s *Service) lockWrites(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.writes[sessionID]
	if !ok {
		l = &writeLock{}
		s.writes[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.writes, sessionID)
		}
		s.mu.Unlock()
	}
}

func errInvalidInvite() *domain.APIError {
	return domain.ErrPermission("Invalid invite code").WithCode(domain.ErrorCodeInvalidInvite)
}
