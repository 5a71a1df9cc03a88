package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/interview"
	"github.com/tjfontaine/deep-interviewer/internal/orchestrator"
	"github.com/tjfontaine/deep-interviewer/internal/prompt"
	"github.com/tjfontaine/deep-interviewer/internal/storage"
	"github.com/tjfontaine/deep-interviewer/internal/storage/memory"
	"github.com/tjfontaine/deep-interviewer/internal/stream"
	"github.com/tjfontaine/deep-interviewer/internal/testutil"
	"github.com/tjfontaine/deep-interviewer/internal/tools"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

const inviteCode = "ABC123"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// ticker is a clock that advances one second per call.
type ticker struct {
	mu sync.Mutex
	t  time.Time
}

func (c *ticker) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingArchiver struct {
	mu   sync.Mutex
	docs map[string]any
}

func (a *recordingArchiver) Archive(_ context.Context, sessionID string, doc any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.docs == nil {
		a.docs = map[string]any{}
	}
	a.docs[sessionID] = doc
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.docs)
}

type fixture struct {
	reg      *topic.Registry
	store    *memory.Store
	provider *testutil.ScriptedProvider
	archiver *recordingArchiver
	svc      *Service
}

func newFixture(t *testing.T, steps ...testutil.Step) *fixture {
	t.Helper()
	reg := topic.MustDefault()
	store := memory.New()
	store.AddInvite(inviteCode, "workshop")
	p := testutil.NewScriptedProvider(steps...)
	clock := &ticker{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	orch := orchestrator.New(p, reg, tools.New(reg),
		orchestrator.WithLogger(discard),
		orchestrator.WithClock(clock.now),
	)
	archiver := &recordingArchiver{}
	return &fixture{
		reg:      reg,
		store:    store,
		provider: p,
		archiver: archiver,
		svc: New(store, reg, orch,
			WithLogger(discard),
			WithClock(clock.now),
			WithArchiver(archiver),
		),
	}
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	res, err := f.svc.CreateOrResume(context.Background(), inviteCode)
	if err != nil {
		t.Fatalf("CreateOrResume() error = %v", err)
	}
	return res.ID
}

func openBuffer(buf *stream.Buffer) func() (stream.Sink, error) {
	return func() (stream.Sink, error) { return buf, nil }
}

func apiErrorType(err error) domain.ErrorType {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ""
}

func TestCreateOrResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrResume(ctx, inviteCode)
	if err != nil {
		t.Fatalf("CreateOrResume() error = %v", err)
	}
	if first.IsResumed || first.ID == "" || first.Message != prompt.WelcomeMessage {
		t.Errorf("first = %+v", first)
	}

	second, err := f.svc.CreateOrResume(ctx, " abc123 ")
	if err != nil {
		t.Fatalf("CreateOrResume() error = %v", err)
	}
	if !second.IsResumed || second.ID != first.ID {
		t.Errorf("second = %+v, want resumed %s", second, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", second.CreatedAt, first.CreatedAt)
	}

	inv, _ := f.store.GetInvite(ctx, inviteCode)
	if inv.SessionID != first.ID {
		t.Errorf("invite linked to %q, want %q", inv.SessionID, first.ID)
	}

	sessions, err := f.svc.ListSessions(ctx)
	if err != nil || len(sessions) != 1 || sessions[0].InviteCode != inviteCode {
		t.Errorf("ListSessions() = %+v, %v", sessions, err)
	}
}

func TestCreateOrResume_Errors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		code string
		want domain.ErrorType
	}{
		{"", domain.ErrorTypeInvalidRequest},
		{"   ", domain.ErrorTypeInvalidRequest},
		{"NOPE00", domain.ErrorTypePermission},
	}
	for _, tt := range tests {
		_, err := f.svc.CreateOrResume(context.Background(), tt.code)
		if got := apiErrorType(err); got != tt.want {
			t.Errorf("CreateOrResume(%q) error = %v, want %s", tt.code, err, tt.want)
		}
	}
}

func TestCreateOrResume_RecreatesMissingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.LinkInvite(ctx, inviteCode, "lost-session"); err != nil {
		t.Fatalf("LinkInvite() error = %v", err)
	}

	res, err := f.svc.CreateOrResume(ctx, inviteCode)
	if err != nil {
		t.Fatalf("CreateOrResume() error = %v", err)
	}
	if res.ID != "lost-session" || res.IsResumed {
		t.Errorf("result = %+v", res)
	}
	if _, err := f.store.Load(ctx, "lost-session"); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}

func TestChat_RecordsAndPersists(t *testing.T) {
	clarity, _ := topic.MustDefault().Topic("clarity")
	args := testutil.ValidArgs(clarity)
	args["summary"] = "helder"
	f := newFixture(t,
		testutil.Step{
			Text:  []string{"Duidelijk, "},
			Calls: []domain.ToolCall{testutil.Call("c1", "record_clarity", args)},
		},
		testutil.Step{Text: []string{"Wat vond je van de presentatie?"}},
	)
	ctx := context.Background()
	id := f.create(t)

	buf := &stream.Buffer{}
	if err := f.svc.Chat(ctx, id, "Alles was heel helder", openBuffer(buf)); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	types := buf.Types()
	if len(types) < 2 || types[len(types)-2] != stream.EventProgress || types[len(types)-1] != stream.EventDone {
		t.Fatalf("event types = %v", types)
	}

	view, err := f.svc.GetState(ctx, id)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if view.Progress.CompletedCount != 1 || !view.Progress.TopicCompletion["clarity"] {
		t.Errorf("progress = %+v", view.Progress)
	}
	if len(view.Messages) < 3 {
		t.Fatalf("messages = %+v", view.Messages)
	}
	if view.Messages[0].Role != domain.RoleAssistant || view.Messages[0].Content != prompt.WelcomeMessage {
		t.Errorf("first message = %+v, want welcome", view.Messages[0])
	}
	if view.Messages[1].Role != domain.RoleUser || view.Messages[1].Content != "Alles was heel helder" {
		t.Errorf("second message = %+v", view.Messages[1])
	}
	for _, m := range view.Messages {
		if m.Role == domain.RoleTool {
			t.Errorf("transcript contains tool message %+v", m)
		}
	}

	again, _ := f.svc.GetState(ctx, id)
	if len(again.Messages) != len(view.Messages) || again.Progress.CompletedCount != view.Progress.CompletedCount {
		t.Error("GetState() is not stable between calls")
	}

	resp, err := f.svc.GetResponse(ctx, id, "clarity")
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if resp.Source != interview.SourceAgent || resp.Data["summary"] != "helder" {
		t.Errorf("response = %+v", resp)
	}
}

func TestChat_RequestErrors(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)
	opened := false
	open := func() (stream.Sink, error) {
		opened = true
		return &stream.Buffer{}, nil
	}

	if err := f.svc.Chat(context.Background(), id, "  ", open); apiErrorType(err) != domain.ErrorTypeInvalidRequest {
		t.Errorf("Chat(empty) error = %v", err)
	}
	if err := f.svc.Chat(context.Background(), "missing", "hoi", open); apiErrorType(err) != domain.ErrorTypeNotFound {
		t.Errorf("Chat(missing) error = %v", err)
	}
	if opened {
		t.Error("stream opened for a rejected request")
	}
}

func TestChat_ProviderErrorKeepsSessionUsable(t *testing.T) {
	f := newFixture(t,
		testutil.Step{OpenErr: domain.ErrOverloaded("Overloaded")},
		testutil.Step{Text: []string{"Daar ben ik weer."}},
	)
	ctx := context.Background()
	id := f.create(t)

	buf := &stream.Buffer{}
	if err := f.svc.Chat(ctx, id, "Hoi", openBuffer(buf)); err == nil {
		t.Fatal("Chat() error = nil, want provider error")
	}
	events := buf.Events()
	if len(events) != 1 || events[0].Type != stream.EventError {
		t.Fatalf("events = %+v, want a single error", events)
	}
	if view, _ := f.svc.GetState(ctx, id); len(view.Messages) != 0 {
		t.Errorf("messages after failed turn = %+v", view.Messages)
	}

	if err := f.svc.Chat(ctx, id, "Hoi", openBuffer(&stream.Buffer{})); err != nil {
		t.Fatalf("second Chat() error = %v", err)
	}
	if view, _ := f.svc.GetState(ctx, id); len(view.Messages) != 3 {
		t.Errorf("messages = %+v, want welcome, user and reply", view.Messages)
	}
}

func TestChat_ConcurrentTurnConflicts(t *testing.T) {
	f := newFixture(t,
		testutil.Step{Text: []string{"Even denken"}, Block: true},
		testutil.Step{Text: []string{"Klaar."}},
	)
	id := f.create(t)

	started := make(chan struct{})
	var once sync.Once
	sink := stream.SinkFunc(func(stream.Event) error {
		once.Do(func() { close(started) })
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.svc.Chat(ctx, id, "Hoi", func() (stream.Sink, error) { return sink, nil })
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn did not start")
	}

	err := f.svc.Chat(context.Background(), id, "Nog een", openBuffer(&stream.Buffer{}))
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeConflict || apiErr.HTTPStatusCode() != 409 {
		t.Errorf("concurrent Chat() error = %v, want conflict", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn did not stop after cancel")
	}

	if err := f.svc.Chat(context.Background(), id, "Nog een", openBuffer(&stream.Buffer{})); err != nil {
		t.Errorf("Chat() after the first turn ended error = %v", err)
	}
}

func TestResponses_PutGetAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	if _, err := f.svc.GetResponse(ctx, id, "clarity"); apiErrorType(err) != domain.ErrorTypeNotFound {
		t.Errorf("GetResponse(unrecorded) error = %v", err)
	}
	if _, err := f.svc.GetResponse(ctx, id, "weather"); apiErrorType(err) != domain.ErrorTypeInvalidRequest {
		t.Errorf("GetResponse(unknown topic) error = %v", err)
	}
	if _, err := f.svc.PutResponse(ctx, id, "weather", map[string]any{}); apiErrorType(err) != domain.ErrorTypeInvalidRequest {
		t.Errorf("PutResponse(unknown topic) error = %v", err)
	}
	if _, err := f.svc.PutResponse(ctx, id, "clarity", nil); apiErrorType(err) != domain.ErrorTypeInvalidRequest {
		t.Errorf("PutResponse(nil) error = %v", err)
	}
	if _, err := f.svc.Results(ctx, id); apiErrorType(err) != domain.ErrorTypeInvalidRequest {
		t.Errorf("Results(incomplete) error = %v", err)
	}

	data := map[string]any{"summary": "Aangepast door deelnemer"}
	put, err := f.svc.PutResponse(ctx, id, "clarity", data)
	if err != nil {
		t.Fatalf("PutResponse() error = %v", err)
	}
	if put.Source != interview.SourceUserEdit {
		t.Errorf("put source = %s", put.Source)
	}
	got, err := f.svc.GetResponse(ctx, id, "clarity")
	if err != nil || got.Source != interview.SourceUserEdit || got.Data["summary"] != "Aangepast door deelnemer" {
		t.Errorf("GetResponse() = %+v, %v", got, err)
	}

	all, err := f.svc.AllResponses(ctx, id)
	if err != nil {
		t.Fatalf("AllResponses() error = %v", err)
	}
	if len(all.CompletedTopics) != 1 || all.CompletedTopics[0] != "clarity" || all.TotalTopics != 9 {
		t.Errorf("AllResponses() = %+v", all)
	}

	for _, tp := range f.reg.Topics() {
		if _, err := f.svc.PutResponse(ctx, id, tp.ID, testutil.ValidArgs(tp)); err != nil {
			t.Fatalf("PutResponse(%s) error = %v", tp.ID, err)
		}
	}
	if n := f.archiver.count(); n != 1 {
		t.Errorf("archived %d times, want 1", n)
	}
	if _, err := f.svc.PutResponse(ctx, id, "clarity", data); err != nil {
		t.Fatalf("PutResponse() error = %v", err)
	}
	if n := f.archiver.count(); n != 1 {
		t.Errorf("archived %d documents after a later edit, want 1", n)
	}

	res, err := f.svc.Results(ctx, id)
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(res.Responses) != 9 || res.CompletedAt == nil || res.InviteCode != inviteCode {
		t.Errorf("Results() = %+v", res)
	}
	difficulty := res.Responses[3]
	if difficulty.TopicID != "difficulty" || difficulty.Title == "" {
		t.Errorf("difficulty = %+v", difficulty)
	}
	for _, fv := range difficulty.Fields {
		if fv.Label == "" {
			t.Errorf("field %s has no label", fv.Field)
		}
	}

	sessions, _ := f.svc.ListSessions(ctx)
	if !sessions[0].IsComplete {
		t.Error("session listing does not show completion")
	}
}

// editingRunner edits a topic through the service while its turn runs.
type editingRunner struct {
	svc   *Service
	clock *ticker
}

func (r *editingRunner) RunTurn(ctx context.Context, st *interview.State, msg string, _ orchestrator.Observer) (*orchestrator.TurnResult, error) {
	work := st.Clone()
	turnAt := r.clock.now()
	if _, err := r.svc.PutResponse(ctx, st.SessionID, "difficulty", map[string]any{"summary": "bewerkt"}); err != nil {
		return nil, err
	}
	work.Append(domain.Message{Role: domain.RoleUser, Content: msg})
	work.Apply([]interview.Effect{
		{TopicID: "clarity", Data: map[string]any{"summary": "agent"}, Source: interview.SourceAgent, At: r.clock.now()},
		// Recorded before the edit landed, so the edit wins.
		{TopicID: "difficulty", Data: map[string]any{"summary": "agent"}, Source: interview.SourceAgent, At: turnAt},
	})
	return &orchestrator.TurnResult{State: work, Committed: true, Rounds: 1}, nil
}

func TestChat_EditDuringTurnLastWriteWins(t *testing.T) {
	reg := topic.MustDefault()
	store := memory.New()
	store.AddInvite(inviteCode, "")
	clock := &ticker{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	runner := &editingRunner{clock: clock}
	svc := New(store, reg, runner, WithLogger(discard), WithClock(clock.now))
	runner.svc = svc

	ctx := context.Background()
	created, err := svc.CreateOrResume(ctx, inviteCode)
	if err != nil {
		t.Fatalf("CreateOrResume() error = %v", err)
	}
	if err := svc.Chat(ctx, created.ID, "Hoi", openBuffer(&stream.Buffer{})); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	all, err := svc.AllResponses(ctx, created.ID)
	if err != nil {
		t.Fatalf("AllResponses() error = %v", err)
	}
	if r := all.Responses["difficulty"]; r.Source != interview.SourceUserEdit || r.Data["summary"] != "bewerkt" {
		t.Errorf("difficulty = %+v, want the later edit", r)
	}
	if r := all.Responses["clarity"]; r.Source != interview.SourceAgent {
		t.Errorf("clarity = %+v, want the turn's record", r)
	}
	view, _ := svc.GetState(ctx, created.ID)
	if len(view.Messages) != 2 {
		t.Errorf("messages = %+v, want welcome and user", view.Messages)
	}
}

// failingLoadStore fails every checkpoint read.
type failingLoadStore struct {
	storage.Store
}

func (failingLoadStore) Load(context.Context, string) (*storage.Checkpoint, error) {
	return nil, errors.New("disk on fire")
}

func TestGetState_UnreadableCheckpointDegrades(t *testing.T) {
	reg := topic.MustDefault()
	svc := New(failingLoadStore{Store: memory.New()}, reg, nil, WithLogger(discard))

	view, err := svc.GetState(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if len(view.Messages) != 0 || view.Progress.CompletedCount != 0 || view.Progress.TotalTopics != 9 {
		t.Errorf("view = %+v", view)
	}
	if _, err := svc.PutResponse(context.Background(), "s1", "clarity", map[string]any{}); err == nil {
		t.Error("PutResponse() on an unreadable checkpoint error = nil")
	}
}

func TestChat_TruncatedToolArgumentsKeepTurn(t *testing.T) {
	f := newFixture(t,
		testutil.Step{Calls: []domain.ToolCall{{
			ID:    "c1",
			Name:  "record_ai_background",
			Input: json.RawMessage(`{"summary": "trunc`),
		}}},
		testutil.Step{Text: []string{"Sorry, nog een keer?"}},
	)
	ctx := context.Background()
	id := f.create(t)

	var delivered []stream.EventType
	var sendErrs []error
	sink := stream.SinkFunc(func(ev stream.Event) error {
		if _, err := json.Marshal(ev.Data); err != nil {
			sendErrs = append(sendErrs, err)
			return err
		}
		delivered = append(delivered, ev.Type)
		return nil
	})
	if err := f.svc.Chat(ctx, id, "Ik werk al jaren met AI", func() (stream.Sink, error) { return sink, nil }); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if len(sendErrs) != 0 {
		t.Errorf("send errors = %v", sendErrs)
	}
	want := []stream.EventType{
		stream.EventToolStart, stream.EventToolEnd,
		stream.EventMessageStart, stream.EventToken, stream.EventMessageEnd,
		stream.EventProgress, stream.EventDone,
	}
	if len(delivered) != len(want) {
		t.Fatalf("delivered events = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered events = %v, want %v", delivered, want)
		}
	}

	view, err := f.svc.GetState(ctx, id)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	var sawUser, sawRetry bool
	for _, m := range view.Messages {
		sawUser = sawUser || (m.Role == domain.RoleUser && m.Content == "Ik werk al jaren met AI")
		sawRetry = sawRetry || (m.Role == domain.RoleAssistant && m.Content == "Sorry, nog een keer?")
	}
	if !sawUser || !sawRetry {
		t.Errorf("persisted messages = %+v", view.Messages)
	}
	if view.Progress.TopicCompletion["ai_background"] {
		t.Error("malformed arguments completed ai_background")
	}
}

func TestPutResponse_ReleasesWriteLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data := map[string]any{"summary": fmt.Sprintf("versie %d", i)}
			if _, err := f.svc.PutResponse(ctx, id, "clarity", data); err != nil {
				t.Errorf("PutResponse() error = %v", err)
			}
		}()
	}
	wg.Wait()

	f.svc.mu.Lock()
	left := len(f.svc.writes)
	f.svc.mu.Unlock()
	if left != 0 {
		t.Errorf("write locks left after edits = %d, want 0", left)
	}

	resp, err := f.svc.GetResponse(ctx, id, "clarity")
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if s, _ := resp.Data["summary"].(string); !strings.HasPrefix(s, "versie ") {
		t.Errorf("summary = %v", resp.Data["summary"])
	}
}
