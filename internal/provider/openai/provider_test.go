package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	openaiapi "github.com/tjfontaine/deep-interviewer/internal/api/openai"
	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/testutil"
)

const toolChunks = `data: {"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"Dank "},"finish_reason":null}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"content":"je."},"finish_reason":null}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"provide_workshop_slides","arguments":""}}]},"finish_reason":null}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"record_clarity","arguments":"{\"summary\":"}}]},"finish_reason":null}]}

data: {"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"helder\"}"}}]},"finish_reason":null}]}

data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: {"id":"c1","choices":[],"usage":{"prompt_tokens":30,"completion_tokens":12,"total_tokens":42}}

data: [DONE]

`

func TestProvider_StreamToolCalls(t *testing.T) {
	var sent openaiapi.ChatCompletionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &sent)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, toolChunks)
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	ch, err := p.Stream(context.Background(), &domain.CanonicalRequest{
		Model:    "gpt-4o-mini",
		System:   "Je bent een interviewer.",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hoi"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var events []domain.CanonicalEvent
	for ev := range ch {
		events = append(events, ev)
	}

	if len(sent.Messages) != 2 || sent.Messages[0].Role != "system" || !sent.Stream || sent.StreamOptions == nil {
		t.Errorf("sent request = %+v", sent)
	}

	want := []domain.EventType{
		domain.EventTypeTextDelta, domain.EventTypeTextDelta,
		domain.EventTypeToolCall, domain.EventTypeToolCall,
		domain.EventTypeDone,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, w)
		}
	}
	if c := events[2].ToolCall; c.ID != "call_a" || string(c.Input) != `{"summary":"helder"}` {
		t.Errorf("first call = %+v", c)
	}
	if c := events[3].ToolCall; c.Name != "provide_workshop_slides" || string(c.Input) != "{}" {
		t.Errorf("second call = %+v", c)
	}
	done := events[4]
	if done.StopReason != "tool_calls" || done.Usage.InputTokens != 30 || done.Usage.OutputTokens != 12 {
		t.Errorf("done = %+v usage = %+v", done, done.Usage)
	}
}

func TestProvider_StreamWithoutDone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"id":"c1","choices":[{"index":0,"delta":{"content":"Hal"}}]}`+"\n\n")
	}))
	defer ts.Close()

	ch, err := New("k", WithBaseURL(ts.URL)).Stream(context.Background(), &domain.CanonicalRequest{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	var last domain.CanonicalEvent
	for ev := range ch {
		last = ev
	}
	if last.Type != domain.EventTypeError {
		t.Errorf("last event = %+v, want error", last)
	}
}

func TestToAPIRequest_History(t *testing.T) {
	req := toAPIRequest(&domain.CanonicalRequest{
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: "Welkom!"},
			{Role: domain.RoleUser, Content: "Hoi"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "a", Name: "record_clarity", Input: json.RawMessage(`{"summary":"x"}`)}}},
			{Role: domain.RoleTool, ToolCallID: "a", Content: "ok"},
		},
		Tools:       []domain.ToolDefinition{{Name: "record_clarity", InputSchema: map[string]any{"type": "object"}}},
		Temperature: 0.7,
	})

	if len(req.Messages) != 4 {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if tc := req.Messages[2].ToolCalls; len(tc) != 1 || tc[0].Function.Arguments != `{"summary":"x"}` {
		t.Errorf("tool calls = %+v", tc)
	}
	if req.Messages[3].ToolCallID != "a" {
		t.Errorf("tool result = %+v", req.Messages[3])
	}
	if len(req.Tools) != 1 || req.Tools[0].Type != "function" || req.Temperature == nil {
		t.Errorf("request = %+v", req)
	}
}

func TestProvider_StreamRecorded(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "openai_stream")
	defer cleanup()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = "test-key"
	}
	p := New(apiKey, WithHTTPClient(testutil.VCRHTTPClient(recorder)))

	ch, err := p.Stream(context.Background(), &domain.CanonicalRequest{
		Model:    "gpt-4o-mini",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Tel tot drie."}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	var last domain.CanonicalEvent
	for ev := range ch {
		last = ev
	}
	if last.Type != domain.EventTypeDone {
		t.Errorf("last event = %+v", last)
	}
}
