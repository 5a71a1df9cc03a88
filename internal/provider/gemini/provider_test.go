package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

func TestToContents(t *testing.T) {
	contents, err := toContents([]domain.Message{
		{Role: domain.RoleAssistant, Content: "Welkom!"},
		{Role: domain.RoleUser, Content: "Hoi"},
		{Role: domain.RoleAssistant, Content: "Genoteerd.", ToolCalls: []domain.ToolCall{
			{ID: "a", Name: "record_clarity", Input: json.RawMessage(`{"summary":"helder"}`)},
			{ID: "b", Name: "provide_workshop_slides", Input: json.RawMessage(`not json`)},
		}},
		{Role: domain.RoleTool, ToolCallID: "a", ToolName: "record_clarity", Content: "ok"},
		{Role: domain.RoleTool, ToolCallID: "b", ToolName: "provide_workshop_slides", Content: "Error: bad", IsError: true},
	})
	if err != nil {
		t.Fatalf("toContents() error = %v", err)
	}

	roles := []string{roleUser, roleModel, roleUser, roleModel, roleUser}
	if len(contents) != len(roles) {
		t.Fatalf("contents = %d, want %d", len(contents), len(roles))
	}
	for i, r := range roles {
		if contents[i].Role != r {
			t.Errorf("content %d role = %s, want %s", i, contents[i].Role, r)
		}
	}
	if contents[0].Parts[0].Text != openingMessage {
		t.Errorf("opening = %q", contents[0].Parts[0].Text)
	}

	calls := contents[3].Parts
	if len(calls) != 3 || calls[1].FunctionCall.Args["summary"] != "helder" || len(calls[2].FunctionCall.Args) != 0 {
		t.Errorf("model parts = %+v", calls)
	}
	results := contents[4].Parts
	if len(results) != 2 {
		t.Fatalf("function responses = %+v", results)
	}
	if results[0].FunctionResponse.Response["output"] != "ok" || results[1].FunctionResponse.Response["error"] != "Error: bad" {
		t.Errorf("function responses = %+v, %+v", results[0].FunctionResponse, results[1].FunctionResponse)
	}
}

func TestToContents_UnknownRole(t *testing.T) {
	if _, err := toContents([]domain.Message{{Role: "system", Content: "x"}}); err == nil {
		t.Error("toContents() error = nil, want error for unsupported role")
	}
}

func TestToSchema(t *testing.T) {
	reg := topic.MustDefault()
	difficulty, _ := reg.Topic("difficulty")

	s := toSchema(difficulty.InputSchema())
	if s.Type != genai.TypeObject {
		t.Fatalf("type = %s", s.Type)
	}
	rating := s.Properties["difficultyRating"]
	if rating == nil || rating.Type != genai.TypeInteger || rating.Minimum == nil || *rating.Minimum != 1 || *rating.Maximum != 5 {
		t.Errorf("difficultyRating schema = %+v", rating)
	}
	if len(s.Required) == 0 {
		t.Error("required fields missing")
	}

	parts, _ := reg.Topic("course_parts")
	for name, prop := range toSchema(parts.InputSchema()).Properties {
		if prop.Type == genai.TypeArray && prop.Items == nil {
			t.Errorf("array property %s has no items", name)
		}
	}
}

func TestCanonicalError(t *testing.T) {
	tests := []struct {
		err  error
		want domain.ErrorType
	}{
		{genai.APIError{Code: 429, Message: "quota"}, domain.ErrorTypeRateLimit},
		{genai.APIError{Code: 503, Message: "busy"}, domain.ErrorTypeOverloaded},
		{genai.APIError{Code: 401, Message: "key"}, domain.ErrorTypeAuthentication},
		{genai.APIError{Code: 400, Message: "bad"}, domain.ErrorTypeProvider},
		{errors.New("dial tcp: refused"), domain.ErrorTypeProvider},
	}
	for _, tt := range tests {
		var apiErr *domain.APIError
		if !errors.As(canonicalError(tt.err), &apiErr) || apiErr.Type != tt.want {
			t.Errorf("canonicalError(%v) = %v, want %s", tt.err, apiErr, tt.want)
		}
	}
}

func TestProvider_Stream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "streamGenerateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Dank je."}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"record_clarity","args":{"summary":"helder"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3}}`+"\n\n")
	}))
	defer ts.Close()

	p, err := New(context.Background(), "test-key", WithBaseURL(ts.URL+"/"), WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ch, err := p.Stream(context.Background(), &domain.CanonicalRequest{
		Model:    "gemini-2.5-flash",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hoi"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var events []domain.CanonicalEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != domain.EventTypeTextDelta || events[0].Text != "Dank je." {
		t.Errorf("text event = %+v", events[0])
	}
	call := events[1].ToolCall
	if events[1].Type != domain.EventTypeToolCall || call.Name != "record_clarity" || call.ID == "" {
		t.Errorf("tool event = %+v", events[1])
	}
	if events[2].Type != domain.EventTypeDone || events[2].Usage.InputTokens != 7 || events[2].StopReason != "STOP" {
		t.Errorf("done event = %+v", events[2])
	}
}
