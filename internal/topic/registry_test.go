package topic

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	want := []string{
		"ai_background", "overall_impression", "perceived_content",
		"difficulty", "content_quality", "presentation",
		"clarity", "suggestions", "course_parts",
	}
	got := r.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for _, tp := range r.Topics() {
		if tp.Description == "" {
			t.Errorf("topic %s has no description", tp.ID)
		}
		if _, ok := tp.Field("summary"); !ok {
			t.Errorf("topic %s is missing the common summary field", tp.ID)
		}
		if f, ok := tp.Field("quotes"); !ok || !f.Optional {
			t.Errorf("topic %s: quotes field missing or required", tp.ID)
		}
	}
}

func TestToolNameRoundTrip(t *testing.T) {
	r := MustDefault()

	for _, id := range r.IDs() {
		name := ToolName(id)
		if !strings.HasPrefix(name, "record_") {
			t.Errorf("ToolName(%q) = %q, want record_ prefix", id, name)
		}
		back, ok := r.TopicForTool(name)
		if !ok || back != id {
			t.Errorf("TopicForTool(%q) = %q, %v; want %q, true", name, back, ok, id)
		}
	}

	for _, name := range []string{"record_unknown", "ai_background", "provide_workshop_slides", ""} {
		if id, ok := r.TopicForTool(name); ok {
			t.Errorf("TopicForTool(%q) = %q, want no match", name, id)
		}
	}
}

func TestLabel(t *testing.T) {
	r := MustDefault()

	if got := r.Label("userType"); got != "Gebruikerstype" {
		t.Errorf("Label(userType) = %q, want Gebruikerstype", got)
	}
	if got := r.Label("nonexistent"); got != "nonexistent" {
		t.Errorf("Label(nonexistent) = %q, want field name", got)
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "topics: []"},
		{"duplicate", "topics:\n  - id: a\n  - id: a\n"},
		{"missing id", "topics:\n  - title: x\n"},
		{"enum without values", "topics:\n  - id: a\n    fields:\n      - name: f\n        type: enum\n"},
		{"unknown type", "topics:\n  - id: a\n    fields:\n      - name: f\n        type: date\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.yaml)); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	r := MustDefault()
	difficulty, _ := r.Topic("difficulty")

	tests := []struct {
		name       string
		args       string
		wantErr    bool
		wantIssues []string
	}{
		{
			name: "valid",
			args: `{"difficultyRating":3,"difficultyLevel":"just_right","paceRating":4,"summary":"prima"}`,
		},
		{
			name:       "rating out of range",
			args:       `{"difficultyRating":7,"difficultyLevel":"just_right","paceRating":4,"summary":"x"}`,
			wantErr:    true,
			wantIssues: []string{"difficultyRating"},
		},
		{
			name:       "fractional rating",
			args:       `{"difficultyRating":2.5,"difficultyLevel":"just_right","paceRating":4,"summary":"x"}`,
			wantErr:    true,
			wantIssues: []string{"difficultyRating"},
		},
		{
			name:       "bad enum and missing summary",
			args:       `{"difficultyRating":3,"difficultyLevel":"meh","paceRating":4}`,
			wantErr:    true,
			wantIssues: []string{"difficultyLevel", "summary"},
		},
		{
			name:       "not an object",
			args:       `[1,2,3]`,
			wantErr:    true,
			wantIssues: []string{"JSON object"},
		},
		{
			name:       "empty arguments",
			args:       ``,
			wantErr:    true,
			wantIssues: []string{"difficultyRating"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := difficulty.Validate(json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Validate() error type = %T, want *ValidationError", err)
				}
				for _, want := range tt.wantIssues {
					if !strings.Contains(err.Error(), want) {
						t.Errorf("error %q does not mention %q", err.Error(), want)
					}
				}
				return
			}
			if got["difficultyRating"] != 3 {
				t.Errorf("difficultyRating = %#v, want int 3", got["difficultyRating"])
			}
		})
	}
}

func TestValidateListsAndOptionals(t *testing.T) {
	r := MustDefault()
	bg, _ := r.Topic("ai_background")

	got, err := bg.Validate(json.RawMessage(`{
		"userType": "regular",
		"experienceLevel": 4,
		"toolsUsed": ["ChatGPT", "Copilot"],
		"useCaseSubjects": ["coding", "research"],
		"summary": "Gebruikt AI dagelijks",
		"quotes": null,
		"extra": "dropped"
	}`))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, ok := got["quotes"]; ok {
		t.Error("null optional field should be omitted")
	}
	if _, ok := got["extra"]; ok {
		t.Error("unknown key should be dropped")
	}
	tools, ok := got["toolsUsed"].([]string)
	if !ok || len(tools) != 2 {
		t.Errorf("toolsUsed = %#v, want two strings", got["toolsUsed"])
	}

	_, err = bg.Validate(json.RawMessage(`{
		"userType": "regular",
		"experienceLevel": 4,
		"toolsUsed": [],
		"useCaseSubjects": ["gaming"],
		"summary": "x"
	}`))
	if err == nil || !strings.Contains(err.Error(), "useCaseSubjects") {
		t.Errorf("Validate() error = %v, want useCaseSubjects issue", err)
	}
}

func TestInputSchema(t *testing.T) {
	r := MustDefault()
	clarity, _ := r.Topic("clarity")

	schema := clarity.InputSchema()
	if schema["type"] != "object" {
		t.Fatalf("type = %v, want object", schema["type"])
	}
	required, _ := schema["required"].([]string)
	for _, name := range []string{"clarityRating", "needsExplanation", "summary"} {
		found := false
		for _, r := range required {
			if r == name {
				found = true
			}
		}
		if !found {
			t.Errorf("required is missing %s", name)
		}
	}
	for _, r := range required {
		if r == "unclearTopics" || r == "explanationTopic" || r == "quotes" {
			t.Errorf("optional field %s listed as required", r)
		}
	}

	props := schema["properties"].(map[string]any)
	rating := props["clarityRating"].(map[string]any)
	if rating["type"] != "integer" || rating["minimum"] != RatingMin || rating["maximum"] != RatingMax {
		t.Errorf("clarityRating schema = %v", rating)
	}
	if _, err := json.Marshal(schema); err != nil {
		t.Errorf("schema is not JSON serializable: %v", err)
	}
}
