package session

import (
	"slices"
	"time"

	"github.com/tjfontaine/deep-interviewer/internal/interview"
	"github.com/tjfontaine/deep-interviewer/internal/topic"
)

// LabeledValue is one field of a recorded topic with its display label.
type LabeledValue struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Value any    `json:"value"`
}

// TopicResult is one topic of the results document.
type TopicResult struct {
	TopicID   string           `json:"topicId"`
	Title     string           `json:"title"`
	Source    interview.Source `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
	Data      map[string]any   `json:"data"`
	Fields    []LabeledValue   `json:"fields"`
}

// Results is the report of a completed interview.
type Results struct {
	SessionID   string        `json:"sessionId"`
	InviteCode  string        `json:"inviteCode,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Responses   []TopicResult `json:"responses"`
}

// buildResults lists the recorded topics in catalog order. Fields follow
// the topic schema; keys outside it (possible after an edit) come last.
func buildResults(reg *topic.Registry, st *interview.State) *Results {
	res := &Results{
		SessionID:   st.SessionID,
		InviteCode:  st.InviteCode,
		StartedAt:   st.StartedAt,
		CompletedAt: st.CompletedAt,
		Responses:   []TopicResult{},
	}
	for _, t := range reg.Topics() {
		rec, ok := st.TopicData[t.ID]
		if !ok {
			continue
		}
		tr := TopicResult{
			TopicID:   t.ID,
			Title:     t.Title,
			Source:    rec.Source,
			Timestamp: rec.RecordedAt,
			Data:      rec.Data,
			Fields:    []LabeledValue{},
		}
		seen := make(map[string]bool, len(rec.Data))
		for _, f := range t.Fields {
			v, ok := rec.Data[f.Name]
			if !ok {
				continue
			}
			seen[f.Name] = true
			label := f.Label
			if label == "" {
				label = reg.Label(f.Name)
			}
			tr.Fields = append(tr.Fields, LabeledValue{Field: f.Name, Label: label, Value: v})
		}
		for _, name := range sortedKeys(rec.Data) {
			if !seen[name] {
				tr.Fields = append(tr.Fields, LabeledValue{Field: name, Label: reg.Label(name), Value: rec.Data[name]})
			}
		}
		res.Responses = append(res.Responses, tr)
	}
	return res
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
