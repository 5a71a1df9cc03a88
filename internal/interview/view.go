package interview

import (
	"encoding/json"
	"time"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// Progress is the derived completion snapshot sent to clients.
type Progress struct {
	TopicCompletion map[string]bool `json:"topicCompletion"`
	CompletedCount  int             `json:"completedCount"`
	TotalTopics     int             `json:"totalTopics"`
	IsComplete      bool            `json:"isComplete"`
}

// Progress computes the snapshot over topicIDs.
func (s *State) Progress(topicIDs []string) Progress {
	p := Progress{
		TopicCompletion: make(map[string]bool, len(topicIDs)),
		TotalTopics:     len(topicIDs),
		IsComplete:      s.IsComplete,
	}
	for _, id := range topicIDs {
		done := s.TopicCompletion[id]
		p.TopicCompletion[id] = done
		if done {
			p.CompletedCount++
		}
	}
	return p
}

// TranscriptToolCall is a tool call as shown next to an assistant message.
type TranscriptToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// TranscriptMessage is one participant-visible history entry.
type TranscriptMessage struct {
	ID        string               `json:"id"`
	Role      domain.Role          `json:"role"`
	Content   string               `json:"content"`
	ToolCalls []TranscriptToolCall `json:"toolCalls,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
}

// Transcript projects the history for UI restoration. Only user and
// assistant entries are kept, and entries with neither text nor tool calls
// are dropped.
func (s *State) Transcript() []TranscriptMessage {
	out := make([]TranscriptMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if m.Text() == "" && !m.HasToolCalls() {
			continue
		}
		tm := TranscriptMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		for _, tc := range m.ToolCalls {
			tm.ToolCalls = append(tm.ToolCalls, TranscriptToolCall{Name: tc.Name, Args: tc.Input})
		}
		out = append(out, tm)
	}
	return out
}

// TopicResponse is the externally visible shape of one recorded topic.
type TopicResponse struct {
	TopicID   string         `json:"topicId"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Source    Source         `json:"source"`
}

// Response returns the recorded payload of a topic.
func (s *State) Response(topicID string) (TopicResponse, bool) {
	rec, ok := s.TopicData[topicID]
	if !ok {
		return TopicResponse{}, false
	}
	return TopicResponse{
		TopicID:   topicID,
		Data:      rec.Data,
		Timestamp: rec.RecordedAt,
		Source:    rec.Source,
	}, true
}

// Responses returns every recorded topic keyed by topic id.
func (s *State) Responses(topicIDs []string) map[string]TopicResponse {
	out := make(map[string]TopicResponse, len(s.TopicData))
	for _, id := range topicIDs {
		if r, ok := s.Response(id); ok {
			out[id] = r
		}
	}
	return out
}
