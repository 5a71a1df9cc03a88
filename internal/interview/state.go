// Package interview defines the Conversation State of one interview session
// and its merge, completion and projection rules.
package interview

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// Source records who last wrote a topic payload.
type Source string

const (
	SourceAgent    Source = "agent"
	SourceUserEdit Source = "user_edit"
)

// TopicRecord is the last recorded payload of one topic.
type TopicRecord struct {
	Data       map[string]any `json:"data"`
	Source     Source         `json:"source"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// State is the durable record of one interview.
//
// IsComplete is derived from TopicCompletion and only changes through
// CheckCompletion. CompletedAt is set together with IsComplete and never
// cleared.
type State struct {
	SessionID       string                 `json:"sessionId"`
	InviteCode      string                 `json:"inviteCode,omitempty"`
	Version         int64                  `json:"version"`
	Messages        []domain.Message       `json:"messages"`
	TopicCompletion map[string]bool        `json:"topicCompletion"`
	TopicData       map[string]TopicRecord `json:"topicData"`
	StartedAt       time.Time              `json:"startedAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	CompletedAt     *time.Time             `json:"completedAt,omitempty"`
	IsComplete      bool                   `json:"isComplete"`
}

// New creates the initial state for a session with every topic incomplete.
func New(sessionID string, topicIDs []string, now time.Time) *State {
	s := &State{
		SessionID:       sessionID,
		Messages:        []domain.Message{},
		TopicCompletion: make(map[string]bool, len(topicIDs)),
		TopicData:       make(map[string]TopicRecord),
		StartedAt:       now,
		UpdatedAt:       now,
	}
	for _, id := range topicIDs {
		s.TopicCompletion[id] = false
	}
	return s
}

// Decode parses a serialized state and fills in any topics missing from
// the completion map.
func Decode(data []byte, topicIDs []string) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.normalize(topicIDs)
	return &s, nil
}

// Encode serializes the state for storage.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

func (s *State) normalize(topicIDs []string) {
	if s.Messages == nil {
		s.Messages = []domain.Message{}
	}
	if s.TopicCompletion == nil {
		s.TopicCompletion = make(map[string]bool, len(topicIDs))
	}
	for _, id := range topicIDs {
		if _, ok := s.TopicCompletion[id]; !ok {
			s.TopicCompletion[id] = false
		}
	}
	if s.TopicData == nil {
		s.TopicData = make(map[string]TopicRecord)
	}
}

// Clone returns a deep copy. A turn works on a clone so that nothing it
// does is visible until it is committed.
func (s *State) Clone() *State {
	c := *s
	c.Messages = make([]domain.Message, len(s.Messages))
	for i, m := range s.Messages {
		m.ToolCalls = slices.Clone(m.ToolCalls)
		c.Messages[i] = m
	}
	c.TopicCompletion = maps.Clone(s.TopicCompletion)
	c.TopicData = make(map[string]TopicRecord, len(s.TopicData))
	for k, v := range s.TopicData {
		v.Data = cloneData(v.Data)
		c.TopicData[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneData(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneData(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(x)
	default:
		return v
	}
}

// Append adds a message to the history, assigning an id and timestamp when
// they are missing.
func (s *State) Append(m domain.Message) domain.Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, m)
	return m
}

// Effect is one recorded topic payload waiting to be merged.
type Effect struct {
	TopicID string
	Data    map[string]any
	Source  Source
	At      time.Time
}

// Apply merges a batch of effects. Each effect sets the topic data and its
// completion flag together; a later effect for the same topic wins.
func (s *State) Apply(effects []Effect) {
	for _, e := range effects {
		s.TopicData[e.TopicID] = TopicRecord{
			Data:       e.Data,
			Source:     e.Source,
			RecordedAt: e.At,
		}
		s.TopicCompletion[e.TopicID] = true
	}
}

// CheckCompletion recomputes IsComplete over topicIDs and stamps
// CompletedAt the first time it becomes true. It reports whether the
// interview became complete in this call.
func (s *State) CheckCompletion(topicIDs []string, now time.Time) bool {
	complete := len(topicIDs) > 0
	for _, id := range topicIDs {
		if !s.TopicCompletion[id] {
			complete = false
			break
		}
	}
	if s.CompletedAt != nil {
		// Completion is monotonic.
		s.IsComplete = true
		return false
	}
	s.IsComplete = complete
	if complete {
		t := now
		s.CompletedAt = &t
		return true
	}
	return false
}

// Touch bumps the version and update time before a save.
func (s *State) Touch(now time.Time) {
	s.Version++
	s.UpdatedAt = now
}

// CompletedTopics returns the completed topic ids in catalog order.
func (s *State) CompletedTopics(topicIDs []string) []string {
	out := []string{}
	for _, id := range topicIDs {
		if s.TopicCompletion[id] {
			out = append(out, id)
		}
	}
	return out
}

// RemainingTopics returns the incomplete topic ids in catalog order.
func (s *State) RemainingTopics(topicIDs []string) []string {
	out := []string{}
	for _, id := range topicIDs {
		if !s.TopicCompletion[id] {
			out = append(out, id)
		}
	}
	return out
}
