// Package topic holds the static catalog of interview topics: their ids,
// extraction schemas, tool descriptions, and display labels.
//
// A Registry is immutable once loaded and safe for concurrent use.
package topic

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var catalogYAML []byte

// ToolPrefix is prepended to a topic id to form its tool name.
const ToolPrefix = "record_"

// Topic describes one feedback subject of the interview.
type Topic struct {
	ID          string  `yaml:"id"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Fields      []Field `yaml:"fields"`

	schema *jsonschema.Schema
}

// ToolName returns the externally visible tool name for the topic.
func (t Topic) ToolName() string {
	return ToolName(t.ID)
}

// Field returns the named field of the topic's schema.
func (t Topic) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

type catalog struct {
	CommonFields []Field `yaml:"common_fields"`
	Topics       []Topic `yaml:"topics"`
}

// Registry is the catalog of topics in listing order.
type Registry struct {
	topics []Topic
	byID   map[string]int
	labels map[string]string
}

// Default loads the catalog compiled into the binary.
func Default() (*Registry, error) {
	return Load(catalogYAML)
}

// MustDefault is like Default but panics if the embedded catalog is invalid.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Load parses a YAML catalog. Common fields are appended to every topic.
func Load(data []byte) (*Registry, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse topic catalog: %w", err)
	}
	if len(c.Topics) == 0 {
		return nil, errors.New("topic catalog is empty")
	}

	r := &Registry{
		byID:   make(map[string]int, len(c.Topics)),
		labels: make(map[string]string),
	}
	for _, t := range c.Topics {
		if t.ID == "" {
			return nil, errors.New("topic catalog: topic without id")
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("topic catalog: duplicate topic %q", t.ID)
		}
		t.Description = strings.TrimSpace(t.Description)
		t.Fields = append(append([]Field(nil), t.Fields...), c.CommonFields...)
		for _, f := range t.Fields {
			if err := f.check(); err != nil {
				return nil, fmt.Errorf("topic catalog: %s: %w", t.ID, err)
			}
			if f.Label != "" {
				r.labels[f.Name] = f.Label
			}
		}
		sch, err := t.compile()
		if err != nil {
			return nil, fmt.Errorf("topic catalog: %s: compile schema: %w", t.ID, err)
		}
		t.schema = sch
		r.byID[t.ID] = len(r.topics)
		r.topics = append(r.topics, t)
	}
	return r, nil
}

// Len returns the number of topics.
func (r *Registry) Len() int {
	return len(r.topics)
}

// IDs returns all topic ids in catalog order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.topics))
	for i, t := range r.topics {
		ids[i] = t.ID
	}
	return ids
}

// Topics returns all topics in catalog order.
func (r *Registry) Topics() []Topic {
	return append([]Topic(nil), r.topics...)
}

// Topic looks up a topic by id.
func (r *Registry) Topic(id string) (Topic, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Topic{}, false
	}
	return r.topics[i], true
}

// Has reports whether id names a known topic.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// TopicForTool maps a tool name back to its topic id. It fails for names
// without the tool prefix and for ids that are not in the catalog.
func (r *Registry) TopicForTool(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, ToolPrefix)
	if !ok || !r.Has(id) {
		return "", false
	}
	return id, true
}

// Label returns the display label of a schema field, or the field name
// when none is defined.
func (r *Registry) Label(field string) string {
	if l, ok := r.labels[field]; ok {
		return l
	}
	return field
}

// ToolName derives the tool name for a topic id.
func ToolName(topicID string) string {
	return ToolPrefix + topicID
}
