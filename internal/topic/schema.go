package topic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FieldType is the constraint kind of a schema field.
type FieldType string

const (
	FieldRating     FieldType = "rating" // integer 1..5
	FieldString     FieldType = "string"
	FieldBoolean    FieldType = "boolean"
	FieldEnum       FieldType = "enum"
	FieldStringList FieldType = "string_list"
	FieldEnumList   FieldType = "enum_list"
)

const (
	RatingMin = 1
	RatingMax = 5
)

// Field is one entry of a topic's extraction schema.
type Field struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Values      []string  `yaml:"values"`
	Optional    bool      `yaml:"optional"`
	Label       string    `yaml:"label"`
	Description string    `yaml:"description"`
}

func (f Field) check() error {
	if f.Name == "" {
		return fmt.Errorf("field without name")
	}
	switch f.Type {
	case FieldRating, FieldString, FieldBoolean, FieldStringList:
	case FieldEnum, FieldEnumList:
		if len(f.Values) == 0 {
			return fmt.Errorf("field %s: enum without values", f.Name)
		}
	default:
		return fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
	}
	return nil
}

// ValidationError lists every problem found in a set of tool arguments.
type ValidationError struct {
	TopicID string
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.TopicID, strings.Join(e.Issues, "; "))
}

// InputSchema renders the topic's schema as a JSON Schema object suitable
// for a model tool definition.
func (t Topic) InputSchema() map[string]any {
	props := make(map[string]any, len(t.Fields))
	required := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		props[f.Name] = f.jsonSchema()
		if !f.Optional {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (f Field) jsonSchema() map[string]any {
	s := map[string]any{}
	if f.Description != "" {
		s["description"] = f.Description
	}
	switch f.Type {
	case FieldRating:
		s["type"] = "integer"
		s["minimum"] = RatingMin
		s["maximum"] = RatingMax
	case FieldString:
		s["type"] = "string"
	case FieldBoolean:
		s["type"] = "boolean"
	case FieldEnum:
		s["type"] = "string"
		s["enum"] = f.Values
	case FieldStringList:
		s["type"] = "array"
		s["items"] = map[string]any{"type": "string"}
	case FieldEnumList:
		s["type"] = "array"
		s["items"] = map[string]any{"type": "string", "enum": f.Values}
	}
	return s
}

// schemaURL names the compiled schema resource of topic id.
func schemaURL(id string) string {
	return "https://deep-interviewer.local/topics/" + id + ".json"
}

// compile builds the validator from the same document InputSchema hands to
// the model.
func (t Topic) compile() (*jsonschema.Schema, error) {
	raw, err := json.Marshal(t.InputSchema())
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL(t.ID), doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL(t.ID))
}

// Validate checks raw tool arguments against the topic's schema and returns
// the normalized payload. Unknown keys are dropped. Absent or null optional
// fields are omitted from the payload.
func (t Topic) Validate(raw json.RawMessage) (map[string]any, error) {
	in := map[string]any{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		v, err := jsonschema.UnmarshalJSON(bytes.NewReader(trimmed))
		obj, ok := v.(map[string]any)
		if err != nil || !ok {
			return nil, &ValidationError{TopicID: t.ID, Issues: []string{"arguments must be a JSON object"}}
		}
		in = obj
	}
	for k, v := range in {
		if v == nil {
			delete(in, k)
		}
	}

	if t.schema == nil {
		return nil, fmt.Errorf("topic %s: schema not compiled", t.ID)
	}
	if err := t.schema.Validate(in); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		return nil, &ValidationError{TopicID: t.ID, Issues: issues(verr)}
	}

	out := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := in[f.Name]; ok {
			out[f.Name] = f.normalize(v)
		}
	}
	return out, nil
}

var printer = message.NewPrinter(language.English)

// issues flattens a validation error into one line per failed leaf, each
// prefixed with the offending field path.
func issues(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := strings.Join(verr.InstanceLocation, "/")
		if loc == "" {
			loc = "arguments"
		}
		return []string{loc + ": " + verr.ErrorKind.LocalizedString(printer)}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, issues(c)...)
	}
	return out
}

// normalize converts a validated value to its payload form: ratings become
// ints and lists become []string.
func (f Field) normalize(v any) any {
	switch f.Type {
	case FieldRating:
		if n, ok := v.(json.Number); ok {
			if x, err := n.Float64(); err == nil {
				return int(x)
			}
		}
	case FieldStringList, FieldEnumList:
		if items, ok := v.([]any); ok {
			list := make([]string, 0, len(items))
			for _, item := range items {
				s, _ := item.(string)
				list = append(list, s)
			}
			return list
		}
	}
	return v
}
