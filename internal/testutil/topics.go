package testutil

import "github.com/tjfontaine/deep-interviewer/internal/topic"

// ValidArgs returns arguments that pass t's validation, with every field
// set, optional ones included.
func ValidArgs(t topic.Topic) map[string]any {
	args := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		switch f.Type {
		case topic.FieldRating:
			args[f.Name] = 4
		case topic.FieldString:
			args[f.Name] = "Samenvatting van " + t.ID
		case topic.FieldBoolean:
			args[f.Name] = true
		case topic.FieldEnum:
			args[f.Name] = f.Values[0]
		case topic.FieldStringList:
			args[f.Name] = []string{"eerste", "tweede"}
		case topic.FieldEnumList:
			args[f.Name] = []string{f.Values[0]}
		}
	}
	return args
}
