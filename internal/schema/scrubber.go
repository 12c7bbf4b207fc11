// Package schema scrubs Anthropic/OpenAPI-style JSON Schemas down to the
// restricted dialect Gemini's function-calling API accepts.
package schema

import "encoding/json"

// Clone deep-copies a decoded JSON value (the map[string]any/[]any/
// scalar tree encoding/json produces) via a marshal/unmarshal round
// trip. Callers that pass a client's original request data into
// ScrubForGemini must clone first, since ScrubForGemini mutates in
// place and the original must survive unchanged.
func Clone(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var cloned any
	if err := json.Unmarshal(data, &cloned); err != nil {
		return v
	}
	return cloned
}

// allowedStringFormats are the only "format" values Gemini tolerates on
// a string-typed schema node; any other value is stripped.
var allowedStringFormats = map[string]bool{
	"enum":      true,
	"date-time": true,
}

// ScrubForGemini recursively removes fields Gemini's schema dialect
// does not support: additionalProperties and default everywhere, and
// format on string nodes unless it is one of the allowed values.
// It mutates the input in place and also returns it for convenience.
//
// Scrubbing an already-scrubbed schema is a no-op.
func ScrubForGemini(v any) any {
	switch node := v.(type) {
	case map[string]any:
		delete(node, "additionalProperties")
		delete(node, "default")

		if t, _ := node["type"].(string); t == "string" {
			if format, ok := node["format"].(string); ok && !allowedStringFormats[format] {
				delete(node, "format")
			}
		}

		for key, value := range node {
			node[key] = ScrubForGemini(value)
		}
		return node
	case []any:
		for i, item := range node {
			node[i] = ScrubForGemini(item)
		}
		return node
	default:
		return v
	}
}
