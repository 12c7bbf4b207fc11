// Package tokencount implements the deliberately coarse token estimate
// used by the /v1/messages/count_tokens endpoint: total UTF-8 byte
// length of all text in the request divided by four, floored, with a
// floor of one token. Precision is a non-goal.
package tokencount

import (
	"encoding/json"
	"strings"
)

// Request is the subset of a count_tokens/messages request body this
// estimator reads from.
type Request struct {
	System   any              `json:"system,omitempty"`
	Messages []map[string]any `json:"messages,omitempty"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

// Estimate returns the coarse input-token estimate for req:
// max(1, floor(chars/4)) where chars sums the text runs counted by
// systemChars and contentChars plus each tool's name, description and
// serialized input_schema.
func Estimate(req Request) int {
	chars := systemChars(req.System)
	for _, msg := range req.Messages {
		chars += contentChars(msg["content"])
	}
	for _, tool := range req.Tools {
		if name, ok := tool["name"].(string); ok {
			chars += len(name)
		}
		if desc, ok := tool["description"].(string); ok {
			chars += len(desc)
		}
		if schema, ok := tool["input_schema"]; ok {
			chars += len(marshalCompact(schema))
		}
	}

	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func systemChars(system any) int {
	switch v := system.(type) {
	case string:
		return len(v)
	case []any:
		var sb strings.Builder
		for _, block := range v {
			if m, ok := block.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.Len()
	default:
		return 0
	}
}

// contentChars sums the text-bearing length of an Anthropic message
// content value, which may be a plain string or an array of content
// blocks (including tool_result blocks whose own content nests the
// same way). Non-text blocks (image, tool_use input, non-text
// tool_result items) are ignored, per the estimator's documented
// imprecision.
func contentChars(content any) int {
	switch v := content.(type) {
	case string:
		return len(v)
	case []any:
		total := 0
		for _, block := range v {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case "text":
				if text, ok := m["text"].(string); ok {
					total += len(text)
				}
			case "tool_result":
				total += contentChars(m["content"])
			}
		}
		return total
	default:
		return 0
	}
}

func marshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
