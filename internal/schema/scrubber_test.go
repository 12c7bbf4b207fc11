package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubForGemini_RemovesUnsupportedFields(t *testing.T) {
	input := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"d": map[string]any{
				"type":    "string",
				"format":  "uuid",
				"default": "",
			},
		},
	}

	got := ScrubForGemini(input).(map[string]any)

	assert.NotContains(t, got, "additionalProperties")
	assert.NotContains(t, got, "default")
	props := got["properties"].(map[string]any)
	d := props["d"].(map[string]any)
	assert.NotContains(t, d, "format")
	assert.NotContains(t, d, "default")
	assert.Equal(t, "string", d["type"])
}

func TestScrubForGemini_KeepsAllowedFormats(t *testing.T) {
	input := map[string]any{
		"type":   "string",
		"format": "date-time",
	}
	got := ScrubForGemini(input).(map[string]any)
	assert.Equal(t, "date-time", got["format"])
}

func TestScrubForGemini_RecursesIntoArrayItems(t *testing.T) {
	input := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": true,
		},
	}
	got := ScrubForGemini(input).(map[string]any)
	items := got["items"].(map[string]any)
	assert.NotContains(t, items, "additionalProperties")
}

func TestScrubForGemini_Idempotent(t *testing.T) {
	input := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"d": map[string]any{"type": "string", "format": "email", "default": "x"},
		},
	}
	once := ScrubForGemini(input)
	twice := ScrubForGemini(once)
	assert.Equal(t, once, twice)
}
