package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate_CoarseCharDivision(t *testing.T) {
	req := Request{
		System: "abcd", // 4 chars
		Messages: []map[string]any{
			{"role": "user", "content": "efghijkl"}, // 8 chars
		},
		Tools: []map[string]any{
			{
				"name":         "xy",                               // 2 chars
				"input_schema": map[string]any{"type": "object"}, // 17 chars serialized
			},
		},
	}

	assert.Equal(t, 7, Estimate(req))
}

func TestEstimate_FloorsAtOne(t *testing.T) {
	req := Request{Messages: []map[string]any{{"role": "user", "content": "hi"}}}
	assert.Equal(t, 1, Estimate(req))
}

func TestEstimate_IgnoresNonTextBlocks(t *testing.T) {
	req := Request{
		Messages: []map[string]any{
			{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": "abcd"},
					map[string]any{"type": "image", "source": map[string]any{"data": "base64longstringthatshouldnotcount"}},
				},
			},
		},
	}
	assert.Equal(t, 1, Estimate(req))
}
