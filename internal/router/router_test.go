package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultConfig() Config {
	return Config{
		PreferredProvider: OpenAI,
		BigModel:          "gpt-4.1",
		SmallModel:        "gpt-4.1-mini",
	}
}

func TestRoute_HaikuDefaulting(t *testing.T) {
	m := Route("claude-3-haiku-20240307", defaultConfig())
	assert.Equal(t, OpenAI, m.Provider)
	assert.Equal(t, "gpt-4.1-mini", m.UpstreamModel)
	assert.Equal(t, "openai/gpt-4.1-mini", m.Qualified)
}

func TestRoute_SonnetOnGemini(t *testing.T) {
	cfg := Config{PreferredProvider: Gemini, BigModel: "gemini-2.5-pro", SmallModel: "gpt-4.1-mini"}
	m := Route("claude-3-sonnet", cfg)
	assert.Equal(t, Gemini, m.Provider)
	assert.Equal(t, "gemini-2.5-pro", m.UpstreamModel)
}

func TestRoute_SonnetOnGoogleWithNonGeminiBigModel(t *testing.T) {
	// preferred provider is google but the configured big model isn't a
	// known Gemini model, so it falls back to OpenAI.
	cfg := Config{PreferredProvider: Gemini, BigModel: "gpt-4.1", SmallModel: "gpt-4.1-mini"}
	m := Route("claude-3-opus", cfg)
	assert.Equal(t, OpenAI, m.Provider)
	assert.Equal(t, "gpt-4.1", m.UpstreamModel)
}

func TestRoute_PrefixedPassthrough(t *testing.T) {
	m := Route("anthropic/claude-3-haiku", defaultConfig())
	assert.Equal(t, "openai/gpt-4.1-mini", m.Qualified)
}

func TestRoute_AnthropicPreferredShortCircuits(t *testing.T) {
	cfg := Config{PreferredProvider: Anthropic}
	m := Route("openai/claude-3-opus-custom", cfg)
	assert.Equal(t, Anthropic, m.Provider)
	assert.Equal(t, "claude-3-opus-custom", m.UpstreamModel)
}

func TestRoute_KnownModelSetsPassThroughUnchanged(t *testing.T) {
	cfg := defaultConfig()
	for model := range OpenAIModels {
		m := Route(model, cfg)
		assert.Equal(t, OpenAI, m.Provider)
		assert.Equal(t, model, m.UpstreamModel, "model mapping must round-trip for known OpenAI models")
	}
	for model := range GeminiModels {
		m := Route(model, cfg)
		assert.Equal(t, Gemini, m.Provider)
		assert.Equal(t, model, m.UpstreamModel, "model mapping must round-trip for known Gemini models")
	}
}

func TestRoute_UnknownModelPassesThroughWithPreferredProvider(t *testing.T) {
	cfg := Config{PreferredProvider: Gemini, BigModel: "gemini-2.5-pro", SmallModel: "gemini-2.5-flash"}
	m := Route("some-custom-model", cfg)
	assert.Equal(t, Gemini, m.Provider)
	assert.Equal(t, "some-custom-model", m.UpstreamModel)
}
