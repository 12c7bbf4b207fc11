// Package router implements the model routing rules that decide, for a
// given Anthropic model name, which upstream provider and model to use.
package router

import "strings"

// Provider identifies an upstream target.
type Provider string

const (
	Anthropic Provider = "anthropic"
	OpenAI    Provider = "openai"
	Gemini    Provider = "gemini"
)

// OpenAIModels is the build-time known set of OpenAI model names.
var OpenAIModels = map[string]bool{
	"o3-mini":                    true,
	"o1":                         true,
	"o1-mini":                    true,
	"o1-pro":                     true,
	"gpt-4.5-preview":            true,
	"gpt-4o":                     true,
	"gpt-4o-audio-preview":       true,
	"chatgpt-4o-latest":          true,
	"gpt-4o-mini":                true,
	"gpt-4o-mini-audio-preview":  true,
	"gpt-4.1":                    true,
	"gpt-4.1-mini":               true,
}

// GeminiModels is the build-time known set of Gemini model names.
var GeminiModels = map[string]bool{
	"gemini-2.5-flash": true,
	"gemini-2.5-pro":   true,
}

// Config carries the routing preferences read from the environment
// (PREFERRED_PROVIDER, BIG_MODEL, SMALL_MODEL).
type Config struct {
	PreferredProvider Provider
	BigModel          string
	SmallModel        string
}

// Mapping is the result of routing a model name.
type Mapping struct {
	Provider      Provider
	UpstreamModel string
	Qualified     string
}

func qualify(p Provider, model string) Mapping {
	return Mapping{
		Provider:      p,
		UpstreamModel: model,
		Qualified:     string(p) + "/" + model,
	}
}

// Route maps a client-supplied model name to an upstream provider and
// model, following the same precedence as the proxy this gateway
// replaces:
//
//  1. strip any existing anthropic/, openai/, or gemini/ prefix
//  2. if the preferred provider is anthropic, pass the clean name
//     through to Anthropic untouched
//  3. haiku/sonnet/opus substring matches route to the small/big model,
//     preferring Gemini only when the preferred provider is Google and
//     the configured model is a known Gemini model
//  4. known Gemini/OpenAI model names pass straight through to their
//     provider
//  5. anything else passes through with the preferred provider's prefix
func Route(model string, cfg Config) Mapping {
	clean := strings.TrimPrefix(model, "anthropic/")
	clean = strings.TrimPrefix(clean, "openai/")
	clean = strings.TrimPrefix(clean, "gemini/")

	lower := strings.ToLower(clean)

	if cfg.PreferredProvider == Anthropic {
		return qualify(Anthropic, clean)
	}

	if strings.Contains(lower, "haiku") {
		return routeBySize(cfg, cfg.SmallModel, clean)
	}

	if strings.Contains(lower, "sonnet") || strings.Contains(lower, "opus") {
		return routeBySize(cfg, cfg.BigModel, clean)
	}

	if GeminiModels[clean] {
		return qualify(Gemini, clean)
	}

	if OpenAIModels[clean] {
		return qualify(OpenAI, clean)
	}

	provider := cfg.PreferredProvider
	if provider == "" {
		provider = OpenAI
	}
	return qualify(provider, clean)
}

// routeBySize resolves the haiku/sonnet/opus substitution: Gemini only
// when explicitly preferred and the substitute is a known Gemini model,
// OpenAI otherwise. The original request's model name is discarded in
// favor of the configured substitute; only the provider tag varies.
func routeBySize(cfg Config, substitute, _clean string) Mapping {
	if cfg.PreferredProvider == Gemini && GeminiModels[substitute] {
		return qualify(Gemini, substitute)
	}
	return qualify(OpenAI, substitute)
}
