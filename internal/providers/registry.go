package providers

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider is the contract each upstream wire protocol (Anthropic,
// OpenAI-compatible, Gemini) implements so the proxy can dispatch a
// request/response pair without knowing which upstream it's talking to.
type Provider interface {
	Name() string
	SupportsStreaming() bool
	Transform(request []byte) ([]byte, error)
	TransformStream(chunk []byte, state *StreamState) ([]byte, error)
	IsStreaming(headers map[string][]string) bool
	GetEndpoint() string
	SetAPIKey(key string)
}

// StreamState carries everything a provider's streaming translator needs
// to remember between SSE chunks: the Anthropic message_start it already
// emitted, and the lifecycle of every content block it has opened so far.
type StreamState struct {
	MessageStartSent bool
	MessageID        string
	Model            string
	InitialUsage     map[string]interface{}

	ContentBlocks map[int]*ContentBlockState
	CurrentIndex  int
}

// ContentBlockState tracks one Anthropic content block (text or
// tool_use) across the chunks that build it up.
type ContentBlockState struct {
	Type          string
	StartSent     bool
	StopSent      bool
	ToolCallID    string
	ToolCallIndex int // upstream tool-call index, for matching deltas across chunks
	ToolName      string
	Arguments     string // accumulated tool_use input JSON
}

// Registry holds the set of providers the proxy can dispatch a request to.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	provider, exists := r.providers[name]
	return provider, exists
}

// GetByDomain returns a provider based on the API base URL domain
func (r *Registry) GetByDomain(apiBase string) (Provider, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())

	domainProviderMap := map[string]string{
		"api.openai.com":                    "openai",
		"openai.com":                        "openai",
		"api.anthropic.com":                 "anthropic",
		"anthropic.com":                     "anthropic",
		"generativelanguage.googleapis.com": "gemini",
		"googleapis.com":                    "gemini",
	}

	if providerName, exists := domainProviderMap[domain]; exists {
		if provider, found := r.Get(providerName); found {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("no provider found for domain: %s", domain)
}

// List returns all registered provider names
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Initialize registers the three upstream protocols this proxy translates.
func (r *Registry) Initialize() {
	r.Register(NewOpenAIProvider())
	r.Register(NewAnthropicProvider())
	r.Register(NewGeminiProvider())
}
