/*
Package providers implements the wire-format translation layer this proxy
uses to speak Anthropic's Messages API to clients while forwarding the
request to one of three upstream protocols: Anthropic (pass-through),
OpenAI-compatible chat completions, and Google Gemini.

# Provider Interface

Every provider implements:

	type Provider interface {
		Name() string
		SupportsStreaming() bool
		Transform(request []byte) ([]byte, error)
		TransformStream(chunk []byte, state *StreamState) ([]byte, error)
		IsStreaming(headers map[string][]string) bool
		GetEndpoint() string
		SetAPIKey(key string)
	}

Transform converts one full upstream response into an Anthropic response
body. TransformStream converts a single upstream SSE chunk into zero or
more Anthropic SSE events, threading state across chunks via StreamState.

# Streaming State Machine

OpenAI and Gemini both stream a sequence of partial deltas that must be
reassembled into Anthropic's content_block_start/delta/stop lifecycle.
StreamState/ContentBlockState (registry.go) track that lifecycle; the
shared dispatch and close/finish logic lives in base.go
(ConvertOpenAIStyleToAnthropicStream, HandleFinishReason,
closeOpenContentBlocks) and is reused by openai.go and gemini.go rather
than reimplemented per provider.

Two invariants the state machine must hold:
  - A content block open when a different-typed block is about to start
    (e.g. text still streaming when a tool_calls delta arrives) closes
    first. closeOpenContentBlocks enforces this and is called from every
    block-opening path.
  - content_block_stop events, including the implicit index-0 block
    close on a contentless finish_reason, are emitted in ascending index
    order — never via a raw range over the ContentBlocks map, since Go
    randomizes map iteration order.

# Adding a Provider

A new provider needs a Provider implementation, registration in
registry.go's Initialize and (optionally) GetByDomain, and, if it streams
in the OpenAI choices/delta shape, a StreamProviderInterface
implementation so it can reuse ConvertOpenAIStyleToAnthropicStream and
HandleFinishReason instead of duplicating the dispatch loop.
*/
package providers
