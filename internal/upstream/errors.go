// Package upstream defines the typed error taxonomy the proxy raises
// for failures talking to an upstream provider, so handlers can map each
// one to the right HTTP status without string-matching error messages.
package upstream

import "fmt"

// MissingAPIKeyError means no API key could be resolved for a provider;
// the request fails before any upstream I/O is attempted.
type MissingAPIKeyError struct {
	Provider string
}

func (e *MissingAPIKeyError) Error() string {
	return fmt.Sprintf("missing API key for provider %q", e.Provider)
}

// RequestFailedError means the HTTP round trip to the upstream itself
// failed (DNS, TLS, connection refused, timeout) before any response
// headers were received.
type RequestFailedError struct {
	Detail string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("upstream request failed: %s", e.Detail)
}

// UpstreamError means the upstream responded with a non-2xx status; the
// body is surfaced to the client verbatim.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// ParseError means an upstream response body could not be decoded into
// the shape its wire format promises.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse upstream response: %s", e.Detail)
}

// StreamError means a streaming response failed mid-transport, after at
// least some bytes were already read from the upstream.
type StreamError struct {
	Detail string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Detail)
}

// StatusCode maps an upstream error to the HTTP status the proxy should
// return to its client. Non-upstream errors map to 500.
func StatusCode(err error) int {
	switch e := err.(type) {
	case *MissingAPIKeyError:
		return 401
	case *RequestFailedError:
		return 502
	case *ParseError:
		return 500
	case *StreamError:
		return 500
	case *UpstreamError:
		if e.Status < 100 || e.Status > 599 {
			return 502
		}
		return e.Status
	default:
		return 500
	}
}
