package provider

import "errors"

// Sentinel errors mapped from provider responses. Concrete clients wrap
// these with the response body so callers can branch with errors.Is and
// still see the upstream diagnostic.
var (
	// ErrRateLimit: the endpoint asked us to back off (HTTP 429).
	ErrRateLimit = errors.New("provider rate limited")

	// ErrContextLength: the conversation no longer fits the model's window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrProviderDown: transport failure or a 5xx response.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrAuthentication: the endpoint rejected the configured credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrStreamClosed: a background exchange ended without delivering a
	// result; the agent treats it as a severed stream.
	ErrStreamClosed = errors.New("stream ended unexpectedly")
)
