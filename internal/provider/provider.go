// Package provider defines the LLM client interface and the wire types
// shared by its implementations (provider/openai and the offline stub).
package provider

import "context"

// Provider is a chat-completion backend.
type Provider interface {
	// Complete performs one blocking exchange and returns the whole turn.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream performs one exchange incrementally. A failure to connect is
	// returned directly; failures after that arrive as StreamChunk.Err.
	// The returned channel closes when the turn is over.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ModelName identifies the underlying model for display and metrics.
	ModelName() string
}
