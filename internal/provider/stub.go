package provider

import (
	"context"
	"fmt"
	"strings"
)

// Stub is an offline provider for development and tests. It echoes the
// latest user prompt and nudges the user toward the script tool when the
// prompt mentions it.
type Stub struct{}

// NewStub creates a stub provider.
func NewStub() *Stub { return &Stub{} }

// Complete implements Provider.
func (s *Stub) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	turn := 0
	prompt := ""
	for _, m := range req.Messages {
		if m.Role == MessageRoleUser {
			turn++
			prompt = m.Content
		}
	}
	if turn == 0 {
		return CompletionResponse{}, fmt.Errorf("stub provider requires at least one user prompt")
	}

	trimmed := strings.TrimSpace(prompt)
	switch {
	case trimmed == "":
		return CompletionResponse{Content: "I need some text to work with.", FinishReason: FinishReasonStop}, nil
	case strings.Contains(trimmed, "lua"):
		return CompletionResponse{
			Content:      "Try `/lua host.read_file(\"go.mod\")` to inspect a file.",
			FinishReason: FinishReasonStop,
		}, nil
	default:
		return CompletionResponse{
			Content:      fmt.Sprintf("Stub agent turn %d heard: %q", turn, trimmed),
			FinishReason: FinishReasonStop,
		}, nil
	}
}

// Stream implements Provider by delivering the Complete result as a
// single delta followed by a stop.
func (s *Stub) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := s.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 2)
	if resp.Content != "" {
		ch <- StreamChunk{Content: resp.Content}
	}
	ch <- StreamChunk{FinishReason: resp.FinishReason}
	close(ch)
	return ch, nil
}

// ModelName implements Provider.
func (s *Stub) ModelName() string { return "stub" }
