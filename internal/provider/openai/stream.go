package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luaclaw/luaclaw/internal/provider"
)

// oaiStreamChunk represents a single SSE chunk from the streaming API.
type oaiStreamChunk struct {
	Choices []oaiStreamChoice `json:"choices"`
	Usage   *oaiUsage         `json:"usage,omitempty"`
}

type oaiStreamChoice struct {
	Delta        oaiStreamDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type oaiStreamDelta struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []oaiStreamTool `json:"tool_calls,omitempty"`
}

type oaiStreamTool struct {
	Index    int             `json:"index"`
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function oaiToolFunction `json:"function"`
}

// toolAccumulator collects streaming tool-call deltas keyed by index.
// The first non-empty name and id win; argument text concatenates in
// arrival order.
type toolAccumulator struct {
	calls map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolAccumulator() *toolAccumulator {
	return &toolAccumulator{calls: make(map[int]*partialCall)}
}

// add merges one streaming delta into the accumulator.
func (ta *toolAccumulator) add(st oaiStreamTool) {
	pc, ok := ta.calls[st.Index]
	if !ok {
		pc = &partialCall{}
		ta.calls[st.Index] = pc
	}
	if pc.id == "" && st.ID != "" {
		pc.id = st.ID
	}
	if pc.name == "" && st.Function.Name != "" {
		pc.name = st.Function.Name
	}
	pc.args.WriteString(st.Function.Arguments)
}

// result finalizes the accumulated calls in index order. Entries that
// never received a name are dropped; argument text that is not valid JSON
// is carried as an opaque JSON string rather than discarded.
func (ta *toolAccumulator) result() []provider.ToolCall {
	if len(ta.calls) == 0 {
		return nil
	}
	maxIdx := 0
	for idx := range ta.calls {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	result := make([]provider.ToolCall, 0, len(ta.calls))
	for i := 0; i <= maxIdx; i++ {
		pc, ok := ta.calls[i]
		if !ok || pc.name == "" {
			continue
		}
		result = append(result, provider.ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: normalizeArguments(pc.args.String()),
		})
	}
	return result
}

// parseSSEStream reads an SSE response body and emits StreamChunks on the
// returned channel. Accumulated tool calls are finalized when the stream
// signals completion ([DONE] or a tool_calls finish reason) or when the
// body ends. The channel is closed when the stream ends.
func parseSSEStream(ctx context.Context, scanner *bufio.Scanner) <-chan provider.StreamChunk {
	ch := make(chan provider.StreamChunk, 16)

	go func() {
		defer close(ch)

		tools := newToolAccumulator()
		finalized := false
		finalize := func() {
			if finalized {
				return
			}
			finalized = true
			if tcs := tools.result(); len(tcs) > 0 {
				ch <- provider.StreamChunk{ToolCalls: tcs}
			}
		}

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				ch <- provider.StreamChunk{Err: err}
				return
			}

			line := scanner.Text()

			// SSE format: accept both "data: " and "data:"; some
			// OpenAI-compatible providers omit the space.
			var data string
			switch {
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			default:
				continue
			}

			if data == "[DONE]" {
				finalize()
				return
			}

			var chunk oaiStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				ch <- provider.StreamChunk{Err: fmt.Errorf("openai: parse SSE chunk: %w", err)}
				return
			}

			sc := provider.StreamChunk{}

			if chunk.Usage != nil {
				sc.Usage = &provider.TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}

			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]

				if choice.Delta.Content != "" {
					sc.Content = choice.Delta.Content
				}

				for _, tc := range choice.Delta.ToolCalls {
					tools.add(tc)
				}

				if choice.FinishReason != nil {
					sc.FinishReason = mapFinishReason(*choice.FinishReason)
					if sc.FinishReason == provider.FinishReasonToolUse {
						sc.ToolCalls = tools.result()
						finalized = true
					}
				}
			}

			if sc.Content != "" || sc.FinishReason != "" || sc.Usage != nil || len(sc.ToolCalls) > 0 {
				ch <- sc
			}
		}

		// Body ended without [DONE]: flush whatever accumulated, then
		// report the read error if any.
		finalize()
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				ch <- provider.StreamChunk{Err: ctx.Err()}
			} else {
				ch <- provider.StreamChunk{Err: fmt.Errorf("%w: stream read error: %w", provider.ErrProviderDown, err)}
			}
		}
	}()

	return ch
}
