package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/luaclaw/luaclaw/internal/provider"
)

func collect(t *testing.T, ch <-chan provider.StreamChunk) []provider.StreamChunk {
	t.Helper()
	var out []provider.StreamChunk
	for chunk := range ch {
		out = append(out, chunk)
	}
	return out
}

func TestAccumulatorMergesFragmentsByIndex(t *testing.T) {
	t.Parallel()

	ta := newToolAccumulator()
	ta.add(oaiStreamTool{Index: 0, ID: "call_1", Function: oaiToolFunction{Name: "run_script", Arguments: `{"sou`}})
	ta.add(oaiStreamTool{Index: 0, Function: oaiToolFunction{Arguments: `rce": "return 1"}`}})
	ta.add(oaiStreamTool{Index: 1, ID: "call_2", Function: oaiToolFunction{Name: "other", Arguments: `{}`}})

	got := ta.result()
	if len(got) != 2 {
		t.Fatalf("result len = %d, want 2", len(got))
	}
	if got[0].ID != "call_1" || got[0].Name != "run_script" {
		t.Fatalf("call 0 = %+v", got[0])
	}
	if string(got[0].Arguments) != `{"source": "return 1"}` {
		t.Fatalf("arguments = %s", got[0].Arguments)
	}
	if got[1].ID != "call_2" {
		t.Fatalf("call 1 = %+v", got[1])
	}
}

func TestAccumulatorFirstNameAndIDWin(t *testing.T) {
	t.Parallel()

	ta := newToolAccumulator()
	ta.add(oaiStreamTool{Index: 0, ID: "first", Function: oaiToolFunction{Name: "alpha"}})
	ta.add(oaiStreamTool{Index: 0, ID: "second", Function: oaiToolFunction{Name: "beta"}})

	got := ta.result()
	if len(got) != 1 || got[0].Name != "alpha" || got[0].ID != "first" {
		t.Fatalf("result = %+v", got)
	}
}

func TestAccumulatorDropsNamelessEntries(t *testing.T) {
	t.Parallel()

	ta := newToolAccumulator()
	ta.add(oaiStreamTool{Index: 0, Function: oaiToolFunction{Arguments: `{"orphan": true}`}})
	if got := ta.result(); got != nil {
		t.Fatalf("result = %+v, want nil", got)
	}
}

func TestAccumulatorKeepsUnparsableArguments(t *testing.T) {
	t.Parallel()

	ta := newToolAccumulator()
	ta.add(oaiStreamTool{Index: 0, Function: oaiToolFunction{Name: "run_script", Arguments: `{"broken":`}})

	got := ta.result()
	if len(got) != 1 {
		t.Fatalf("result = %+v", got)
	}
	// Invalid fragments are preserved as an opaque JSON string.
	var raw string
	if err := json.Unmarshal(got[0].Arguments, &raw); err != nil {
		t.Fatalf("arguments not a JSON string: %s", got[0].Arguments)
	}
	if raw != `{"broken":` {
		t.Fatalf("raw = %q", raw)
	}
}

func sseBody(lines ...string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n")))
}

func TestParseSSEStreamContentAndDone(t *testing.T) {
	t.Parallel()

	scanner := sseBody(
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data:{"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)
	chunks := collect(t, parseSSEStream(context.Background(), scanner))

	var content strings.Builder
	var finish provider.FinishReason
	for _, c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected Err: %v", c.Err)
		}
		content.WriteString(c.Content)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if content.String() != "Hello" {
		t.Fatalf("content = %q", content.String())
	}
	if finish != provider.FinishReasonStop {
		t.Fatalf("finish = %q", finish)
	}
}

func TestParseSSEStreamToolCallFinalizedOnFinishReason(t *testing.T) {
	t.Parallel()

	scanner := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"run_script","arguments":"{\"source\""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":": \"return 2\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)
	chunks := collect(t, parseSSEStream(context.Background(), scanner))

	var calls []provider.ToolCall
	for _, c := range chunks {
		calls = append(calls, c.ToolCalls...)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Name != "run_script" || string(calls[0].Arguments) != `{"source": "return 2"}` {
		t.Fatalf("call = %+v", calls[0])
	}
}

func TestParseSSEStreamFinalizesOnAbruptEnd(t *testing.T) {
	t.Parallel()

	// No [DONE], no finish_reason: tool calls still surface when the body ends.
	scanner := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"run_script","arguments":"{}"}}]}}]}`,
	)
	chunks := collect(t, parseSSEStream(context.Background(), scanner))

	found := false
	for _, c := range chunks {
		if len(c.ToolCalls) > 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("tool calls not finalized on stream end")
	}
}

func TestParseSSEStreamDoesNotDuplicateToolCalls(t *testing.T) {
	t.Parallel()

	scanner := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"run_script","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)
	chunks := collect(t, parseSSEStream(context.Background(), scanner))

	emissions := 0
	for _, c := range chunks {
		if len(c.ToolCalls) > 0 {
			emissions++
		}
	}
	if emissions != 1 {
		t.Fatalf("tool calls emitted %d times, want 1", emissions)
	}
}
