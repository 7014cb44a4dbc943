package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/luaclaw/luaclaw/internal/provider"
	"github.com/luaclaw/luaclaw/internal/sandbox"
	"github.com/luaclaw/luaclaw/internal/workspace"
)

// scriptedProvider replays canned responses and stream chunks.
type scriptedProvider struct {
	completions []provider.CompletionResponse
	completeErr error
	chunks      [][]provider.StreamChunk
	blockStream bool
}

func (p *scriptedProvider) Complete(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
	if p.completeErr != nil {
		return provider.CompletionResponse{}, p.completeErr
	}
	if len(p.completions) == 0 {
		return provider.CompletionResponse{Content: "done", FinishReason: provider.FinishReasonStop}, nil
	}
	resp := p.completions[0]
	p.completions = p.completions[1:]
	return resp, nil
}

func (p *scriptedProvider) Stream(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, 16)
	if p.blockStream {
		return ch, nil // never closes: exchange stays in flight
	}
	var chunks []provider.StreamChunk
	if len(p.chunks) > 0 {
		chunks = p.chunks[0]
		p.chunks = p.chunks[1:]
	}
	go func() {
		defer close(ch)
		for _, c := range chunks {
			ch <- c
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) ModelName() string { return "scripted" }

var _ provider.Provider = (*scriptedProvider)(nil)

func newTestLoop(t *testing.T, prov provider.Provider, allowWrites, streaming bool) (*Loop, *bytes.Buffer, string) {
	t.Helper()

	dir := t.TempDir()
	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	executor, err := sandbox.New(sandbox.Config{Workspace: ws, AllowWrites: allowWrites})
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	t.Cleanup(executor.Close)

	var out bytes.Buffer
	l, err := New(Config{
		Provider:    prov,
		Executor:    executor,
		AllowWrites: allowWrites,
		Streaming:   streaming,
		Input:       strings.NewReader(""),
		Output:      &out,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &out, ws.Root
}

func scriptCall(id, args string) provider.ToolCall {
	return provider.ToolCall{ID: id, Name: ScriptToolName, Arguments: json.RawMessage(args)}
}

func settleStream(t *testing.T, l *Loop) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.active != nil {
		if time.Now().After(deadline) {
			t.Fatal("stream did not settle")
		}
		l.pollActiveStream(context.Background())
		time.Sleep(time.Millisecond)
	}
}

func lastMessage(t *testing.T, l *Loop) provider.LLMMessage {
	t.Helper()
	if len(l.messages) == 0 {
		t.Fatal("no messages")
	}
	return l.messages[len(l.messages)-1]
}

func TestLuaCommandRunsScript(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, false, false)
	l.HandleInput(context.Background(), "/lua return 1+1")

	msg := lastMessage(t, l)
	if msg.Role != provider.MessageRoleTool {
		t.Fatalf("role = %q", msg.Role)
	}
	if !strings.Contains(msg.Content, "Lua value:\n2") {
		t.Fatalf("content = %q", msg.Content)
	}
	if len(l.toolLogs) != 1 || l.toolLogs[0].Status != ToolStatusSuccess {
		t.Fatalf("tool logs = %+v", l.toolLogs)
	}
}

func TestLuaCommandWithoutScript(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, false, false)
	l.HandleInput(context.Background(), "/lua")

	if got := lastMessage(t, l).Content; got != "Lua command needs a script." {
		t.Fatalf("content = %q", got)
	}
}

func TestLuaResetClearsGlobals(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, false, false)
	l.HandleInput(context.Background(), "/lua x = 99")
	l.HandleInput(context.Background(), "/lua reset")

	if got := lastMessage(t, l).Content; got != "Lua environment reset. Global variables cleared." {
		t.Fatalf("content = %q", got)
	}

	l.HandleInput(context.Background(), "/lua return x")
	if !strings.Contains(lastMessage(t, l).Content, "Lua value:\nnil") {
		t.Fatalf("global survived reset: %q", lastMessage(t, l).Content)
	}
}

func TestToolCallRunsImmediatelyWhenReadOnly(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{completions: []provider.CompletionResponse{{
		ToolCalls:    []provider.ToolCall{scriptCall("call_1", `{"source":"return 40+2","reason":"math"}`)},
		FinishReason: provider.FinishReasonToolUse,
	}}}
	l, out, _ := newTestLoop(t, prov, false, false)

	l.HandleInput(context.Background(), "what is 40+2?")

	if !strings.Contains(out.String(), "Sandbox is read-only; executing immediately.") {
		t.Fatalf("output = %q", out.String())
	}
	msg := lastMessage(t, l)
	if msg.Role != provider.MessageRoleTool || msg.ToolID != "call_1" {
		t.Fatalf("msg = %+v", msg)
	}
	if !strings.Contains(msg.Content, "42") {
		t.Fatalf("content = %q", msg.Content)
	}
	if len(l.pending) != 0 {
		t.Fatalf("pending = %+v", l.pending)
	}
	if l.toolLogs[0].Title != "LLM "+ScriptToolName+": math" {
		t.Fatalf("title = %q", l.toolLogs[0].Title)
	}
}

func TestToolCallQueuedWhenWritesEnabled(t *testing.T) {
	t.Parallel()

	script := `host.write_file("note.txt", "queued")`
	args, _ := json.Marshal(map[string]string{"source": script, "reason": "write a note"})
	prov := &scriptedProvider{completions: []provider.CompletionResponse{{
		ToolCalls:    []provider.ToolCall{scriptCall("call_9", string(args))},
		FinishReason: provider.FinishReasonToolUse,
	}}}
	l, out, root := newTestLoop(t, prov, true, false)

	l.HandleInput(context.Background(), "write a note file")

	if len(l.pending) != 1 {
		t.Fatalf("pending = %+v", l.pending)
	}
	if _, err := os.Stat(filepath.Join(root, "note.txt")); !os.IsNotExist(err) {
		t.Fatal("file written before approval")
	}
	if !strings.Contains(out.String(), "this run is queued") {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(l.toolLogs[0].Detail, "--- PREVIEW ---") {
		t.Fatalf("detail = %q", l.toolLogs[0].Detail)
	}
	if !strings.Contains(l.toolLogs[0].Detail, "Would write to `note.txt`") {
		t.Fatalf("detail = %q", l.toolLogs[0].Detail)
	}

	// Approve: the file appears and the same log entry resolves.
	l.HandleInput(context.Background(), "/tool run")

	data, err := os.ReadFile(filepath.Join(root, "note.txt"))
	if err != nil {
		t.Fatalf("read after approval: %v", err)
	}
	if string(data) != "queued" {
		t.Fatalf("content = %q", data)
	}
	if l.toolLogs[0].Status != ToolStatusSuccess {
		t.Fatalf("status = %q", l.toolLogs[0].Status)
	}
	if len(l.pending) != 0 {
		t.Fatalf("pending after run = %+v", l.pending)
	}
	if !strings.Contains(out.String(), "Approved queued "+ScriptToolName) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestToolSkipCancelsQueuedScript(t *testing.T) {
	t.Parallel()

	args := `{"source":"host.write_file(\"skip.txt\", \"no\")"}`
	prov := &scriptedProvider{completions: []provider.CompletionResponse{{
		ToolCalls:    []provider.ToolCall{scriptCall("c", args)},
		FinishReason: provider.FinishReasonToolUse,
	}}}
	l, _, root := newTestLoop(t, prov, true, false)

	l.HandleInput(context.Background(), "please write skip.txt")
	l.HandleInput(context.Background(), "/tool skip")

	if _, err := os.Stat(filepath.Join(root, "skip.txt")); !os.IsNotExist(err) {
		t.Fatal("skipped script still wrote the file")
	}
	if l.toolLogs[0].Status != ToolStatusError || l.toolLogs[0].Detail != "Canceled before execution." {
		t.Fatalf("log = %+v", l.toolLogs[0])
	}
	if len(l.pending) != 0 {
		t.Fatalf("pending = %+v", l.pending)
	}
}

func TestToolRunByEntryID(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{completions: []provider.CompletionResponse{
		{ToolCalls: []provider.ToolCall{
			scriptCall("a", `{"source":"host.write_file(\"first.txt\", \"1\")"}`),
			scriptCall("b", `{"source":"host.write_file(\"second.txt\", \"2\")"}`),
		}, FinishReason: provider.FinishReasonToolUse},
	}}
	l, _, root := newTestLoop(t, prov, true, false)

	l.HandleInput(context.Background(), "write both files")
	if len(l.pending) != 2 {
		t.Fatalf("pending = %+v", l.pending)
	}

	// Run the second entry by id, out of FIFO order.
	second := l.pending[1].EntryID
	l.HandleInput(context.Background(), "/tool run "+strconv.Itoa(second))

	if _, err := os.Stat(filepath.Join(root, "second.txt")); err != nil {
		t.Fatalf("second.txt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "first.txt")); !os.IsNotExist(err) {
		t.Fatal("first.txt ran without approval")
	}
	if len(l.pending) != 1 || l.pending[0].CallID != "a" {
		t.Fatalf("pending = %+v", l.pending)
	}
}

func TestToolRunWithoutIDDrainsQueueInOrder(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{completions: []provider.CompletionResponse{
		{ToolCalls: []provider.ToolCall{
			scriptCall("a", `{"source":"host.write_file(\"first.txt\", \"1\")"}`),
			scriptCall("b", `{"source":"host.write_file(\"second.txt\", \"2\")"}`),
		}, FinishReason: provider.FinishReasonToolUse},
	}}
	l, _, root := newTestLoop(t, prov, true, false)

	l.HandleInput(context.Background(), "write both files")
	if len(l.pending) != 2 {
		t.Fatalf("pending = %+v", l.pending)
	}

	// First bare approval takes the oldest entry.
	l.HandleInput(context.Background(), "/tool run")
	if _, err := os.Stat(filepath.Join(root, "first.txt")); err != nil {
		t.Fatalf("first.txt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "second.txt")); !os.IsNotExist(err) {
		t.Fatal("second.txt ran ahead of the queue")
	}
	if len(l.pending) != 1 || l.pending[0].CallID != "b" {
		t.Fatalf("pending = %+v", l.pending)
	}

	l.HandleInput(context.Background(), "/tool run")
	if _, err := os.Stat(filepath.Join(root, "second.txt")); err != nil {
		t.Fatalf("second.txt: %v", err)
	}
	if len(l.pending) != 0 {
		t.Fatalf("pending = %+v", l.pending)
	}
	if l.toolLogs[0].Status != ToolStatusSuccess || l.toolLogs[1].Status != ToolStatusSuccess {
		t.Fatalf("logs = %+v", l.toolLogs)
	}
}

func TestToolRunWithEmptyQueue(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, true, false)
	l.HandleInput(context.Background(), "/tool run")
	if got := lastMessage(t, l).Content; got != "No queued "+ScriptToolName+" requests to execute." {
		t.Fatalf("content = %q", got)
	}
	l.HandleInput(context.Background(), "/tool skip")
	if got := lastMessage(t, l).Content; got != "No queued "+ScriptToolName+" requests to cancel." {
		t.Fatalf("content = %q", got)
	}
}

func TestInvalidToolArgumentsReported(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{completions: []provider.CompletionResponse{{
		ToolCalls:    []provider.ToolCall{scriptCall("c", `"raw text, not an object"`)},
		FinishReason: provider.FinishReasonToolUse,
	}}}
	l, _, _ := newTestLoop(t, prov, false, false)

	l.HandleInput(context.Background(), "go")

	got := lastMessage(t, l).Content
	if !strings.Contains(got, "Invalid `"+ScriptToolName+"` request:") {
		t.Fatalf("content = %q", got)
	}
	if len(l.toolLogs) != 0 {
		t.Fatalf("tool logs = %+v", l.toolLogs)
	}
}

func TestUnknownToolRendered(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{completions: []provider.CompletionResponse{{
		ToolCalls: []provider.ToolCall{{
			ID: "x1", Name: "weather", Arguments: json.RawMessage(`{"city":"Oslo"}`),
		}},
		FinishReason: provider.FinishReasonToolUse,
	}}}
	l, _, _ := newTestLoop(t, prov, false, false)

	l.HandleInput(context.Background(), "what's the weather")

	got := lastMessage(t, l).Content
	if !strings.Contains(got, "LLM requested tool `weather`") {
		t.Fatalf("content = %q", got)
	}
}

func TestLLMErrorSurfaced(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{completeErr: provider.ErrRateLimit}
	l, _, _ := newTestLoop(t, prov, false, false)

	l.HandleInput(context.Background(), "hello")

	got := lastMessage(t, l).Content
	if !strings.HasPrefix(got, "LLM error:") {
		t.Fatalf("content = %q", got)
	}
}

func TestStreamingExchangeAccumulatesDeltas(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{chunks: [][]provider.StreamChunk{{
		{Content: "Hel"},
		{Content: "lo"},
		{FinishReason: provider.FinishReasonStop},
	}}}
	l, out, _ := newTestLoop(t, prov, false, true)

	l.HandleInput(context.Background(), "say hello")
	settleStream(t, l)

	msg := lastMessage(t, l)
	if msg.Role != provider.MessageRoleAssistant || msg.Content != "Hello" {
		t.Fatalf("msg = %+v", msg)
	}
	if !strings.Contains(out.String(), "Hello") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestStreamingErrorRemovesPlaceholder(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{chunks: [][]provider.StreamChunk{{
		{Content: "partial"},
		{Err: provider.ErrStreamClosed},
	}}}
	l, _, _ := newTestLoop(t, prov, false, true)

	l.HandleInput(context.Background(), "hello")
	settleStream(t, l)

	msg := lastMessage(t, l)
	if !strings.HasPrefix(msg.Content, "LLM error:") {
		t.Fatalf("content = %q", msg.Content)
	}
	// The partial placeholder is gone: only the user turn and the error remain.
	if len(l.messages) != 2 {
		t.Fatalf("messages = %+v", l.messages)
	}
}

func TestStreamingToolCallMidStream(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{chunks: [][]provider.StreamChunk{{
		{Content: "Let me check."},
		{ToolCalls: []provider.ToolCall{scriptCall("s1", `{"source":"return 7"}`)}},
		{FinishReason: provider.FinishReasonToolUse},
	}}}
	l, _, _ := newTestLoop(t, prov, false, true)

	l.HandleInput(context.Background(), "check")
	settleStream(t, l)

	// Tool result lands after the (kept, non-empty) placeholder.
	msg := lastMessage(t, l)
	if msg.Role != provider.MessageRoleTool || !strings.Contains(msg.Content, "Lua value:\n7") {
		t.Fatalf("msg = %+v", msg)
	}
	if len(l.toolLogs) != 1 || l.toolLogs[0].Status != ToolStatusSuccess {
		t.Fatalf("tool logs = %+v", l.toolLogs)
	}
}

func TestInputRejectedWhileStreaming(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{blockStream: true}
	l, _, _ := newTestLoop(t, prov, false, true)

	l.HandleInput(context.Background(), "first question")
	if l.active == nil {
		t.Fatal("no active stream")
	}
	l.HandleInput(context.Background(), "second question")

	if got := lastMessage(t, l).Content; got != "Hang on, I'm still finishing the previous response." {
		t.Fatalf("content = %q", got)
	}
}

func TestMacroExpandsBeforeDispatch(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, false, false)
	l.macros = map[string]string{"five": "/lua return 5"}

	l.HandleInput(context.Background(), "@five")

	if !strings.Contains(lastMessage(t, l).Content, "Lua value:\n5") {
		t.Fatalf("content = %q", lastMessage(t, l).Content)
	}
}

func TestContextCommandWithoutTicker(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, false, false)
	l.HandleInput(context.Background(), "/context")
	if got := lastMessage(t, l).Content; got != "Usage: /context <TICKER>" {
		t.Fatalf("content = %q", got)
	}
}

func TestConfigShowAndSet(t *testing.T) {
	t.Parallel()

	l, _, root := newTestLoop(t, &scriptedProvider{}, false, false)

	l.HandleInput(context.Background(), "/config show")
	if !strings.Contains(lastMessage(t, l).Content, "allow_writes: false") {
		t.Fatalf("show = %q", lastMessage(t, l).Content)
	}

	// Without a rebuild hook the flag cannot flip.
	l.HandleInput(context.Background(), "/config set allow_writes true")
	if got := lastMessage(t, l).Content; got != "Config changes are not supported in this session." {
		t.Fatalf("content = %q", got)
	}

	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	l.rebuild = func(allowWrites bool) (*sandbox.Executor, error) {
		return sandbox.New(sandbox.Config{Workspace: ws, AllowWrites: allowWrites})
	}

	l.HandleInput(context.Background(), "/config set allow_writes true")
	if got := lastMessage(t, l).Content; got != "Config `allow_writes` set to `true`." {
		t.Fatalf("content = %q", got)
	}
	if !l.allowWrites || !l.executor.AllowWrites() {
		t.Fatal("write flag did not propagate to the new executor")
	}

	l.HandleInput(context.Background(), "/config set allow_writes")
	if got := lastMessage(t, l).Content; got != "Missing value (true/false)." {
		t.Fatalf("content = %q", got)
	}
	l.HandleInput(context.Background(), "/config set allow_writes banana")
	if got := lastMessage(t, l).Content; got != "Invalid value `banana` (true/false)." {
		t.Fatalf("content = %q", got)
	}
	if !l.allowWrites {
		t.Fatal("rejected value still flipped the write flag")
	}
	l.HandleInput(context.Background(), "/config set mystery on")
	if got := lastMessage(t, l).Content; got != "Unknown config key `mystery`. Supported: allow_writes" {
		t.Fatalf("content = %q", got)
	}
}

type capturingRecorder struct {
	messages []string
	logs     []ToolLogEntry
}

func (r *capturingRecorder) RecordMessage(role, content string) error {
	r.messages = append(r.messages, role+": "+content)
	return nil
}

func (r *capturingRecorder) RecordToolLog(entry ToolLogEntry) error {
	r.logs = append(r.logs, entry)
	return nil
}

func TestRecorderReceivesMessagesAndToolLogs(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, false, false)
	rec := &capturingRecorder{}
	l.recorder = rec

	l.HandleInput(context.Background(), "/lua return 3")

	if len(rec.messages) < 2 {
		t.Fatalf("messages = %+v", rec.messages)
	}
	if rec.messages[0] != "user: /lua return 3" {
		t.Fatalf("first = %q", rec.messages[0])
	}
	// Pending entry first, then the resolved one.
	if len(rec.logs) != 2 || rec.logs[0].Status != ToolStatusPending || rec.logs[1].Status != ToolStatusSuccess {
		t.Fatalf("logs = %+v", rec.logs)
	}
}

func TestEnqueueScriptBackpressure(t *testing.T) {
	t.Parallel()

	l, _, _ := newTestLoop(t, &scriptedProvider{}, false, false)
	for i := 0; i < cap(l.scripts); i++ {
		if !l.EnqueueScript(ScheduledScript{Name: "tick", Source: "return 1"}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	if l.EnqueueScript(ScheduledScript{Name: "overflow", Source: "return 1"}) {
		t.Fatal("full queue accepted a script")
	}
}
