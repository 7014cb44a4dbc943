package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/luaclaw/luaclaw/internal/observability"
	"github.com/luaclaw/luaclaw/internal/provider"
	"github.com/luaclaw/luaclaw/internal/sandbox"
)

// Script origins for metrics labels.
const (
	originUser      = "user"
	originLLM       = "llm"
	originScheduled = "scheduled"
)

// tickInterval is how often the loop drains stream events while idle.
const tickInterval = 50 * time.Millisecond

// Config holds the dependencies for a Loop.
type Config struct {
	Provider    provider.Provider
	Executor    *sandbox.Executor
	AllowWrites bool
	Streaming   bool
	Macros      map[string]string

	// RebuildExecutor replaces the sandbox when the write flag changes at
	// runtime; capabilities close over the flag, so a flip needs a fresh
	// executor. Nil disables `/config set allow_writes`.
	RebuildExecutor func(allowWrites bool) (*sandbox.Executor, error)

	Recorder Recorder
	Metrics  *observability.Metrics
	Tracer   trace.Tracer
	Input    io.Reader
	Output   io.Writer
	Logger   *slog.Logger
}

// Loop is the interactive agent: it owns the conversation, the tool log, the
// approval queue, and at most one in-flight LLM exchange. All state is
// mutated from the Run goroutine; external callers reach it only through
// EnqueueScript.
type Loop struct {
	provider    provider.Provider
	executor    *sandbox.Executor
	allowWrites bool
	streaming   bool
	macros      map[string]string
	rebuild     func(bool) (*sandbox.Executor, error)

	recorder Recorder
	metrics  *observability.Metrics
	tracer   trace.Tracer
	in       io.Reader
	out      io.Writer
	logger   *slog.Logger

	messages   []provider.LLMMessage
	toolLogs   []ToolLogEntry
	pending    []PendingTool
	nextToolID int
	active     *activeStream
	scripts    chan ScheduledScript
	quit       bool
}

// activeStream tracks one in-flight streaming exchange. The result channel
// carries exactly one value after events closes; a close without a value
// means the stream worker died.
type activeStream struct {
	events chan provider.StreamChunk
	result chan error
	index  int
	span   trace.Span
}

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("agent: executor is required")
	}
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		provider:    cfg.Provider,
		executor:    cfg.Executor,
		allowWrites: cfg.AllowWrites,
		streaming:   cfg.Streaming,
		macros:      cfg.Macros,
		rebuild:     cfg.RebuildExecutor,
		recorder:    cfg.Recorder,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		in:          cfg.Input,
		out:         cfg.Output,
		logger:      cfg.Logger,
		scripts:     make(chan ScheduledScript, 16),
	}, nil
}

// EnqueueScript submits a script from outside the conversation (cron jobs).
// Returns false when the queue is full.
func (l *Loop) EnqueueScript(s ScheduledScript) bool {
	select {
	case l.scripts <- s:
		return true
	default:
		return false
	}
}

// Run drives the REPL until EOF, /quit, or context cancellation.
func (l *Loop) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(l.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	l.say("Welcome to luaclaw — /lua runs a script, /tool manages approvals, /quit exits.")
	l.prompt()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("agent: read input: %w", err)
				}
				return nil
			}
			l.HandleInput(ctx, line)
			if l.quit {
				return nil
			}
			if l.active == nil {
				l.prompt()
			}
		case s := <-l.scripts:
			l.runScript(ctx, "Scheduled: "+s.Name, s.Source, "", originScheduled)
			l.prompt()
		case <-ticker.C:
			if l.pollActiveStream(ctx) {
				l.prompt()
			}
		}
	}
}

func (l *Loop) prompt() {
	fmt.Fprint(l.out, "> ")
}

// HandleInput processes one line of user input: macro expansion, slash
// commands, or an LLM exchange.
func (l *Loop) HandleInput(ctx context.Context, input string) {
	text := strings.TrimSpace(input)
	if text == "" {
		return
	}

	if l.active != nil {
		l.say("Hang on, I'm still finishing the previous response.")
		return
	}

	text = expandMacro(text, l.macros)
	l.push(provider.LLMMessage{Role: provider.MessageRoleUser, Content: text})

	if text == "/quit" || text == "/exit" {
		l.quit = true
		return
	}
	if cmd, ok := parseToolCommand(text); ok {
		l.handleToolCommand(ctx, cmd)
		return
	}
	if action, ok := parseLuaCommand(text); ok {
		l.handleLuaAction(ctx, action)
		return
	}
	if target, ok := parseReviewCommand(text); ok {
		l.handleReview(ctx, target)
		return
	}
	if ticker, ok := parseContextCommand(text); ok {
		l.handleContext(ctx, ticker)
		return
	}
	if cmd, ok := parseConfigCommand(text); ok {
		l.handleConfigCommand(cmd)
		return
	}
	l.invokeLLM(ctx)
}

// push appends a message, persists it, and prints non-user content.
func (l *Loop) push(msg provider.LLMMessage) {
	l.messages = append(l.messages, msg)
	l.record(string(msg.Role), msg.Content)
	if msg.Role != provider.MessageRoleUser {
		fmt.Fprintln(l.out, msg.Content)
	}
}

func (l *Loop) say(text string) {
	l.push(provider.LLMMessage{Role: provider.MessageRoleAssistant, Content: text})
}

func (l *Loop) record(role, content string) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordMessage(role, content); err != nil {
		l.logger.Warn("session record failed", "error", err)
	}
}

func (l *Loop) recordToolLog(entry ToolLogEntry) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordToolLog(entry); err != nil {
		l.logger.Warn("tool log record failed", "error", err)
	}
}

// --- LLM invocation ---

func (l *Loop) invokeLLM(ctx context.Context) {
	req := provider.CompletionRequest{
		Messages: append(
			[]provider.LLMMessage{{Role: provider.MessageRoleSystem, Content: buildSystemPrompt(l.allowWrites)}},
			l.messages...,
		),
		Tools: []provider.ToolDefinition{buildScriptTool(l.allowWrites)},
	}

	l.logger.Info("invoking LLM", "streaming", l.streaming, "model", l.provider.ModelName())

	if l.streaming {
		l.startStream(ctx, req)
	} else {
		l.completeOnce(ctx, req)
	}
}

func (l *Loop) completeOnce(ctx context.Context, req provider.CompletionRequest) {
	ctx, span := l.tracer.Start(ctx, "llm.exchange")
	defer span.End()

	resp, err := l.provider.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		l.countLLM("error")
		l.say(fmt.Sprintf("LLM error: %v", err))
		return
	}
	l.countLLM("ok")
	l.countTokens(resp.Usage)

	if len(resp.ToolCalls) > 0 {
		for _, call := range resp.ToolCalls {
			l.handleToolCall(ctx, call)
		}
		return
	}
	l.say(resp.Content)
}

func (l *Loop) startStream(ctx context.Context, req provider.CompletionRequest) {
	// Placeholder assistant message; deltas append to it in order.
	index := len(l.messages)
	l.messages = append(l.messages, provider.LLMMessage{Role: provider.MessageRoleAssistant})

	events := make(chan provider.StreamChunk, 64)
	result := make(chan error, 1)
	ctx, span := l.tracer.Start(ctx, "llm.exchange")

	go func() {
		defer close(result)
		defer close(events)
		ch, err := l.provider.Stream(ctx, req)
		if err != nil {
			result <- err
			return
		}
		for chunk := range ch {
			if chunk.Err != nil {
				result <- chunk.Err
				return
			}
			select {
			case events <- chunk:
			case <-ctx.Done():
				result <- ctx.Err()
				return
			}
		}
		result <- nil
	}()

	l.active = &activeStream{events: events, result: result, index: index, span: span}
}

// pollActiveStream drains pending stream events and, once the event channel
// closes, settles the exchange. Returns true when the exchange finished this
// tick.
func (l *Loop) pollActiveStream(ctx context.Context) bool {
	a := l.active
	if a == nil {
		return false
	}

	eventsDone := false
drain:
	for {
		select {
		case chunk, ok := <-a.events:
			if !ok {
				eventsDone = true
				break drain
			}
			l.applyChunk(ctx, a, chunk)
		default:
			break drain
		}
	}
	if !eventsDone {
		return false
	}

	select {
	case err, ok := <-a.result:
		a.span.End()
		l.active = nil
		switch {
		case !ok:
			// Worker died without reporting: same as a severed stream.
			l.removeMessage(a.index)
			l.countLLM("error")
			l.logger.Warn("stream worker vanished", "error", provider.ErrStreamClosed)
			l.say("LLM stream ended unexpectedly.")
		case err != nil:
			l.removeMessage(a.index)
			l.countLLM("error")
			l.say(fmt.Sprintf("LLM error: %v", err))
		default:
			l.countLLM("ok")
			l.finishStreamMessage(a.index)
		}
		return true
	default:
		return false
	}
}

func (l *Loop) applyChunk(ctx context.Context, a *activeStream, chunk provider.StreamChunk) {
	if chunk.Content != "" {
		l.messages[a.index].Content += chunk.Content
		fmt.Fprint(l.out, chunk.Content)
	}
	if chunk.Usage != nil {
		l.countTokens(*chunk.Usage)
	}
	for _, call := range chunk.ToolCalls {
		l.handleToolCall(ctx, call)
	}
}

// finishStreamMessage settles the placeholder after a clean stream: empty
// placeholders vanish (tool-only turns), everything else gets persisted.
func (l *Loop) finishStreamMessage(index int) {
	if index >= len(l.messages) {
		return
	}
	if l.messages[index].Content == "" && len(l.messages[index].ToolCalls) == 0 {
		l.removeMessage(index)
		return
	}
	fmt.Fprintln(l.out)
	l.record(string(provider.MessageRoleAssistant), l.messages[index].Content)
}

func (l *Loop) removeMessage(index int) {
	if index >= len(l.messages) {
		return
	}
	l.messages = slices.Delete(l.messages, index, index+1)
}

// --- tool calls ---

func (l *Loop) handleToolCall(ctx context.Context, call provider.ToolCall) {
	l.logger.Info("handling tool call", "tool", call.Name)
	if call.Name != ScriptToolName {
		l.say(renderToolInvocation(call))
		return
	}

	req, err := ParseScriptRequest(call.Arguments)
	if err != nil {
		l.say(fmt.Sprintf("Invalid `%s` request: %v", ScriptToolName, err))
		return
	}

	var b strings.Builder
	if req.Reason != "" {
		fmt.Fprintf(&b, "LLM requested `%s` with reason:\n%s\n\n", ScriptToolName, req.Reason)
	} else {
		fmt.Fprintf(&b, "LLM requested `%s`.\n", ScriptToolName)
	}
	fmt.Fprintf(&b, "Script:\n```lua\n%s\n```\n", req.Source)
	if l.allowWrites {
		b.WriteString("Writes are enabled, so this run is queued. Use `/tool run` to approve or `/tool skip` to cancel.\n")
	} else {
		b.WriteString("Sandbox is read-only; executing immediately.\n")
	}
	l.renderToolSummary(b.String(), call)

	title := fmt.Sprintf("LLM %s", ScriptToolName)
	if req.Reason != "" {
		title = fmt.Sprintf("LLM %s: %s", ScriptToolName, truncateSummary(req.Reason))
	}

	if l.allowWrites {
		l.queueScriptTool(ctx, title, req, call.ID)
	} else {
		l.runScript(ctx, title, req.Source, call.ID, originLLM)
	}
}

// renderToolSummary folds the summary into the streaming placeholder when one
// is active so the transcript keeps the call next to its surrounding prose.
func (l *Loop) renderToolSummary(summary string, call provider.ToolCall) {
	if l.active != nil {
		m := &l.messages[l.active.index]
		if m.Content != "" {
			m.Content += "\n"
			fmt.Fprintln(l.out)
		}
		m.Content += summary
		m.ToolCalls = append(m.ToolCalls, call)
		fmt.Fprint(l.out, summary)
		return
	}
	l.messages = append(l.messages, provider.LLMMessage{
		Role:      provider.MessageRoleAssistant,
		Content:   summary,
		ToolCalls: []provider.ToolCall{call},
	})
	l.record(string(provider.MessageRoleAssistant), summary)
	fmt.Fprintln(l.out, summary)
}

// --- script execution ---

func (l *Loop) runScript(ctx context.Context, title, script, callID, origin string) {
	entryID := l.createToolLogEntry(title, script)
	l.executeEntry(ctx, entryID, script, callID, origin)
}

func (l *Loop) createToolLogEntry(title, detail string) int {
	id := l.nextToolID
	l.nextToolID++
	entry := ToolLogEntry{ID: id, Title: title, Status: ToolStatusPending, Detail: detail}
	l.toolLogs = append(l.toolLogs, entry)
	l.recordToolLog(entry)
	return id
}

func (l *Loop) updateToolLog(id int, status ToolStatus, detail string) {
	for i := range l.toolLogs {
		if l.toolLogs[i].ID == id {
			l.toolLogs[i].Status = status
			l.toolLogs[i].Detail = detail
			l.recordToolLog(l.toolLogs[i])
			return
		}
	}
}

func (l *Loop) executeEntry(ctx context.Context, entryID int, script, callID, origin string) {
	ctx, span := l.tracer.Start(ctx, "script.run")
	defer span.End()

	start := time.Now()
	out, err := l.executor.Run(ctx, script)
	l.observeScript(origin, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		msg := fmt.Sprintf("Lua error: %v", err)
		l.pushToolResult(callID, msg)
		l.updateToolLog(entryID, ToolStatusError, msg)
		return
	}

	rendered := renderExecution(out)
	l.pushToolResult(callID, rendered)
	l.updateToolLog(entryID, ToolStatusSuccess, rendered)
}

func (l *Loop) pushToolResult(callID, content string) {
	l.push(provider.LLMMessage{
		Role:    provider.MessageRoleTool,
		Content: content,
		ToolID:  callID,
	})
}

// --- approval queue ---

func (l *Loop) queueScriptTool(ctx context.Context, title string, req ScriptRequest, callID string) {
	var b strings.Builder
	if req.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", req.Reason)
	}
	fmt.Fprintf(&b, "Script:\n%s\n", req.Source)

	// Dry-run the side effects so the user can judge the approval.
	preview, err := l.executor.Preview(ctx, req.Source)
	if err != nil {
		fmt.Fprintf(&b, "\n--- PREVIEW ERROR ---\nFailed to generate preview: %v\n", err)
	} else {
		fmt.Fprintf(&b, "\n--- PREVIEW ---\n%s\n", preview)
	}

	entryID := l.createToolLogEntry(title, b.String())
	l.pending = append(l.pending, PendingTool{
		EntryID: entryID,
		Title:   title,
		Script:  req.Source,
		Reason:  req.Reason,
		CallID:  callID,
	})
}

func (l *Loop) handleToolCommand(ctx context.Context, cmd toolCommand) {
	if cmd.run {
		l.runPendingTool(ctx, cmd.entryID)
	} else {
		l.skipPendingTool(cmd.entryID)
	}
}

func (l *Loop) runPendingTool(ctx context.Context, entryID *int) {
	p, ok := l.takePendingTool(entryID)
	if !ok {
		l.say(fmt.Sprintf("No queued %s requests to execute.", ScriptToolName))
		return
	}
	label := p.Title
	if p.Reason != "" {
		label = truncateSummary(p.Reason)
	}
	l.say(fmt.Sprintf("Approved queued %s (`%s`) — executing now (entry #%d)", ScriptToolName, label, p.EntryID))
	l.executeEntry(ctx, p.EntryID, p.Script, p.CallID, originLLM)
}

func (l *Loop) skipPendingTool(entryID *int) {
	p, ok := l.takePendingTool(entryID)
	if !ok {
		l.say(fmt.Sprintf("No queued %s requests to cancel.", ScriptToolName))
		return
	}
	label := p.Title
	if p.Reason != "" {
		label = truncateSummary(p.Reason)
	}
	l.updateToolLog(p.EntryID, ToolStatusError, "Canceled before execution.")
	l.say(fmt.Sprintf("Canceled queued %s (`%s`) (entry #%d)", ScriptToolName, label, p.EntryID))
}

func (l *Loop) takePendingTool(entryID *int) (PendingTool, bool) {
	if entryID != nil {
		for i, p := range l.pending {
			if p.EntryID == *entryID {
				l.pending = slices.Delete(l.pending, i, i+1)
				return p, true
			}
		}
		return PendingTool{}, false
	}
	if len(l.pending) == 0 {
		return PendingTool{}, false
	}
	p := l.pending[0]
	l.pending = l.pending[1:]
	return p, true
}

// --- slash commands ---

func (l *Loop) handleLuaAction(ctx context.Context, action luaAction) {
	if action.reset {
		if err := l.executor.Reset(); err != nil {
			l.say(fmt.Sprintf("Failed to reset Lua environment: %v", err))
			return
		}
		l.say("Lua environment reset. Global variables cleared.")
		return
	}
	if action.script == "" {
		l.say("Lua command needs a script.")
		return
	}
	l.runScript(ctx, "Lua script", action.script, "", originUser)
}

func (l *Loop) handleReview(ctx context.Context, target string) {
	script := fmt.Sprintf(`
local status = host.git_status().stdout
if status == "" and %q == "" then
    return "Working tree clean, nothing to review."
end

local diff_cmd = { "diff" }
if %q ~= "" then
    table.insert(diff_cmd, %q)
end

local diff = host.run_command("git", diff_cmd).stdout
if diff == "" then
    return "No changes found for review."
end

return "Here is the diff for review:\n" .. diff
`, target, target, target)

	title := fmt.Sprintf("Reviewing changes in `%s` (or staged/working if empty).", target)
	l.runScript(ctx, title, script, "", originUser)
}

func (l *Loop) handleContext(ctx context.Context, ticker string) {
	if ticker == "" {
		l.say("Usage: /context <TICKER>")
		return
	}
	script := fmt.Sprintf(`
local quote = host.get_quote(%q)
host.set_context({
    active_ticker = %q,
    price = quote.price,
    change_percent = 0.0,
    headlines = { "Manually set context to " .. %q },
    technical_summary = "Loaded via /context"
})
return "Context updated to " .. %q
`, ticker, ticker, ticker, ticker)

	l.runScript(ctx, fmt.Sprintf("Fetch context for %s", ticker), script, "", originUser)
}

func (l *Loop) handleConfigCommand(cmd configCommand) {
	switch cmd.action {
	case "show":
		l.say(fmt.Sprintf("Current config:\n```\nmodel: %s\nstreaming: %t\nallow_writes: %t\n```",
			l.provider.ModelName(), l.streaming, l.allowWrites))
	case "set":
		if cmd.key == "" {
			l.say("Missing key.")
			return
		}
		if cmd.key != "allow_writes" {
			l.say(fmt.Sprintf("Unknown config key `%s`. Supported: allow_writes", cmd.key))
			return
		}
		if cmd.value == "" {
			l.say("Missing value (true/false).")
			return
		}
		if cmd.value != "true" && cmd.value != "false" {
			l.say(fmt.Sprintf("Invalid value `%s` (true/false).", cmd.value))
			return
		}
		if l.rebuild == nil {
			l.say("Config changes are not supported in this session.")
			return
		}
		newVal := cmd.value == "true"
		executor, err := l.rebuild(newVal)
		if err != nil {
			l.say(fmt.Sprintf("Failed to update config: %v", err))
			return
		}
		l.executor.Close()
		l.executor = executor
		l.allowWrites = newVal
		l.say(fmt.Sprintf("Config `allow_writes` set to `%t`.", newVal))
	}
}

// --- metrics ---

func (l *Loop) countLLM(status string) {
	if l.metrics == nil {
		return
	}
	l.metrics.LLMRequestsTotal.WithLabelValues(l.provider.ModelName(), status).Inc()
}

func (l *Loop) countTokens(u provider.TokenUsage) {
	if l.metrics == nil {
		return
	}
	model := l.provider.ModelName()
	l.metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(u.PromptTokens))
	l.metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(u.CompletionTokens))
}

func (l *Loop) observeScript(origin string, d time.Duration, err error) {
	if l.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	l.metrics.ScriptRunsTotal.WithLabelValues(origin, status).Inc()
	l.metrics.ScriptRunDuration.WithLabelValues(origin).Observe(d.Seconds())
}
