// Package sandbox runs untrusted Lua scripts against a curated,
// permission-checked host capability table. Scripts have no ambient
// filesystem, network, or process access: everything flows through the
// injected `host` table, whose write-capable functions close over the
// write-permission flag at installation time.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/luaclaw/luaclaw/internal/workspace"
)

// Config assembles an Executor.
type Config struct {
	Workspace   *workspace.Workspace
	AllowWrites bool
	HTTPClient  *http.Client // nil means a default client with a 30s timeout
	Quotes      QuoteSource  // nil disables get_quote
	ContextSink func(json string)
	Logger      *slog.Logger
}

// Execution is the outcome of one script run.
type Execution struct {
	Value          string
	Logs           []string
	Stdout         []string
	Stderr         []string
	ContextUpdates []string
}

// Executor owns one persistent interpreter session. Globals survive
// across Run calls until Reset. Not safe for concurrent use: the control
// loop is the sole caller.
type Executor struct {
	state  *lua.LState
	host   *localHost
	buf    buffers
	ctx    ctxRef
	sink   func(string)
	logger *slog.Logger
}

// AllowWrites reports the flag the capability table was installed with.
func (e *Executor) AllowWrites() bool { return e.host.allowWrites }

// New creates an executor with a fresh interpreter and the capability
// table installed.
func New(cfg Config) (*Executor, error) {
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("sandbox: workspace is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	e := &Executor{
		host: &localHost{
			ws:          cfg.Workspace,
			allowWrites: cfg.AllowWrites,
			http:        httpClient,
			quotes:      cfg.Quotes,
		},
		sink:   cfg.ContextSink,
		logger: logger,
	}
	e.ctx.ctx = context.Background()

	if err := e.initState(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Executor) initState() error {
	L, err := newState()
	if err != nil {
		return err
	}
	if err := install(L, e.host, &e.buf, &e.ctx, e.sink); err != nil {
		L.Close()
		return err
	}
	if err := loadPrelude(L); err != nil {
		L.Close()
		return err
	}
	e.state = L
	return nil
}

// Run evaluates script in the persistent interpreter. Output buffers are
// cleared first, so an Execution reflects only this run. Interpreter
// failures surface as *ScriptError; globals set by earlier runs remain
// visible.
func (e *Executor) Run(ctx context.Context, script string) (Execution, error) {
	e.buf.clear()
	e.ctx.ctx = ctx
	defer func() { e.ctx.ctx = context.Background() }()

	value, err := eval(e.state, script, "tool")
	if err != nil {
		e.logger.Debug("sandbox: script failed", "error", err)
		return Execution{}, &ScriptError{Detail: err.Error()}
	}
	return Execution{
		Value:          renderValue(value),
		Logs:           e.buf.snapshotLogs(),
		Stdout:         e.buf.snapshotStdout(),
		Stderr:         e.buf.snapshotStderr(),
		ContextUpdates: e.buf.snapshotUpdates(),
	}, nil
}

// Reset discards the interpreter wholesale and reinstalls the capability
// table and prelude. Failure to reinstall leaves the executor unusable.
func (e *Executor) Reset() error {
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
	e.buf.clear()
	if err := e.initState(); err != nil {
		return fmt.Errorf("sandbox: reset failed: %w", err)
	}
	e.logger.Debug("sandbox: session reset")
	return nil
}

// Close releases the interpreter.
func (e *Executor) Close() {
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

// Preview runs script against a disposable interpreter whose write-capable
// capabilities are replaced with simulate-only recorders. Reads stay real.
// Script errors are swallowed: the report covers whatever side effects were
// recorded before the failure.
func (e *Executor) Preview(ctx context.Context, script string) (string, error) {
	L, err := newState()
	if err != nil {
		return "", err
	}
	defer L.Close()

	var buf buffers
	ref := ctxRef{ctx: ctx}
	ph := &previewHost{
		localHost: e.host,
		record:    func(msg string) { buf.logs = append(buf.logs, msg) },
	}
	if err := install(L, ph, &buf, &ref, nil); err != nil {
		return "", err
	}
	if err := loadPrelude(L); err != nil {
		return "", err
	}

	if _, err := eval(L, script, "preview"); err != nil {
		e.logger.Debug("sandbox: preview script failed", "error", err)
	}

	if len(buf.logs) == 0 {
		return "No write operations detected in script.", nil
	}
	return strings.Join(buf.logs, "\n"), nil
}

// newState builds an interpreter with only the base, table, string, and
// math libraries. os, io, dofile, and loadfile are absent.
func newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("sandbox: opening %s library: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "os", "io"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L, nil
}

// eval compiles script as an expression first so `return <script>` yields a
// value, falling back to a plain chunk for multi-statement scripts. The
// first returned value is kept, extras are dropped.
func eval(L *lua.LState, script, name string) (lua.LValue, error) {
	fn, err := L.Load(strings.NewReader("return "+script), name)
	if err != nil {
		fn, err = L.Load(strings.NewReader(script), name)
		if err != nil {
			return nil, err
		}
	}

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(base)
		return nil, err
	}
	ret := lua.LValue(lua.LNil)
	if L.GetTop() > base {
		ret = L.Get(base + 1)
	}
	L.SetTop(base)
	return ret, nil
}

// ctxRef lets installed bindings see the context of the run in flight.
type ctxRef struct {
	ctx context.Context
}

// buffers collects script output between Run calls. Owned solely by the
// executor goroutine.
type buffers struct {
	logs    []string
	stdout  []string
	stderr  []string
	updates []string
}

func (b *buffers) clear() {
	b.logs, b.stdout, b.stderr, b.updates = nil, nil, nil, nil
}

func (b *buffers) snapshotLogs() []string    { return append([]string(nil), b.logs...) }
func (b *buffers) snapshotStdout() []string  { return append([]string(nil), b.stdout...) }
func (b *buffers) snapshotStderr() []string  { return append([]string(nil), b.stderr...) }
func (b *buffers) snapshotUpdates() []string { return append([]string(nil), b.updates...) }
