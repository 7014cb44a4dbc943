package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/luaclaw/luaclaw/internal/patch"
	"github.com/luaclaw/luaclaw/internal/quote"
	"github.com/luaclaw/luaclaw/internal/workspace"
)

// MaxFileSize caps read_file and patch_file targets.
const MaxFileSize = 10 * 1024 * 1024

// Host is the capability surface injected into the interpreter. The real
// implementation touches the filesystem and network; the preview
// implementation replaces the write-capable subset with recorders.
type Host interface {
	ReadFile(path string) (string, error)
	ListDir(path string) ([]DirEntry, error)
	WriteFile(path, contents string) error
	PatchFile(path, diff string) error
	RunCommand(ctx context.Context, cmd string, args []string) (CommandResult, error)
	HTTPRequest(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
	Search(pattern, dir string) (CommandResult, error)
	GitStatus(ctx context.Context) (CommandResult, error)
	Quote(ctx context.Context, symbol string) (quote.Quote, error)
	ListServers() ([]string, error)
	ListTools(server string) ([]string, error)
	LoadTool(server, tool string) (ToolFile, error)
}

// ToolFile is one entry from the workspace tool catalog under servers/.
type ToolFile struct {
	Path    string
	Content string
}

// DirEntry is one list_dir result row.
type DirEntry struct {
	Name  string
	IsDir bool
}

// CommandResult carries a subprocess-style outcome.
type CommandResult struct {
	Status int
	Stdout string
	Stderr string
}

// HTTPRequest is the http_request capability input.
type HTTPRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// HTTPResponse is the http_request capability output.
type HTTPResponse struct {
	Status  int
	Body    string
	Headers map[string]string
}

// QuoteSource supplies market quotes for the get_quote capability.
type QuoteSource interface {
	Latest(ctx context.Context, symbol string) (quote.Quote, error)
}

// localHost is the real capability implementation. Write-capable methods
// check allowWrites on every call; path-taking methods go through the
// workspace resolver.
type localHost struct {
	ws          *workspace.Workspace
	allowWrites bool
	http        *http.Client
	quotes      QuoteSource
}

func (h *localHost) ReadFile(path string) (string, error) {
	resolved, err := h.ws.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("sandbox: could not read %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("sandbox: %w: %s (%d bytes)", ErrTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("sandbox: could not read %s: %w", path, err)
	}
	return string(data), nil
}

func (h *localHost) ListDir(path string) ([]DirEntry, error) {
	resolved, err := h.ws.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("sandbox: could not list %s: %w", path, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (h *localHost) WriteFile(path, contents string) error {
	if !h.allowWrites {
		return ErrWritesDisabled
	}
	resolved, err := h.ws.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("sandbox: could not create parent dirs for %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("sandbox: could not write %s: %w", path, err)
	}
	return nil
}

func (h *localHost) PatchFile(path, diff string) error {
	if !h.allowWrites {
		return ErrWritesDisabled
	}
	resolved, err := h.ws.Resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("sandbox: could not stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return fmt.Errorf("sandbox: %w: %s (%d bytes)", ErrTooLarge, path, info.Size())
	}
	original, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("sandbox: could not read %s: %w", path, err)
	}
	p, err := patch.Parse(diff)
	if err != nil {
		return err
	}
	modified, err := patch.Apply(string(original), p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(resolved, []byte(modified), info.Mode().Perm()); err != nil {
		return fmt.Errorf("sandbox: could not write patched %s: %w", path, err)
	}
	return nil
}

func (h *localHost) RunCommand(ctx context.Context, cmd string, args []string) (CommandResult, error) {
	if !h.allowWrites {
		return CommandResult{}, fmt.Errorf("%w (run_command is write-gated)", ErrWritesDisabled)
	}
	return runInDir(ctx, h.ws.Root, cmd, args...)
}

func (h *localHost) HTTPRequest(ctx context.Context, req HTTPRequest) (HTTPResponse, error) {
	if req.URL == "" {
		return HTTPResponse{}, fmt.Errorf("sandbox: http_request needs url field")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), req.URL, body)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("sandbox: http_request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := h.http.Do(httpReq)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("sandbox: http_request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileSize))
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("sandbox: reading response body: %w", err)
	}
	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[strings.ToLower(name)] = resp.Header.Get(name)
	}
	return HTTPResponse{Status: resp.StatusCode, Body: string(respBody), Headers: headers}, nil
}

// Search walks the workspace in-process, keeping read-only mode free of
// subprocess execution. The result mimics grep -rn: status 0 when at
// least one line matched, 1 when none did.
func (h *localHost) Search(pattern, dir string) (CommandResult, error) {
	target := h.ws.Root
	if dir != "" {
		resolved, err := h.ws.Resolve(dir)
		if err != nil {
			return CommandResult{}, err
		}
		target = resolved
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return CommandResult{}, fmt.Errorf("sandbox: invalid search pattern: %w", err)
	}

	var out strings.Builder
	matched := false
	walkErr := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil || info.Size() > MaxFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matched = true
				fmt.Fprintf(&out, "%s:%d:%s\n", rel, i+1, line)
			}
		}
		return nil
	})
	if walkErr != nil {
		return CommandResult{}, fmt.Errorf("sandbox: search failed: %w", walkErr)
	}

	status := 1
	if matched {
		status = 0
	}
	return CommandResult{Status: status, Stdout: out.String()}, nil
}

// GitStatus shells out with a fixed argv; allowed in read-only mode.
func (h *localHost) GitStatus(ctx context.Context) (CommandResult, error) {
	res, err := runInDir(ctx, h.ws.Root, "git", "status", "--porcelain")
	if err != nil {
		return CommandResult{}, err
	}
	res.Stderr = ""
	return res, nil
}

func (h *localHost) Quote(ctx context.Context, symbol string) (quote.Quote, error) {
	if h.quotes == nil {
		return quote.Quote{}, fmt.Errorf("sandbox: no quote source configured")
	}
	return h.quotes.Latest(ctx, symbol)
}

// ListServers enumerates the directories under <workspace>/servers. A
// missing catalog is an empty one, not an error.
func (h *localHost) ListServers() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(h.ws.Root, "servers"))
	if err != nil {
		return nil, nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ListTools enumerates the files inside one server's catalog directory.
func (h *localHost) ListTools(server string) ([]string, error) {
	if err := singleComponent(server, "server"); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(h.ws.Root, "servers", server))
	if err != nil {
		return nil, nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// LoadTool reads one catalog file and returns its path and contents.
func (h *localHost) LoadTool(server, tool string) (ToolFile, error) {
	if err := singleComponent(server, "server"); err != nil {
		return ToolFile{}, err
	}
	if err := singleComponent(tool, "tool"); err != nil {
		return ToolFile{}, err
	}
	path := filepath.Join(h.ws.Root, "servers", server, tool)
	data, err := os.ReadFile(path)
	if err != nil {
		return ToolFile{}, fmt.Errorf("failed to load tool %s: %v", path, err)
	}
	return ToolFile{Path: path, Content: string(data)}, nil
}

// singleComponent rejects catalog names that could escape their directory:
// anything empty, absolute, or containing a separator or dot segment.
func singleComponent(value, kind string) error {
	if value == "" || value == "." || value == ".." ||
		strings.ContainsRune(value, '/') || strings.ContainsRune(value, filepath.Separator) {
		return fmt.Errorf("%s name must be a single path segment", kind)
	}
	return nil
}

func runInDir(ctx context.Context, dir, cmd string, args ...string) (CommandResult, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = dir
	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	status := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return CommandResult{}, fmt.Errorf("sandbox: failed to run %s: %w", cmd, err)
		}
		status = exitErr.ExitCode()
	}
	return CommandResult{Status: status, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
