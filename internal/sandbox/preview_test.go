package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreviewRecordsWrites(t *testing.T) {
	t.Parallel()
	e, ws := newTestExecutor(t, true)

	report, err := e.Preview(context.Background(), "host.write_file('out.txt', 'hello')")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.Contains(report, "Would write to `out.txt` (5 bytes)") {
		t.Fatalf("report = %q", report)
	}
	if _, err := os.Stat(filepath.Join(ws.Root, "out.txt")); !os.IsNotExist(err) {
		t.Fatalf("preview performed a real write: %v", err)
	}
}

func TestPreviewRecordsCommands(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, true)

	report, err := e.Preview(context.Background(), "host.run_command('rm', {'-rf', 'everything'})")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.Contains(report, "Would run command: rm -rf everything") {
		t.Fatalf("report = %q", report)
	}
}

func TestPreviewSentinelWhenNoWrites(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, true)

	report, err := e.Preview(context.Background(), "return 1 + 1")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if report != "No write operations detected in script." {
		t.Fatalf("report = %q", report)
	}
}

func TestPreviewPatchDryRun(t *testing.T) {
	t.Parallel()
	e, ws := newTestExecutor(t, true)

	target := filepath.Join(ws.Root, "greeting.txt")
	if err := os.WriteFile(target, []byte("alpha\nbeta\ngamma"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	clean, err := e.Preview(context.Background(),
		`host.patch_file('greeting.txt', "@@ -1,3 +1,3 @@\n alpha\n-beta\n+BETA\n gamma\n")`)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.Contains(clean, "Patch applies cleanly to `greeting.txt`") {
		t.Fatalf("report = %q", clean)
	}

	conflict, err := e.Preview(context.Background(),
		`host.patch_file('greeting.txt', "@@ -10,2 +10,2 @@\n-x\n-y\n+z\n")`)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.Contains(conflict, "Patch CONFLICT for `greeting.txt`") {
		t.Fatalf("report = %q", conflict)
	}

	// Dry runs never touch the file.
	data, _ := os.ReadFile(target)
	if string(data) != "alpha\nbeta\ngamma" {
		t.Fatalf("file changed by preview: %q", data)
	}
}

func TestPreviewPatchMissingTarget(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, true)

	report, err := e.Preview(context.Background(),
		`host.patch_file('absent.txt', "@@ -1 +1 @@\n-x\n+y\n")`)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.Contains(report, "Patch target `absent.txt` does not exist.") {
		t.Fatalf("report = %q", report)
	}
}

func TestPreviewReadsStayReal(t *testing.T) {
	t.Parallel()
	e, ws := newTestExecutor(t, true)

	if err := os.WriteFile(filepath.Join(ws.Root, "data.txt"), []byte("live content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	report, err := e.Preview(context.Background(),
		"local d = host.read_file('data.txt'); host.write_file('copy.txt', d)")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.Contains(report, "Would write to `copy.txt` (12 bytes)") {
		t.Fatalf("report = %q", report)
	}
}

func TestPreviewDoesNotShareSessionState(t *testing.T) {
	t.Parallel()
	e, _ := newTestExecutor(t, true)

	run(t, e, "secret = 'kept'")
	report, err := e.Preview(context.Background(),
		"if secret == nil then host.write_file('fresh.txt', 'x') end")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	// The disposable interpreter starts empty, so the branch fires.
	if !strings.Contains(report, "Would write to `fresh.txt`") {
		t.Fatalf("report = %q", report)
	}
	// And the persistent session is untouched.
	out := run(t, e, "return secret")
	if out.Value != "kept" {
		t.Fatalf("session state = %q, want kept", out.Value)
	}
}
