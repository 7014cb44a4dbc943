package sandbox

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/luaclaw/luaclaw/internal/patch"
)

// previewHost replaces the write-capable capabilities with simulate-only
// recorders. Reads delegate to the real host so a script can still inspect
// state to decide what it would write. It never performs a real write,
// regardless of the live write-permission flag.
type previewHost struct {
	*localHost
	record func(string)
}

func (p *previewHost) WriteFile(path, contents string) error {
	p.record(fmt.Sprintf("Would write to `%s` (%d bytes)", path, len(contents)))
	return nil
}

// PatchFile dry-runs the patch against the current file content and
// records the outcome instead of writing.
func (p *previewHost) PatchFile(path, diff string) error {
	resolved, err := p.ws.Resolve(path)
	if err != nil {
		p.record(fmt.Sprintf("Invalid path `%s`: %v", path, err))
		return nil
	}
	original, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			p.record(fmt.Sprintf("Patch target `%s` does not exist.", path))
		} else {
			p.record(fmt.Sprintf("Could not read `%s`: %v", path, err))
		}
		return nil
	}
	pt, err := patch.Parse(diff)
	if err != nil {
		p.record(fmt.Sprintf("Invalid diff format for `%s`: %v", path, err))
		return nil
	}
	if err := patch.Check(string(original), pt); err != nil {
		p.record(fmt.Sprintf("Patch CONFLICT for `%s`: %v", path, err))
		return nil
	}
	p.record(fmt.Sprintf("Patch applies cleanly to `%s`:\n%s", path, diff))
	return nil
}

// RunCommand records the invocation and returns a dummy success so the
// script keeps going.
func (p *previewHost) RunCommand(_ context.Context, cmd string, args []string) (CommandResult, error) {
	p.record(strings.TrimRight(fmt.Sprintf("Would run command: %s %s", cmd, strings.Join(args, " ")), " "))
	return CommandResult{Status: 0}, nil
}
