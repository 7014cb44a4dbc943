// Package workspace manages the agent workspace directory and safe path
// resolution. Every filesystem capability exposed to scripts goes through
// Resolve, which confines paths to the workspace root.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Workspace represents the directory tree the agent is allowed to touch.
type Workspace struct {
	// Root is absolute and symlink-resolved.
	Root string
}

// New creates a Workspace rooted at the given directory. The directory must
// exist; the stored root is canonicalized so later prefix checks are exact.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolving root %q: %w", root, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolving root %q: %w", root, err)
	}
	return &Workspace{Root: canon}, nil
}

// Resolve maps a script-supplied path to an absolute path inside the
// workspace. Relative paths are joined to the root. The result is
// canonicalized with symlinks resolved; a path whose canonical form lies
// outside the root is rejected with ErrPathEscape.
//
// The target does not need to exist: missing trailing components are
// re-appended to the canonical form of the deepest existing ancestor, so
// write targets resolve the same way read targets do.
func (w *Workspace) Resolve(candidate string) (string, error) {
	if candidate == "" {
		return "", fmt.Errorf("workspace: %w: empty path", ErrPathEscape)
	}
	p := candidate
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	canon, err := canonicalizeWithMissing(p)
	if err != nil {
		return "", fmt.Errorf("workspace: resolving %q: %w", candidate, err)
	}
	if !within(w.Root, canon) {
		return "", fmt.Errorf("workspace: %w: %s", ErrPathEscape, candidate)
	}
	return canon, nil
}

// SessionsDir returns the directory used for session databases.
func (w *Workspace) SessionsDir() string {
	return filepath.Join(w.Root, ".luaclaw", "sessions")
}

// EnsureStructure creates the workspace-internal directories. Idempotent.
func (w *Workspace) EnsureStructure() error {
	return os.MkdirAll(w.SessionsDir(), 0o755)
}

// canonicalizeWithMissing resolves symlinks in path. If the path does not
// exist, the deepest existing ancestor is canonicalized and the missing
// suffix is re-appended unchanged.
func canonicalizeWithMissing(path string) (string, error) {
	canon, err := filepath.EvalSymlinks(path)
	if err == nil {
		return canon, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	var missing []string
	current := path
	for {
		if _, statErr := os.Lstat(current); statErr == nil {
			break
		} else if !errors.Is(statErr, fs.ErrNotExist) {
			return "", statErr
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}

	canon, err = filepath.EvalSymlinks(current)
	if err != nil {
		return "", err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		canon = filepath.Join(canon, missing[i])
	}
	return canon, nil
}

// within reports whether target equals root or sits underneath it.
// Both arguments must already be canonical.
func within(root, target string) bool {
	if target == root {
		return true
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}
