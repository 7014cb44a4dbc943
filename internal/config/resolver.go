package config

import (
	"fmt"
	"path/filepath"
)

// Resolve turns the path-valued fields into absolute paths. The workspace
// root defaults to the current working directory; the session database
// defaults to .luaclaw/session.db under it, and a relative session path is
// taken relative to the workspace root. Call after Validate.
func Resolve(cfg *Config) error {
	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("config: resolving workspace.root: %w", err)
	}
	cfg.Workspace.Root = root

	switch {
	case cfg.Session.Path == "":
		cfg.Session.Path = filepath.Join(root, ".luaclaw", "session.db")
	case !filepath.IsAbs(cfg.Session.Path):
		cfg.Session.Path = filepath.Join(root, cfg.Session.Path)
	}

	return nil
}
