package workspace

import "errors"

// ErrPathEscape is returned when a resolved path lands outside the
// workspace root, whether via "..", an absolute path, or a symlink.
var ErrPathEscape = errors.New("path escapes workspace root")
