package patch

import "errors"

var (
	// ErrParse is returned for diff text that is not valid unified-diff
	// format.
	ErrParse = errors.New("invalid diff format")

	// ErrConflict is returned when a hunk's target range does not fit the
	// current buffer (stale or conflicting patch).
	ErrConflict = errors.New("patch does not apply")
)
