package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrWritesDisabled is returned when a write-capable capability is
	// invoked while the write-permission flag is off.
	ErrWritesDisabled = errors.New("write helpers are disabled (set sandbox.allow_writes: true)")

	// ErrTooLarge is returned when a file exceeds the read size cap.
	ErrTooLarge = errors.New("file exceeds size limit")
)

// ScriptError reports a failure raised inside the interpreter. Detail
// carries the interpreter diagnostic verbatim.
type ScriptError struct {
	Detail string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("sandbox: script error: %s", e.Detail)
}
