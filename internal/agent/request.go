package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ScriptRequest is a validated invocation of the Lua script tool.
type ScriptRequest struct {
	Source string
	Reason string
}

// ParseScriptRequest validates raw tool-call arguments. The payload must be
// a JSON object with a non-empty `source` string; `reason` is optional.
// Malformed arguments are reported via ErrBadToolArgs so the caller can tell
// the user instead of crashing.
func ParseScriptRequest(raw json.RawMessage) (ScriptRequest, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return ScriptRequest{}, fmt.Errorf("%w: arguments must be an object", ErrBadToolArgs)
	}

	source, _ := obj["source"].(string)
	source = strings.TrimSpace(source)
	if source == "" {
		return ScriptRequest{}, fmt.Errorf("%w: missing `source` string", ErrBadToolArgs)
	}

	reason, _ := obj["reason"].(string)

	return ScriptRequest{
		Source: source,
		Reason: strings.TrimSpace(reason),
	}, nil
}
