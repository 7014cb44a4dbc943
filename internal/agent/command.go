package agent

import (
	"strconv"
	"strings"
	"unicode"
)

// toolCommand is a parsed /tool invocation. A nil entryID means "next in
// queue" (FIFO).
type toolCommand struct {
	run     bool
	entryID *int
}

// luaAction is a parsed /lua invocation.
type luaAction struct {
	reset  bool
	script string
}

// configCommand is a parsed /config invocation.
type configCommand struct {
	action string
	key    string
	value  string
}

// parseToolCommand recognizes `/tool run|approve|skip|cancel [id]`.
func parseToolCommand(input string) (toolCommand, bool) {
	rest, ok := cutCommand(input, "/tool")
	if !ok {
		return toolCommand{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return toolCommand{}, false
	}

	var entryID *int
	if len(fields) > 1 {
		if id, err := strconv.Atoi(fields[1]); err == nil {
			entryID = &id
		}
	}

	switch strings.ToLower(fields[0]) {
	case "run", "approve":
		return toolCommand{run: true, entryID: entryID}, true
	case "skip", "cancel":
		return toolCommand{run: false, entryID: entryID}, true
	default:
		return toolCommand{}, false
	}
}

// parseLuaCommand recognizes `/lua <script>` and `/lua reset`. A bare `/lua`
// parses as an empty script so the loop can prompt for one; `/luafoo` is not
// a command.
func parseLuaCommand(input string) (luaAction, bool) {
	rest, ok := cutCommand(input, "/lua")
	if !ok {
		return luaAction{}, false
	}
	if strings.TrimSpace(rest) == "reset" {
		return luaAction{reset: true}, true
	}
	return luaAction{script: strings.TrimSpace(rest)}, true
}

// parseReviewCommand recognizes `/review [target]`.
func parseReviewCommand(input string) (string, bool) {
	rest, ok := cutCommand(input, "/review")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// parseContextCommand recognizes `/context <TICKER>`.
func parseContextCommand(input string) (string, bool) {
	rest, ok := cutCommand(input, "/context")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// parseConfigCommand recognizes `/config <action> [key] [value]`.
func parseConfigCommand(input string) (configCommand, bool) {
	rest, ok := cutCommand(input, "/config")
	if !ok {
		return configCommand{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return configCommand{}, false
	}
	cmd := configCommand{action: fields[0]}
	if len(fields) > 1 {
		cmd.key = fields[1]
	}
	if len(fields) > 2 {
		cmd.value = fields[2]
	}
	return cmd, true
}

// cutCommand strips a command prefix, requiring a word boundary: the prefix
// must be the whole input or be followed by whitespace.
func cutCommand(input, command string) (string, bool) {
	trimmed := strings.TrimLeft(input, " \t")
	rest, ok := strings.CutPrefix(trimmed, command)
	if !ok {
		return "", false
	}
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return "", false
	}
	return rest, true
}

// expandMacro replaces `@name` input with the configured macro body. Unknown
// macros pass through as literal text.
func expandMacro(input string, macros map[string]string) string {
	if !strings.HasPrefix(input, "@") {
		return input
	}
	key := strings.TrimSpace(input[1:])
	if body, ok := macros[key]; ok {
		return body
	}
	return input
}
