package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luaclaw/luaclaw/internal/provider"
	"github.com/luaclaw/luaclaw/internal/sandbox"
)

// renderExecution formats a sandbox result for the conversation: the final
// Lua value first, then stdout, stderr, and log sections when present.
func renderExecution(out sandbox.Execution) string {
	var b strings.Builder
	b.WriteString("Lua value:\n")
	if out.Value == "" {
		b.WriteString("<empty>\n")
	} else {
		for _, line := range strings.Split(out.Value, "\n") {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	appendSection(&b, "Stdout", out.Stdout)
	appendSection(&b, "Stderr", out.Stderr)
	appendSection(&b, "Logs", out.Logs)
	return b.String()
}

func appendSection(b *strings.Builder, label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteByte('\n')
	b.WriteString(label)
	b.WriteString(":\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

// renderToolInvocation formats a tool call the loop has no handler for.
func renderToolInvocation(call provider.ToolCall) string {
	args := "<unprintable args>"
	if len(call.Arguments) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, call.Arguments, "", "  "); err == nil {
			args = pretty.String()
		} else {
			args = string(call.Arguments)
		}
	}
	if call.ID != "" {
		return fmt.Sprintf("LLM requested tool `%s` (call_id: %s) with arguments:\n%s", call.Name, call.ID, args)
	}
	return fmt.Sprintf("LLM requested tool `%s` with arguments:\n%s", call.Name, args)
}

// summaryLimit caps how much of a reason string appears in titles and labels.
const summaryLimit = 60

// truncateSummary shortens free-form reason text for one-line display.
func truncateSummary(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "unspecified"
	}
	runes := []rune(trimmed)
	if len(runes) <= summaryLimit {
		return trimmed
	}
	return string(runes[:summaryLimit]) + "..."
}
