// Package agent implements the interactive control loop: conversation state,
// LLM invocation, the Lua script tool with its approval queue, and the slash
// commands that drive the sandbox directly.
package agent

// ToolStatus tracks the lifecycle of a tool log entry.
type ToolStatus string

// ToolStatus values as shown in the tool log.
const (
	ToolStatusPending ToolStatus = "pending"
	ToolStatusSuccess ToolStatus = "ok"
	ToolStatusError   ToolStatus = "error"
)

// ToolLogEntry is one row in the tool activity log. Detail starts as the
// script (or script plus preview) and is replaced with the execution result
// once the entry resolves.
type ToolLogEntry struct {
	ID     int
	Title  string
	Status ToolStatus
	Detail string
}

// PendingTool is a queued script execution awaiting user approval. EntryID
// refers to the ToolLogEntry created when the tool was queued; approval and
// skip both resolve that same entry.
type PendingTool struct {
	EntryID int
	Title   string
	Script  string
	Reason  string
	CallID  string
}

// ScheduledScript is a script submitted from outside the conversation, such
// as a cron job.
type ScheduledScript struct {
	Name   string
	Source string
}

// Recorder persists conversation messages and tool log entries. A nil
// Recorder disables persistence; recording failures are logged, never fatal.
type Recorder interface {
	RecordMessage(role, content string) error
	RecordToolLog(entry ToolLogEntry) error
}
