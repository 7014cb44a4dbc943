package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luaclaw/luaclaw/internal/agent"
)

// Submitter accepts scripts for execution on the agent loop. Implemented by
// *agent.Loop; defined here so cron never depends on loop internals.
type Submitter interface {
	EnqueueScript(s agent.ScheduledScript) bool
}

// ScriptJob submits a configured Lua script into the agent loop on each
// tick. The script runs through the same sandbox and tool log as user
// scripts; it is never queued for approval.
type ScriptJob struct {
	JobName      string
	ScheduleExpr string
	Source       string
	Submitter    Submitter
	Logger       *slog.Logger
}

// Compile-time interface check.
var _ Job = (*ScriptJob)(nil)

// Name implements Job.
func (j *ScriptJob) Name() string {
	return "script:" + j.JobName
}

// Schedule implements Job.
func (j *ScriptJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run submits the script. A full loop queue drops the tick: the loop is
// busy, and a backlog of stale scheduled scripts helps nobody.
func (j *ScriptJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: script job cancelled: %w", ctx.Err())
	}
	ok := j.Submitter.EnqueueScript(agent.ScheduledScript{
		Name:   j.JobName,
		Source: j.Source,
	})
	if !ok {
		return fmt.Errorf("cron: agent loop busy, dropped tick for %q", j.JobName)
	}
	if j.Logger != nil {
		j.Logger.Debug("cron: script submitted", "job", j.JobName)
	}
	return nil
}
