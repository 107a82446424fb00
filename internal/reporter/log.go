package reporter

import (
	"context"

	"go.uber.org/zap"

	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/logger"
)

// LogReporter writes progress to the structured log. The final summary lists
// every VM's outcome so the operator knows exactly which machines are left
// unpatched, even when the run failed.
type LogReporter struct {
	// log is the scoped logger captured at construction time.
	log *zap.SugaredLogger
}

// NewLogReporter creates a reporter logging through the context's logger.
func NewLogReporter(ctx context.Context) *LogReporter {
	return &LogReporter{
		log: logger.FromContext(ctx).Named("progress"),
	}
}

// OnTaskStart implements Reporter.
func (r *LogReporter) OnTaskStart(task update.Task) {
	r.log.Infow("Task started",
		"vm", task.Target,
		"role", task.Role,
		"locus", task.Locus,
		"timeout", task.Timeout.String(),
	)
}

// OnTaskResult implements Reporter.
func (r *LogReporter) OnTaskResult(result update.Result) {
	kvs := []any{
		"vm", result.Task.Target,
		"role", result.Task.Role,
		"outcome", result.Outcome,
		"duration", result.Duration.String(),
	}

	if result.Executed() {
		kvs = append(kvs, "exit_code", result.ExitCode, "attempts", result.Attempts)
	}

	if result.Reason != "" {
		kvs = append(kvs, "reason", result.Reason)
	}

	switch result.Outcome {
	case update.OutcomeSuccess, update.OutcomeSkipped:
		r.log.Infow("Task resolved", kvs...)
	default:
		r.log.Warnw("Task resolved", kvs...)
	}
}

// OnRunFinished implements Reporter.
func (r *LogReporter) OnRunFinished(run *update.Run) {
	for _, result := range run.Results {
		kvs := []any{
			"vm", result.Task.Target,
			"outcome", result.Outcome,
		}
		if result.Reason != "" {
			kvs = append(kvs, "reason", result.Reason)
		}

		r.log.Infow("VM outcome", kvs...)
	}

	counts := run.CountByOutcome()

	r.log.Infow("Run finished",
		"run_id", run.ID,
		"outcome", run.Outcome,
		"reboot_required", run.RebootRequired,
		"canceled", run.Canceled,
		"duration", run.Duration().String(),
		"success", counts[update.OutcomeSuccess],
		"failure", counts[update.OutcomeFailure],
		"timeout", counts[update.OutcomeTimeout],
		"channel_error", counts[update.OutcomeChannelError],
		"skipped", counts[update.OutcomeSkipped],
	)
}
