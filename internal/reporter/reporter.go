package reporter

import (
	"github.com/oshokin/qubes-preflight/internal/domain/update"
)

// Reporter receives progress callbacks from the orchestration engine.
// Calls are synchronous and must not block for long; the engine treats them
// as fire-and-forget and isolates panics, so a broken reporter can never
// abort a run.
type Reporter interface {
	// OnTaskStart fires right before a task is dispatched to the executor.
	// Skipped tasks are never started and produce only OnTaskResult.
	OnTaskStart(task update.Task)
	// OnTaskResult fires after a task resolves, dispatched or skipped.
	OnTaskResult(result update.Result)
	// OnRunFinished fires exactly once when the run reaches a terminal
	// state, structural aborts included.
	OnRunFinished(run *update.Run)
}

// Multi fans callbacks out to several reporters in order.
type Multi []Reporter

// OnTaskStart implements Reporter.
func (m Multi) OnTaskStart(task update.Task) {
	for _, r := range m {
		r.OnTaskStart(task)
	}
}

// OnTaskResult implements Reporter.
func (m Multi) OnTaskResult(result update.Result) {
	for _, r := range m {
		r.OnTaskResult(result)
	}
}

// OnRunFinished implements Reporter.
func (m Multi) OnRunFinished(run *update.Run) {
	for _, r := range m {
		r.OnRunFinished(run)
	}
}
