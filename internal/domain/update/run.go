package update

import (
	"time"

	"github.com/google/uuid"
)

// RunOutcome is the overall verdict of an orchestration run.
type RunOutcome string

const (
	// RunCompleted means the run finished without infrastructure-level
	// trouble. Individual tasks may still have failed or been skipped.
	RunCompleted RunOutcome = "completed"
	// RunFailed means the run aborted structurally, was canceled, or hit a
	// channel-level failure.
	RunFailed RunOutcome = "failed"
)

// Result records how a single task resolved. Immutable once produced.
type Result struct {
	// Task is the task this result belongs to.
	Task Task
	// Outcome is the task's terminal status.
	Outcome Outcome
	// ExitCode is the command's exit status, zero unless the task executed.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// Reason explains skips and channel-level failures.
	Reason string
	// Duration is how long the dispatch took, zero for skipped tasks.
	Duration time.Duration
	// Attempts is how many times the task was dispatched.
	Attempts int
}

// Executed reports whether the task actually reached the privileged channel.
func (r *Result) Executed() bool {
	return r.Outcome != OutcomeSkipped
}

// Run aggregates the ordered results of one orchestration pass.
type Run struct {
	// ID uniquely identifies the run in logs and progress events.
	ID string
	// Results holds one entry per planned task, in plan order.
	Results []Result
	// Outcome is the run's overall verdict.
	Outcome RunOutcome
	// RebootRequired is set when an executed task indicates a kernel or
	// core-library update.
	RebootRequired bool
	// Canceled is set when the run was interrupted at a task boundary.
	Canceled bool
	// StartedAt is when orchestration began.
	StartedAt time.Time
	// FinishedAt is when the run reached a terminal state.
	FinishedAt time.Time
}

// NewRun creates an empty run stamped with a fresh identity.
func NewRun() *Run {
	return &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// Append records a task's result.
func (r *Run) Append(result Result) {
	r.Results = append(r.Results, result)
}

// CountByOutcome tallies results per outcome for summaries.
func (r *Run) CountByOutcome() map[Outcome]int {
	counts := make(map[Outcome]int, len(r.Results))
	for _, result := range r.Results {
		counts[result.Outcome]++
	}

	return counts
}

// Duration returns the run's wall-clock time, zero until the run finishes.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}
