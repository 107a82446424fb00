package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oshokin/qubes-preflight/internal/domain/inventory"
	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/logger"
	"github.com/oshokin/qubes-preflight/internal/qubes"
	"github.com/oshokin/qubes-preflight/internal/reporter"
	"github.com/oshokin/qubes-preflight/internal/repository/stamp"
)

// State is the engine's position in the run lifecycle.
type State string

// Engine lifecycle states, in transition order.
const (
	StateIdle             State = "idle"
	StateReadingInventory State = "reading-inventory"
	StateSequencing       State = "sequencing"
	StateRunning          State = "running"
	StateFinalizing       State = "finalizing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// ErrEngineConsumed is returned when a finished engine is asked to run again.
// Every run gets a fresh engine.
var ErrEngineConsumed = errors.New("engine already consumed")

// Sequencer plans the run from a snapshot.
type Sequencer interface {
	Plan(ctx context.Context, snap *inventory.Snapshot) ([]update.Task, error)
}

// Executor dispatches a single task and classifies its result.
type Executor interface {
	Execute(ctx context.Context, task update.Task) update.Result
}

// Dependencies wires the engine's collaborators. Reporter and Stamps may be
// nil when the caller wants neither progress events nor a staleness record.
type Dependencies struct {
	// Reader enumerates the platform's VMs.
	Reader qubes.InventoryReader
	// Sequencer turns the snapshot into an ordered plan.
	Sequencer Sequencer
	// Executor runs one task at a time.
	Executor Executor
	// Reporter receives progress events.
	Reporter reporter.Reporter
	// Stamps records when a run last reached a terminal state.
	Stamps stamp.Repository
}

// Policy holds the per-run decision knobs.
type Policy struct {
	// RestartHaltedApps dispatches restart tasks for halted app VMs instead
	// of skipping them.
	RestartHaltedApps bool
	// EscalateAdminFailure fails the whole run when the administrative
	// domain's own update does not succeed.
	EscalateAdminFailure bool
	// RebootMarkers are case-insensitive output substrings indicating a
	// kernel or core-library update.
	RebootMarkers []string
	// RebootExitCode, when non-zero, marks a reboot as required whenever an
	// executed task exits with it.
	RebootExitCode int
}

// Engine executes a single update run. Not safe for concurrent use; all run
// state is owned by the goroutine calling Run.
type Engine struct {
	// deps are the engine's collaborators.
	deps Dependencies
	// policy is the run's decision knobs.
	policy Policy
	// state is the current lifecycle position.
	state State
	// consumed flips once Run is entered; the engine refuses a second run.
	consumed atomic.Bool
}

// New creates an engine for a single run.
func New(deps Dependencies, policy Policy) *Engine {
	if deps.Reporter == nil {
		deps.Reporter = reporter.Multi{}
	}

	return &Engine{
		deps:   deps,
		policy: policy,
		state:  StateIdle,
	}
}

// State reports the engine's current lifecycle position.
func (e *Engine) State() State {
	return e.state
}

// Run executes one full update pass and returns the run record. The error is
// non-nil only when nothing executed at all: the engine was reused, the
// inventory could not be read, or the plan had a cycle. A run whose tasks
// failed still returns a nil error with the verdict on the run itself.
func (e *Engine) Run(ctx context.Context) (*update.Run, error) {
	if !e.consumed.CompareAndSwap(false, true) {
		return nil, ErrEngineConsumed
	}

	run := update.NewRun()
	logger.InfoKV(ctx, "Update run starting", "run_id", run.ID)

	e.state = StateReadingInventory

	snap, err := e.deps.Reader.List(ctx)
	if err != nil {
		return e.abort(ctx, run, fmt.Errorf("read inventory: %w", err))
	}

	logger.InfoKV(ctx, "Inventory read", "run_id", run.ID, "vms", snap.Len())

	e.state = StateSequencing

	tasks, err := e.deps.Sequencer.Plan(ctx, snap)
	if err != nil {
		return e.abort(ctx, run, fmt.Errorf("sequence updates: %w", err))
	}

	e.state = StateRunning
	e.execute(ctx, run, snap, tasks)

	e.finalize(ctx, run)

	return run, nil
}

// abort handles structural failures: nothing executed, no stamp written, but
// the reporter still gets its final summary.
func (e *Engine) abort(ctx context.Context, run *update.Run, err error) (*update.Run, error) {
	e.state = StateFailed
	run.Outcome = update.RunFailed
	run.FinishedAt = time.Now()

	logger.ErrorKV(ctx, "Update run aborted", "run_id", run.ID, "error", err)
	e.reportRunFinished(ctx, run)

	return run, err
}

// execute dispatches every task in plan order, applying the skip rules and
// the retry budget. Cancellation is honored between tasks only; an in-flight
// task finishes under its own timeout.
func (e *Engine) execute(ctx context.Context, run *update.Run, snap *inventory.Snapshot, tasks []update.Task) {
	// Templates whose task did not end in success; their dependents are
	// skipped rather than updated against a stale base.
	unresolved := make(map[string]struct{})

	// Dispatches run on a context that survives run-level cancellation so
	// the privileged operation, once started, is never interrupted.
	taskCtx := context.WithoutCancel(ctx)

	for _, task := range tasks {
		if ctx.Err() != nil && !run.Canceled {
			run.Canceled = true

			logger.WarnKV(ctx, "Run canceled, skipping remaining tasks", "run_id", run.ID)
		}

		if reason, skip := e.skipReason(run, task, snap, unresolved); skip {
			result := update.Result{
				Task:    task,
				Outcome: update.OutcomeSkipped,
				Reason:  reason,
			}

			run.Append(result)
			e.reportTaskResult(ctx, result)

			if task.Role == inventory.RoleTemplate {
				unresolved[task.Target] = struct{}{}
			}

			continue
		}

		e.reportTaskStart(ctx, task)

		result := e.dispatch(taskCtx, task)

		run.Append(result)
		e.reportTaskResult(ctx, result)

		if task.Role == inventory.RoleTemplate && result.Outcome != update.OutcomeSuccess {
			unresolved[task.Target] = struct{}{}
		}
	}
}

// skipReason applies the pre-dispatch skip rules in order: run canceled,
// template unresolved, halted app VM. Network proxies are restarted even
// when halted; a dead sys-net would otherwise never come back.
func (e *Engine) skipReason(
	run *update.Run,
	task update.Task,
	snap *inventory.Snapshot,
	unresolved map[string]struct{},
) (string, bool) {
	if run.Canceled {
		return "run canceled", true
	}

	if task.DerivesFrom != "" {
		if _, bad := unresolved[task.DerivesFrom]; bad {
			return fmt.Sprintf("template %s did not update", task.DerivesFrom), true
		}
	}

	if task.Role == inventory.RoleAppVM && !e.policy.RestartHaltedApps {
		if vm, ok := snap.Lookup(task.Target); ok && vm.State == inventory.PowerHalted {
			return "halted", true
		}
	}

	return "", false
}

// dispatch runs one task through the executor, re-dispatching while the
// retry budget allows. Failures and timeouts are retryable; channel errors
// are not, and neither is success.
func (e *Engine) dispatch(ctx context.Context, task update.Task) update.Result {
	var (
		result   update.Result
		attempts int
	)

	for {
		result = e.deps.Executor.Execute(ctx, task)
		attempts++
		result.Attempts = attempts

		if !result.Outcome.Retryable() || attempts > task.RetryBudget {
			break
		}

		logger.WarnKV(ctx, "Retrying task",
			"vm", task.Target,
			"outcome", result.Outcome,
			"attempt", attempts,
			"retry_budget", task.RetryBudget)
	}

	return result
}

// finalize records the verdict and the reboot decision, writes the stamp,
// and emits the final summary. The stamp marks "an update pass ran to its
// end", not "everything succeeded": the notifier must not nag right after a
// run that merely had in-VM failures.
func (e *Engine) finalize(ctx context.Context, run *update.Run) {
	e.state = StateFinalizing

	run.FinishedAt = time.Now()
	run.RebootRequired = e.rebootRequired(run)
	run.Outcome = e.verdict(run)

	if run.Outcome == update.RunCompleted {
		e.state = StateCompleted
	} else {
		e.state = StateFailed
	}

	if e.deps.Stamps != nil {
		if err := e.deps.Stamps.Save(ctx, run.FinishedAt); err != nil {
			logger.ErrorKV(ctx, "Failed to write run stamp", "run_id", run.ID, "error", err)
		}
	}

	e.reportRunFinished(ctx, run)
}

// verdict decides the run's overall outcome. In-VM failures and timeouts
// alone still complete the run; infrastructure trouble, cancellation, and,
// per policy, a failed admin self-update fail it.
func (e *Engine) verdict(run *update.Run) update.RunOutcome {
	if run.Canceled {
		return update.RunFailed
	}

	for i := range run.Results {
		result := &run.Results[i]

		if result.Outcome == update.OutcomeChannelError {
			return update.RunFailed
		}

		if e.policy.EscalateAdminFailure &&
			result.Task.Role == inventory.RoleAdminDomain &&
			result.Outcome != update.OutcomeSuccess {
			return update.RunFailed
		}
	}

	return update.RunCompleted
}

// rebootRequired reports whether any executed task signaled a kernel or
// core-library update, via a marker substring in its output or the
// configured reboot exit code.
func (e *Engine) rebootRequired(run *update.Run) bool {
	for i := range run.Results {
		result := &run.Results[i]
		if !result.Executed() {
			continue
		}

		if e.policy.RebootExitCode != 0 && result.ExitCode == e.policy.RebootExitCode {
			return true
		}

		if containsAnyMarker(result.Stdout, e.policy.RebootMarkers) ||
			containsAnyMarker(result.Stderr, e.policy.RebootMarkers) {
			return true
		}
	}

	return false
}

// containsAnyMarker reports whether output contains any of the markers,
// case-insensitively.
func containsAnyMarker(output string, markers []string) bool {
	if output == "" {
		return false
	}

	lowered := strings.ToLower(output)

	for _, marker := range markers {
		if marker != "" && strings.Contains(lowered, strings.ToLower(marker)) {
			return true
		}
	}

	return false
}

// reportTaskStart notifies the reporter, recovering any panic.
func (e *Engine) reportTaskStart(ctx context.Context, task update.Task) {
	defer e.recoverReporter(ctx, "task start")

	e.deps.Reporter.OnTaskStart(task)
}

// reportTaskResult notifies the reporter, recovering any panic.
func (e *Engine) reportTaskResult(ctx context.Context, result update.Result) {
	defer e.recoverReporter(ctx, "task result")

	e.deps.Reporter.OnTaskResult(result)
}

// reportRunFinished notifies the reporter, recovering any panic.
func (e *Engine) reportRunFinished(ctx context.Context, run *update.Run) {
	defer e.recoverReporter(ctx, "run finished")

	e.deps.Reporter.OnRunFinished(run)
}

// recoverReporter logs a reporter panic instead of letting it abort the run.
func (e *Engine) recoverReporter(ctx context.Context, hook string) {
	if r := recover(); r != nil {
		logger.ErrorKV(ctx, "Reporter panicked", "hook", hook, "panic", r)
	}
}
