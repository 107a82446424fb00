package update

import (
	"errors"
	"time"

	"github.com/oshokin/qubes-preflight/internal/domain/inventory"
)

// ErrChannel marks errors raised by the privileged execution channel itself,
// as opposed to a command that ran and exited non-zero. Channel
// implementations wrap it so the executor can classify the outcome.
var ErrChannel = errors.New("privileged channel error")

// Outcome is the terminal status of a single update task.
type Outcome string

const (
	// OutcomeSuccess means the command ran and exited zero.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the command ran and exited non-zero.
	OutcomeFailure Outcome = "failure"
	// OutcomeTimeout means the command exceeded the task's timeout.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeChannelError means the privileged channel could not run the
	// command at all.
	OutcomeChannelError Outcome = "channel-error"
	// OutcomeSkipped means the task was never dispatched.
	OutcomeSkipped Outcome = "skipped"
)

// Retryable reports whether another attempt at the task could change the
// outcome. Channel errors are infrastructure trouble and are never retried.
func (o Outcome) Retryable() bool {
	return o == OutcomeFailure || o == OutcomeTimeout
}

// Task is one unit of update work, produced by the sequencer and consumed
// exactly once by the executor.
type Task struct {
	// Target is the VM whose software the task updates.
	Target string
	// Role is the target's inventory role.
	Role inventory.Role
	// DerivesFrom names the target's template, empty when it has none.
	DerivesFrom string
	// Command is the shell command implementing the update.
	Command string
	// Locus is the VM the command actually executes in. Template and
	// admin-domain commands run in the target itself; app and proxy VMs
	// are managed from the administrative domain.
	Locus string
	// Timeout bounds the command's execution time.
	Timeout time.Duration
	// RetryBudget is how many additional dispatches the engine may attempt
	// after a failure or timeout. Zero for updates: partially applied
	// updates are unsafe to repeat blindly.
	RetryBudget int
}

// CommandOutput is what the privileged channel reports for one executed
// command.
type CommandOutput struct {
	// ExitCode is the command's exit status.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
}
