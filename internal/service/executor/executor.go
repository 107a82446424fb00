// Package executor dispatches a single update task through the privileged
// channel and classifies what came back.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/qubes"
)

// Executor runs update tasks one at a time. It never retries; retry policy
// belongs to the engine.
type Executor struct {
	// channel executes commands in VMs on the executor's behalf.
	channel qubes.Channel
}

// New creates an executor backed by the provided channel.
func New(channel qubes.Channel) *Executor {
	return &Executor{
		channel: channel,
	}
}

// Execute runs the task's command in its execution locus, blocking until
// completion or timeout. Exit zero is success; a non-zero exit is an in-VM
// failure (the channel worked, the package manager did not); hitting the
// task's deadline is a timeout; anything that kept the command from running
// at all is a channel error.
func (e *Executor) Execute(ctx context.Context, task update.Task) update.Result {
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	output, err := e.channel.Run(runCtx, task.Locus, task.Command)

	result := update.Result{
		Task:     task,
		ExitCode: output.ExitCode,
		Stdout:   output.Stdout,
		Stderr:   output.Stderr,
		Duration: time.Since(started),
		Attempts: 1,
	}

	switch {
	case err == nil && output.ExitCode == 0:
		result.Outcome = update.OutcomeSuccess
	case err == nil:
		result.Outcome = update.OutcomeFailure
	case errors.Is(err, context.DeadlineExceeded):
		result.Outcome = update.OutcomeTimeout
		result.Reason = "timed out after " + task.Timeout.String()
	default:
		result.Outcome = update.OutcomeChannelError
		result.Reason = err.Error()
	}

	return result
}
