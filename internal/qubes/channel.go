package qubes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/logger"
)

// Channel runs a privileged command in a VM and captures its outcome.
// Implementations block until the command finishes or the context expires;
// enforcing a timeout is the caller's job via the context deadline.
type Channel interface {
	Run(ctx context.Context, vm, command string) (update.CommandOutput, error)
}

// qvm-run reserves the exit codes above 124 for its own failures: the VM
// could not be started, the qrexec policy denied the call, or the tool
// itself misbehaved. Anything else is the in-VM command's own exit status.
const (
	qvmRunExitFailure      = 125
	qvmRunExitPolicyDenied = 126
	qvmRunExitNotFound     = 127
)

// Run executes the command in the named VM through qvm-run, or through the
// local shell when the target is the administrative domain the orchestrator
// runs in. The command's exit code, stdout and stderr are captured either
// way; a non-nil error means the channel itself failed, not the command.
func (c *Client) Run(ctx context.Context, vm, command string) (update.CommandOutput, error) {
	var cmd *exec.Cmd
	if vm == c.adminVM {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	} else {
		cmd = exec.CommandContext(ctx,
			"qvm-run", "--pass-io", "--no-color-output", "--no-color-stderr", "--", vm, command)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.DebugKV(ctx, "Dispatching command", "vm", vm, "command", command)

	err := cmd.Run()

	output := update.CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		output.ExitCode = cmd.ProcessState.ExitCode()
	}

	// A dead context dominates every other failure mode: the process was
	// killed because the deadline passed or the run was canceled.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}

	var exitErr *exec.ExitError

	switch {
	case err == nil, errors.As(err, &exitErr):
		// The command ran to completion. Non-zero exits from the local
		// shell belong to the command itself; only qvm-run's reserved
		// codes are channel-level trouble.
		if vm != c.adminVM {
			return output, classifyQvmRunExit(output)
		}

		return output, nil
	default:
		// The process never ran: the tool is missing or refused to start.
		return output, fmt.Errorf("run command in %s: %v: %w", vm, err, update.ErrChannel)
	}
}

// classifyQvmRunExit maps qvm-run's reserved exit codes onto channel errors;
// every other exit code is returned to the caller as the command's own.
func classifyQvmRunExit(output update.CommandOutput) error {
	switch output.ExitCode {
	case qvmRunExitFailure, qvmRunExitPolicyDenied, qvmRunExitNotFound:
		return fmt.Errorf("qvm-run exited %d: %s: %w",
			output.ExitCode, firstLine(output.Stderr), update.ErrChannel)
	default:
		return nil
	}
}

// firstLine trims command output down to something fit for an error message.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}
