package updater

import (
	"github.com/oshokin/qubes-preflight/internal/domain/update"
)

// Process exit codes for the preflight-updater binary. Session wrappers
// branch on these to decide whether to reboot or surface an error.
const (
	// ExitCompleted reports a completed run with no reboot needed.
	ExitCompleted = 0
	// ExitFailed reports a failed run or an error before the run started.
	ExitFailed = 1
	// ExitRebootRequired reports a completed run after which the system
	// should be rebooted.
	ExitRebootRequired = 2
)

// ExitCode maps a finished run and error to the process exit code contract.
func ExitCode(run *update.Run, err error) int {
	switch {
	case err != nil:
		return ExitFailed
	case run == nil || run.Outcome == update.RunFailed:
		return ExitFailed
	case run.RebootRequired:
		return ExitRebootRequired
	default:
		return ExitCompleted
	}
}
