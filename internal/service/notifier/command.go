package notifier

import (
	"context"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/logger"
	"github.com/oshokin/qubes-preflight/internal/service/common"
)

// Decision is the notifier's verdict for the session wrapper.
type Decision string

const (
	// DecisionNoPrompt means the user should not be bothered.
	DecisionNoPrompt Decision = "no-prompt"
	// DecisionPrompt means updates are overdue and the wrapper should ask
	// the user to run them.
	DecisionPrompt Decision = "prompt"
)

// Process exit codes for the preflight-notify binary.
const (
	// ExitNoPrompt reports that no prompt is needed.
	ExitNoPrompt = 0
	// ExitCheckFailed reports that the check could not be performed.
	ExitCheckFailed = 1
	// ExitPrompt reports that updates are overdue.
	ExitPrompt = 2
)

// Options are inputs accepted by the notifier entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// LogLevel overrides the configured logging level when non-empty.
	LogLevel string
}

// Run performs the staleness check and is the entry point for the CLI.
func Run(ctx context.Context, opts *Options) (Decision, error) {
	ctx = logger.WithName(ctx, "preflight-notify")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return DecisionNoPrompt, err
	}

	common.ApplyLogLevel(ctx, opts.LogLevel, cfg.LogLevel)

	return NewService(cfg).Check(ctx)
}

// ExitCode maps a decision and error to the process exit code contract.
func ExitCode(decision Decision, err error) int {
	switch {
	case err != nil:
		return ExitCheckFailed
	case decision == DecisionPrompt:
		return ExitPrompt
	default:
		return ExitNoPrompt
	}
}
