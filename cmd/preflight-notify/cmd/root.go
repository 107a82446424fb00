package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/service/notifier"
	"github.com/oshokin/qubes-preflight/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// logLevel overrides the configured logging level.
	logLevel string
	// debug forces the most verbose logging level.
	debug bool

	// exitCode is decided by the staleness check; see Execute.
	exitCode int

	// rootCmd represents the base command that checks update staleness.
	rootCmd = &cobra.Command{
		Use:   "preflight-notify",
		Short: "Decide whether the user should be prompted to run updates.",
		Long: `Checks how long ago the last update pass finished.

Meant to run at session startup: stays silent while an update is already in
progress or the machine has only just booted, and signals the session
wrapper to prompt once the last recorded pass is older than the staleness
threshold.

Exit codes: 0 no prompt needed, 1 the check could not be performed (the
last-run record is missing or unreadable), 2 updates are overdue and the
user should be prompted.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if debug {
				logLevel = "debug"
			}

			decision, err := notifier.Run(ctx, &notifier.Options{
				ConfigPath: configPath,
				LogLevel:   logLevel,
			})

			exitCode = notifier.ExitCode(decision, err)

			return err
		},
	}
)

// Execute runs the preflight-notify CLI and exits with the check's code:
// 0 no prompt, 1 check failed, 2 prompt the user.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(notifier.ExitCheckFailed)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "logging level (debug, info, warn, error)")

	// Hidden debug flag to force verbose logging.
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "force debug logging")

	err := rootCmd.Flags().MarkHidden("debug")
	if err != nil {
		panic(err)
	}
}
