package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/service/updater"
	"github.com/oshokin/qubes-preflight/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// inventoryPath optionally reads the VM inventory from a YAML file.
	inventoryPath string
	// logLevel overrides the configured logging level.
	logLevel string
	// progress emits JSON progress events on stdout for a wrapping GUI.
	progress bool
	// debug forces the most verbose logging level.
	debug bool

	// exitCode is decided by the finished run; see Execute.
	exitCode int

	// rootCmd represents the base command that runs one update pass.
	rootCmd = &cobra.Command{
		Use:   "preflight-updater",
		Short: "Update every VM on the workstation in dependency order.",
		Long: `Runs one full update pass over the workstation's VMs.

Reads the VM inventory from the platform, orders updates so that every
template is updated before the VMs deriving from it, runs the configured
update command per VM through the privileged channel, and restarts the
network proxies. The administrative domain updates itself last (or first,
per configuration). A timestamp of the finished pass is recorded for the
staleness notifier.

Exit codes: 0 completed, 1 failed (or could not start), 2 completed and a
reboot is required to finish applying a kernel or core-library update.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling. Interrupts are honored at
			// task boundaries: the in-flight VM update still finishes.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if debug {
				logLevel = "debug"
			}

			run, err := updater.Run(ctx, &updater.Options{
				ConfigPath:    configPath,
				InventoryPath: inventoryPath,
				LogLevel:      logLevel,
				Progress:      progress,
			})

			exitCode = updater.ExitCode(run, err)

			return err
		},
	}
)

// Execute runs the preflight-updater CLI and exits with the run's code:
// 0 completed, 1 failed, 2 completed with a reboot required.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(updater.ExitFailed)
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
	rootCmd.Flags().StringVar(&inventoryPath, "inventory", "", "read the VM inventory from a YAML file instead of the platform")
	rootCmd.Flags().BoolVar(&progress, "progress", false, "emit JSON progress events on stdout")

	// Hidden debug flag to force verbose logging.
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "force debug logging")

	err := rootCmd.Flags().MarkHidden("debug")
	if err != nil {
		panic(err)
	}
}
