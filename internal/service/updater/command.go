package updater

import (
	"context"
	"io"
	"os"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/logger"
	"github.com/oshokin/qubes-preflight/internal/qubes"
	"github.com/oshokin/qubes-preflight/internal/reporter"
	"github.com/oshokin/qubes-preflight/internal/repository/stamp"
	"github.com/oshokin/qubes-preflight/internal/service/common"
	"github.com/oshokin/qubes-preflight/internal/service/engine"
	"github.com/oshokin/qubes-preflight/internal/service/executor"
	"github.com/oshokin/qubes-preflight/internal/service/sequencer"
	"github.com/oshokin/qubes-preflight/internal/version"
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// InventoryPath, when set, reads the VM inventory from a YAML file
	// instead of the platform. Used for offline plan rehearsals and tests.
	InventoryPath string
	// LogLevel overrides the configured logging level when non-empty.
	LogLevel string
	// Progress emits machine-readable JSON progress events for a wrapping
	// GUI to consume.
	Progress bool
	// ProgressWriter receives progress events; defaults to standard output.
	ProgressWriter io.Writer
}

// Run executes one orchestration run and is the entry point for the CLI.
// The returned run carries the verdict; the error is non-nil only when the
// pass could not start or aborted before any task executed (bad settings,
// another instance, unreadable inventory, cyclic plan).
func Run(ctx context.Context, opts *Options) (*update.Run, error) {
	ctx = logger.WithName(ctx, "preflight-updater")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	common.ApplyLogLevel(ctx, opts.LogLevel, cfg.LogLevel)

	logger.InfoKV(ctx, "Starting update pass", "version", version.Short())

	// A second updater racing the first would interleave qvm-run calls and
	// fight over templates, so the marker is acquired before anything else.
	marker := common.NewMarker(common.UpdaterMarkerPath(cfg))
	if err = marker.Acquire(ctx); err != nil {
		return nil, err
	}

	defer func() {
		if releaseErr := marker.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Failed to release updater marker", "error", releaseErr)
		}
	}()

	client := qubes.NewClient(cfg.AdminVM, cfg.NetworkProxies)

	reader := qubes.InventoryReader(client)
	if opts.InventoryPath != "" {
		logger.InfoKV(ctx, "Reading inventory from file", "path", opts.InventoryPath)

		reader = qubes.NewFileReader(opts.InventoryPath)
	}

	reporters := reporter.Multi{reporter.NewLogReporter(ctx)}

	if opts.Progress {
		writer := opts.ProgressWriter
		if writer == nil {
			writer = os.Stdout
		}

		stream := reporter.NewStreamReporter(ctx, writer)
		defer stream.Close()

		reporters = append(reporters, stream)
	}

	eng := engine.New(engine.Dependencies{
		Reader:    reader,
		Sequencer: sequencer.New(cfg),
		Executor:  executor.New(client),
		Reporter:  reporters,
		Stamps:    stamp.NewFileRepository(cfg.StampPath),
	}, engine.Policy{
		RestartHaltedApps:    cfg.RestartHaltedApps,
		EscalateAdminFailure: cfg.EscalateAdminFailure,
		RebootMarkers:        cfg.RebootMarkers,
		RebootExitCode:       cfg.RebootExitCode,
	})

	run, err := eng.Run(ctx)
	if err != nil {
		return run, err
	}

	logger.InfoKV(ctx, "Updater finished",
		"run_id", run.ID,
		"outcome", run.Outcome,
		"reboot_required", run.RebootRequired)

	return run, nil
}
