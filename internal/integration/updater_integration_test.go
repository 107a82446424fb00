package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/reporter"
	"github.com/oshokin/qubes-preflight/internal/repository/stamp"
	"github.com/oshokin/qubes-preflight/internal/service/common"
	"github.com/oshokin/qubes-preflight/internal/service/updater"
)

// requireLocalShell skips tests that shell out through /bin/sh.
func requireLocalShell(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// writeSettings saves a validated settings file rooted in dir and returns
// its path together with the loaded-back config.
func writeSettings(t *testing.T, dir string, mutate func(cfg *config.Config)) (string, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.StampPath = filepath.Join(dir, "last-run")

	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(path, cfg))

	return path, cfg
}

// writeEmptyInventory produces an inventory file with no VMs, so only the
// administrative domain's self-update is planned and everything runs through
// the local shell.
func writeEmptyInventory(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vms: []\n"), 0o600))

	return path
}

// decodeEvents parses JSON-lines progress output.
func decodeEvents(t *testing.T, buf *bytes.Buffer) []reporter.Event {
	t.Helper()

	var events []reporter.Event

	decoder := json.NewDecoder(buf)
	for decoder.More() {
		var event reporter.Event
		require.NoError(t, decoder.Decode(&event))

		events = append(events, event)
	}

	return events
}

// TestUpdater_Run_CompletesLocally drives a full pass over an empty
// inventory: the admin self-update runs through the local shell, its output
// trips a reboot marker, the stamp is recorded, and the progress stream
// carries the whole story.
func TestUpdater_Run_CompletesLocally(t *testing.T) {
	requireLocalShell(t)

	dir := t.TempDir()

	cfgPath, cfg := writeSettings(t, dir, func(cfg *config.Config) {
		cfg.Commands.AdminDomain = "echo Unpacking linux-image-6.6.8"
		cfg.TaskTimeoutSeconds = 60
	})

	var progress bytes.Buffer

	run, err := updater.Run(context.Background(), &updater.Options{
		ConfigPath:     cfgPath,
		InventoryPath:  writeEmptyInventory(t, dir),
		Progress:       true,
		ProgressWriter: &progress,
	})
	require.NoError(t, err)

	require.Equal(t, update.RunCompleted, run.Outcome)
	require.True(t, run.RebootRequired)
	require.Len(t, run.Results, 1)
	require.Equal(t, update.OutcomeSuccess, run.Results[0].Outcome)
	require.Contains(t, run.Results[0].Stdout, "linux-image")
	require.Equal(t, updater.ExitRebootRequired, updater.ExitCode(run, nil))

	// The stamp records the pass for the notifier.
	written, err := stamp.NewFileRepository(cfg.StampPath).Load(context.Background())
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), written, time.Minute)

	// The updater's single-instance marker is gone.
	_, err = os.Stat(common.UpdaterMarkerPath(cfg))
	require.ErrorIs(t, err, os.ErrNotExist)

	// The progress stream saw the task start, its result, and the summary.
	events := decodeEvents(t, &progress)
	require.Len(t, events, 3)
	require.Equal(t, reporter.EventTaskStart, events[0].Type)
	require.Equal(t, reporter.EventTaskResult, events[1].Type)
	require.Equal(t, reporter.EventRunFinished, events[2].Type)
	require.Equal(t, cfg.AdminVM, events[0].VM)
	require.True(t, events[2].RebootRequired)
}

// TestUpdater_Run_InVMFailureStillCompletes records a failed package manager
// without failing the pass: the stamp is still written and the exit code
// stays zero.
func TestUpdater_Run_InVMFailureStillCompletes(t *testing.T) {
	requireLocalShell(t)

	dir := t.TempDir()

	cfgPath, cfg := writeSettings(t, dir, func(cfg *config.Config) {
		cfg.Commands.AdminDomain = "echo held broken packages >&2; exit 3"
	})

	run, err := updater.Run(context.Background(), &updater.Options{
		ConfigPath:    cfgPath,
		InventoryPath: writeEmptyInventory(t, dir),
	})
	require.NoError(t, err)

	require.Equal(t, update.RunCompleted, run.Outcome)
	require.False(t, run.RebootRequired)
	require.Equal(t, update.OutcomeFailure, run.Results[0].Outcome)
	require.Equal(t, 3, run.Results[0].ExitCode)
	require.Contains(t, run.Results[0].Stderr, "held broken packages")
	require.Equal(t, updater.ExitCompleted, updater.ExitCode(run, nil))

	_, err = stamp.NewFileRepository(cfg.StampPath).Load(context.Background())
	require.NoError(t, err)
}

// TestUpdater_Run_ChannelErrorFailsRun plans a template update, which needs
// the platform tool; on machines without it the channel error fails the run
// while the stamp is still recorded.
func TestUpdater_Run_ChannelErrorFailsRun(t *testing.T) {
	requireLocalShell(t)

	if _, err := exec.LookPath("qvm-run"); err == nil {
		t.Skip("qvm-run is available; channel failure cannot be simulated")
	}

	dir := t.TempDir()

	cfgPath, cfg := writeSettings(t, dir, func(cfg *config.Config) {
		cfg.Commands.AdminDomain = "echo admin updated"
	})

	inventory := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(inventory, []byte(`vms:
  - name: tpl-debian
    role: template
`), 0o600))

	run, err := updater.Run(context.Background(), &updater.Options{
		ConfigPath:    cfgPath,
		InventoryPath: inventory,
	})
	require.NoError(t, err)

	require.Equal(t, update.RunFailed, run.Outcome)
	require.Equal(t, updater.ExitFailed, updater.ExitCode(run, nil))

	byTarget := make(map[string]update.Result, len(run.Results))
	for _, result := range run.Results {
		byTarget[result.Task.Target] = result
	}

	// The template needed qvm-run; the admin task ran locally regardless.
	require.Equal(t, update.OutcomeChannelError, byTarget["tpl-debian"].Outcome)
	require.Equal(t, update.OutcomeSuccess, byTarget[cfg.AdminVM].Outcome)

	// A pass that reached its end still stamps, failed or not.
	_, err = stamp.NewFileRepository(cfg.StampPath).Load(context.Background())
	require.NoError(t, err)
}

// TestUpdater_Run_SecondInstanceBlocked refuses to start while another
// updater holds the marker.
func TestUpdater_Run_SecondInstanceBlocked(t *testing.T) {
	requireLocalShell(t)

	dir := t.TempDir()

	cfgPath, cfg := writeSettings(t, dir, nil)

	held := common.NewMarker(common.UpdaterMarkerPath(cfg))
	require.NoError(t, held.Acquire(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, held.Release())
	})

	run, err := updater.Run(context.Background(), &updater.Options{
		ConfigPath:    cfgPath,
		InventoryPath: writeEmptyInventory(t, dir),
	})
	require.ErrorIs(t, err, common.ErrAlreadyRunning)
	require.Nil(t, run)
	require.Equal(t, updater.ExitFailed, updater.ExitCode(run, err))

	// No pass ran, so nothing was stamped.
	_, err = stamp.NewFileRepository(cfg.StampPath).Load(context.Background())
	require.ErrorIs(t, err, stamp.ErrNotFound)
}
