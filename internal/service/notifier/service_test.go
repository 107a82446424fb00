package notifier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/repository/stamp"
	"github.com/oshokin/qubes-preflight/internal/service/common"
)

// testService builds a service over a temporary directory with quiet host
// probes: no conflicting processes, uptime well past the grace period.
func testService(t *testing.T) *Service {
	t.Helper()

	cfg := config.Default()
	cfg.StampPath = filepath.Join(t.TempDir(), "stamp")

	svc := NewService(cfg)
	svc.scan = func([]string) (string, bool, error) { return "", false, nil }
	svc.uptime = func() (time.Duration, error) { return 2 * time.Hour, nil }

	return svc
}

// writeStamp records a completed run at the provided time.
func writeStamp(t *testing.T, svc *Service, at time.Time) {
	t.Helper()

	require.NoError(t, stamp.NewFileRepository(svc.cfg.StampPath).Save(context.Background(), at))
}

// TestCheck_FreshStamp stays silent while the last run is recent.
func TestCheck_FreshStamp(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	writeStamp(t, svc, time.Now().Add(-time.Hour))

	decision, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionNoPrompt, decision)
}

// TestCheck_StaleStamp prompts once the last run is older than the threshold.
func TestCheck_StaleStamp(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	writeStamp(t, svc, time.Now().Add(-svc.cfg.StalenessThreshold()-time.Hour))

	decision, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionPrompt, decision)
}

// TestCheck_ThresholdBoundary treats exactly-threshold-old stamps as stale.
func TestCheck_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	svc := testService(t)

	// Whole seconds so the stamp file's second precision is exact.
	now := time.Unix(1700000000, 0)
	svc.now = func() time.Time { return now }

	writeStamp(t, svc, now.Add(-svc.cfg.StalenessThreshold()))

	decision, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionPrompt, decision)
}

// TestCheck_MissingStamp fails the check distinctly when no run was ever
// recorded.
func TestCheck_MissingStamp(t *testing.T) {
	t.Parallel()

	svc := testService(t)

	decision, err := svc.Check(context.Background())
	require.ErrorIs(t, err, ErrStampIntegrity)
	require.Equal(t, DecisionNoPrompt, decision)
	require.Equal(t, ExitCheckFailed, ExitCode(decision, err))
}

// TestCheck_CorruptStamp fails the check distinctly on unparseable stamps.
func TestCheck_CorruptStamp(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	require.NoError(t, os.WriteFile(svc.cfg.StampPath, []byte("three days ago\n"), 0o600))

	decision, err := svc.Check(context.Background())
	require.ErrorIs(t, err, ErrStampIntegrity)
	require.Equal(t, DecisionNoPrompt, decision)
}

// TestCheck_ConflictingProcess stays silent while an update runs outside the
// orchestrator, even when the stamp is long stale.
func TestCheck_ConflictingProcess(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	writeStamp(t, svc, time.Now().Add(-30*24*time.Hour))

	svc.scan = func([]string) (string, bool, error) {
		return "qubes-dom0-update", true, nil
	}

	decision, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionNoPrompt, decision)
}

// TestCheck_ProcessScanFailure keeps checking when the process table cannot
// be read; a broken scan must not silence overdue updates.
func TestCheck_ProcessScanFailure(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	writeStamp(t, svc, time.Now().Add(-30*24*time.Hour))

	svc.scan = func([]string) (string, bool, error) {
		return "", false, errors.New("ps exploded")
	}

	decision, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionPrompt, decision)
}

// TestCheck_UpdaterRunning stays silent while the orchestrator's own marker
// is live.
func TestCheck_UpdaterRunning(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	writeStamp(t, svc, time.Now().Add(-30*24*time.Hour))

	updaterMarker := common.NewMarker(common.UpdaterMarkerPath(svc.cfg))
	require.NoError(t, updaterMarker.Acquire(context.Background()))

	decision, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionNoPrompt, decision)
}

// TestCheck_SecondNotifierBacksOff yields quietly when another notifier
// already holds the marker.
func TestCheck_SecondNotifierBacksOff(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	writeStamp(t, svc, time.Now().Add(-30*24*time.Hour))

	held := common.NewMarker(common.NotifierMarkerPath(svc.cfg))
	require.NoError(t, held.Acquire(context.Background()))

	decision, err := svc.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionNoPrompt, decision)
}

// TestCheck_BootGracePeriod suppresses the prompt right after boot and
// prompts once the grace period has passed.
func TestCheck_BootGracePeriod(t *testing.T) {
	t.Parallel()

	t.Run("within_grace", func(t *testing.T) {
		t.Parallel()

		svc := testService(t)
		writeStamp(t, svc, time.Now().Add(-30*24*time.Hour))
		svc.uptime = func() (time.Duration, error) { return 5 * time.Minute, nil }

		decision, err := svc.Check(context.Background())
		require.NoError(t, err)
		require.Equal(t, DecisionNoPrompt, decision)
	})

	t.Run("after_grace", func(t *testing.T) {
		t.Parallel()

		svc := testService(t)
		writeStamp(t, svc, time.Now().Add(-30*24*time.Hour))
		svc.uptime = func() (time.Duration, error) { return time.Hour, nil }

		decision, err := svc.Check(context.Background())
		require.NoError(t, err)
		require.Equal(t, DecisionPrompt, decision)
	})

	t.Run("uptime_unreadable", func(t *testing.T) {
		t.Parallel()

		svc := testService(t)
		writeStamp(t, svc, time.Now().Add(-30*24*time.Hour))
		svc.uptime = func() (time.Duration, error) { return 0, errors.New("no procfs") }

		// Overdue updates win over a broken uptime probe.
		decision, err := svc.Check(context.Background())
		require.NoError(t, err)
		require.Equal(t, DecisionPrompt, decision)
	})
}

// TestCheck_ReleasesMarker leaves no notifier marker behind.
func TestCheck_ReleasesMarker(t *testing.T) {
	t.Parallel()

	svc := testService(t)
	writeStamp(t, svc, time.Now().Add(-time.Hour))

	_, err := svc.Check(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(common.NotifierMarkerPath(svc.cfg))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestExitCode maps decisions and errors onto the exit code contract.
func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, ExitNoPrompt, ExitCode(DecisionNoPrompt, nil))
	require.Equal(t, ExitPrompt, ExitCode(DecisionPrompt, nil))
	require.Equal(t, ExitCheckFailed, ExitCode(DecisionNoPrompt, ErrStampIntegrity))
	require.Equal(t, ExitCheckFailed, ExitCode(DecisionPrompt, errors.New("anything")))
}
