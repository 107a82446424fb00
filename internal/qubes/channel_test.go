package qubes

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/qubes-preflight/internal/domain/update"
)

// requireLocalShell skips tests that need /bin/sh.
func requireLocalShell(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// TestClientRun_AdminDomainSuccess runs a local command as the
// administrative domain and captures its output.
func TestClientRun_AdminDomainSuccess(t *testing.T) {
	t.Parallel()
	requireLocalShell(t)

	client := NewClient("dom0", nil)

	output, err := client.Run(context.Background(), "dom0", "echo updated")
	require.NoError(t, err)
	require.Zero(t, output.ExitCode)
	require.Equal(t, "updated\n", output.Stdout)
}

// TestClientRun_AdminDomainNonZeroExit reports the command's own exit code
// without a channel error.
func TestClientRun_AdminDomainNonZeroExit(t *testing.T) {
	t.Parallel()
	requireLocalShell(t)

	client := NewClient("dom0", nil)

	output, err := client.Run(context.Background(), "dom0", "echo broken >&2; exit 3")
	require.NoError(t, err)
	require.Equal(t, 3, output.ExitCode)
	require.Equal(t, "broken\n", output.Stderr)
}

// TestClientRun_DeadlineDominates surfaces the context error when the
// command is killed by the deadline.
func TestClientRun_DeadlineDominates(t *testing.T) {
	t.Parallel()
	requireLocalShell(t)

	client := NewClient("dom0", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Run(ctx, "dom0", "sleep 5")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestClientRun_MissingPlatformTool reports a channel error when qvm-run is
// not available at all.
func TestClientRun_MissingPlatformTool(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("qvm-run"); err == nil {
		t.Skip("qvm-run is installed; cannot simulate a missing platform tool")
	}

	client := NewClient("dom0", nil)

	_, err := client.Run(context.Background(), "work", "true")
	require.ErrorIs(t, err, update.ErrChannel)
}

// TestClassifyQvmRunExit separates the platform tool's reserved exit codes
// from ordinary command failures.
func TestClassifyQvmRunExit(t *testing.T) {
	t.Parallel()

	for _, code := range []int{125, 126, 127} {
		err := classifyQvmRunExit(update.CommandOutput{ExitCode: code, Stderr: "denied\nmore"})
		require.ErrorIs(t, err, update.ErrChannel)
	}

	require.NoError(t, classifyQvmRunExit(update.CommandOutput{ExitCode: 0}))
	require.NoError(t, classifyQvmRunExit(update.CommandOutput{ExitCode: 1}))
	require.NoError(t, classifyQvmRunExit(update.CommandOutput{ExitCode: 100}))
}

// TestFirstLine keeps error messages to a single trimmed line.
func TestFirstLine(t *testing.T) {
	t.Parallel()

	require.Equal(t, "denied", firstLine("denied\nsecond line"))
	require.Equal(t, "denied", firstLine("  denied  "))
	require.Empty(t, firstLine(""))
}
