package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDefault verifies the built-in configuration passes validation.
func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultAdminVM, cfg.AdminVM)
	require.Equal(t, DefaultTaskTimeout, cfg.TaskTimeout())
	require.Equal(t, DefaultStalenessThreshold, cfg.StalenessThreshold())
	require.Equal(t, DefaultUptimeGrace, cfg.UptimeGrace())
	require.Contains(t, cfg.NetworkProxies, "sys-firewall")
}

// TestValidate checks required fields and value constraints.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Nil config.
	require.Error(t, Validate(nil))

	// Missing admin VM.
	cfg := Default()
	cfg.AdminVM = ""
	require.Error(t, Validate(cfg))

	// Empty role command.
	cfg = Default()
	cfg.Commands.Template = ""
	require.Error(t, Validate(cfg))

	// Non-positive timeout.
	cfg = Default()
	cfg.TaskTimeoutSeconds = 0
	require.Error(t, Validate(cfg))

	// Negative retry budget.
	cfg = Default()
	cfg.RetryBudget = -1
	require.Error(t, Validate(cfg))

	// Negative reboot exit code.
	cfg = Default()
	cfg.RebootExitCode = -2
	require.Error(t, Validate(cfg))

	// Missing stamp path.
	cfg = Default()
	cfg.StampPath = ""
	require.Error(t, Validate(cfg))

	// Negative uptime grace.
	cfg = Default()
	cfg.UptimeGraceSeconds = -1
	require.Error(t, Validate(cfg))

	// Empty log level falls back to the default.
	cfg = Default()
	cfg.LogLevel = ""
	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

// TestLoad_OverlaysDefaults ensures absent fields keep defaults while
// explicit values, including zeros, win.
func TestLoad_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	contents := []byte("admin_vm: dom1\nuptime_grace_seconds: 0\nvm_commands:\n  work: \"echo custom\"\n")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Explicit values, including the zero, are honored.
	require.Equal(t, "dom1", cfg.AdminVM)
	require.Zero(t, cfg.UptimeGrace())
	require.Equal(t, "echo custom", cfg.VMCommands["work"])

	// Absent fields keep their defaults.
	require.Equal(t, DefaultTemplateCommand, cfg.Commands.Template)
	require.Equal(t, DefaultTaskTimeout, cfg.TaskTimeout())
	require.Equal(t, DefaultStampFilename, cfg.StampPath)
}

// TestLoad_MissingFile returns an error instead of silent defaults.
func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := Default()
	cfg.AdminVM = "dom0"
	cfg.TaskTimeoutSeconds = int((2 * time.Minute) / time.Second)
	cfg.RebootExitCode = 100

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.AdminVM, loaded.AdminVM)
	require.Equal(t, 2*time.Minute, loaded.TaskTimeout())
	require.Equal(t, cfg.RebootExitCode, loaded.RebootExitCode)
	require.Equal(t, cfg.Commands, loaded.Commands)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}
