package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/qubes-preflight/internal/config"
	"github.com/oshokin/qubes-preflight/internal/logger"
)

const (
	// UpdaterMarkerFilename marks a running updater instance.
	UpdaterMarkerFilename = "preflight-updater.pid"
	// NotifierMarkerFilename marks a running notifier instance.
	NotifierMarkerFilename = "preflight-notify.pid"
)

// ErrAlreadyRunning is returned when a live marker belongs to another
// process and the caller must not proceed.
var ErrAlreadyRunning = errors.New("another instance is already running")

// UpdaterMarkerPath locates the updater's marker next to the stamp file so
// that both binaries, wherever started from, agree on it.
func UpdaterMarkerPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.StampPath), UpdaterMarkerFilename)
}

// NotifierMarkerPath locates the notifier's marker next to the stamp file.
func NotifierMarkerPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.StampPath), NotifierMarkerFilename)
}

// Marker is a PID file guarding against concurrent instances of a binary.
// A marker whose PID no longer maps to a live process is stale and is
// cleaned up on the next acquire, so a crashed run never wedges the tool.
type Marker struct {
	// path is the marker file's location.
	path string
}

// NewMarker creates a marker handle for the provided path.
func NewMarker(path string) *Marker {
	return &Marker{
		path: filepath.Clean(path),
	}
}

// Acquire claims the marker by writing this process's PID. It fails with
// ErrAlreadyRunning when a live instance holds the marker; stale markers
// are removed and claimed.
func (m *Marker) Acquire(ctx context.Context) error {
	if err := m.tryCreate(); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create marker %s: %w", m.path, err)
	}

	pid, err := readMarkerPID(m.path)
	if err != nil {
		// The file vanished between the create attempt and the read, or
		// holds garbage; either way nobody live owns it.
		logger.WarnKV(ctx, "Removing unreadable marker", "path", m.path, "error", err)
	} else if alive, aliveErr := processAlive(pid); aliveErr != nil {
		return fmt.Errorf("inspect marker owner %d: %w", pid, aliveErr)
	} else if alive {
		return fmt.Errorf("%s held by pid %d: %w", m.path, pid, ErrAlreadyRunning)
	} else {
		logger.InfoKV(ctx, "Removing stale marker", "path", m.path, "pid", pid)
	}

	if err = os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale marker %s: %w", m.path, err)
	}

	if err = m.tryCreate(); err != nil {
		if errors.Is(err, os.ErrExist) {
			// Another instance won the race after the cleanup.
			return fmt.Errorf("%s: %w", m.path, ErrAlreadyRunning)
		}

		return fmt.Errorf("create marker %s: %w", m.path, err)
	}

	return nil
}

// Release removes the marker. Releasing a missing marker is not an error.
func (m *Marker) Release() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker %s: %w", m.path, err)
	}

	return nil
}

// Live reports whether the marker exists and its PID maps to a live
// process. Unreadable or stale markers count as not live.
func (m *Marker) Live() bool {
	pid, err := readMarkerPID(m.path)
	if err != nil {
		return false
	}

	alive, err := processAlive(pid)

	return err == nil && alive
}

// tryCreate writes the marker exclusively so two racing instances cannot
// both claim it.
func (m *Marker) tryCreate() error {
	file, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	_, err = file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(m.path)

		return err
	}

	return nil
}

// readMarkerPID parses the owning PID out of a marker file.
func readMarkerPID(path string) (int, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("marker %s does not hold a pid: %q", path, contents)
	}

	return pid, nil
}

// processAlive reports whether a process with the given PID exists.
func processAlive(pid int) (bool, error) {
	if pid == os.Getpid() {
		return true, nil
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("find process %d: %w", pid, err)
	}

	return process != nil, nil
}
