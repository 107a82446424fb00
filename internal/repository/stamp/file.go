package stamp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/qubes-preflight/internal/config"
)

// Repository defines persistence operations for the last-run stamp.
type Repository interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, completedAt time.Time) error
}

// FileRepository persists the stamp as Unix seconds in a plain text file.
// Writes go to a temporary file in the same directory followed by a rename,
// so a concurrently reading notifier never observes a torn value.
type FileRepository struct {
	// path is the filesystem location of the stamp file.
	path string
	// mu protects concurrent access to the stamp file within this process.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when no run has ever been recorded.
	ErrNotFound = errors.New("stamp not found")
	// ErrCorrupted is returned when the stamp file cannot be parsed.
	ErrCorrupted = errors.New("stamp corrupted")
)

// NewFileRepository creates a repository that reads/writes the stamp at the
// provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the stamp from disk.
func (r *FileRepository) Load(_ context.Context) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, ErrNotFound
		}

		return time.Time{}, fmt.Errorf("read stamp file: %w", err)
	}

	seconds, err := strconv.ParseInt(strings.TrimSpace(string(contents)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", r.path, ErrCorrupted)
	}

	return time.Unix(seconds, 0), nil
}

// Save writes the stamp to disk atomically. Last write wins.
func (r *FileRepository) Save(_ context.Context, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := []byte(strconv.FormatInt(completedAt.Unix(), 10) + "\n")

	// The temporary file must live in the target directory: rename is only
	// atomic within a filesystem.
	temporary, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary stamp file: %w", err)
	}

	temporaryName := temporary.Name()

	if _, err = temporary.Write(data); err != nil {
		_ = temporary.Close()
		_ = os.Remove(temporaryName)

		return fmt.Errorf("write temporary stamp file: %w", err)
	}

	if err = temporary.Chmod(config.DefaultFilePermissions); err != nil {
		_ = temporary.Close()
		_ = os.Remove(temporaryName)

		return fmt.Errorf("chmod temporary stamp file: %w", err)
	}

	if err = temporary.Close(); err != nil {
		_ = os.Remove(temporaryName)

		return fmt.Errorf("close temporary stamp file: %w", err)
	}

	if err = os.Rename(temporaryName, r.path); err != nil {
		_ = os.Remove(temporaryName)

		return fmt.Errorf("replace stamp file: %w", err)
	}

	return nil
}
