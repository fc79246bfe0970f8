// Package persist moves note snapshots between the in-memory store and durable storage.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/astromechza/notesync/pkg/notes"
)

// ErrPersistence wraps every storage read or write failure.
var ErrPersistence = errors.New("persistence failure")

const (
	DriverJSON      = "json"
	DriverSQLite    = "sqlite"
	DriverAutomerge = "automerge"
)

// Gateway reads and writes whole snapshots. A missing store loads as an empty snapshot without error.
type Gateway interface {
	Load(ctx context.Context) (notes.Snapshot, error)
	Save(ctx context.Context, snapshot notes.Snapshot) error
	Close() error
}

// Open returns the gateway for the named driver. It performs no I/O against the store itself.
func Open(driver string, path string, logger *slog.Logger) (Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", driver, "path", path)
	switch driver {
	case DriverJSON:
		return NewFileGateway(path, logger), nil
	case DriverSQLite:
		return NewSQLiteGateway(path, logger)
	case DriverAutomerge:
		return NewArchiveGateway(path, logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func failure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// keepValid drops records whose identifier would never be accepted by the store.
func keepValid(logger *slog.Logger, snapshot notes.Snapshot) notes.Snapshot {
	for id := range snapshot {
		if err := notes.ValidateID(id); err != nil {
			logger.Warn("skipping stored note with invalid id", "id", id)
			delete(snapshot, id)
		}
	}
	return snapshot
}

const tempFilePrefix = "notesync-tmp-"

// writeFileAtomic writes data next to filename and renames it into place so readers never see a partial snapshot.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpFile.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", filename, err)
	}
	return nil
}
