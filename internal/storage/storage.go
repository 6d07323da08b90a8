// Package storage manages the backup destinations: the primary local
// directory, an optional secondary mirror, and a cloud remote reached
// through rclone or restic.
package storage

import (
	"context"
	"fmt"

	"github.com/hostsave/hostsave/internal/types"
)

// BackupLocation identifies one of the configured destinations.
type BackupLocation string

const (
	LocationLocal     BackupLocation = "local"
	LocationSecondary BackupLocation = "secondary"
	LocationCloud     BackupLocation = "cloud"
)

// Storage is implemented by each backup destination. Retention and
// listing operate on the destination's own view of the artifacts, so a
// cloud target lists remote objects while the local target walks a
// directory.
type Storage interface {
	// Name returns a short human-readable label for log lines.
	Name() string

	// Location identifies which destination this is.
	Location() BackupLocation

	// IsEnabled reports whether the destination is configured for use.
	IsEnabled() bool

	// Severity tells the orchestrator whether a failure on this
	// destination aborts the run or is reported and skipped.
	Severity() types.Severity

	// Store places the artifact (and its sidecar files, where the
	// destination supports them) on the destination.
	Store(ctx context.Context, artifact *types.ArtifactInfo) error

	// List returns the backup artifacts currently held by the
	// destination, newest first.
	List(ctx context.Context) ([]types.ArtifactInfo, error)

	// Delete removes a single artifact and its sidecars.
	Delete(ctx context.Context, name string) error

	// ApplyRetention prunes artifacts according to the configured
	// retention policy. Individual deletion failures are reported in
	// the result, never as an error.
	ApplyRetention(ctx context.Context) (*RetentionResult, error)
}

// StorageError carries enough detail for the orchestrator to decide
// whether the failure is fatal and for the summary to name the
// destination that failed.
type StorageError struct {
	Location  BackupLocation
	Operation string
	Path      string
	Severity  types.Severity
	Err       error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s storage %s failed for %s: %v", e.Location, e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("%s storage %s failed: %v", e.Location, e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// newError builds a StorageError with the destination's severity.
func newError(loc BackupLocation, op, path string, sev types.Severity, err error) *StorageError {
	return &StorageError{Location: loc, Operation: op, Path: path, Severity: sev, Err: err}
}
