package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/safefs"
	"github.com/hostsave/hostsave/internal/types"
)

// Injectable for tests.
var localNow = time.Now

// fsOpTimeout bounds directory scans. A hung network mount must not
// stall the whole run; the operation fails with a TimeoutError instead.
const fsOpTimeout = 30 * time.Second

// LocalStorage is the primary destination. The archiver writes directly
// into its directory, so Store only confirms the artifact landed and
// never copies data. A failure here is fatal: without a local artifact
// there is nothing to mirror or sync.
type LocalStorage struct {
	path      string
	retention RetentionConfig
	logger    *logging.Logger
}

func NewLocalStorage(path string, retention RetentionConfig, logger *logging.Logger) *LocalStorage {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &LocalStorage{path: path, retention: retention, logger: logger}
}

func (s *LocalStorage) Name() string             { return "local backup directory" }
func (s *LocalStorage) Location() BackupLocation { return LocationLocal }
func (s *LocalStorage) IsEnabled() bool          { return s.path != "" }
func (s *LocalStorage) Severity() types.Severity { return types.SeverityFatal }

func (s *LocalStorage) Store(ctx context.Context, artifact *types.ArtifactInfo) error {
	info, err := safefs.Stat(ctx, artifact.Path, fsOpTimeout)
	if err != nil {
		return newError(LocationLocal, "store", artifact.Path, s.Severity(), err)
	}
	if info.Size() == 0 {
		return newError(LocationLocal, "store", artifact.Path, s.Severity(),
			fmt.Errorf("artifact is empty"))
	}
	s.logger.Debug("Local artifact in place: %s (%d bytes)", artifact.Path, info.Size())
	return nil
}

func (s *LocalStorage) List(ctx context.Context) ([]types.ArtifactInfo, error) {
	artifacts, err := listArtifactsInDir(ctx, s.path)
	if err != nil {
		return nil, newError(LocationLocal, "list", s.path, s.Severity(), err)
	}
	return artifacts, nil
}

func (s *LocalStorage) Delete(ctx context.Context, name string) error {
	return deleteArtifactFromDir(s.path, name, LocationLocal, s.Severity(), s.logger)
}

func (s *LocalStorage) ApplyRetention(ctx context.Context) (*RetentionResult, error) {
	artifacts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return pruneArtifacts(ctx, s, artifacts, s.retention, s.logger), nil
}

// isArtifactName recognizes backup archives and rejects their sidecar
// files so a retention pass never counts a checksum as a backup.
func isArtifactName(name string) bool {
	if strings.HasSuffix(name, ".sha256") || strings.HasSuffix(name, ".metadata") {
		return false
	}
	return strings.Contains(name, "-backup-") && strings.Contains(name, ".tar")
}

func listArtifactsInDir(ctx context.Context, dir string) ([]types.ArtifactInfo, error) {
	entries, err := safefs.ReadDir(ctx, dir, fsOpTimeout)
	if err != nil {
		return nil, err
	}
	var artifacts []types.ArtifactInfo
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, types.ArtifactInfo{
			Path:      filepath.Join(dir, entry.Name()),
			Size:      info.Size(),
			Timestamp: info.ModTime(),
		})
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Timestamp.After(artifacts[j].Timestamp)
	})
	return artifacts, nil
}

// deleteArtifactFromDir removes an artifact and its sidecars. Sidecar
// removal is best effort; a missing checksum file is not an error.
func deleteArtifactFromDir(dir, name string, loc BackupLocation, sev types.Severity, logger *logging.Logger) error {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, name)
	}
	if err := os.Remove(path); err != nil {
		return newError(loc, "delete", path, sev, err)
	}
	for _, suffix := range []string{".sha256", ".metadata"} {
		sidecar := path + suffix
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			logger.Warning("Could not remove sidecar %s: %v", sidecar, err)
		}
	}
	return nil
}

// pruneArtifacts applies the retention policy against a listing and
// deletes what expired. Deletion failures are warnings: a pruning pass
// must never turn a successful backup into a failed run.
func pruneArtifacts(ctx context.Context, s Storage, artifacts []types.ArtifactInfo, cfg RetentionConfig, logger *logging.Logger) *RetentionResult {
	result := &RetentionResult{Examined: len(artifacts)}
	expired := selectExpired(cfg, artifacts, localNow())
	result.Kept = len(artifacts) - len(expired)

	for _, path := range expired {
		if err := s.Delete(ctx, path); err != nil {
			logger.Warning("Retention could not delete %s: %v", path, err)
			result.Failed = append(result.Failed, path)
			continue
		}
		logger.Info("Retention deleted %s", path)
		result.Deleted = append(result.Deleted, path)
	}
	return result
}
