package storage

import (
	"context"
	"os"

	"github.com/hostsave/hostsave/internal/execx"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

// SecondaryStorage mirrors artifacts to a second mounted path, usually
// an NFS share or a USB disk, with rsync. Failures are recoverable: the
// run continues on the primary copy alone and reports a warning.
type SecondaryStorage struct {
	path      string
	enabled   bool
	flags     []string
	retention RetentionConfig
	runner    execx.Runner
	logger    *logging.Logger
}

func NewSecondaryStorage(path string, enabled bool, flags []string, retention RetentionConfig, runner execx.Runner, logger *logging.Logger) *SecondaryStorage {
	if runner == nil {
		runner = execx.NewOSRunner()
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if len(flags) == 0 {
		flags = []string{"-a", "--partial"}
	}
	return &SecondaryStorage{path: path, enabled: enabled, flags: flags, retention: retention, runner: runner, logger: logger}
}

func (s *SecondaryStorage) Name() string             { return "secondary mirror" }
func (s *SecondaryStorage) Location() BackupLocation { return LocationSecondary }
func (s *SecondaryStorage) IsEnabled() bool          { return s.enabled && s.path != "" }
func (s *SecondaryStorage) Severity() types.Severity { return types.SeverityRecoverable }

func (s *SecondaryStorage) Store(ctx context.Context, artifact *types.ArtifactInfo) error {
	if err := os.MkdirAll(s.path, 0750); err != nil {
		return newError(LocationSecondary, "store", s.path, s.Severity(), err)
	}

	// Sidecars ride along when they exist; rsync fails hard on a
	// missing source, so only present files make the argument list.
	sources := []string{artifact.Path}
	for _, suffix := range []string{".sha256", ".metadata"} {
		if _, err := os.Stat(artifact.Path + suffix); err == nil {
			sources = append(sources, artifact.Path+suffix)
		}
	}

	args := append(append([]string(nil), s.flags...), sources...)
	args = append(args, s.path+"/")

	s.logger.Step("Mirroring %s to %s", artifact.Path, s.path)
	if _, err := s.runner.Run(ctx, execx.Command{Name: "rsync", Args: args}); err != nil {
		return newError(LocationSecondary, "store", artifact.Path, s.Severity(), err)
	}
	return nil
}

func (s *SecondaryStorage) List(ctx context.Context) ([]types.ArtifactInfo, error) {
	artifacts, err := listArtifactsInDir(ctx, s.path)
	if err != nil {
		return nil, newError(LocationSecondary, "list", s.path, s.Severity(), err)
	}
	return artifacts, nil
}

func (s *SecondaryStorage) Delete(ctx context.Context, name string) error {
	return deleteArtifactFromDir(s.path, name, LocationSecondary, s.Severity(), s.logger)
}

func (s *SecondaryStorage) ApplyRetention(ctx context.Context) (*RetentionResult, error) {
	artifacts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return pruneArtifacts(ctx, s, artifacts, s.retention, s.logger), nil
}
