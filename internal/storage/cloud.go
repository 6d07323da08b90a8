package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/hostsave/hostsave/internal/execx"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

// CloudTool names the binary used to reach the remote.
type CloudTool string

const (
	ToolRclone CloudTool = "rclone"
	ToolRestic CloudTool = "restic"
)

// cloudSleep waits between attempts; cancelling the run cuts the wait
// short. Swapped out in tests.
var cloudSleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CloudConfig configures the off-site destination.
type CloudConfig struct {
	Tool   CloudTool
	// Remote is the rclone target, e.g. "b2:bucket/hostsave".
	Remote string
	// Repository and PasswordCommand configure restic.
	Repository      string
	PasswordCommand string

	// RcloneArgs are appended to every rclone invocation, e.g.
	// --bwlimit or --transfers from the configuration.
	RcloneArgs []string

	RetryCount int
	RetryDelay time.Duration
	Timeout    time.Duration

	Retention RetentionConfig
}

// CloudStorage pushes artifacts off-site with rclone or restic. Every
// network operation runs as a child process; failures are retried a
// fixed number of times with a fixed delay, and exhausting the retries
// is fatal because an unsynced backup is the failure mode off-site
// storage exists to prevent.
type CloudStorage struct {
	cfg    CloudConfig
	runner execx.Runner
	logger *logging.Logger
}

func NewCloudStorage(cfg CloudConfig, runner execx.Runner, logger *logging.Logger) *CloudStorage {
	if runner == nil {
		runner = execx.NewOSRunner()
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	return &CloudStorage{cfg: cfg, runner: runner, logger: logger}
}

func (s *CloudStorage) Name() string             { return fmt.Sprintf("cloud (%s)", s.cfg.Tool) }
func (s *CloudStorage) Location() BackupLocation { return LocationCloud }
func (s *CloudStorage) Severity() types.Severity { return types.SeverityFatal }

func (s *CloudStorage) IsEnabled() bool {
	switch s.cfg.Tool {
	case ToolRclone:
		return s.cfg.Remote != ""
	case ToolRestic:
		return s.cfg.Repository != ""
	}
	return false
}

// Store uploads the artifact, retrying the whole attempt on failure.
// Each failed attempt gets its own log line so the operator can see
// transient network trouble distinctly from a dead remote.
func (s *CloudStorage) Store(ctx context.Context, artifact *types.ArtifactInfo) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryCount; attempt++ {
		lastErr = s.upload(ctx, artifact)
		if lastErr == nil {
			if attempt > 1 {
				s.logger.Info("Cloud sync succeeded on attempt %d/%d", attempt, s.cfg.RetryCount)
			}
			return nil
		}
		s.logger.Warning("Cloud sync attempt %d/%d failed: %v", attempt, s.cfg.RetryCount, lastErr)
		if attempt == s.cfg.RetryCount {
			break
		}
		if err := cloudSleep(ctx, s.cfg.RetryDelay); err != nil {
			return newError(LocationCloud, "store", artifact.Path, s.Severity(), err)
		}
	}
	return newError(LocationCloud, "store", artifact.Path, s.Severity(),
		fmt.Errorf("all %d attempts failed, last error: %w", s.cfg.RetryCount, lastErr))
}

func (s *CloudStorage) upload(ctx context.Context, artifact *types.ArtifactInfo) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	switch s.cfg.Tool {
	case ToolRclone:
		files := []string{artifact.Path}
		for _, suffix := range []string{".sha256", ".metadata"} {
			if _, err := os.Stat(artifact.Path + suffix); err == nil {
				files = append(files, artifact.Path+suffix)
			}
		}
		for _, f := range files {
			args := append([]string{"copy", f, s.cfg.Remote}, s.cfg.RcloneArgs...)
			if _, err := s.runner.Run(ctx, execx.Command{Name: "rclone", Args: args}); err != nil {
				return err
			}
		}
		return nil

	case ToolRestic:
		args := []string{"backup", artifact.Path, "--tag", "hostsave"}
		_, err := s.runner.Run(ctx, execx.Command{
			Name: "restic",
			Args: args,
			Env:  s.resticEnv(),
		})
		return err
	}
	return fmt.Errorf("unknown cloud tool %q", s.cfg.Tool)
}

func (s *CloudStorage) resticEnv() []string {
	env := []string{"RESTIC_REPOSITORY=" + s.cfg.Repository}
	if s.cfg.PasswordCommand != "" {
		env = append(env, "RESTIC_PASSWORD_COMMAND="+s.cfg.PasswordCommand)
	}
	return env
}

// rcloneEntry is the subset of rclone lsjson output we read.
type rcloneEntry struct {
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

// resticSnapshot is the subset of restic snapshots --json we read.
type resticSnapshot struct {
	ShortID string    `json:"short_id"`
	Time    time.Time `json:"time"`
}

func (s *CloudStorage) List(ctx context.Context) ([]types.ArtifactInfo, error) {
	switch s.cfg.Tool {
	case ToolRclone:
		result, err := s.runner.Run(ctx, execx.Command{
			Name: "rclone",
			Args: []string{"lsjson", s.cfg.Remote},
		})
		if err != nil {
			return nil, newError(LocationCloud, "list", s.cfg.Remote, s.Severity(), err)
		}
		var entries []rcloneEntry
		if err := json.Unmarshal([]byte(result.Stdout), &entries); err != nil {
			return nil, newError(LocationCloud, "list", s.cfg.Remote, s.Severity(),
				fmt.Errorf("parsing rclone listing: %w", err))
		}
		var artifacts []types.ArtifactInfo
		for _, e := range entries {
			if e.IsDir || !isArtifactName(e.Name) {
				continue
			}
			artifacts = append(artifacts, types.ArtifactInfo{
				Path:      e.Name,
				Size:      e.Size,
				Timestamp: e.ModTime,
			})
		}
		return artifacts, nil

	case ToolRestic:
		result, err := s.runner.Run(ctx, execx.Command{
			Name: "restic",
			Args: []string{"snapshots", "--json", "--tag", "hostsave"},
			Env:  s.resticEnv(),
		})
		if err != nil {
			return nil, newError(LocationCloud, "list", s.cfg.Repository, s.Severity(), err)
		}
		var snapshots []resticSnapshot
		if err := json.Unmarshal([]byte(result.Stdout), &snapshots); err != nil {
			return nil, newError(LocationCloud, "list", s.cfg.Repository, s.Severity(),
				fmt.Errorf("parsing restic snapshots: %w", err))
		}
		var artifacts []types.ArtifactInfo
		for _, snap := range snapshots {
			artifacts = append(artifacts, types.ArtifactInfo{
				Path:      snap.ShortID,
				Timestamp: snap.Time,
			})
		}
		return artifacts, nil
	}
	return nil, newError(LocationCloud, "list", "", s.Severity(),
		fmt.Errorf("unknown cloud tool %q", s.cfg.Tool))
}

// Delete removes one remote artifact: a file for rclone, a forgotten
// and pruned snapshot for restic.
func (s *CloudStorage) Delete(ctx context.Context, name string) error {
	switch s.cfg.Tool {
	case ToolRclone:
		target := s.cfg.Remote + "/" + path.Base(name)
		if _, err := s.runner.Run(ctx, execx.Command{
			Name: "rclone",
			Args: []string{"deletefile", target},
		}); err != nil {
			return newError(LocationCloud, "delete", target, s.Severity(), err)
		}
		return nil

	case ToolRestic:
		if _, err := s.runner.Run(ctx, execx.Command{
			Name: "restic",
			Args: []string{"forget", "--prune", name},
			Env:  s.resticEnv(),
		}); err != nil {
			return newError(LocationCloud, "delete", name, s.Severity(), err)
		}
		return nil
	}
	return newError(LocationCloud, "delete", name, s.Severity(),
		fmt.Errorf("unknown cloud tool %q", s.cfg.Tool))
}

func (s *CloudStorage) ApplyRetention(ctx context.Context) (*RetentionResult, error) {
	// restic applies retention natively; its forget command is both
	// faster and safer than forgetting snapshots one at a time.
	if s.cfg.Tool == ToolRestic && s.cfg.Retention.Policy != PolicyGFS {
		args := []string{
			"forget", "--prune", "--tag", "hostsave",
			"--keep-within", strconv.Itoa(s.cfg.Retention.MaxAgeDays) + "d",
		}
		if _, err := s.runner.Run(ctx, execx.Command{Name: "restic", Args: args, Env: s.resticEnv()}); err != nil {
			s.logger.Warning("Cloud retention failed: %v", err)
			return &RetentionResult{Failed: []string{s.cfg.Repository}}, nil
		}
		return &RetentionResult{}, nil
	}

	artifacts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return pruneArtifacts(ctx, s, artifacts, s.cfg.Retention, s.logger), nil
}
