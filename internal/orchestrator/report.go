package orchestrator

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hostsave/hostsave/internal/backup"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

// ArtifactReport describes one produced archive in the run report.
type ArtifactReport struct {
	Path        string  `json:"path"`
	Size        int64   `json:"size"`
	Checksum    string  `json:"checksum,omitempty"`
	Compression string  `json:"compression"`
	Encrypted   bool    `json:"encrypted"`
	Duration    float64 `json:"duration_seconds"`
}

// JobReport is the per-job entry in the run report.
type JobReport struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_seconds"`
}

// RunStats is the aggregate outcome of one run, serialized as the JSON
// report and fed to the notification channels.
type RunStats struct {
	Hostname  string    `json:"hostname"`
	Distro    string    `json:"distro,omitempty"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	DryRun    bool      `json:"dry_run,omitempty"`

	Artifacts []ArtifactReport `json:"artifacts"`
	Jobs      []JobReport      `json:"jobs"`

	// TargetStatus maps destination name to ok/failed/skipped.
	TargetStatus map[string]string `json:"target_status"`

	RetentionDeleted int `json:"retention_deleted"`
	RetentionFailed  int `json:"retention_failed"`

	ErrorCount   int    `json:"error_count"`
	WarningCount int    `json:"warning_count"`
	LogFilePath  string `json:"log_file,omitempty"`
	ExitCode     int    `json:"exit_code"`
}

func (s *RunStats) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *RunStats) Succeeded() bool {
	return s.ExitCode == types.ExitSuccess.Int()
}

// mergeJob folds one job result into the aggregate.
func (s *RunStats) mergeJob(result JobResult) {
	report := JobReport{
		Name:     result.Name,
		Status:   statusOK,
		Duration: result.Duration.Round(time.Millisecond).Seconds(),
	}
	if result.Err != nil {
		report.Status = statusFailed
		report.Error = result.Err.Error()
	}
	s.Jobs = append(s.Jobs, report)

	outcome := result.Outcome
	if outcome == nil {
		return
	}
	if outcome.artifact != nil {
		s.Artifacts = append(s.Artifacts, *outcome.artifact)
	}
	for loc, status := range outcome.targetStatus {
		// A failure reported by any job sticks.
		if existing, ok := s.TargetStatus[string(loc)]; ok && existing == statusFailed {
			continue
		}
		s.TargetStatus[string(loc)] = status
	}
	s.RetentionDeleted += outcome.retentionDeleted
	s.RetentionFailed += outcome.retentionFailed
}

// finish stamps the end time, exit code and the logger's counters.
func (s *RunStats) finish(end time.Time, logger *logging.Logger, code types.ExitCode) {
	s.EndTime = end
	s.ExitCode = code.Int()
	if logger != nil {
		s.ErrorCount = logger.ErrorCount()
		s.WarningCount = logger.WarningCount()
	}
}

var titleCaser = cases.Title(language.English)

// logSummary writes the final human-readable recap.
func (o *Orchestrator) logSummary(stats *RunStats, results []JobResult) {
	o.logger.Phase("Run summary")
	for _, result := range results {
		if result.Err != nil {
			o.logger.Error("  %s: failed after %s (%v)",
				titleCaser.String(result.Name), backup.FormatDuration(result.Duration), result.Err)
			continue
		}
		o.logger.Info("  %s: ok (%s)",
			titleCaser.String(result.Name), backup.FormatDuration(result.Duration))
	}
	for _, artifact := range stats.Artifacts {
		o.logger.Info("  Artifact: %s (%s)", artifact.Path, backup.FormatBytes(artifact.Size))
	}
	for name, status := range stats.TargetStatus {
		o.logger.Info("  %s storage: %s", titleCaser.String(name), status)
	}
	if stats.RetentionDeleted > 0 || stats.RetentionFailed > 0 {
		o.logger.Info("  Retention: %d deleted, %d failed", stats.RetentionDeleted, stats.RetentionFailed)
	}
	o.logger.Info("  Errors: %d, warnings: %d", stats.ErrorCount, stats.WarningCount)
	o.logger.Info("  Exit code: %d", stats.ExitCode)
}

// SaveReport writes the JSON run report next to the artifacts via a
// temp file and rename, so a crash never leaves a truncated report.
func (o *Orchestrator) SaveReport(stats *RunStats) (string, error) {
	if o.dryRun {
		return "", nil
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding run report: %w", err)
	}

	name := fmt.Sprintf("%s-report-%s.json", stats.Hostname, stats.StartTime.Format("20060102-150405"))
	path := filepath.Join(o.cfg.BackupPath, name)
	tmp := path + ".tmp"
	if err := o.deps.FS.WriteFile(tmp, append(data, '\n'), 0640); err != nil {
		return "", fmt.Errorf("writing run report: %w", err)
	}
	if err := o.deps.FS.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalizing run report: %w", err)
	}
	return path, nil
}
