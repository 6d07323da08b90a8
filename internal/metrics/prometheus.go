// Package metrics exports run statistics in Prometheus textfile format
// for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/orchestrator"
)

const textfileName = "hostsave.prom"

// PrometheusExporter writes the run snapshot into the textfile
// collector directory via a temp file and rename, so node_exporter
// never scrapes a half-written file.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Export writes the metrics for one finished run.
func (pe *PrometheusExporter) Export(stats *orchestrator.RunStats) error {
	if pe == nil || stats == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	tmpPath := filepath.Join(pe.textfileDir, textfileName+".tmp")
	finalPath := filepath.Join(pe.textfileDir, textfileName)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", tmpPath, err)
	}
	defer f.Close()

	writeMetric := func(name, help, value string) {
		fmt.Fprintf(f, "# HELP %s %s\n", name, help)
		fmt.Fprintf(f, "# TYPE %s gauge\n", name)
		fmt.Fprintf(f, "%s %s\n", name, value)
	}

	// Status gauge: 0=success, 1=warning, 2=error.
	status := 0
	switch {
	case stats.ExitCode != 0:
		status = 2
	case stats.WarningCount > 0 || stats.RetentionFailed > 0:
		status = 1
	}

	var archiveBytes int64
	for _, artifact := range stats.Artifacts {
		archiveBytes += artifact.Size
	}

	writeMetric("hostsave_start_time_seconds",
		"Unix timestamp of backup start",
		fmt.Sprintf("%.0f", float64(stats.StartTime.Unix())))
	writeMetric("hostsave_end_time_seconds",
		"Unix timestamp of backup end",
		fmt.Sprintf("%.0f", float64(stats.EndTime.Unix())))
	writeMetric("hostsave_duration_seconds",
		"Duration of last backup in seconds",
		fmt.Sprintf("%.2f", stats.Duration().Seconds()))
	writeMetric("hostsave_exit_code",
		"Exit code of last backup",
		fmt.Sprintf("%d", stats.ExitCode))
	writeMetric("hostsave_status",
		"Status of last backup (0=success,1=warning,2=error)",
		fmt.Sprintf("%d", status))
	writeMetric("hostsave_errors_total",
		"Errors logged during last backup",
		fmt.Sprintf("%d", stats.ErrorCount))
	writeMetric("hostsave_warnings_total",
		"Warnings logged during last backup",
		fmt.Sprintf("%d", stats.WarningCount))
	writeMetric("hostsave_archive_size_bytes",
		"Combined size of the artifacts produced by the last backup",
		fmt.Sprintf("%d", archiveBytes))
	writeMetric("hostsave_artifacts_total",
		"Artifacts produced by the last backup",
		fmt.Sprintf("%d", len(stats.Artifacts)))
	writeMetric("hostsave_retention_deleted_total",
		"Artifacts deleted by retention during the last backup",
		fmt.Sprintf("%d", stats.RetentionDeleted))
	writeMetric("hostsave_retention_failed_total",
		"Retention deletions that failed during the last backup",
		fmt.Sprintf("%d", stats.RetentionFailed))

	fmt.Fprintf(f, "# HELP hostsave_target_up Per-destination outcome of the last backup (1=ok)\n")
	fmt.Fprintf(f, "# TYPE hostsave_target_up gauge\n")
	for name, state := range stats.TargetStatus {
		up := 0
		if state == "ok" {
			up = 1
		}
		fmt.Fprintf(f, "hostsave_target_up{location=%q} %d\n", name, up)
	}

	fmt.Fprintf(f, "# HELP hostsave_info Static information about this instance\n")
	fmt.Fprintf(f, "# TYPE hostsave_info gauge\n")
	fmt.Fprintf(f, "hostsave_info{hostname=%q,distro=%q,version=%q} 1\n",
		stats.Hostname, stats.Distro, stats.Version)

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync metrics file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename metrics file to %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}
	return nil
}
