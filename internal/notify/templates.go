package notify

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hostsave/hostsave/internal/backup"
	"github.com/hostsave/hostsave/internal/orchestrator"
)

// BuildTitle produces the one-line subject shared by all channels.
func BuildTitle(stats *orchestrator.RunStats) string {
	symbol := "✅"
	switch StatusOf(stats) {
	case StatusWarning:
		symbol = "⚠️"
	case StatusFailure:
		symbol = "❌"
	}
	return fmt.Sprintf("%s Backup %s on %s", symbol, StatusOf(stats), stats.Hostname)
}

// BuildText produces the plain-text body.
func BuildText(stats *orchestrator.RunStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Host: %s", stats.Hostname)
	if stats.Distro != "" {
		fmt.Fprintf(&b, " (%s)", stats.Distro)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Started: %s\n", stats.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration: %s\n", backup.FormatDuration(stats.Duration()))

	for _, job := range stats.Jobs {
		line := fmt.Sprintf("Job %s: %s", job.Name, job.Status)
		if job.Error != "" {
			line += " (" + job.Error + ")"
		}
		b.WriteString(line + "\n")
	}

	for _, artifact := range stats.Artifacts {
		fmt.Fprintf(&b, "Artifact: %s (%s)\n",
			filepath.Base(artifact.Path), backup.FormatBytes(artifact.Size))
	}

	// Deterministic order for tests and for humans who diff messages.
	targets := make([]string, 0, len(stats.TargetStatus))
	for name := range stats.TargetStatus {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	for _, name := range targets {
		fmt.Fprintf(&b, "Storage %s: %s\n", name, stats.TargetStatus[name])
	}

	if stats.RetentionDeleted > 0 || stats.RetentionFailed > 0 {
		fmt.Fprintf(&b, "Retention: %d deleted, %d failed\n",
			stats.RetentionDeleted, stats.RetentionFailed)
	}
	fmt.Fprintf(&b, "Errors: %d, warnings: %d\n", stats.ErrorCount, stats.WarningCount)
	fmt.Fprintf(&b, "Exit code: %d\n", stats.ExitCode)
	return b.String()
}

// BuildHTML produces the Telegram-flavoured HTML body; Telegram only
// accepts a small tag subset, so formatting stays minimal.
func BuildHTML(stats *orchestrator.RunStats) string {
	text := BuildText(stats)
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(text)
	return fmt.Sprintf("<b>%s</b>\n<pre>%s</pre>", htmlEscape(BuildTitle(stats)), escaped)
}

func htmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
