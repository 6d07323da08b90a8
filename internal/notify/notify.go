// Package notify delivers the end-of-run summary to the configured
// channels: Gotify, Telegram and generic webhooks. Delivery problems
// are always warnings; a backup that ran is never failed by a
// notification that did not.
package notify

import (
	"github.com/hostsave/hostsave/internal/orchestrator"
	"github.com/hostsave/hostsave/internal/types"
)

// Status classifies a finished run for channels that color or
// prioritize by outcome.
type Status int

const (
	StatusSuccess Status = iota
	StatusWarning
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StatusOf maps run statistics to a notification status so the channel
// output stays in sync with the process exit code.
func StatusOf(stats *orchestrator.RunStats) Status {
	switch {
	case stats.ExitCode != types.ExitSuccess.Int():
		return StatusFailure
	case stats.ErrorCount > 0 || stats.WarningCount > 0 || stats.RetentionFailed > 0:
		return StatusWarning
	default:
		return StatusSuccess
	}
}
