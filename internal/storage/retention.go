package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/hostsave/hostsave/internal/types"
)

// RetentionPolicy selects how old artifacts are chosen for deletion.
type RetentionPolicy string

const (
	// PolicyAge deletes every artifact older than MaxAgeDays.
	PolicyAge RetentionPolicy = "age"
	// PolicyGFS keeps a grandfather-father-son rotation of daily,
	// weekly, monthly and yearly artifacts and deletes the rest.
	PolicyGFS RetentionPolicy = "gfs"
)

// RetentionConfig is shared by all destinations; each destination pairs
// it with its own maximum age.
type RetentionConfig struct {
	Policy     RetentionPolicy
	MaxAgeDays int

	// GFS bucket sizes, consulted only when Policy is PolicyGFS.
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	KeepYearly  int
}

// RetentionResult summarizes one pruning pass. Failed deletions are
// recorded here and logged as warnings; they never abort a run.
type RetentionResult struct {
	Examined int
	Kept     int
	Deleted  []string
	Failed   []string
}

func (r *RetentionResult) String() string {
	return fmt.Sprintf("examined=%d kept=%d deleted=%d failed=%d",
		r.Examined, r.Kept, len(r.Deleted), len(r.Failed))
}

// selectExpired returns the names of artifacts the policy no longer
// protects. Artifacts with a zero timestamp are always kept; a missing
// modification time is not evidence of age.
func selectExpired(cfg RetentionConfig, artifacts []types.ArtifactInfo, now time.Time) []string {
	switch cfg.Policy {
	case PolicyGFS:
		return expiredByGFS(cfg, artifacts)
	default:
		return expiredByAge(cfg.MaxAgeDays, artifacts, now)
	}
}

func expiredByAge(maxAgeDays int, artifacts []types.ArtifactInfo, now time.Time) []string {
	if maxAgeDays <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, 0, -maxAgeDays)
	var expired []string
	for _, a := range artifacts {
		if a.Timestamp.IsZero() {
			continue
		}
		if a.Timestamp.Before(cutoff) {
			expired = append(expired, a.Path)
		}
	}
	return expired
}

// expiredByGFS classifies artifacts newest first into daily, weekly,
// monthly and yearly buckets. An artifact survives if it is the newest
// member of any bucket that still has room.
func expiredByGFS(cfg RetentionConfig, artifacts []types.ArtifactInfo) []string {
	sorted := make([]types.ArtifactInfo, len(artifacts))
	copy(sorted, artifacts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	days := map[string]bool{}
	weeks := map[string]bool{}
	months := map[string]bool{}
	years := map[string]bool{}

	var expired []string
	for _, a := range sorted {
		if a.Timestamp.IsZero() {
			continue
		}
		keep := false

		dayKey := a.Timestamp.Format("2006-01-02")
		if !days[dayKey] && len(days) < cfg.KeepDaily {
			days[dayKey] = true
			keep = true
		}

		isoYear, isoWeek := a.Timestamp.ISOWeek()
		weekKey := fmt.Sprintf("%04d-W%02d", isoYear, isoWeek)
		if !weeks[weekKey] && len(weeks) < cfg.KeepWeekly {
			weeks[weekKey] = true
			keep = true
		}

		monthKey := a.Timestamp.Format("2006-01")
		if !months[monthKey] && len(months) < cfg.KeepMonthly {
			months[monthKey] = true
			keep = true
		}

		yearKey := a.Timestamp.Format("2006")
		if !years[yearKey] && len(years) < cfg.KeepYearly {
			years[yearKey] = true
			keep = true
		}

		if !keep {
			expired = append(expired, a.Path)
		}
	}
	return expired
}
