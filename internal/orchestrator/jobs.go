package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hostsave/hostsave/internal/storage"
	"github.com/hostsave/hostsave/internal/types"
)

const (
	statusOK      = "ok"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)

// Job is one independent unit of a run. Jobs share nothing and never
// cancel each other: a failed archive must not abort a cloud sync that
// is already uploading yesterday's artifact.
type Job struct {
	Name     string
	Severity types.Severity
	Run      func(ctx context.Context) (*jobOutcome, error)
}

// jobOutcome carries what a job produced; results are merged into the
// run statistics only after every job finished, so jobs need no locks.
type jobOutcome struct {
	artifact         *ArtifactReport
	targetStatus     map[storage.BackupLocation]string
	retentionDeleted int
	retentionFailed  int
}

func newJobOutcome() *jobOutcome {
	return &jobOutcome{targetStatus: map[storage.BackupLocation]string{}}
}

// JobResult is the recorded outcome of one job.
type JobResult struct {
	Name     string
	Severity types.Severity
	Duration time.Duration
	Err      error
	Outcome  *jobOutcome
}

// runJobs executes the jobs sequentially or concurrently. Parallel mode
// waits for every job: a failing sibling is reported, not propagated.
func runJobs(ctx context.Context, jobs []Job, parallel bool) []JobResult {
	results := make([]JobResult, len(jobs))

	runOne := func(i int) {
		start := time.Now()
		outcome, err := jobs[i].Run(ctx)
		if outcome == nil {
			outcome = newJobOutcome()
		}
		results[i] = JobResult{
			Name:     jobs[i].Name,
			Severity: jobs[i].Severity,
			Duration: time.Since(start),
			Err:      err,
			Outcome:  outcome,
		}
	}

	if !parallel {
		for i := range jobs {
			runOne(i)
		}
		return results
	}

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runOne(i)
		}(i)
	}
	wg.Wait()
	return results
}

// aggregate derives the process exit code from every job outcome. The
// first fatal failure decides the code; recoverable failures leave the
// run successful but warned about.
func aggregate(results []JobResult) (types.ExitCode, error) {
	var firstErr error
	code := types.ExitSuccess
	for _, result := range results {
		if result.Err == nil {
			continue
		}
		if result.Severity != types.SeverityFatal {
			continue
		}
		if firstErr == nil {
			firstErr = result.Err
			code = exitCodeOf(result.Err)
		}
	}
	return code, firstErr
}

func exitCodeOf(err error) types.ExitCode {
	var berr *BackupError
	if errors.As(err, &berr) {
		return berr.Code
	}
	return types.ExitBackupError
}
