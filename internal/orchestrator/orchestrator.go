// Package orchestrator drives a backup run end to end: preflight
// checks, exclusion handling, archiving, sidecar files, storage
// dispatch and retention, with sequential and parallel job execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filippo.io/age"

	"github.com/hostsave/hostsave/internal/backup"
	"github.com/hostsave/hostsave/internal/checks"
	"github.com/hostsave/hostsave/internal/config"
	"github.com/hostsave/hostsave/internal/exclude"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/service"
	"github.com/hostsave/hostsave/internal/storage"
	"github.com/hostsave/hostsave/internal/types"
)

// BackupError carries the failing phase and the exit code the process
// should terminate with.
type BackupError struct {
	Phase string
	Err   error
	Code  types.ExitCode
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// Notifier delivers the end-of-run summary to one channel. Delivery
// failures never change the run's exit code.
type Notifier interface {
	Name() string
	IsEnabled() bool
	Notify(ctx context.Context, stats *RunStats) error
}

// Orchestrator coordinates a backup run.
type Orchestrator struct {
	cfg     *config.Config
	logger  *logging.Logger
	checker *checks.Checker
	deps    Deps

	version   string
	hostname  string
	distro    string
	dryRun    bool
	startTime time.Time

	targets    []storage.Storage
	notifiers  []Notifier
	services   *service.Manager
	recipients []age.Recipient
}

func New(cfg *config.Config, logger *logging.Logger, deps Deps) *Orchestrator {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	deps = deps.withDefaults()
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		deps:     deps,
		dryRun:   cfg != nil && cfg.DryRun,
		services: service.NewManager(deps.Runner, logger),
	}
}

func (o *Orchestrator) SetVersion(version string)      { o.version = version }
func (o *Orchestrator) SetHostname(hostname string)    { o.hostname = hostname }
func (o *Orchestrator) SetDistro(distro string)        { o.distro = distro }
func (o *Orchestrator) SetChecker(c *checks.Checker)   { o.checker = c }
func (o *Orchestrator) SetStartTime(t time.Time)       { o.startTime = t }
func (o *Orchestrator) RegisterStorage(s storage.Storage) {
	if s != nil && s.IsEnabled() {
		o.targets = append(o.targets, s)
	}
}
func (o *Orchestrator) RegisterNotifier(n Notifier) {
	if n != nil && n.IsEnabled() {
		o.notifiers = append(o.notifiers, n)
	}
}

func (o *Orchestrator) now() time.Time {
	return o.deps.Clock.Now()
}

// RunPreBackupChecks runs the preflight gate and logs each result.
func (o *Orchestrator) RunPreBackupChecks() error {
	if o.checker == nil {
		o.logger.Debug("No checker configured, skipping preflight checks")
		return nil
	}
	o.logger.Phase("Preflight checks")

	results, err := o.checker.RunAll()
	for _, result := range results {
		switch {
		case result.Passed:
			o.logger.Info("✓ %s: %s", result.Name, result.Message)
		case result.Severity == types.SeverityRecoverable:
			o.logger.Warning("✗ %s: %s", result.Name, result.Message)
		default:
			o.logger.Error("✗ %s: %s", result.Name, result.Message)
		}
	}
	if err != nil {
		code := types.ExitEnvironmentError
		for _, result := range results {
			if !result.Passed && result.Severity == types.SeverityFatal {
				code = result.Code
				break
			}
		}
		return &BackupError{Phase: "preflight", Err: err, Code: code}
	}
	return nil
}

// ReleaseLock releases the run lock if one was acquired.
func (o *Orchestrator) ReleaseLock() {
	if o.checker != nil {
		o.checker.ReleaseLock()
	}
}

// Run executes every configured job and returns aggregate statistics.
// The returned error, if any, is the first fatal job failure; jobs
// never cancel each other even in parallel mode.
func (o *Orchestrator) Run(ctx context.Context) (*RunStats, error) {
	start := o.startTime
	if start.IsZero() {
		start = o.now()
		o.startTime = start
	}

	stats := &RunStats{
		Hostname:  o.hostname,
		Distro:    o.distro,
		Version:   o.version,
		StartTime: start,
		DryRun:    o.dryRun,
	}
	stats.LogFilePath = o.logger.GetLogFilePath()
	o.initTargetStatus(stats)

	if o.cfg.EncryptArchive && len(o.recipients) == 0 && !o.dryRun {
		recipients, err := backup.LoadRecipients(o.cfg.AgeRecipients, o.cfg.AgeRecipientFile)
		if err != nil {
			stats.finish(o.now(), o.logger, types.ExitConfigError)
			return stats, &BackupError{Phase: "encryption", Err: err, Code: types.ExitConfigError}
		}
		o.recipients = recipients
	}

	jobs := o.buildJobs()
	if len(jobs) == 0 {
		stats.finish(o.now(), o.logger, types.ExitConfigError)
		return stats, &BackupError{
			Phase: "config",
			Err:   errors.New("no backup jobs are configured"),
			Code:  types.ExitConfigError,
		}
	}

	parallel := o.cfg.ParallelJobs
	if parallel {
		o.logger.Info("Running %d jobs in parallel", len(jobs))
	}
	results := runJobs(ctx, jobs, parallel)

	for _, result := range results {
		stats.mergeJob(result)
	}
	code, err := aggregate(results)
	stats.finish(o.now(), o.logger, code)
	o.logSummary(stats, results)
	return stats, err
}

func (o *Orchestrator) initTargetStatus(stats *RunStats) {
	stats.TargetStatus = map[string]string{}
	for _, t := range o.targets {
		stats.TargetStatus[string(t.Location())] = statusSkipped
	}
}

// buildJobs assembles the run from the configuration: the full-system
// archive, the optional service-aware archive and the optional cloud
// sync each become one job.
func (o *Orchestrator) buildJobs() []Job {
	var jobs []Job

	if o.cfg.BackupEnabled && len(o.cfg.ArchiveSources) > 0 {
		sources := append([]string(nil), o.cfg.ArchiveSources...)
		jobs = append(jobs, Job{
			Name:     "full-system backup",
			Severity: types.SeverityFatal,
			Run: func(ctx context.Context) (*jobOutcome, error) {
				return o.runArchiveJob(ctx, "system", sources, "")
			},
		})
	}

	if o.cfg.ServiceBackupEnabled {
		unit := o.cfg.ServiceName
		sources := append([]string(nil), o.cfg.ServiceSources...)
		jobs = append(jobs, Job{
			Name:     fmt.Sprintf("service backup (%s)", unit),
			Severity: types.SeverityFatal,
			Run: func(ctx context.Context) (*jobOutcome, error) {
				return o.runArchiveJob(ctx, serviceJobTag(unit), sources, unit)
			},
		})
	}

	if cloud := o.findTarget(storage.LocationCloud); cloud != nil {
		jobs = append(jobs, Job{
			Name:     "cloud sync",
			Severity: cloud.Severity(),
			Run: func(ctx context.Context) (*jobOutcome, error) {
				return o.runCloudSyncJob(ctx, cloud)
			},
		})
	}

	return jobs
}

func (o *Orchestrator) findTarget(loc storage.BackupLocation) storage.Storage {
	for _, t := range o.targets {
		if t.Location() == loc {
			return t
		}
	}
	return nil
}

// runArchiveJob is the archive pipeline: exclusion build, space gate,
// optional service guard, tar, verification, sidecars, then store and
// prune on the local and secondary destinations.
func (o *Orchestrator) runArchiveJob(ctx context.Context, tag string, sources []string, serviceUnit string) (outcome *jobOutcome, err error) {
	outcome = newJobOutcome()

	o.logger.Phase("Archive job: %s", tag)

	set := exclude.NewSet(o.cfg.BackupPath, o.cfg.ExcludePatterns)
	o.logger.Debug("Exclusion set holds %d patterns", len(set.Patterns()))

	estimate, estErr := backup.EstimateSize(sources, set.Matches)
	if estErr != nil {
		o.logger.Warning("Size estimation incomplete: %v", estErr)
	}
	o.logger.Info("Estimated data size: %s", backup.FormatBytes(estimate))

	if o.checker != nil && estimate > 0 {
		result := o.checker.CheckEstimatedSize(estimate)
		if !result.Passed {
			return outcome, &BackupError{
				Phase: "preflight",
				Err:   fmt.Errorf("%s", result.Message),
				Code:  types.ExitDiskSpaceError,
			}
		}
		o.logger.Debug("Space gate passed: %s", result.Message)
	}

	if serviceUnit != "" {
		restore, wasActive, guardErr := o.guardService(ctx, serviceUnit)
		if guardErr != nil {
			return outcome, &BackupError{Phase: "service", Err: guardErr, Code: types.ExitServiceError}
		}
		if wasActive {
			// The unit must come back up even when the archive step
			// failed or the run was interrupted.
			restoreCtx := context.WithoutCancel(ctx)
			defer func() {
				if restoreErr := restore(restoreCtx); restoreErr != nil {
					o.logger.Error("%v", restoreErr)
					if err == nil {
						err = &BackupError{Phase: "service", Err: restoreErr, Code: types.ExitServiceError}
					}
				}
			}()
		}
	}

	if o.dryRun {
		o.logger.Info("[DRY RUN] Would archive %d sources to %s", len(sources), o.cfg.BackupPath)
		return outcome, nil
	}

	excludeFile, cleanup, exErr := set.Materialize()
	if exErr != nil {
		return outcome, &BackupError{Phase: "archive", Err: exErr, Code: types.ExitArchiveError}
	}
	defer cleanup()

	compression := backup.ResolveCompression(o.cfg.CompressionType, o.deps.Runner, o.logger)
	archiverCfg := backup.ArchiverConfig{
		Compression: compression,
		Level:       o.cfg.CompressionLevel,
		Threads:     o.cfg.CompressionThreads,
		Encrypt:     o.cfg.EncryptArchive,
		Recipients:  o.recipients,
	}
	if cfgErr := archiverCfg.Validate(); cfgErr != nil {
		return outcome, &BackupError{Phase: "archive", Err: cfgErr, Code: types.ExitConfigError}
	}

	if mkErr := o.deps.FS.MkdirAll(o.cfg.BackupPath, 0750); mkErr != nil {
		return outcome, &BackupError{Phase: "archive", Err: mkErr, Code: types.ExitPermissionError}
	}

	archiver := backup.NewArchiver(archiverCfg, o.deps.Runner, o.logger)
	archiveDone := logging.DebugStart(o.logger, "archive", "%d sources, compression=%s", len(sources), compression)
	result, createErr := archiver.Create(ctx, backup.CreateRequest{
		Sources:     sources,
		ExcludeFile: excludeFile,
		OutputDir:   o.cfg.BackupPath,
		Hostname:    o.artifactHostname(tag),
		Timestamp:   o.now(),
	})
	archiveDone(createErr)
	if createErr != nil {
		return outcome, archiveError(createErr)
	}
	o.logger.Info("Archive created: %s (%s in %s)",
		result.Path, backup.FormatBytes(result.Size), backup.FormatDuration(result.Duration))

	if o.cfg.VerifyAfterCreate {
		if verifyErr := archiver.Verify(ctx, result.Path); verifyErr != nil {
			return outcome, &BackupError{Phase: "verify", Err: verifyErr, Code: types.ExitVerificationError}
		}
	}

	checksum, sumErr := backup.WriteChecksum(result.Path)
	if sumErr != nil {
		o.logger.Warning("Checksum sidecar not written: %v", sumErr)
	}
	manifest := &types.ArtifactMetadata{
		ArtifactFile: result.Path,
		Hostname:     o.hostname,
		Distro:       o.distro,
		Timestamp:    o.now(),
		Size:         result.Size,
		Checksum:     checksum,
		Compression:  compression,
		Encrypted:    result.Encrypted,
		Version:      o.version,
	}
	if manErr := backup.WriteManifest(result.Path, manifest); manErr != nil {
		o.logger.Warning("Manifest sidecar not written: %v", manErr)
	}

	outcome.artifact = &ArtifactReport{
		Path:        result.Path,
		Size:        result.Size,
		Checksum:    checksum,
		Compression: string(compression),
		Encrypted:   result.Encrypted,
		Duration:    result.Duration.Round(time.Millisecond).Seconds(),
	}

	artifact := &types.ArtifactInfo{Path: result.Path, Size: result.Size, Checksum: checksum, Timestamp: o.now()}
	if storeErr := o.dispatchLocal(ctx, artifact, outcome); storeErr != nil {
		return outcome, storeErr
	}
	return outcome, nil
}

// dispatchLocal stores the artifact on the local and secondary
// destinations and prunes them. Cloud sync is its own job.
func (o *Orchestrator) dispatchLocal(ctx context.Context, artifact *types.ArtifactInfo, outcome *jobOutcome) error {
	for _, target := range o.targets {
		if target.Location() == storage.LocationCloud {
			continue
		}
		if err := o.storeAndPrune(ctx, target, artifact, outcome); err != nil {
			return err
		}
	}
	return nil
}

// storeAndPrune pushes one artifact to one destination and applies its
// retention. A recoverable destination downgrades failure to a warning.
func (o *Orchestrator) storeAndPrune(ctx context.Context, target storage.Storage, artifact *types.ArtifactInfo, outcome *jobOutcome) error {
	o.logger.Step("Storing on %s", target.Name())
	if err := target.Store(ctx, artifact); err != nil {
		if target.Severity() == types.SeverityRecoverable {
			o.logger.Warning("%s failed, continuing: %v", target.Name(), err)
			outcome.targetStatus[target.Location()] = statusFailed
			return nil
		}
		outcome.targetStatus[target.Location()] = statusFailed
		return &BackupError{
			Phase: "storage",
			Err:   err,
			Code:  exitCodeFor(target.Location()),
		}
	}
	outcome.targetStatus[target.Location()] = statusOK
	logging.DebugStep(o.logger, "storage", "%s stored on %s", artifact.Path, target.Name())

	retention, err := target.ApplyRetention(ctx)
	if err != nil {
		o.logger.Warning("Retention on %s failed: %v", target.Name(), err)
		return nil
	}
	if len(retention.Deleted) > 0 || len(retention.Failed) > 0 {
		o.logger.Info("Retention on %s: %s", target.Name(), retention)
	}
	outcome.retentionDeleted += len(retention.Deleted)
	outcome.retentionFailed += len(retention.Failed)
	return nil
}

// runCloudSyncJob pushes the newest local artifact off-site and prunes
// the remote. In sequential runs it executes after the archive jobs and
// sees the artifact they just produced.
func (o *Orchestrator) runCloudSyncJob(ctx context.Context, cloud storage.Storage) (*jobOutcome, error) {
	outcome := newJobOutcome()
	o.logger.Phase("Cloud sync")

	local := o.findTarget(storage.LocationLocal)
	if local == nil {
		return outcome, &BackupError{
			Phase: "cloud",
			Err:   errors.New("cloud sync requires a local destination"),
			Code:  types.ExitConfigError,
		}
	}
	artifacts, err := local.List(ctx)
	if err != nil {
		return outcome, &BackupError{Phase: "cloud", Err: err, Code: types.ExitStorageError}
	}
	if len(artifacts) == 0 {
		o.logger.Skip("No local artifacts to sync")
		return outcome, nil
	}

	if o.dryRun {
		o.logger.Info("[DRY RUN] Would sync %s via %s", artifacts[0].Path, cloud.Name())
		return outcome, nil
	}

	newest := artifacts[0]
	syncDone := logging.DebugStart(o.logger, "cloud sync", "%s via %s", newest.Path, cloud.Name())
	storeErr := cloud.Store(ctx, &newest)
	syncDone(storeErr)
	if storeErr != nil {
		outcome.targetStatus[storage.LocationCloud] = statusFailed
		return outcome, &BackupError{Phase: "cloud", Err: storeErr, Code: types.ExitNetworkError}
	}
	outcome.targetStatus[storage.LocationCloud] = statusOK
	o.logger.Info("Cloud sync completed for %s", newest.Path)

	retention, err := cloud.ApplyRetention(ctx)
	if err != nil {
		o.logger.Warning("Cloud retention failed: %v", err)
		return outcome, nil
	}
	outcome.retentionDeleted += len(retention.Deleted)
	outcome.retentionFailed += len(retention.Failed)
	return outcome, nil
}

func (o *Orchestrator) guardService(ctx context.Context, unit string) (func(context.Context) error, bool, error) {
	if o.dryRun {
		o.logger.Info("[DRY RUN] Would stop %s for the duration of the archive", unit)
		return func(context.Context) error { return nil }, false, nil
	}
	return o.services.Guard(ctx, unit)
}

// artifactHostname embeds the job tag so a service artifact is
// distinguishable from the full-system one in the same directory.
func (o *Orchestrator) artifactHostname(tag string) string {
	host := o.hostname
	if host == "" {
		host = "host"
	}
	if tag == "" || tag == "system" {
		return host
	}
	return host + "-" + tag
}

func serviceJobTag(unit string) string {
	tag := unit
	for _, suffix := range []string{".service", ".target"} {
		if len(tag) > len(suffix) && tag[len(tag)-len(suffix):] == suffix {
			tag = tag[:len(tag)-len(suffix)]
		}
	}
	return tag
}

// archiveError maps an archiver failure to the exit code contract: an
// interrupt leaves the partial artifact behind and exits 130.
func archiveError(err error) *BackupError {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return &BackupError{Phase: "archive", Err: err, Code: types.ExitInterrupted}
	default:
		var cerr *backup.CompressionError
		if errors.As(err, &cerr) {
			return &BackupError{Phase: "archive", Err: err, Code: types.ExitCompressionError}
		}
		return &BackupError{Phase: "archive", Err: err, Code: types.ExitArchiveError}
	}
}

func exitCodeFor(loc storage.BackupLocation) types.ExitCode {
	switch loc {
	case storage.LocationCloud:
		return types.ExitNetworkError
	default:
		return types.ExitStorageError
	}
}

// Notify dispatches the run summary to every registered channel.
func (o *Orchestrator) Notify(ctx context.Context, stats *RunStats) {
	for _, n := range o.notifiers {
		if err := n.Notify(ctx, stats); err != nil {
			o.logger.Warning("Notification via %s failed: %v", n.Name(), err)
			continue
		}
		o.logger.Info("Notification sent via %s", n.Name())
	}
}
