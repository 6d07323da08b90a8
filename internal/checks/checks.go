// Package checks runs the preflight gate executed before any archiver
// process is started: directories, free space, write permissions and
// the PID lock that refuses concurrent runs.
package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/safefs"
	"github.com/hostsave/hostsave/internal/types"
)

// statfsTimeout bounds the free-space probe. A backup path on a hung
// network mount fails the check instead of stalling the gate.
const statfsTimeout = 30 * time.Second

// Injectable seams for tests.
var (
	osStat      = os.Stat
	osMkdirAll  = os.MkdirAll
	osRemove    = os.Remove
	osReadFile  = os.ReadFile
	osWriteFile = os.WriteFile
	statfsFunc  = boundedStatfs
	timeNow     = time.Now
	osGetpid    = os.Getpid
)

func boundedStatfs(path string, stat *syscall.Statfs_t) error {
	s, err := safefs.Statfs(context.Background(), path, statfsTimeout)
	if err != nil {
		return err
	}
	*stat = s
	return nil
}

// CheckerConfig carries everything the preflight gate needs.
type CheckerConfig struct {
	BackupPath       string
	LogPath          string
	SecondaryPath    string
	SecondaryEnabled bool

	// MinFreeSpacePercent aborts the run when the filesystem holding
	// BackupPath has less than this percentage free.
	MinFreeSpacePercent int
	// SafetyFactor inflates size estimates when re-checking space
	// against a concrete archive estimate.
	SafetyFactor float64

	LockDirPath  string
	LockFilePath string
	// MaxLockAge is the age after which a leftover lock is considered
	// stale and taken over.
	MaxLockAge time.Duration

	SkipPermissionCheck bool
	DryRun              bool
}

// Validate fills defaults and rejects unusable configurations.
func (c *CheckerConfig) Validate() error {
	if c.BackupPath == "" {
		return fmt.Errorf("backup path is required")
	}
	if c.MinFreeSpacePercent < 0 || c.MinFreeSpacePercent > 100 {
		return fmt.Errorf("minimum free space percent must be within [0,100], got %d", c.MinFreeSpacePercent)
	}
	if c.SafetyFactor <= 0 {
		c.SafetyFactor = 1.5
	}
	if c.LockDirPath == "" {
		c.LockDirPath = filepath.Dir(c.LockFilePath)
	}
	if c.LockFilePath == "" {
		c.LockFilePath = filepath.Join(c.LockDirPath, "hostsave.lock")
	}
	if c.MaxLockAge <= 0 {
		c.MaxLockAge = 24 * time.Hour
	}
	return nil
}

// CheckResult reports the outcome of a single preflight check.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Err     error
	Code    types.ExitCode
	// Severity distinguishes checks that abort the run from ones
	// that only disable an optional target.
	Severity types.Severity
}

// Checker runs the preflight checks.
type Checker struct {
	config CheckerConfig
	logger *logging.Logger

	lockAcquired bool
}

// New creates a Checker. The config must already be validated.
func New(config CheckerConfig, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Checker{
		config: config,
		logger: logger,
	}
}

// RunAll executes every check in order and returns the first fatal
// failure, plus all results for reporting. Recoverable failures are
// logged as warnings and do not stop the sequence.
func (c *Checker) RunAll() ([]CheckResult, error) {
	checks := []func() CheckResult{
		c.CheckDirectories,
		c.CheckDiskSpace,
		c.CheckPermissions,
		c.CheckLockFile,
	}

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check()
		results = append(results, result)
		if result.Passed {
			c.logger.Debug("Check %s: %s", result.Name, result.Message)
			continue
		}
		if result.Severity == types.SeverityRecoverable {
			c.logger.Warning("Check %s: %s", result.Name, result.Message)
			continue
		}
		c.logger.Error("Check %s: %s", result.Name, result.Message)
		return results, fmt.Errorf("preflight check %q failed: %w", result.Name, result.Err)
	}
	return results, nil
}

// CheckDirectories ensures the backup and log directories exist,
// creating them when missing.
func (c *Checker) CheckDirectories() CheckResult {
	result := CheckResult{
		Name:     "directories",
		Severity: types.SeverityFatal,
		Code:     types.ExitEnvironmentError,
	}

	dirs := []string{c.config.BackupPath, c.config.LogPath, c.config.LockDirPath}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if c.config.DryRun {
			continue
		}
		if err := osMkdirAll(dir, 0o755); err != nil {
			result.Err = err
			result.Message = fmt.Sprintf("cannot create directory %s: %v", dir, err)
			return result
		}
	}

	result.Passed = true
	result.Message = "required directories present"
	return result
}

// CheckDiskSpace verifies the free-space percentage of the filesystem
// containing the primary backup path. The primary target is fatal;
// the secondary target only produces a warning.
func (c *Checker) CheckDiskSpace() CheckResult {
	result := CheckResult{
		Name:     "disk-space",
		Severity: types.SeverityFatal,
		Code:     types.ExitDiskSpaceError,
	}

	freePct, err := FreeSpacePercent(c.config.BackupPath)
	if err != nil {
		result.Err = err
		result.Message = fmt.Sprintf("cannot stat filesystem of %s: %v", c.config.BackupPath, err)
		return result
	}
	if freePct < float64(c.config.MinFreeSpacePercent) {
		result.Err = fmt.Errorf("free space %.1f%% below threshold %d%%", freePct, c.config.MinFreeSpacePercent)
		result.Message = result.Err.Error()
		return result
	}

	if c.config.SecondaryEnabled && c.config.SecondaryPath != "" {
		secPct, err := FreeSpacePercent(c.config.SecondaryPath)
		if err != nil {
			c.logger.Warning("Secondary path %s not measurable: %v", c.config.SecondaryPath, err)
		} else if secPct < float64(c.config.MinFreeSpacePercent) {
			c.logger.Warning("Secondary path %s has only %.1f%% free (threshold %d%%)",
				c.config.SecondaryPath, secPct, c.config.MinFreeSpacePercent)
		}
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%.1f%% free on %s (threshold %d%%)",
		freePct, c.config.BackupPath, c.config.MinFreeSpacePercent)
	return result
}

// CheckEstimatedSize re-checks free space against a concrete archive
// size estimate, inflated by the safety factor. Used once the archive
// sources have been measured.
func (c *Checker) CheckEstimatedSize(estimatedBytes int64) CheckResult {
	result := CheckResult{
		Name:     "disk-space-estimate",
		Severity: types.SeverityFatal,
		Code:     types.ExitDiskSpaceError,
	}

	var stat syscall.Statfs_t
	if err := statfsFunc(c.config.BackupPath, &stat); err != nil {
		result.Err = err
		result.Message = fmt.Sprintf("cannot stat filesystem of %s: %v", c.config.BackupPath, err)
		return result
	}

	freeBytes := int64(stat.Bavail) * int64(stat.Bsize)
	required := int64(float64(estimatedBytes) * c.config.SafetyFactor)
	if freeBytes < required {
		result.Err = fmt.Errorf("estimated archive needs %d bytes (with safety factor), only %d free", required, freeBytes)
		result.Message = result.Err.Error()
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%d bytes free, %d required", freeBytes, required)
	return result
}

// CheckPermissions probes that the backup directory is writable.
func (c *Checker) CheckPermissions() CheckResult {
	result := CheckResult{
		Name:     "permissions",
		Severity: types.SeverityFatal,
		Code:     types.ExitPermissionError,
	}

	if c.config.SkipPermissionCheck || c.config.DryRun {
		result.Passed = true
		result.Message = "skipped"
		return result
	}

	probe := filepath.Join(c.config.BackupPath, fmt.Sprintf(".hostsave-probe-%d", osGetpid()))
	if err := osWriteFile(probe, []byte("probe"), 0o600); err != nil {
		result.Err = err
		result.Message = fmt.Sprintf("backup path %s not writable: %v", c.config.BackupPath, err)
		return result
	}
	if err := osRemove(probe); err != nil {
		c.logger.Warning("Cannot remove permission probe %s: %v", probe, err)
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%s is writable", c.config.BackupPath)
	return result
}

// CheckLockFile acquires the PID lock, refusing to run while another
// instance holds it. A lock older than MaxLockAge is treated as stale
// and taken over.
func (c *Checker) CheckLockFile() CheckResult {
	result := CheckResult{
		Name:     "lock-file",
		Severity: types.SeverityFatal,
		Code:     types.ExitLockError,
	}

	if c.config.DryRun {
		result.Passed = true
		result.Message = "skipped (dry run)"
		return result
	}

	lockPath := c.config.LockFilePath
	if info, err := osStat(lockPath); err == nil {
		age := timeNow().Sub(info.ModTime())
		if age < c.config.MaxLockAge {
			holder := describeLockHolder(lockPath)
			result.Err = fmt.Errorf("lock file %s held%s (age %s)", lockPath, holder, age.Round(time.Second))
			result.Message = result.Err.Error()
			return result
		}
		c.logger.Warning("Removing stale lock file %s (age %s)", lockPath, age.Round(time.Second))
		if err := osRemove(lockPath); err != nil {
			result.Err = fmt.Errorf("cannot remove stale lock %s: %w", lockPath, err)
			result.Message = result.Err.Error()
			return result
		}
	}

	// O_EXCL makes creation atomic: losing the race means another run
	// started in between.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		result.Err = fmt.Errorf("cannot acquire lock %s: %w", lockPath, err)
		result.Message = result.Err.Error()
		return result
	}
	hostname, _ := os.Hostname()
	fmt.Fprintf(file, "pid=%d\nhost=%s\nstarted=%s\n", osGetpid(), hostname, timeNow().Format(time.RFC3339))
	file.Close()

	c.lockAcquired = true
	result.Passed = true
	result.Message = fmt.Sprintf("lock acquired at %s", lockPath)
	return result
}

// ReleaseLock removes the lock file if this process acquired it.
func (c *Checker) ReleaseLock() {
	if !c.lockAcquired {
		return
	}
	if err := osRemove(c.config.LockFilePath); err != nil && !os.IsNotExist(err) {
		c.logger.Warning("Cannot release lock %s: %v", c.config.LockFilePath, err)
		return
	}
	c.lockAcquired = false
	c.logger.Debug("Lock %s released", c.config.LockFilePath)
}

// FreeSpacePercent computes free/total*100 for the filesystem
// containing path.
func FreeSpacePercent(path string) (float64, error) {
	if _, err := osStat(path); err != nil {
		return 0, err
	}
	var stat syscall.Statfs_t
	if err := statfsFunc(path, &stat); err != nil {
		return 0, err
	}
	if stat.Blocks == 0 {
		return 0, fmt.Errorf("filesystem of %s reports zero blocks", path)
	}
	return float64(stat.Bavail) / float64(stat.Blocks) * 100, nil
}

func describeLockHolder(lockPath string) string {
	data, err := osReadFile(lockPath)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if pid, ok := strings.CutPrefix(line, "pid="); ok {
			if _, err := strconv.Atoi(strings.TrimSpace(pid)); err == nil {
				return fmt.Sprintf(" by pid %s", strings.TrimSpace(pid))
			}
		}
	}
	return ""
}
