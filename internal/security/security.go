// Package security audits the environment before a backup run: external
// binaries the configuration depends on, permissions on the config file
// and keystore, and stray unsealed key material. Findings are warnings
// by default; AUDIT_STRICT promotes errors to run aborts.
package security

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hostsave/hostsave/internal/config"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

type issueSeverity string

const (
	severityWarning issueSeverity = "warning"
	severityError   issueSeverity = "error"
)

// Issue is a single audit finding.
type Issue struct {
	Severity issueSeverity
	Message  string
}

// Result aggregates the findings of one audit pass.
type Result struct {
	Issues []Issue
}

func (r *Result) add(sev issueSeverity, msg string) {
	r.Issues = append(r.Issues, Issue{Severity: sev, Message: msg})
}

func (r *Result) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == severityError {
			return true
		}
	}
	return false
}

func (r *Result) ErrorCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == severityError {
			count++
		}
	}
	return count
}

func (r *Result) WarningCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == severityWarning {
			count++
		}
	}
	return count
}

type auditor struct {
	logger     *logging.Logger
	cfg        *config.Config
	configPath string
	execPath   string
	result     *Result
	lookPath   func(string) (string, error)
}

type dependencyEntry struct {
	Name     string
	Required bool
	Reason   string
	Check    func() (bool, string)
}

// Run executes the environment audit and returns the aggregated result.
// A non-nil error is returned only in strict mode with at least one
// error-level finding.
func Run(logger *logging.Logger, cfg *config.Config, configPath, execPath string) (*Result, error) {
	if !cfg.AuditEnabled {
		logger.Debug("Environment audit disabled via configuration")
		return &Result{}, nil
	}

	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	if abs, err := filepath.Abs(execPath); err == nil {
		execPath = abs
	}

	a := &auditor{
		logger:     logger,
		cfg:        cfg,
		configPath: configPath,
		execPath:   execPath,
		result:     &Result{},
		lookPath:   exec.LookPath,
	}

	logger.Step("Environment audit")
	a.checkDependencies()
	a.verifyExecutable()
	a.verifyConfigFile()
	a.verifyKeystore()
	a.verifyDirectories()
	a.detectUnsealedKeys()

	warnings := a.result.WarningCount()
	errorCount := a.result.ErrorCount()
	logger.Info("Environment audit completed: %d warning(s), %d error(s)", warnings, errorCount)

	if cfg.AuditStrict && errorCount > 0 {
		return a.result, fmt.Errorf("environment audit reported %d error(s); set AUDIT_STRICT=false to continue anyway", errorCount)
	}
	return a.result, nil
}

func (a *auditor) checkDependencies() {
	deps := a.buildDependencyList()
	a.logger.Info("Checking external dependencies...")

	var missing, optionalMissing []dependencyEntry
	for _, dep := range deps {
		present, detail := dep.Check()
		if present {
			if detail != "" {
				a.logger.Debug("Dependency %s: present (%s) - %s", dep.Name, detail, dep.Reason)
			} else {
				a.logger.Debug("Dependency %s: present - %s", dep.Name, dep.Reason)
			}
			continue
		}
		if dep.Required {
			missing = append(missing, dep)
		} else {
			optionalMissing = append(optionalMissing, dep)
		}
	}

	for _, dep := range optionalMissing {
		a.addWarning("Optional dependency %s missing: %s", dep.Name, dep.Reason)
	}
	if len(missing) == 0 {
		a.logger.Info("Dependency check completed: all required binaries available")
		return
	}
	for _, dep := range missing {
		a.addError("Required dependency %s missing: %s", dep.Name, dep.Reason)
	}
}

func (a *auditor) buildDependencyList() []dependencyEntry {
	deps := []dependencyEntry{
		a.binaryDependency("tar", []string{"tar"}, true, "required for archive creation and verification"),
	}

	switch a.cfg.CompressionType {
	case types.CompressionXZ:
		deps = append(deps, a.binaryDependency("xz", []string{"xz"}, true, "compression type set to xz"))
	case types.CompressionZstd:
		deps = append(deps, a.binaryDependency("zstd", []string{"zstd"}, true, "compression type set to zstd"))
	case types.CompressionPigz:
		// The archiver falls back to gzip when pigz is absent.
		deps = append(deps, a.binaryDependency("pigz", []string{"pigz"}, false, "compression type set to pigz"))
	}

	if a.cfg.SecondaryEnabled && strings.TrimSpace(a.cfg.SecondaryPath) != "" {
		deps = append(deps, a.binaryDependency("rsync", []string{"rsync"}, false, "secondary mirror enabled"))
	}

	if a.cfg.CloudEnabled {
		switch strings.ToLower(strings.TrimSpace(a.cfg.CloudTool)) {
		case "restic":
			deps = append(deps, a.binaryDependency("restic", []string{"restic"}, false, "cloud tool set to restic"))
		default:
			deps = append(deps, a.binaryDependency("rclone", []string{"rclone"}, false, "cloud tool set to rclone"))
		}
	}

	if a.cfg.ServiceBackupEnabled {
		// Restart failures after a service-aware backup are fatal, so a
		// missing systemctl must surface before any unit is stopped.
		deps = append(deps, a.binaryDependency("systemctl", []string{"systemctl"}, true, "service-aware backup enabled"))
	}

	return deps
}

func (a *auditor) binaryDependency(name string, binaries []string, required bool, reason string) dependencyEntry {
	return dependencyEntry{
		Name:     name,
		Required: required,
		Reason:   reason,
		Check: func() (bool, string) {
			lookPath := a.lookPath
			if lookPath == nil {
				lookPath = exec.LookPath
			}
			for _, binary := range binaries {
				if path, err := lookPath(binary); err == nil {
					return true, fmt.Sprintf("%s at %s", binary, path)
				}
			}
			return false, ""
		},
	}
}

func (a *auditor) addWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	a.logger.Warning("%s", msg)
	a.result.add(severityWarning, msg)
}

func (a *auditor) addError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	a.logger.Error("%s", msg)
	a.result.add(severityError, msg)
}

func (a *auditor) verifyExecutable() {
	if a.execPath == "" {
		a.addWarning("Executable path not available for audit")
		return
	}
	info, err := os.Lstat(a.execPath)
	if err != nil {
		a.addWarning("Cannot stat executable %s: %v", a.execPath, err)
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		a.addWarning("Executable %s is a symlink", a.execPath)
		return
	}
	if perm := info.Mode().Perm(); perm&0o002 != 0 {
		a.addError("Executable %s is world-writable (%o)", a.execPath, perm)
	}
}

func (a *auditor) verifyConfigFile() {
	if a.configPath == "" {
		a.addWarning("Configuration path not provided")
		return
	}
	info, err := os.Stat(a.configPath)
	if err != nil {
		a.addError("Cannot stat configuration file %s: %v", a.configPath, err)
		return
	}
	// backup.env can hold notification tokens and cloud credentials.
	if perm := info.Mode().Perm(); perm&0o044 != 0 {
		a.addWarning("Configuration file %s is readable by group/other (%o); 0600 recommended", a.configPath, perm)
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		a.addError("Configuration file %s is writable by group/other (%o)", a.configPath, perm)
	}
}

func (a *auditor) verifyKeystore() {
	identityDir := filepath.Join(a.cfg.BaseDir, "identity")
	sealedKey := filepath.Join(identityDir, "key.sealed")

	info, err := os.Stat(sealedKey)
	if errors.Is(err, os.ErrNotExist) {
		if a.cfg.EncryptArchive && strings.TrimSpace(a.cfg.AgeRecipientFile) == "" && len(a.cfg.AgeRecipients) == 0 {
			a.addWarning("Encryption enabled but no sealed key or recipients configured; run --newkey first")
		}
		return
	}
	if err != nil {
		a.addWarning("Cannot stat sealed key %s: %v", sealedKey, err)
		return
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		a.addError("Sealed key %s has permissions %o, expected 600", sealedKey, perm)
	}

	if dirInfo, err := os.Stat(identityDir); err == nil {
		if perm := dirInfo.Mode().Perm(); perm&0o077 != 0 {
			a.addWarning("Keystore directory %s has permissions %o; 0700 recommended", identityDir, perm)
		}
	}
}

func (a *auditor) verifyDirectories() {
	dirs := []struct {
		path string
		perm os.FileMode
	}{
		{a.cfg.BackupPath, 0o755},
		{a.cfg.LogPath, 0o755},
		{a.cfg.LockPath, 0o755},
	}

	for _, dir := range dirs {
		if dir.path == "" {
			continue
		}
		if _, err := os.Stat(dir.path); errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(dir.path, dir.perm); err != nil {
				a.addError("Failed to create directory %s: %v", dir.path, err)
				continue
			}
			a.logger.Info("Created missing directory: %s", dir.path)
		} else if err != nil {
			a.addWarning("Cannot stat directory %s: %v", dir.path, err)
		}
	}
}

// detectUnsealedKeys scans the keystore directory for plaintext private
// key material. The keystore is meant to hold only the sealed key and
// the public recipients file; an unsealed key sitting next to them
// defeats the passphrase protection.
func (a *auditor) detectUnsealedKeys() {
	identityDir := filepath.Join(a.cfg.BaseDir, "identity")
	if _, err := os.Stat(identityDir); err != nil {
		return
	}

	markers := []string{"AGE-SECRET-KEY-", "BEGIN AGE PRIVATE KEY", "OPENSSH PRIVATE KEY"}
	if err := filepath.WalkDir(identityDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			a.logger.Debug("Audit: cannot access %s: %v", path, err)
			return nil
		}
		if d.IsDir() || d.Name() == "key.sealed" {
			return nil
		}
		hasMarker, scanErr := fileContainsMarker(path, markers, 64*1024)
		if scanErr != nil {
			a.logger.Debug("Audit: skipped key scan for %s: %v", path, scanErr)
			return nil
		}
		if hasMarker {
			a.addWarning("Unsealed private key material detected: %s (review manually)", path)
		}
		return nil
	}); err != nil {
		a.logger.Debug("Audit: key detection walk error: %v", err)
	}
}

// fileContainsMarker reports whether the first limit bytes of a file
// contain any of the markers, case-insensitively.
func fileContainsMarker(path string, markers []string, limit int) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	const bufSize = 4096
	maxMarkerLen := 0
	upperMarkers := make([]string, len(markers))
	for i, marker := range markers {
		upper := strings.ToUpper(marker)
		upperMarkers[i] = upper
		if len(upper) > maxMarkerLen {
			maxMarkerLen = len(upper)
		}
	}
	if maxMarkerLen == 0 {
		return false, nil
	}

	reader := bufio.NewReader(f)
	buffer := make([]byte, bufSize)
	overlap := make([]byte, 0, maxMarkerLen)
	totalRead := 0

	for {
		if limit > 0 && totalRead >= limit {
			return false, nil
		}

		n, err := reader.Read(buffer)
		if n > 0 {
			combined := append(overlap, buffer[:n]...)
			chunk := strings.ToUpper(string(combined))

			for _, marker := range upperMarkers {
				if strings.Contains(chunk, marker) {
					return true, nil
				}
			}

			if len(combined) >= maxMarkerLen {
				overlap = append([]byte{}, combined[len(combined)-maxMarkerLen:]...)
			} else {
				overlap = append([]byte{}, combined...)
			}

			totalRead += n
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, err
		}
	}
}
