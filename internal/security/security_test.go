package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hostsave/hostsave/internal/config"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

func testLogger() *logging.Logger {
	return logging.New(types.LogLevelNone, false)
}

func newAuditor(cfg *config.Config) *auditor {
	return &auditor{
		logger: testLogger(),
		cfg:    cfg,
		result: &Result{},
	}
}

func TestResultCounts(t *testing.T) {
	r := &Result{}
	if r.HasErrors() || r.ErrorCount() != 0 || r.WarningCount() != 0 {
		t.Fatalf("empty result should have no findings")
	}

	r.add(severityWarning, "w1")
	r.add(severityError, "e1")
	r.add(severityWarning, "w2")

	if !r.HasErrors() {
		t.Errorf("HasErrors() = false, want true")
	}
	if r.ErrorCount() != 1 {
		t.Errorf("ErrorCount() = %d, want 1", r.ErrorCount())
	}
	if r.WarningCount() != 2 {
		t.Errorf("WarningCount() = %d, want 2", r.WarningCount())
	}
}

func TestCheckDependenciesMissingRequired(t *testing.T) {
	cfg := &config.Config{CompressionType: types.CompressionZstd}
	a := newAuditor(cfg)
	a.lookPath = func(name string) (string, error) {
		if name == "tar" {
			return "/usr/bin/tar", nil
		}
		return "", os.ErrNotExist
	}

	a.checkDependencies()

	if !a.result.HasErrors() {
		t.Fatalf("expected error for missing zstd, got %+v", a.result.Issues)
	}
	found := false
	for _, issue := range a.result.Issues {
		if issue.Severity == severityError && strings.Contains(issue.Message, "zstd") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected zstd in error findings: %+v", a.result.Issues)
	}
}

func TestCheckDependenciesOptionalMissingIsWarning(t *testing.T) {
	cfg := &config.Config{
		CompressionType:  types.CompressionGzip,
		SecondaryEnabled: true,
		SecondaryPath:    "/mnt/mirror",
	}
	a := newAuditor(cfg)
	a.lookPath = func(name string) (string, error) {
		if name == "rsync" {
			return "", os.ErrNotExist
		}
		return "/usr/bin/" + name, nil
	}

	a.checkDependencies()

	if a.result.HasErrors() {
		t.Fatalf("missing rsync should not be an error: %+v", a.result.Issues)
	}
	if a.result.WarningCount() != 1 {
		t.Errorf("WarningCount() = %d, want 1", a.result.WarningCount())
	}
}

func TestBuildDependencyListPerConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want []string
	}{
		{
			"tar only",
			&config.Config{CompressionType: types.CompressionGzip},
			[]string{"tar"},
		},
		{
			"restic cloud",
			&config.Config{CompressionType: types.CompressionXZ, CloudEnabled: true, CloudTool: "restic"},
			[]string{"tar", "xz", "restic"},
		},
		{
			"service backup",
			&config.Config{CompressionType: types.CompressionNone, ServiceBackupEnabled: true},
			[]string{"tar", "systemctl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuditor(tt.cfg)
			deps := a.buildDependencyList()
			if len(deps) != len(tt.want) {
				t.Fatalf("got %d deps, want %d", len(deps), len(tt.want))
			}
			for i, name := range tt.want {
				if deps[i].Name != name {
					t.Errorf("deps[%d].Name = %q, want %q", i, deps[i].Name, name)
				}
			}
		})
	}
}

func TestVerifyConfigFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.env")
	if err := os.WriteFile(path, []byte("BACKUP_ENABLED=true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newAuditor(&config.Config{})
	a.configPath = path
	a.verifyConfigFile()

	if a.result.WarningCount() == 0 {
		t.Errorf("expected warning for group/other readable config")
	}

	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	a2 := newAuditor(&config.Config{})
	a2.configPath = path
	a2.verifyConfigFile()
	if len(a2.result.Issues) != 0 {
		t.Errorf("expected no findings for 0600 config: %+v", a2.result.Issues)
	}
}

func TestVerifyKeystorePermissions(t *testing.T) {
	base := t.TempDir()
	identityDir := filepath.Join(base, "identity")
	if err := os.MkdirAll(identityDir, 0o700); err != nil {
		t.Fatal(err)
	}
	sealed := filepath.Join(identityDir, "key.sealed")
	if err := os.WriteFile(sealed, []byte("v1:sealed"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newAuditor(&config.Config{BaseDir: base})
	a.verifyKeystore()

	if !a.result.HasErrors() {
		t.Errorf("expected error for loose sealed key permissions: %+v", a.result.Issues)
	}
}

func TestVerifyKeystoreMissingKeyWithEncryption(t *testing.T) {
	a := newAuditor(&config.Config{BaseDir: t.TempDir(), EncryptArchive: true})
	a.verifyKeystore()

	if a.result.WarningCount() != 1 {
		t.Errorf("expected one warning about missing key, got %+v", a.result.Issues)
	}
}

func TestDetectUnsealedKeys(t *testing.T) {
	base := t.TempDir()
	identityDir := filepath.Join(base, "identity")
	if err := os.MkdirAll(identityDir, 0o700); err != nil {
		t.Fatal(err)
	}
	leaked := filepath.Join(identityDir, "key.txt")
	if err := os.WriteFile(leaked, []byte("AGE-SECRET-KEY-1QQQQ...\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// The sealed key never trips the scan, whatever it contains.
	if err := os.WriteFile(filepath.Join(identityDir, "key.sealed"), []byte("AGE-SECRET-KEY-SHOULD-BE-IGNORED"), 0o600); err != nil {
		t.Fatal(err)
	}

	a := newAuditor(&config.Config{BaseDir: base})
	a.detectUnsealedKeys()

	if a.result.WarningCount() != 1 {
		t.Fatalf("expected exactly one finding, got %+v", a.result.Issues)
	}
	if !strings.Contains(a.result.Issues[0].Message, "key.txt") {
		t.Errorf("finding should name key.txt: %s", a.result.Issues[0].Message)
	}
}

func TestFileContainsMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("prefix age-secret-key-1abc suffix"), 0o600); err != nil {
		t.Fatal(err)
	}

	found, err := fileContainsMarker(path, []string{"AGE-SECRET-KEY-"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Errorf("marker not found despite case-insensitive match")
	}

	found, err = fileContainsMarker(path, []string{"NOT-PRESENT"}, 0)
	if err != nil || found {
		t.Errorf("unexpected match: found=%v err=%v", found, err)
	}
}

func TestRunDisabled(t *testing.T) {
	cfg := &config.Config{AuditEnabled: false}
	result, err := Run(testLogger(), cfg, "", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Issues) != 0 {
		t.Errorf("disabled audit should report nothing: %+v", result.Issues)
	}
}

func TestRunStrictFailsOnErrors(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		AuditEnabled:    true,
		AuditStrict:     true,
		BaseDir:         base,
		BackupPath:      filepath.Join(base, "backup"),
		LogPath:         filepath.Join(base, "log"),
		LockPath:        filepath.Join(base, "lock"),
		CompressionType: types.CompressionGzip,
	}

	// Nonexistent config file is an error-level finding.
	_, err := Run(testLogger(), cfg, filepath.Join(base, "missing.env"), "")
	if err == nil {
		t.Fatalf("strict mode should fail on error findings")
	}
}
