package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hostsave/hostsave/internal/execx"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

// recordingRunner fails the first failN invocations and records every
// command line it sees.
type recordingRunner struct {
	calls []string
	failN int
	out   string
}

func (r *recordingRunner) run(ctx context.Context, cmd execx.Command) (execx.Result, error) {
	r.calls = append(r.calls, cmd.Name+" "+strings.Join(cmd.Args, " "))
	if len(r.calls) <= r.failN {
		return execx.Result{ExitCode: 1}, &execx.CommandError{Name: cmd.Name, ExitCode: 1}
	}
	return execx.Result{Stdout: []byte(r.out)}, nil
}

func (r *recordingRunner) runner() execx.Runner {
	return execx.RunnerFunc(r.run)
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := cloudSleep
	cloudSleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { cloudSleep = orig })
	return &slept
}

func rcloneStorage(r *recordingRunner) *CloudStorage {
	return NewCloudStorage(CloudConfig{
		Tool:       ToolRclone,
		Remote:     "b2:bucket/hostsave",
		RetryCount: 3,
		RetryDelay: 30 * time.Second,
	}, r.runner(), testLogger())
}

func TestCloudStoreRetriesThenFails(t *testing.T) {
	slept := noSleep(t)
	runner := &recordingRunner{failN: 10}

	buf := &bytes.Buffer{}
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(buf)
	s := NewCloudStorage(CloudConfig{
		Tool:       ToolRclone,
		Remote:     "b2:bucket/hostsave",
		RetryCount: 3,
		RetryDelay: 30 * time.Second,
	}, runner.runner(), logger)

	err := s.Store(context.Background(), &types.ArtifactInfo{Path: "/backups/a-backup-x.tar.gz"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var serr *StorageError
	if !errors.As(err, &serr) || serr.Severity != types.SeverityFatal {
		t.Errorf("expected fatal StorageError, got %v", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d: %v", len(runner.calls), runner.calls)
	}
	// No sleep after the final attempt.
	if len(*slept) != 2 || (*slept)[0] != 30*time.Second {
		t.Errorf("expected two 30s waits, got %v", *slept)
	}
	// Every failed attempt must leave its own log line.
	out := buf.String()
	for attempt := 1; attempt <= 3; attempt++ {
		want := fmt.Sprintf("Cloud sync attempt %d/3 failed", attempt)
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestCloudStoreSucceedsOnRetry(t *testing.T) {
	noSleep(t)
	runner := &recordingRunner{failN: 1}
	s := rcloneStorage(runner)

	if err := s.Store(context.Background(), &types.ArtifactInfo{Path: "/backups/a-backup-x.tar.gz"}); err != nil {
		t.Fatalf("expected success on second attempt: %v", err)
	}
	if len(runner.calls) < 2 {
		t.Errorf("expected at least 2 calls, got %v", runner.calls)
	}
	if !strings.HasPrefix(runner.calls[0], "rclone copy /backups/a-backup-x.tar.gz b2:bucket/hostsave") {
		t.Errorf("unexpected rclone invocation: %s", runner.calls[0])
	}
}

func TestCloudStoreCancelledDuringWait(t *testing.T) {
	orig := cloudSleep
	cloudSleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}
	t.Cleanup(func() { cloudSleep = orig })

	runner := &recordingRunner{failN: 10}
	s := rcloneStorage(runner)
	err := s.Store(context.Background(), &types.ArtifactInfo{Path: "/backups/a-backup-x.tar.gz"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("expected a single attempt before the cancelled wait, got %d", len(runner.calls))
	}
}

func TestCloudResticStoreEnvAndArgs(t *testing.T) {
	noSleep(t)
	var captured execx.Command
	runner := execx.RunnerFunc(func(ctx context.Context, cmd execx.Command) (execx.Result, error) {
		captured = cmd
		return execx.Result{}, nil
	})
	s := NewCloudStorage(CloudConfig{
		Tool:            ToolRestic,
		Repository:      "sftp:backup@nas:/srv/restic",
		PasswordCommand: "cat /etc/hostsave/restic.pass",
	}, runner, testLogger())

	if err := s.Store(context.Background(), &types.ArtifactInfo{Path: "/backups/a-backup-x.tar.gz"}); err != nil {
		t.Fatal(err)
	}
	if captured.Name != "restic" || captured.Args[0] != "backup" {
		t.Errorf("unexpected command: %s %v", captured.Name, captured.Args)
	}
	wantEnv := map[string]bool{
		"RESTIC_REPOSITORY=sftp:backup@nas:/srv/restic":          false,
		"RESTIC_PASSWORD_COMMAND=cat /etc/hostsave/restic.pass": false,
	}
	for _, entry := range captured.Env {
		if _, ok := wantEnv[entry]; ok {
			wantEnv[entry] = true
		}
	}
	for entry, seen := range wantEnv {
		if !seen {
			t.Errorf("missing env entry %s", entry)
		}
	}
}

func TestCloudListRclone(t *testing.T) {
	runner := &recordingRunner{out: `[
		{"Name":"alpha-backup-20260825-030000.tar.gz","Size":1048576,"ModTime":"2026-08-25T03:00:00Z","IsDir":false},
		{"Name":"alpha-backup-20260825-030000.tar.gz.sha256","Size":99,"ModTime":"2026-08-25T03:00:01Z","IsDir":false},
		{"Name":"archive","Size":0,"ModTime":"2026-01-01T00:00:00Z","IsDir":true}
	]`}
	s := rcloneStorage(runner)

	artifacts, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %v", artifacts)
	}
	if artifacts[0].Path != "alpha-backup-20260825-030000.tar.gz" || artifacts[0].Size != 1048576 {
		t.Errorf("unexpected artifact: %+v", artifacts[0])
	}
}

func TestCloudListRestic(t *testing.T) {
	runner := &recordingRunner{out: `[
		{"short_id":"ab12cd34","time":"2026-08-25T03:00:00Z"},
		{"short_id":"ef56ab78","time":"2026-07-01T03:00:00Z"}
	]`}
	s := NewCloudStorage(CloudConfig{Tool: ToolRestic, Repository: "repo"}, runner.runner(), testLogger())

	artifacts, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 2 || artifacts[0].Path != "ab12cd34" {
		t.Errorf("unexpected snapshots: %+v", artifacts)
	}
}

func TestCloudResticRetentionUsesKeepWithin(t *testing.T) {
	runner := &recordingRunner{}
	s := NewCloudStorage(CloudConfig{
		Tool:       ToolRestic,
		Repository: "repo",
		Retention:  RetentionConfig{Policy: PolicyAge, MaxAgeDays: 30},
	}, runner.runner(), testLogger())

	if _, err := s.ApplyRetention(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(runner.calls) != 1 || !strings.Contains(runner.calls[0], "--keep-within 30d") {
		t.Errorf("unexpected retention invocation: %v", runner.calls)
	}
}

func TestCloudIsEnabled(t *testing.T) {
	cases := []struct {
		cfg  CloudConfig
		want bool
	}{
		{CloudConfig{Tool: ToolRclone, Remote: "b2:bucket"}, true},
		{CloudConfig{Tool: ToolRclone}, false},
		{CloudConfig{Tool: ToolRestic, Repository: "repo"}, true},
		{CloudConfig{Tool: ToolRestic}, false},
		{CloudConfig{Tool: CloudTool("scp")}, false},
	}
	for _, tc := range cases {
		s := NewCloudStorage(tc.cfg, (&recordingRunner{}).runner(), testLogger())
		if got := s.IsEnabled(); got != tc.want {
			t.Errorf("IsEnabled for %+v = %v, want %v", tc.cfg, got, tc.want)
		}
	}
}
