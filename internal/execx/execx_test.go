package execx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOSRunnerCapturesOutput(t *testing.T) {
	runner := NewOSRunner()
	result, err := runner.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(string(result.Stdout)); got != "out" {
		t.Errorf("stdout = %q, want out", got)
	}
	if got := strings.TrimSpace(string(result.Stderr)); got != "err" {
		t.Errorf("stderr = %q, want err", got)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestOSRunnerNonZeroExit(t *testing.T) {
	runner := NewOSRunner()
	result, err := runner.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("CommandError.ExitCode = %d, want 3", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Error(), "broken") {
		t.Errorf("error message should carry stderr: %v", cmdErr)
	}
}

func TestOSRunnerStreamsStdout(t *testing.T) {
	runner := NewOSRunner()
	var sink bytes.Buffer
	result, err := runner.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "printf streamed"},
		Stdout: &sink,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.String() != "streamed" {
		t.Errorf("streamed stdout = %q", sink.String())
	}
	if len(result.Stdout) != 0 {
		t.Errorf("buffered stdout should be empty when streaming, got %q", result.Stdout)
	}
}

func TestOSRunnerContextCancellation(t *testing.T) {
	runner := NewOSRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, Command{Name: "sleep", Args: []string{"10"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestOSRunnerMissingBinary(t *testing.T) {
	runner := NewOSRunner()
	_, err := runner.Run(context.Background(), Command{Name: "definitely-not-a-binary-xyz"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		t.Errorf("missing binary must not be reported as CommandError: %v", err)
	}
}
