// Package execx wraps external command execution behind a small
// interface so callers can inject fakes in tests. Shelling out to
// tar, rsync, rclone, restic and systemctl is the heart of the backup
// pipeline, which makes this seam the main testing boundary.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env []string
	// Stdout, if set, receives the process output as a stream and
	// Result.Stdout stays empty. Used to pipe archiver output through
	// an encryption writer.
	Stdout io.Writer
	// Stderr, if set, receives diagnostic output as a stream.
	Stderr io.Writer
	Stdin  io.Reader
}

// Result carries the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// CommandError reports a process that started but exited non-zero.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	line := strings.TrimSpace(e.Stderr)
	if line != "" {
		if idx := strings.IndexByte(line, '\n'); idx > 0 {
			line = line[:idx]
		}
		return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.ExitCode, line)
	}
	return fmt.Sprintf("%s exited with code %d", e.Name, e.ExitCode)
}

// Runner executes external commands.
type Runner interface {
	// Run executes cmd and waits for it to finish. The returned
	// Result is valid even when err is a *CommandError.
	Run(ctx context.Context, cmd Command) (Result, error)
	// LookPath reports whether a binary is available.
	LookPath(name string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface; LookPath
// always succeeds. Intended for tests.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// LookPath implements Runner.
func (f RunnerFunc) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

// OSRunner executes commands with os/exec.
type OSRunner struct{}

// NewOSRunner returns the default process-spawning runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run implements Runner.
func (r *OSRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	proc := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(proc.Environ(), cmd.Env...)
	}
	proc.Stdin = cmd.Stdin

	var stdoutBuf, stderrBuf bytes.Buffer
	if cmd.Stdout != nil {
		proc.Stdout = cmd.Stdout
	} else {
		proc.Stdout = &stdoutBuf
	}
	if cmd.Stderr != nil {
		proc.Stderr = cmd.Stderr
	} else {
		proc.Stderr = &stderrBuf
	}

	err := proc.Run()
	result := Result{
		Stdout: stdoutBuf.Bytes(),
		Stderr: stderrBuf.Bytes(),
	}

	if err == nil {
		return result, nil
	}

	// A context abort takes precedence over the exit status so
	// callers can tell an interrupt apart from a tool failure.
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &CommandError{
			Name:     cmd.Name,
			Args:     cmd.Args,
			ExitCode: result.ExitCode,
			Stderr:   stderrBuf.String(),
		}
	}

	result.ExitCode = -1
	return result, fmt.Errorf("starting %s: %w", cmd.Name, err)
}

// LookPath implements Runner.
func (r *OSRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
