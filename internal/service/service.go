// Package service controls the systemd unit wrapped by the
// service-aware backup: the unit is stopped while its data is
// archived and restarted afterwards if it was running before.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hostsave/hostsave/internal/execx"
	"github.com/hostsave/hostsave/internal/logging"
)

// Manager wraps systemctl behind the command runner.
type Manager struct {
	runner execx.Runner
	logger *logging.Logger
}

// NewManager creates a service manager. A nil runner defaults to the
// real one.
func NewManager(runner execx.Runner, logger *logging.Logger) *Manager {
	if runner == nil {
		runner = execx.NewOSRunner()
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Manager{runner: runner, logger: logger}
}

// IsActive reports whether the unit is currently running.
// systemctl is-active exits non-zero for every inactive state, so a
// CommandError is not a failure here.
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) {
	_, err := m.runner.Run(ctx, execx.Command{
		Name: "systemctl",
		Args: []string{"is-active", "--quiet", unit},
	})
	if err == nil {
		return true, nil
	}
	var cmdErr *execx.CommandError
	if errors.As(err, &cmdErr) {
		return false, nil
	}
	return false, fmt.Errorf("querying unit %s: %w", unit, err)
}

// Stop stops the unit.
func (m *Manager) Stop(ctx context.Context, unit string) error {
	m.logger.Step("Stopping service %s", unit)
	if _, err := m.runner.Run(ctx, execx.Command{
		Name: "systemctl",
		Args: []string{"stop", unit},
	}); err != nil {
		return fmt.Errorf("stopping unit %s: %w", unit, err)
	}
	return nil
}

// Start starts the unit.
func (m *Manager) Start(ctx context.Context, unit string) error {
	m.logger.Step("Starting service %s", unit)
	if _, err := m.runner.Run(ctx, execx.Command{
		Name: "systemctl",
		Args: []string{"start", unit},
	}); err != nil {
		return fmt.Errorf("starting unit %s: %w", unit, err)
	}
	return nil
}

// Guard stops the unit if it is running and returns a restore
// function. The restore function restarts the unit only when it was
// active beforehand; its error must be treated as fatal by the caller
// even when the archive itself succeeded, so a media service is never
// silently left down after a backup.
func (m *Manager) Guard(ctx context.Context, unit string) (restore func(context.Context) error, wasActive bool, err error) {
	if strings.TrimSpace(unit) == "" {
		return nil, false, fmt.Errorf("empty unit name")
	}

	wasActive, err = m.IsActive(ctx, unit)
	if err != nil {
		return nil, false, err
	}

	if !wasActive {
		m.logger.Skip("Service %s not running, nothing to stop", unit)
		return func(context.Context) error { return nil }, false, nil
	}

	if err := m.Stop(ctx, unit); err != nil {
		return nil, true, err
	}

	restore = func(restoreCtx context.Context) error {
		if err := m.Start(restoreCtx, unit); err != nil {
			return fmt.Errorf("service %s was not restarted after backup: %w", unit, err)
		}
		m.logger.Info("Service %s restarted", unit)
		return nil
	}
	return restore, true, nil
}
