package main

import (
	"io"

	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

// startFlowSessionLog opens a per-flow session log and mirrors bootstrap
// output into it. The returned logger is nil when the log could not be
// opened; the cleanup func is always safe to call.
func startFlowSessionLog(flowName string, bootstrap *logging.BootstrapLogger) (*logging.Logger, func()) {
	sessionLogger, logPath, closeLog, err := logging.StartSessionLogger(flowName, types.LogLevelInfo, false)
	if err != nil {
		if bootstrap != nil {
			bootstrap.Warning("WARNING: Unable to open session log: %v", err)
		}
		return nil, func() {}
	}

	if bootstrap != nil {
		bootstrap.Info("Session log: %s", logPath)
		bootstrap.SetMirrorLogger(sessionLogger)
	}
	// The session logger only writes to its file; console output stays
	// with the bootstrap logger.
	sessionLogger.SetOutput(io.Discard)

	cleanup := func() {
		if bootstrap != nil {
			bootstrap.SetMirrorLogger(nil)
		}
		closeLog()
	}
	return sessionLogger, cleanup
}
