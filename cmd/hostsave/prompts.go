package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/hostsave/hostsave/internal/identity"
	"github.com/hostsave/hostsave/internal/input"
	"github.com/hostsave/hostsave/internal/logging"
)

const maxPassphraseAttempts = 3

var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// ensureInteractiveStdin rejects non-TTY stdin so passphrases are never
// read from pipes or redirected files.
func ensureInteractiveStdin() error {
	if !isTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal; key generation requires an interactive session")
	}
	return nil
}

// promptNewPassphrase reads a new passphrase twice without echo and
// validates it against the key sealing policy.
func promptNewPassphrase(ctx context.Context, bootstrap *logging.BootstrapLogger) ([]byte, error) {
	for attempt := 1; attempt <= maxPassphraseAttempts; attempt++ {
		pass, err := promptPassphrase(ctx, "Enter new passphrase: ")
		if err != nil {
			return nil, err
		}
		if err := identity.ValidatePassphrase(pass); err != nil {
			bootstrap.Warning("WARNING: %v", err)
			continue
		}
		confirm, err := promptPassphrase(ctx, "Confirm passphrase:    ")
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pass, confirm) {
			bootstrap.Warning("WARNING: Passphrases do not match, try again")
			continue
		}
		return pass, nil
	}
	return nil, fmt.Errorf("too many failed passphrase attempts")
}

// promptPassphrase reads a single passphrase from the terminal without
// echo. Ctrl+C cancels the run context and aborts the read.
func promptPassphrase(ctx context.Context, label string) ([]byte, error) {
	fmt.Fprint(os.Stderr, label)
	pass, err := input.ReadPasswordWithContext(ctx, readPassword, int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if input.IsAborted(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pass, nil
}
