package main

import (
	"context"

	"github.com/hostsave/hostsave/internal/config"
	"github.com/hostsave/hostsave/internal/identity"
	"github.com/hostsave/hostsave/internal/input"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

// runNewKey generates a fresh age key pair, seals the private key with
// an interactive passphrase and stores both halves under BASE_DIR.
func runNewKey(ctx context.Context, cfg *config.Config, bootstrap *logging.BootstrapLogger) int {
	sessionLogger, cleanup := startFlowSessionLog("newkey", bootstrap)
	defer cleanup()
	if sessionLogger != nil {
		sessionLogger.Info("Starting --newkey (base=%s)", cfg.BaseDir)
	}

	if err := ensureInteractiveStdin(); err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}

	passphrase, err := promptNewPassphrase(ctx, bootstrap)
	if err != nil {
		if input.IsAborted(err) {
			bootstrap.Warning("Key generation interrupted")
			return types.ExitInterrupted.Int()
		}
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}

	id, err := identity.Generate()
	if err != nil {
		bootstrap.Error("ERROR: Failed to generate key: %v", err)
		return types.ExitGenericError.Int()
	}

	sealed, err := identity.Seal(id, passphrase)
	if err != nil {
		bootstrap.Error("ERROR: Failed to seal key: %v", err)
		return types.ExitGenericError.Int()
	}

	paths, err := identity.SaveSealed(cfg.BaseDir, sealed, id.Recipient().String())
	if err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}

	bootstrap.Println("New encryption key generated.")
	bootstrap.Printf("  Public key:  %s", id.Recipient().String())
	bootstrap.Printf("  Sealed key:  %s", paths.SealedKey)
	bootstrap.Printf("  Recipients:  %s", paths.Recipients)
	bootstrap.Println("")
	bootstrap.Println("To encrypt backups with this key, set in backup.env:")
	bootstrap.Println("  ENCRYPT_ARCHIVE=true")
	bootstrap.Printf("  AGE_RECIPIENT_FILE=%s", paths.Recipients)
	bootstrap.Println("")
	bootstrap.Println("Keep the passphrase safe: without it the sealed private key cannot be recovered.")

	if sessionLogger != nil {
		sessionLogger.Info("newkey completed (recipients=%s)", paths.Recipients)
	}
	return types.ExitSuccess.Int()
}
