package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const (
	keyDirName        = "identity"
	sealedKeyFileName = "key.sealed"
	recipientFileName = "recipients.txt"
)

// Paths resolves the on-disk layout of the keystore under the base
// directory.
type Paths struct {
	Dir        string
	SealedKey  string
	Recipients string
}

// ResolvePaths returns the keystore layout for the given base
// directory.
func ResolvePaths(baseDir string) (Paths, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return Paths{}, fmt.Errorf("base directory is empty; cannot resolve keystore location")
	}
	dir := filepath.Join(baseDir, keyDirName)
	return Paths{
		Dir:        dir,
		SealedKey:  filepath.Join(dir, sealedKeyFileName),
		Recipients: filepath.Join(dir, recipientFileName),
	}, nil
}

// SaveSealed writes the sealed identity and its public recipient under
// the base directory. An existing key pair is never overwritten.
func SaveSealed(baseDir string, sealed []byte, recipient string) (Paths, error) {
	paths, err := ResolvePaths(baseDir)
	if err != nil {
		return paths, err
	}
	if _, err := os.Stat(paths.SealedKey); err == nil {
		return paths, fmt.Errorf("sealed key already exists at %s; remove it first to generate a new one", paths.SealedKey)
	}
	if err := os.MkdirAll(paths.Dir, 0o700); err != nil {
		return paths, fmt.Errorf("create keystore directory: %w", err)
	}
	if err := os.WriteFile(paths.SealedKey, sealed, 0o600); err != nil {
		return paths, fmt.Errorf("write sealed key: %w", err)
	}
	content := "# age recipients for archive encryption\n" + recipient + "\n"
	if err := os.WriteFile(paths.Recipients, []byte(content), 0o644); err != nil {
		return paths, fmt.Errorf("write recipients file: %w", err)
	}
	return paths, nil
}

// LoadSealed reads the stored key file and unseals it with the
// passphrase.
func LoadSealed(baseDir string, passphrase []byte) (*age.X25519Identity, error) {
	paths, err := ResolvePaths(baseDir)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(paths.SealedKey)
	if err != nil {
		return nil, fmt.Errorf("read sealed key: %w", err)
	}
	return Unseal(content, passphrase)
}
