// Package identity manages the age key pair used to encrypt archives.
// The private key never touches disk in the clear: it is sealed with a
// passphrase-derived key (scrypt + XChaCha20-Poly1305) and stored next
// to a plain recipients file that the archiver reads.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	sealVersion = "v1"
	sealKeyName = "HOSTSAVE_SEALED_IDENTITY"

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	saltSize = 16

	minPassphraseLength = 12
)

var weakPassphrases = []string{
	"password",
	"123456",
	"123456789",
	"qwerty",
	"abc123",
	"letmein",
	"admin",
	"welcome",
	"iloveyou",
	"monkey",
}

// Generate creates a fresh X25519 identity.
func Generate() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// ValidatePassphrase enforces the minimum strength for sealing
// passphrases: length, three character classes, and a denylist of
// common passwords.
func ValidatePassphrase(pass []byte) error {
	s := string(pass)
	if len(s) < minPassphraseLength {
		return fmt.Errorf("passphrase too short; use at least %d characters", minPassphraseLength)
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	classes := 0
	for _, flag := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if flag {
			classes++
		}
	}
	if classes < 3 {
		return fmt.Errorf("passphrase must include characters from at least three categories (uppercase, lowercase, digits, symbols)")
	}

	lower := strings.ToLower(s)
	for _, weak := range weakPassphrases {
		if lower == weak {
			return fmt.Errorf("passphrase is too common; choose a more unique phrase")
		}
	}
	return nil
}

func deriveKey(passphrase, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key from passphrase: %w", err)
	}
	return key, nil
}

// Seal encrypts the identity under the passphrase and returns the file
// content to persist. The public recipient is kept in a header comment
// so the owner can recover it without unsealing.
func Seal(identity *age.X25519Identity, passphrase []byte) ([]byte, error) {
	if identity == nil {
		return nil, fmt.Errorf("no identity to seal")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, []byte(identity.String()), []byte(sealVersion))

	enc := base64.StdEncoding
	value := strings.Join([]string{
		sealVersion,
		enc.EncodeToString(salt),
		enc.EncodeToString(nonce),
		enc.EncodeToString(ciphertext),
	}, ":")

	var b strings.Builder
	b.WriteString("# Sealed age identity\n")
	b.WriteString(fmt.Sprintf("# Created: %s\n", time.Now().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("# Public key: %s\n", identity.Recipient().String()))
	b.WriteString(fmt.Sprintf("%s=%q\n", sealKeyName, value))
	return []byte(b.String()), nil
}

// Unseal decrypts a sealed identity file with the passphrase.
func Unseal(content, passphrase []byte) (*age.X25519Identity, error) {
	value := ""
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, sealKeyName+"=") {
			value = strings.Trim(line[len(sealKeyName)+1:], "\"")
			break
		}
	}
	if value == "" {
		return nil, fmt.Errorf("sealed identity data not found")
	}

	parts := strings.Split(value, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid sealed identity format")
	}
	if parts[0] != sealVersion {
		return nil, fmt.Errorf("unsupported sealed identity version %q", parts[0])
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid salt encoding: %w", err)
	}
	nonce, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid nonce encoding: %w", err)
	}
	ciphertext, err := enc.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(sealVersion))
	if err != nil {
		return nil, fmt.Errorf("unseal identity: wrong passphrase or corrupted file")
	}
	return age.ParseX25519Identity(strings.TrimSpace(string(plaintext)))
}
