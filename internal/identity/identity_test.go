package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPassphrase = "Correct-Horse-7-Battery"

func TestSealUnsealRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := Seal(id, []byte(testPassphrase))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte(id.String())) {
		t.Fatal("sealed file contains the private key in the clear")
	}
	if !bytes.Contains(sealed, []byte(id.Recipient().String())) {
		t.Error("sealed file should carry the public key header")
	}

	got, err := Unseal(sealed, []byte(testPassphrase))
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if got.String() != id.String() {
		t.Error("unsealed identity differs from the original")
	}
}

func TestUnsealWrongPassphrase(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := Seal(id, []byte(testPassphrase))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unseal(sealed, []byte("Another-Pass-42!")); err == nil {
		t.Error("wrong passphrase must fail")
	}
}

func TestUnsealTampered(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := Seal(id, []byte(testPassphrase))
	if err != nil {
		t.Fatal(err)
	}

	// Flip a character inside the base64 ciphertext.
	s := string(sealed)
	idx := strings.LastIndex(s, ":")
	tampered := []byte(s)
	if tampered[idx+1] == 'A' {
		tampered[idx+1] = 'B'
	} else {
		tampered[idx+1] = 'A'
	}
	if _, err := Unseal(tampered, []byte(testPassphrase)); err == nil {
		t.Error("tampered ciphertext must fail to unseal")
	}
}

func TestUnsealMalformed(t *testing.T) {
	cases := map[string]string{
		"missing key":   "# just a comment\n",
		"bad format":    "HOSTSAVE_SEALED_IDENTITY=\"v1:onlytwo\"\n",
		"wrong version": "HOSTSAVE_SEALED_IDENTITY=\"v9:AA==:AA==:AA==\"\n",
		"bad base64":    "HOSTSAVE_SEALED_IDENTITY=\"v1:!!!:AA==:AA==\"\n",
	}
	for name, content := range cases {
		if _, err := Unseal([]byte(content), []byte(testPassphrase)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestValidatePassphrase(t *testing.T) {
	tests := []struct {
		name    string
		pass    string
		wantErr bool
	}{
		{"strong", "Correct-Horse-7-Battery", false},
		{"too short", "Ab1!", true},
		{"one class", "aaaaaaaaaaaaaaaa", true},
		{"two classes", "aaaaaaaaaaaa1234", true},
		{"three classes", "aaaaAAAA12345678", false},
		{"common word", "password", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassphrase([]byte(tt.pass))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassphrase(%q) = %v, wantErr %v", tt.pass, err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoadSealed(t *testing.T) {
	base := t.TempDir()
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := Seal(id, []byte(testPassphrase))
	if err != nil {
		t.Fatal(err)
	}

	paths, err := SaveSealed(base, sealed, id.Recipient().String())
	if err != nil {
		t.Fatalf("SaveSealed: %v", err)
	}
	if paths.SealedKey != filepath.Join(base, "identity", "key.sealed") {
		t.Errorf("sealed key path = %s", paths.SealedKey)
	}

	info, err := os.Stat(paths.SealedKey)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("sealed key mode = %v, want 0600", info.Mode().Perm())
	}

	recipients, err := os.ReadFile(paths.Recipients)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(recipients), id.Recipient().String()) {
		t.Error("recipients file missing the public key")
	}

	got, err := LoadSealed(base, []byte(testPassphrase))
	if err != nil {
		t.Fatalf("LoadSealed: %v", err)
	}
	if got.String() != id.String() {
		t.Error("loaded identity differs from the original")
	}

	// A second key must not clobber the first.
	if _, err := SaveSealed(base, sealed, id.Recipient().String()); err == nil {
		t.Error("overwriting an existing sealed key must fail")
	}
}

func TestResolvePathsEmptyBase(t *testing.T) {
	if _, err := ResolvePaths("  "); err == nil {
		t.Error("empty base directory must be rejected")
	}
}
