package backup

import (
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
)

// LoadRecipients parses age X25519 recipients from the configured
// literal strings and/or a recipient file (one recipient per line,
// # comments allowed).
func LoadRecipients(literals []string, recipientFile string) ([]age.Recipient, error) {
	var recipients []age.Recipient

	for _, raw := range literals {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient %q: %w", raw, err)
		}
		recipients = append(recipients, r)
	}

	if recipientFile != "" {
		data, err := os.ReadFile(recipientFile)
		if err != nil {
			return nil, fmt.Errorf("reading recipient file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			r, err := age.ParseX25519Recipient(line)
			if err != nil {
				return nil, fmt.Errorf("invalid recipient in %s: %w", recipientFile, err)
			}
			recipients = append(recipients, r)
		}
	}

	if len(recipients) == 0 {
		return nil, fmt.Errorf("no age recipients configured")
	}
	return recipients, nil
}
