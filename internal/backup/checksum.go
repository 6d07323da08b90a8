package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hostsave/hostsave/internal/types"
	"github.com/hostsave/hostsave/pkg/utils"
)

// WriteChecksum computes the SHA-256 of an artifact and writes the
// sidecar file in coreutils sha256sum format ("<hash>  <name>\n"), so
// the artifact can be verified with sha256sum -c.
func WriteChecksum(artifactPath string) (string, error) {
	checksum, err := utils.ComputeSHA256(artifactPath)
	if err != nil {
		return "", fmt.Errorf("computing checksum: %w", err)
	}

	sidecar := artifactPath + ".sha256"
	content := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(artifactPath))
	if err := os.WriteFile(sidecar, []byte(content), 0o640); err != nil {
		return "", fmt.Errorf("writing checksum file: %w", err)
	}
	return checksum, nil
}

// WriteManifest writes the artifact metadata as a JSON sidecar.
func WriteManifest(artifactPath string, meta *types.ArtifactMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	manifestPath := artifactPath + ".metadata"
	if err := os.WriteFile(manifestPath, append(data, '\n'), 0o640); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads an artifact manifest if one exists.
func ReadManifest(artifactPath string) (*types.ArtifactMetadata, error) {
	data, err := os.ReadFile(artifactPath + ".metadata")
	if err != nil {
		return nil, err
	}
	var meta types.ArtifactMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &meta, nil
}
