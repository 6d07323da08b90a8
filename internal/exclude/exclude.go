// Package exclude builds the exclusion list consumed by the archiver.
// The pattern set is materialized once per run into a temporary file
// (one pattern per line) that tar reads via --exclude-from; the file
// is removed by the returned cleanup function.
package exclude

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// systemPatterns are always excluded from a full-system archive:
// virtual filesystems, volatile state and cache trees.
var systemPatterns = []string{
	"./proc/*",
	"./sys/*",
	"./dev/*",
	"./run/*",
	"./tmp/*",
	"./var/tmp/*",
	"./var/cache/*",
	"./var/run/*",
	"./lost+found",
	"./media/*",
	"./mnt/*",
	"./swapfile",
	"./swap.img",
	"./home/*/.cache/*",
	"./root/.cache/*",
}

// Set is an immutable collection of path-glob exclusion patterns.
type Set struct {
	patterns []string
	compiled []glob.Glob
}

// NewSet combines the built-in system patterns with extra patterns
// from configuration and the backup destination itself, so archives
// never recurse into the directory they are written to.
func NewSet(destPath string, extra []string) *Set {
	patterns := make([]string, 0, len(systemPatterns)+len(extra)+1)
	patterns = append(patterns, systemPatterns...)

	if destPath != "" {
		patterns = append(patterns, toTarPattern(destPath)+"/*")
	}
	for _, p := range extra {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		patterns = append(patterns, toTarPattern(p))
	}

	s := &Set{patterns: patterns}
	for _, p := range patterns {
		// Malformed patterns are kept in the file for tar but skipped
		// for in-process matching. No separator: * spans path
		// segments, mirroring how tar applies these patterns.
		if g, err := glob.Compile(strings.TrimPrefix(p, "./")); err == nil {
			s.compiled = append(s.compiled, g)
		}
	}
	return s
}

// Patterns returns the pattern list in file order.
func (s *Set) Patterns() []string {
	out := make([]string, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Matches reports whether a path (absolute or tar-relative) is
// covered by the exclusion set.
func (s *Set) Matches(path string) bool {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimPrefix(path, "./")
	for _, g := range s.compiled {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Materialize writes the pattern set to a temporary file, one pattern
// per line, and returns the file path together with a best-effort
// cleanup function.
func (s *Set) Materialize() (string, func(), error) {
	file, err := os.CreateTemp("", "hostsave-exclude-*.txt")
	if err != nil {
		return "", nil, fmt.Errorf("creating exclusion file: %w", err)
	}

	for _, pattern := range s.patterns {
		if _, err := fmt.Fprintln(file, pattern); err != nil {
			file.Close()
			os.Remove(file.Name())
			return "", nil, fmt.Errorf("writing exclusion file: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", nil, fmt.Errorf("closing exclusion file: %w", err)
	}

	path := file.Name()
	cleanup := func() {
		_ = os.Remove(path)
	}
	return path, cleanup, nil
}

// toTarPattern normalizes an absolute path into the ./-prefixed form
// tar uses when archiving relative to /.
func toTarPattern(path string) string {
	if strings.HasPrefix(path, "./") {
		return path
	}
	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "/") {
		return "." + cleaned
	}
	return "./" + cleaned
}
