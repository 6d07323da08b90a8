// Package backup creates, verifies and fingerprints the archive
// artifacts. The archiver shells out to the system tar, which reads
// the materialized exclusion file and streams through an external
// compressor or, when encryption is enabled, through an age writer.
package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/hostsave/hostsave/internal/execx"
	"github.com/hostsave/hostsave/internal/logging"
	"github.com/hostsave/hostsave/internal/types"
)

// CompressionError reports a failure of the external compressor.
type CompressionError struct {
	Algorithm types.CompressionType
	Err       error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression with %s failed: %v", e.Algorithm, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// ArchiverConfig controls how archives are produced.
type ArchiverConfig struct {
	Compression types.CompressionType
	Level       int
	Threads     int

	Encrypt    bool
	Recipients []age.Recipient
}

// Validate rejects unusable compression settings.
func (c *ArchiverConfig) Validate() error {
	if !c.Compression.Valid() {
		return fmt.Errorf("unknown compression type: %q", c.Compression)
	}
	switch c.Compression {
	case types.CompressionGzip, types.CompressionPigz:
		if c.Level != 0 && (c.Level < 1 || c.Level > 9) {
			return fmt.Errorf("%s level must be within [1,9], got %d", c.Compression, c.Level)
		}
	case types.CompressionXZ:
		if c.Level < 0 || c.Level > 9 {
			return fmt.Errorf("xz level must be within [0,9], got %d", c.Level)
		}
	case types.CompressionZstd:
		if c.Level != 0 && (c.Level < 1 || c.Level > 19) {
			return fmt.Errorf("zstd level must be within [1,19], got %d", c.Level)
		}
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", c.Threads)
	}
	if c.Encrypt && len(c.Recipients) == 0 {
		return fmt.Errorf("encryption enabled but no age recipients configured")
	}
	return nil
}

// Archiver produces backup artifacts.
type Archiver struct {
	config ArchiverConfig
	runner execx.Runner
	logger *logging.Logger
}

// NewArchiver creates an archiver. A nil runner defaults to the real
// process-spawning one.
func NewArchiver(config ArchiverConfig, runner execx.Runner, logger *logging.Logger) *Archiver {
	if runner == nil {
		runner = execx.NewOSRunner()
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Archiver{
		config: config,
		runner: runner,
		logger: logger,
	}
}

// ResolveCompression downgrades to gzip when the configured external
// compressor binary is not installed.
func ResolveCompression(requested types.CompressionType, runner execx.Runner, logger *logging.Logger) types.CompressionType {
	binary := ""
	switch requested {
	case types.CompressionPigz:
		binary = "pigz"
	case types.CompressionXZ:
		binary = "xz"
	case types.CompressionZstd:
		binary = "zstd"
	default:
		return requested
	}
	if _, err := runner.LookPath(binary); err != nil {
		if logger != nil {
			logger.Warning("Compressor %s not found, falling back to gzip", binary)
		}
		return types.CompressionGzip
	}
	return requested
}

// CreateRequest describes one archive invocation.
type CreateRequest struct {
	// Sources are absolute paths archived relative to /.
	Sources []string
	// ExcludeFile is the materialized exclusion list consumed via
	// --exclude-from. Empty means no exclusions.
	ExcludeFile string
	OutputDir   string
	Hostname    string
	Timestamp   time.Time
}

// CreateResult describes the produced artifact.
type CreateResult struct {
	Path      string
	Size      int64
	Duration  time.Duration
	Encrypted bool
}

// Create runs tar and returns the artifact. Any non-zero tar exit is
// an error; a partial output file is left on disk for inspection
// (interrupted runs keep their partial artifact too).
func (a *Archiver) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if len(req.Sources) == 0 {
		return nil, fmt.Errorf("no archive sources given")
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	name := ArtifactName(req.Hostname, req.Timestamp, a.config.Compression, a.config.Encrypt)
	outPath := filepath.Join(req.OutputDir, name)

	args := []string{"-c"}
	if req.ExcludeFile != "" {
		args = append(args, "--exclude-from="+req.ExcludeFile)
	}
	args = append(args, "--warning=no-file-changed", "-C", "/")
	if flag := a.compressionArg(); flag != "" {
		args = append(args, flag)
	}

	started := time.Now()
	var runErr error
	if a.config.Encrypt {
		args = append(args, "-f", "-")
		args = append(args, relativeSources(req.Sources)...)
		runErr = a.runEncrypted(ctx, args, outPath)
	} else {
		args = append(args, "-f", outPath)
		args = append(args, relativeSources(req.Sources)...)
		_, runErr = a.runner.Run(ctx, execx.Command{Name: "tar", Args: args})
	}

	if runErr != nil {
		if ctx.Err() != nil {
			// Interrupted: report the abort and leave the partial
			// artifact in place.
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tar failed: %w", runErr)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("archive missing after tar run: %w", err)
	}

	result := &CreateResult{
		Path:      outPath,
		Size:      info.Size(),
		Duration:  time.Since(started),
		Encrypted: a.config.Encrypt,
	}
	a.logger.Info("Archive created: %s (%s in %s)", outPath, FormatBytes(result.Size), FormatDuration(result.Duration))
	return result, nil
}

// runEncrypted streams tar stdout through an age encryption writer
// into the output file.
func (a *Archiver) runEncrypted(ctx context.Context, tarArgs []string, outPath string) error {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer out.Close()

	encWriter, err := age.Encrypt(out, a.config.Recipients...)
	if err != nil {
		return fmt.Errorf("initializing encryption: %w", err)
	}

	_, runErr := a.runner.Run(ctx, execx.Command{
		Name:   "tar",
		Args:   tarArgs,
		Stdout: encWriter,
	})
	if closeErr := encWriter.Close(); runErr == nil && closeErr != nil {
		return fmt.Errorf("finalizing encryption: %w", closeErr)
	}
	return runErr
}

// compressionArg returns the tar flag selecting the compressor.
func (a *Archiver) compressionArg() string {
	level := a.config.Level
	threads := a.config.Threads
	switch a.config.Compression {
	case types.CompressionGzip:
		return "-z"
	case types.CompressionPigz:
		prog := "pigz"
		if level > 0 {
			prog += fmt.Sprintf(" -%d", level)
		}
		if threads > 0 {
			prog += fmt.Sprintf(" -p %d", threads)
		}
		return "--use-compress-program=" + prog
	case types.CompressionXZ:
		prog := "xz"
		if level > 0 {
			prog += fmt.Sprintf(" -%d", level)
		}
		if threads > 0 {
			prog += fmt.Sprintf(" -T %d", threads)
		} else {
			prog += " -T 0"
		}
		return "--use-compress-program=" + prog
	case types.CompressionZstd:
		prog := "zstd"
		if level > 0 {
			prog += fmt.Sprintf(" -%d", level)
		}
		if threads > 0 {
			prog += fmt.Sprintf(" -T%d", threads)
		} else {
			prog += " -T0"
		}
		return "--use-compress-program=" + prog
	default:
		return ""
	}
}

// Verify lists the archive to prove it is readable. Encrypted
// archives are skipped: listing would require the private identity,
// which deliberately never sits on the host being backed up.
func (a *Archiver) Verify(ctx context.Context, archivePath string) error {
	if a.config.Encrypt || strings.HasSuffix(archivePath, ".age") {
		a.logger.Skip("Verification skipped for encrypted archive %s", filepath.Base(archivePath))
		return nil
	}

	args := []string{"-t"}
	switch a.config.Compression {
	case types.CompressionGzip, types.CompressionPigz:
		args = append(args, "-z")
	case types.CompressionXZ:
		args = append(args, "-J")
	case types.CompressionZstd:
		args = append(args, "--use-compress-program=zstd")
	}
	args = append(args, "-f", archivePath)

	if _, err := a.runner.Run(ctx, execx.Command{Name: "tar", Args: args}); err != nil {
		return fmt.Errorf("archive %s is not listable: %w", archivePath, err)
	}
	a.logger.Debug("Archive %s verified listable", filepath.Base(archivePath))
	return nil
}

// ArtifactName builds the timestamped artifact filename.
func ArtifactName(hostname string, ts time.Time, compression types.CompressionType, encrypted bool) string {
	if hostname == "" {
		hostname = "host"
	}
	name := fmt.Sprintf("%s-backup-%s.tar%s", hostname, ts.Format("20060102-150405"), CompressionExtension(compression))
	if encrypted {
		name += ".age"
	}
	return name
}

// CompressionExtension returns the filename suffix for a compression
// type, including the leading dot (empty for none).
func CompressionExtension(compression types.CompressionType) string {
	switch compression {
	case types.CompressionGzip, types.CompressionPigz:
		return ".gz"
	case types.CompressionXZ:
		return ".xz"
	case types.CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// EstimateSize walks the sources and sums regular file sizes,
// skipping excluded paths. excluded may be nil.
func EstimateSize(sources []string, excluded func(string) bool) (int64, error) {
	var total int64
	for _, source := range sources {
		err := filepath.WalkDir(source, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				// Unreadable entries are skipped; the estimate stays
				// a lower bound.
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if excluded != nil && excluded(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			total += info.Size()
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func relativeSources(sources []string) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		s = filepath.Clean(s)
		if s == "/" {
			out = append(out, ".")
			continue
		}
		out = append(out, "."+s)
	}
	return out
}

// FormatBytes renders a byte count for log lines.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a duration for log lines.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
