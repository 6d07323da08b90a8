package types

import (
	"fmt"
	"time"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelDebug    LogLevel = 5
	LogLevelInfo     LogLevel = 4
	LogLevelWarning  LogLevel = 3
	LogLevelError    LogLevel = 2
	LogLevelCritical LogLevel = 1
	LogLevelNone     LogLevel = 0
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a user-supplied level name into a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch s {
	case "debug", "DEBUG":
		return LogLevelDebug, nil
	case "info", "INFO":
		return LogLevelInfo, nil
	case "warning", "warn", "WARNING", "WARN":
		return LogLevelWarning, nil
	case "error", "ERROR":
		return LogLevelError, nil
	case "critical", "CRITICAL":
		return LogLevelCritical, nil
	case "none", "NONE", "quiet":
		return LogLevelNone, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// CompressionType represents the compression applied to an archive
type CompressionType string

const (
	CompressionGzip CompressionType = "gzip"
	CompressionPigz CompressionType = "pigz"
	CompressionXZ   CompressionType = "xz"
	CompressionZstd CompressionType = "zstd"
	CompressionNone CompressionType = "none"
)

// String returns the string representation of CompressionType
func (c CompressionType) String() string {
	return string(c)
}

// Valid reports whether c is one of the supported compression types.
func (c CompressionType) Valid() bool {
	switch c {
	case CompressionGzip, CompressionPigz, CompressionXZ, CompressionZstd, CompressionNone:
		return true
	}
	return false
}

// Severity classifies how a failing step affects the run as a whole.
// Fatal steps abort the pipeline with a non-zero exit; Recoverable
// steps log a warning and let the run continue.
type Severity int

const (
	SeverityFatal Severity = iota
	SeverityRecoverable
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityFatal:
		return "fatal"
	case SeverityRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// ArtifactInfo describes one backup artifact on a target.
type ArtifactInfo struct {
	Path      string
	Size      int64
	Timestamp time.Time
	Checksum  string
	Metadata  *ArtifactMetadata
}

// ArtifactMetadata is the manifest written next to each artifact.
type ArtifactMetadata struct {
	ArtifactFile string          `json:"artifact_file"`
	Hostname     string          `json:"hostname"`
	Distro       string          `json:"distro,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Size         int64           `json:"size"`
	Checksum     string          `json:"checksum"`
	Compression  CompressionType `json:"compression"`
	Encrypted    bool            `json:"encrypted"`
	Version      string          `json:"version"`
}
