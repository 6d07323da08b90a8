// Package types defines shared enums and data types used across the
// backup pipeline.
package types

// ExitCode represents the process exit code for each failure class.
type ExitCode int

const (
	ExitSuccess           ExitCode = 0
	ExitGenericError      ExitCode = 1
	ExitConfigError       ExitCode = 2
	ExitEnvironmentError  ExitCode = 3
	ExitBackupError       ExitCode = 4
	ExitStorageError      ExitCode = 5
	ExitNetworkError      ExitCode = 6
	ExitPermissionError   ExitCode = 7
	ExitVerificationError ExitCode = 8
	ExitArchiveError      ExitCode = 9
	ExitCompressionError  ExitCode = 10
	ExitDiskSpaceError    ExitCode = 11
	ExitServiceError      ExitCode = 12
	ExitLockError         ExitCode = 13
	ExitPanicError        ExitCode = 14

	// ExitInterrupted follows the shell convention 128+SIGINT.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "Success"
	case ExitGenericError:
		return "Generic error"
	case ExitConfigError:
		return "Configuration error"
	case ExitEnvironmentError:
		return "Environment error"
	case ExitBackupError:
		return "Backup operation error"
	case ExitStorageError:
		return "Storage operation error"
	case ExitNetworkError:
		return "Network error"
	case ExitPermissionError:
		return "Permission error"
	case ExitVerificationError:
		return "Verification error"
	case ExitArchiveError:
		return "Archive creation error"
	case ExitCompressionError:
		return "Compression error"
	case ExitDiskSpaceError:
		return "Insufficient disk space"
	case ExitServiceError:
		return "Service control error"
	case ExitLockError:
		return "Another instance is running"
	case ExitPanicError:
		return "Internal panic"
	case ExitInterrupted:
		return "Interrupted by signal"
	default:
		return "Unknown error"
	}
}

// Int returns the exit code as an integer for os.Exit.
func (e ExitCode) Int() int {
	return int(e)
}
