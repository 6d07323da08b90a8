package orchestrator

import (
	"os"
	"time"

	"github.com/hostsave/hostsave/internal/execx"
)

// FS abstracts the few filesystem operations the orchestrator performs
// itself; everything else goes through the backup and storage packages.
type FS interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(path string, data []byte, perm os.FileMode) error
	Rename(oldpath, newpath string) error
}

// Clock abstracts time acquisition for determinism in tests.
type Clock interface {
	Now() time.Time
}

// Deps groups the injectable orchestrator dependencies. Zero fields
// get real implementations.
type Deps struct {
	FS     FS
	Clock  Clock
	Runner execx.Runner
}

func (d Deps) withDefaults() Deps {
	if d.FS == nil {
		d.FS = osFS{}
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.Runner == nil {
		d.Runner = execx.NewOSRunner()
	}
	return d
}

type osFS struct{}

func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (osFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (osFS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
