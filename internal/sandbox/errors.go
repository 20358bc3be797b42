package sandbox

import (
	"errors"

	"github.com/metalagman/forge/internal/task"
	"github.com/metalagman/forge/internal/versioning"
)

// Expected, caller-facing failures. They describe a mistake in the request
// and are reported back to the user rather than logged as faults.
var (
	ErrTaskNotFound       = task.ErrNotFound
	ErrNotSandboxed       = errors.New("task is not in sandbox state")
	ErrNotRevertible      = errors.New("task has no files to revert")
	ErrNoFiles            = errors.New("task has no files")
	ErrFileMissing        = errors.New("file missing on disk")
	ErrInvalidPath        = errors.New("invalid path")
	ErrOutsideRoots       = errors.New("path is outside the sandbox and plugin directories")
	ErrInvalidPluginName  = errors.New("invalid plugin name")
	ErrDestinationClashes = errors.New("two files flatten to the same destination")
)

var expected = []error{
	ErrTaskNotFound,
	ErrNotSandboxed,
	ErrNotRevertible,
	ErrNoFiles,
	ErrFileMissing,
	ErrInvalidPath,
	ErrOutsideRoots,
	ErrInvalidPluginName,
	ErrDestinationClashes,
	versioning.ErrNoBackup,
}

// IsExpected reports whether err is a caller mistake rather than a fault.
func IsExpected(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
