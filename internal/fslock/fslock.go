// Package fslock provides an exclusive advisory lock on a file in the data
// directory. One forge process mutates the sandbox and plugin trees at a time.
package fslock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Name is the lock file used for workspace mutations.
const Name = "workspace.lock"

// ErrLocked is returned by TryAcquire when another process holds the lock.
var ErrLocked = errors.New("workspace is locked by another forge process")

// Lock is a held lock.
type Lock struct {
	file *os.File
}

func open(dataDir, name string) (*os.File, error) {
	locksDir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(locksDir, name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// Acquire creates and locks <dataDir>/locks/<name>, waiting for the holder.
func Acquire(dataDir, name string) (*Lock, error) {
	file, err := open(dataDir, name)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return &Lock{file: file}, nil
}

// TryAcquire takes the lock without blocking. It returns ErrLocked when the
// lock is held elsewhere.
func TryAcquire(dataDir, name string) (*Lock, error) {
	file, err := open(dataDir, name)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return &Lock{file: file}, nil
}

// Release releases the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
