package fslock

import (
	"errors"
	"testing"
)

func TestTryAcquireWhileHeld(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	held, err := Acquire(dir, Name)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts too
	if _, err := TryAcquire(dir, Name); !errors.Is(err, ErrLocked) {
		t.Fatalf("try acquire while held: err = %v, want ErrLocked", err)
	}

	if err := held.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := TryAcquire(dir, Name)
	if err != nil {
		t.Fatalf("try acquire after release: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("release again: %v", err)
	}
}

func TestReleaseNil(t *testing.T) {
	t.Parallel()
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("release nil lock: %v", err)
	}
}
