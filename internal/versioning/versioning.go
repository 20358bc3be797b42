// Package versioning keeps one backup per file and restores or diffs against it.
//
// The backup of path P lives next to it as P.bak. Only Backup writes a
// backup; Restore and Diff never create one.
package versioning

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
)

// Suffix is appended to a path to name its backup.
const Suffix = ".bak"

// Messages returned by Diff instead of a diff body.
const (
	NoBackupMessage      = "No backup found."
	NoDifferencesMessage = "No differences."
	NoOriginalMessage    = "Original file not found."
)

// ErrNoBackup reports that a path has no backup to restore from.
var ErrNoBackup = errors.New("no backup found")

// BackupPath returns where the backup of path is kept.
func BackupPath(path string) string {
	return path + Suffix
}

// HasBackup reports whether path has a backup.
func HasBackup(path string) bool {
	info, err := os.Stat(BackupPath(path))
	return err == nil && info.Mode().IsRegular()
}

// Backup snapshots the current bytes of path, replacing any older backup.
// It reports false without error when path does not exist.
func Backup(path string) (bool, error) {
	data, mode, err := readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := WriteFile(BackupPath(path), data, mode); err != nil {
		return false, fmt.Errorf("write backup: %w", err)
	}
	return true, nil
}

// Restore overwrites path with its backup. It reports false without error
// when there is no backup; that is an expected outcome. The backup is kept.
func Restore(path string) (bool, error) {
	data, mode, err := readFile(BackupPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read backup: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create dir: %w", err)
	}
	if err := WriteFile(path, data, mode); err != nil {
		return false, fmt.Errorf("restore %s: %w", path, err)
	}
	return true, nil
}

// Diff renders a unified diff from the backup ("original") to the file
// ("current"). It returns one of the message constants when there is no
// backup, the file is gone or the two are byte-identical.
func Diff(path string) (string, error) {
	original, _, err := readFile(BackupPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoBackupMessage, nil
		}
		return "", fmt.Errorf("read backup: %w", err)
	}
	current, _, err := readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoOriginalMessage, nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if bytes.Equal(original, current) {
		return NoDifferencesMessage, nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(original)),
		B:        difflib.SplitLines(string(current)),
		FromFile: "original",
		ToFile:   "current",
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", path, err)
	}
	if text == "" {
		return NoDifferencesMessage, nil
	}
	return text, nil
}

// Discard removes the backup of path. A missing backup is not an error.
func Discard(path string) error {
	if err := os.Remove(BackupPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove backup: %w", err)
	}
	return nil
}

// WriteFile writes data to a temp file next to path and renames it into
// place, so readers see either the old bytes or the new ones.
func WriteFile(path string, data []byte, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode.Perm()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return data, info.Mode(), nil
}
