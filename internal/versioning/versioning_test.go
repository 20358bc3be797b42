package versioning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestBackupMissingFileIsNoop(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.py")
	ok, err := Backup(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, HasBackup(path))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "handler.py")
	write(t, path, "v1\n")

	ok, err := Backup(path)
	require.NoError(t, err)
	require.True(t, ok)

	// second backup of unchanged content keeps the same snapshot
	ok, err = Backup(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1\n", read(t, BackupPath(path)))

	write(t, path, "v2\n")
	ok, err = Restore(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1\n", read(t, path))
	assert.True(t, HasBackup(path), "restore keeps the backup")
}

func TestBackupOverwritesPrevious(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "handler.py")
	write(t, path, "v1\n")
	_, err := Backup(path)
	require.NoError(t, err)
	write(t, path, "v2\n")
	_, err = Backup(path)
	require.NoError(t, err)

	assert.Equal(t, "v2\n", read(t, BackupPath(path)))
}

func TestRestoreWithoutBackup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "handler.py")
	write(t, path, "untouched\n")

	ok, err := Restore(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "untouched\n", read(t, path))
}

func TestRestoreRecreatesDeletedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "handler.py")
	write(t, path, "keep\n")
	_, err := Backup(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	ok, err := Restore(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "keep\n", read(t, path))
}

func TestDiff(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "handler.py")

	msg, err := Diff(path)
	require.NoError(t, err)
	assert.Equal(t, NoBackupMessage, msg)
	assert.False(t, HasBackup(path), "diff never creates a backup")

	write(t, path, "a\nb\n")
	_, err = Backup(path)
	require.NoError(t, err)

	msg, err = Diff(path)
	require.NoError(t, err)
	assert.Equal(t, NoDifferencesMessage, msg)

	write(t, path, "a\nc\n")
	msg, err = Diff(path)
	require.NoError(t, err)
	assert.Contains(t, msg, "--- original")
	assert.Contains(t, msg, "+++ current")
	assert.Contains(t, msg, "-b\n")
	assert.Contains(t, msg, "+c\n")

	require.NoError(t, os.Remove(path))
	msg, err = Diff(path)
	require.NoError(t, err)
	assert.Equal(t, NoOriginalMessage, msg)
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "handler.py")
	write(t, path, "x")
	_, err := Backup(path)
	require.NoError(t, err)

	require.NoError(t, Discard(path))
	assert.False(t, HasBackup(path))
	require.NoError(t, Discard(path), "discarding twice is fine")
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.py")
	write(t, path, "old")

	require.NoError(t, WriteFile(path, []byte("new"), 0o600))
	assert.Equal(t, "new", read(t, path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
