package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/forge/internal/intent"
	"github.com/metalagman/forge/internal/versioning"
)

// resolveStaged maps a generated path onto the sandbox root. Model output
// is untrusted: absolute paths and paths leaving the root are rejected.
func resolveStaged(root, rel, feature string) (string, error) {
	p := strings.TrimSpace(filepath.ToSlash(rel))
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %s is absolute", ErrInvalidPath, rel)
	}
	for _, prefix := range []string{"sandbox/", filepath.Base(root) + "/"} {
		p = strings.TrimPrefix(p, prefix)
	}
	p = filepath.Clean(filepath.FromSlash(p))
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %s escapes the sandbox", ErrInvalidPath, rel)
	}
	if filepath.Dir(p) == "." {
		p = filepath.Join(intent.Slug(feature), p)
	}
	return filepath.Join(root, p), nil
}

// relUnder returns path relative to root when path lies inside it.
func relUnder(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", false
	}
	return rel, true
}

func validPluginName(name string) bool {
	return name != "" && filepath.IsLocal(name) && filepath.Base(name) == name && !strings.HasPrefix(name, ".")
}

// moveFile renames src to dst, copying across filesystems when rename fails.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := versioning.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s: %w", src, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// pruneEmptyDirs removes dir and its parents while they are empty, stopping
// at root.
func pruneEmptyDirs(root, dir string) {
	for {
		if _, ok := relUnder(root, dir); !ok {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
