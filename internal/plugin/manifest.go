package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/forge/internal/versioning"
	"gopkg.in/yaml.v3"
)

// ManifestName is the manifest file inside a plugin directory.
const ManifestName = "plugin.yaml"

// Manifest records where a plugin came from.
type Manifest struct {
	Name         string         `yaml:"name"`
	TaskID       int64          `yaml:"task_id"`
	Owner        int64          `yaml:"owner"`
	Feature      string         `yaml:"feature,omitempty"`
	IntegratedAt time.Time      `yaml:"integrated_at"`
	Files        []ManifestFile `yaml:"files"`
}

// ManifestFile maps one sandbox source to its plugin destination.
type ManifestFile struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// WriteManifest stores m in dir, replacing any previous manifest.
func WriteManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := versioning.WriteFile(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of dir. ok is false when there is none.
func ReadManifest(dir string) (m Manifest, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parse manifest: %w", err)
	}
	return m, true, nil
}
