package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/metalagman/forge/internal/plugin"
	"github.com/metalagman/forge/internal/task"
	"github.com/metalagman/forge/internal/versioning"
	"github.com/rs/zerolog/log"
)

// IntegrateResult describes a promotion.
type IntegrateResult struct {
	Task       task.Task `json:"task"`
	PluginName string    `json:"plugin_name"`
	PluginDir  string    `json:"plugin_dir"`
	Files      []string  `json:"files"`
	// LoadError is set when the files were promoted but the plugin failed to load.
	LoadError string `json:"load_error,omitempty"`
}

// Integrate promotes a sandboxed task into the plugin set. The plugin name is
// pluginName when given, else the first directory under the sandbox root that
// holds one of the task's files, else plugin_<id>. Files are flattened into
// the plugin directory and moved, not copied.
//
// A move failure part way through leaves already moved files in place. The
// task then stays sandboxed and records where each file is.
func (o *Orchestrator) Integrate(ctx context.Context, id int64, pluginName string) (IntegrateResult, error) {
	var (
		res     IntegrateResult
		moveErr error
	)
	updated, err := o.tasks.Update(ctx, id, "integrated", func(t *task.Task) error {
		if t.Status != task.StatusSandboxed {
			return fmt.Errorf("task %d: %w", id, ErrNotSandboxed)
		}
		if len(t.Files) == 0 {
			return fmt.Errorf("task %d: %w", id, ErrNoFiles)
		}
		name := o.pluginName(*t, pluginName)
		if !validPluginName(name) {
			return fmt.Errorf("%w: %q", ErrInvalidPluginName, name)
		}
		dir := filepath.Join(o.cfg.PluginsRoot, name)
		plan, err := o.planMoves(*t, dir)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plugin dir: %w", err)
		}

		t.PluginName = name
		t.PluginDir = dir
		for _, mv := range plan {
			if err := promoteFile(mv); err != nil {
				moveErr = fmt.Errorf("move %s: %w", mv.From, err)
				t.Errors = append(t.Errors, task.ErrorEntry{File: mv.From, Message: moveErr.Error()})
				// keep the record matching the disk: the task stays sandboxed
				// and Moves lists what already reached the plugin directory
				return nil
			}
			t.Moves = append(t.Moves, mv)
			t.IntegratedFiles = append(t.IntegratedFiles, mv.To)
		}
		if err := plugin.WriteManifest(dir, o.manifest(*t)); err != nil {
			moveErr = err
			t.Errors = append(t.Errors, task.ErrorEntry{File: filepath.Join(dir, plugin.ManifestName), Message: err.Error()})
			return nil
		}
		// files now live under the plugin directory; Moves keeps the sandbox paths
		t.Files = slices.Clone(t.IntegratedFiles)
		t.Status = task.StatusIntegrated
		return nil
	})
	if err != nil {
		return IntegrateResult{}, err
	}
	res.Task = updated
	res.PluginName = updated.PluginName
	res.PluginDir = updated.PluginDir
	res.Files = slices.Clone(updated.IntegratedFiles)
	if moveErr != nil {
		log.Error().Err(moveErr).Int64("task_id", id).Msg("integration stopped part way")
		return res, fmt.Errorf("integrate task %d: %w", id, moveErr)
	}

	for _, mv := range updated.Moves {
		pruneEmptyDirs(o.cfg.SandboxRoot, filepath.Dir(mv.From))
	}
	if o.loader != nil {
		if _, err := o.loader.Load(updated.PluginDir); err != nil {
			res.LoadError = err.Error()
			log.Warn().Err(err).Str("plugin", updated.PluginName).Msg("promoted plugin failed to load")
		}
	}
	log.Info().
		Int64("task_id", id).
		Str("plugin", updated.PluginName).
		Int("files", len(updated.IntegratedFiles)).
		Msg("task integrated")
	return res, nil
}

func (o *Orchestrator) pluginName(t task.Task, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	// a retry after a partial move keeps the directory it started with
	if t.PluginName != "" {
		return t.PluginName
	}
	for _, f := range t.Files {
		rel, ok := relUnder(o.cfg.SandboxRoot, f)
		if !ok {
			continue
		}
		if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
			return parts[0]
		}
	}
	return fmt.Sprintf("plugin_%d", t.ID)
}

// planMoves checks every remaining file before anything is moved.
func (o *Orchestrator) planMoves(t task.Task, dir string) ([]task.Move, error) {
	done := make(map[string]bool, len(t.Moves))
	taken := make(map[string]string, len(t.Files))
	for _, mv := range t.Moves {
		done[mv.From] = true
		taken[mv.To] = mv.From
	}
	var plan []task.Move
	for _, f := range t.Files {
		if done[f] {
			continue
		}
		if _, ok := relUnder(o.cfg.SandboxRoot, f); !ok {
			return nil, fmt.Errorf("%w: %s is not under the sandbox", ErrInvalidPath, f)
		}
		if !exists(f) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, f)
		}
		dst := filepath.Join(dir, filepath.Base(f))
		if other, ok := taken[dst]; ok {
			return nil, fmt.Errorf("%w: %s and %s", ErrDestinationClashes, other, f)
		}
		taken[dst] = f
		plan = append(plan, task.Move{From: f, To: dst})
	}
	return plan, nil
}

// promoteFile backs up a plugin file about to be replaced, moves the sandbox
// file over it and drops the sandbox-side backup.
func promoteFile(mv task.Move) error {
	if _, err := versioning.Backup(mv.To); err != nil {
		return fmt.Errorf("backup %s: %w", mv.To, err)
	}
	if err := moveFile(mv.From, mv.To); err != nil {
		return err
	}
	return versioning.Discard(mv.From)
}

func (o *Orchestrator) manifest(t task.Task) plugin.Manifest {
	m := plugin.Manifest{
		Name:         t.PluginName,
		TaskID:       t.ID,
		Owner:        t.UserID,
		Feature:      t.Feature,
		IntegratedAt: o.now(),
	}
	for _, mv := range t.Moves {
		m.Files = append(m.Files, plugin.ManifestFile{Source: mv.From, Dest: mv.To})
	}
	return m
}

// Clean deletes the files of a sandboxed task along with their backups.
// Files already gone are skipped.
func (o *Orchestrator) Clean(ctx context.Context, id int64) (task.Task, error) {
	updated, err := o.tasks.Update(ctx, id, "cleaned", func(t *task.Task) error {
		if t.Status != task.StatusSandboxed {
			return fmt.Errorf("task %d: %w", id, ErrNotSandboxed)
		}
		for _, f := range t.Files {
			if _, ok := relUnder(o.cfg.SandboxRoot, f); !ok {
				continue
			}
			if err := removeIfExists(f); err != nil {
				return fmt.Errorf("remove %s: %w", f, err)
			}
			if err := versioning.Discard(f); err != nil {
				return fmt.Errorf("remove backup of %s: %w", f, err)
			}
		}
		t.Status = task.StatusCleaned
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	for _, f := range updated.Files {
		pruneEmptyDirs(o.cfg.SandboxRoot, filepath.Dir(f))
	}
	log.Info().Int64("task_id", id).Msg("task cleaned")
	return updated, nil
}

// Revert restores every file of a task from its backup. All backups are
// checked first; if one is missing the call fails naming that file and
// nothing is touched. A sandboxed task has its staged files restored and
// stays sandboxed. An integrated task has its plugin files restored, moves
// to reverted, and its plugin is reloaded.
func (o *Orchestrator) Revert(ctx context.Context, id int64) (task.Task, error) {
	updated, err := o.tasks.Update(ctx, id, "reverted", func(t *task.Task) error {
		var files []string
		switch t.Status {
		case task.StatusSandboxed:
			files = t.Files
		case task.StatusIntegrated:
			files = t.IntegratedFiles
		}
		if len(files) == 0 {
			return fmt.Errorf("task %d (%s): %w", id, t.Status, ErrNotRevertible)
		}
		for _, f := range files {
			if !versioning.HasBackup(f) {
				return fmt.Errorf("%w for %s", versioning.ErrNoBackup, f)
			}
		}
		for _, f := range files {
			ok, err := versioning.Restore(f)
			if err != nil {
				return fmt.Errorf("restore %s: %w", f, err)
			}
			if !ok {
				return fmt.Errorf("%w for %s", versioning.ErrNoBackup, f)
			}
		}
		if t.Status == task.StatusIntegrated {
			t.Status = task.StatusReverted
		}
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	if updated.Status == task.StatusReverted && o.loader != nil {
		if _, err := o.loader.Load(updated.PluginDir); err != nil {
			log.Warn().Err(err).Str("plugin", updated.PluginName).Msg("reverted plugin failed to load")
		}
	}
	log.Info().Int64("task_id", id).Str("status", string(updated.Status)).Msg("task reverted")
	return updated, nil
}

// RestoreFile undoes the last overwrite of one managed file. It returns the
// resolved path.
func (o *Orchestrator) RestoreFile(path string) (string, error) {
	abs, err := o.ManagedPath(path)
	if err != nil {
		return "", err
	}
	ok, err := versioning.Restore(abs)
	if err != nil {
		return abs, err
	}
	if !ok {
		return abs, fmt.Errorf("%w for %s", versioning.ErrNoBackup, abs)
	}
	log.Info().Str("file", abs).Msg("file restored")
	return abs, nil
}

// DiffFile renders the changes of one managed file against its backup.
func (o *Orchestrator) DiffFile(path string) (string, error) {
	abs, err := o.ManagedPath(path)
	if err != nil {
		return "", err
	}
	return versioning.Diff(abs)
}

// ManagedPath resolves path against the work dir and checks it lies in the
// sandbox or plugin tree.
func (o *Orchestrator) ManagedPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.cfg.WorkDir, path)
	}
	path = filepath.Clean(path)
	for _, root := range []string{o.cfg.SandboxRoot, o.cfg.PluginsRoot} {
		if _, ok := relUnder(root, path); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideRoots, path)
}

// IsNoBackup reports whether err means a file had nothing to restore.
func IsNoBackup(err error) bool {
	return errors.Is(err, versioning.ErrNoBackup)
}
