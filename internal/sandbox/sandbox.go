// Package sandbox moves generated files through their lifecycle: staged and
// gated in the sandbox, promoted into the plugin set, cleaned or reverted.
//
// Every state change goes through the task store, which serializes updates
// per task id. The status check made inside that update is what keeps two
// concurrent integrations of one task from both moving files.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/forge/internal/generation"
	"github.com/metalagman/forge/internal/plugin"
	"github.com/metalagman/forge/internal/quality"
	"github.com/metalagman/forge/internal/task"
	"github.com/metalagman/forge/internal/versioning"
	"github.com/rs/zerolog/log"
)

// Checker scores staged files.
type Checker interface {
	Check(ctx context.Context, path string) quality.Result
	CheckSyntax(ctx context.Context, path string) ([]string, error)
}

// Loader makes a promoted plugin directory live.
type Loader interface {
	Load(dir string) (plugin.Plugin, error)
}

// Config locates the managed directory trees.
type Config struct {
	SandboxRoot string
	PluginsRoot string
	// WorkDir anchors relative paths given to RestoreFile and DiffFile.
	WorkDir string
}

// Orchestrator owns the sandbox and plugin trees.
type Orchestrator struct {
	cfg    Config
	tasks  *task.Store
	gate   Checker
	loader Loader
	now    func() time.Time
}

// New creates an orchestrator. loader may be nil, in which case promoted
// plugins are not loaded.
func New(cfg Config, tasks *task.Store, gate Checker, loader Loader) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		tasks:  tasks,
		gate:   gate,
		loader: loader,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StageRequest is one generation result to be staged.
type StageRequest struct {
	UserID      int64
	Kind        task.Kind
	Description string
	Feature     string
	Files       []generation.File
}

// Stage writes the files into the sandbox in the given order and gates each
// one. A file that cannot be written or fails the gate adds an error entry;
// the rest are still processed. The task is always persisted as sandboxed.
// If the record cannot be stored the written files are rolled back, so the
// sandbox never holds files no task owns.
func (o *Orchestrator) Stage(ctx context.Context, req StageRequest) (task.Task, error) {
	id, err := o.tasks.NewID(ctx)
	if err != nil {
		return task.Task{}, err
	}
	t := task.Task{
		ID:          id,
		UserID:      req.UserID,
		Kind:        req.Kind,
		Description: req.Description,
		Feature:     req.Feature,
		Status:      task.StatusSandboxed,
		Files:       []string{},
		Errors:      []task.ErrorEntry{},
	}
	var written []stagedFile
	for _, f := range req.Files {
		path, err := resolveStaged(o.cfg.SandboxRoot, f.Path, req.Feature)
		if err != nil {
			t.Errors = append(t.Errors, task.ErrorEntry{File: f.Path, Message: err.Error()})
			continue
		}
		backedUp, err := o.writeStaged(path, f.Content)
		if err != nil {
			t.Errors = append(t.Errors, task.ErrorEntry{File: path, Message: err.Error()})
			continue
		}
		written = append(written, stagedFile{path: path, backedUp: backedUp})
		t.Files = append(t.Files, path)

		res := o.gate.Check(ctx, path)
		if !res.Passed {
			t.Errors = append(t.Errors, task.ErrorEntry{
				File:    path,
				Message: fmt.Sprintf("Quality check failed (score %d)", res.Score),
				Details: &task.ErrorDetails{
					Score:       res.Score,
					Errors:      res.Errors,
					Warnings:    res.Warnings,
					Suggestions: res.Suggestions,
				},
			})
		}
	}

	t.Timestamp = o.now()
	if err := o.tasks.Append(ctx, t); err != nil {
		o.unstage(written)
		return task.Task{}, fmt.Errorf("persist staged task: %w", err)
	}
	log.Info().
		Int64("task_id", t.ID).
		Int64("user_id", t.UserID).
		Str("kind", string(t.Kind)).
		Int("files", len(t.Files)).
		Int("errors", len(t.Errors)).
		Msg("task staged")
	return t, nil
}

type stagedFile struct {
	path     string
	backedUp bool
}

// writeStaged backs up and overwrites path. It reports whether a previous
// version was backed up.
func (o *Orchestrator) writeStaged(path, content string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create sandbox dir: %w", err)
	}
	backedUp, err := versioning.Backup(path)
	if err != nil {
		return false, fmt.Errorf("backup: %w", err)
	}
	if err := versioning.WriteFile(path, []byte(content), 0o644); err != nil {
		return backedUp, fmt.Errorf("write: %w", err)
	}
	return backedUp, nil
}

// unstage puts the sandbox back the way it was before a Stage whose task
// could not be stored. Failures are logged; the caller already has an error.
func (o *Orchestrator) unstage(files []stagedFile) {
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		var err error
		if f.backedUp {
			_, err = versioning.Restore(f.path)
		} else {
			err = removeIfExists(f.path)
		}
		if err != nil {
			log.Error().Err(err).Str("file", f.path).Msg("roll back staged file")
			continue
		}
		pruneEmptyDirs(o.cfg.SandboxRoot, filepath.Dir(f.path))
	}
}

// RecordFailure persists a generation that produced nothing. The task has no
// files, carries the error, and is cleaned from the start so it never shows
// up as pending.
func (o *Orchestrator) RecordFailure(ctx context.Context, req StageRequest, genErr error) (task.Task, error) {
	id, err := o.tasks.NewID(ctx)
	if err != nil {
		return task.Task{}, err
	}
	t := task.Task{
		ID:          id,
		UserID:      req.UserID,
		Kind:        req.Kind,
		Description: req.Description,
		Feature:     req.Feature,
		Timestamp:   o.now(),
		Status:      task.StatusCleaned,
		Files:       []string{},
		Errors:      []task.ErrorEntry{},
		Error:       genErr.Error(),
	}
	if err := o.tasks.Append(ctx, t); err != nil {
		return task.Task{}, fmt.Errorf("persist failed task: %w", err)
	}
	log.Warn().Int64("task_id", id).Err(genErr).Msg("generation failed")
	return t, nil
}

// FileSyntax is the syntax check outcome of one file.
type FileSyntax struct {
	Path    string   `json:"path"`
	Missing bool     `json:"missing,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// TestReport is the result of re-validating a sandboxed task.
type TestReport struct {
	TaskID int64        `json:"task_id"`
	OK     bool         `json:"ok"`
	Files  []FileSyntax `json:"files"`
}

// Test checks that every file of a sandboxed task still parses. It runs only
// the syntax stage and never changes the task.
func (o *Orchestrator) Test(ctx context.Context, id int64) (TestReport, error) {
	t, err := o.tasks.Get(ctx, id)
	if err != nil {
		return TestReport{}, err
	}
	if t.Status != task.StatusSandboxed {
		return TestReport{}, fmt.Errorf("task %d: %w", id, ErrNotSandboxed)
	}
	if len(t.Files) == 0 {
		return TestReport{}, fmt.Errorf("task %d: %w", id, ErrNoFiles)
	}
	report := TestReport{TaskID: id, OK: true}
	for _, path := range t.Files {
		fr := FileSyntax{Path: path}
		if !exists(path) {
			fr.Missing = true
			report.OK = false
			report.Files = append(report.Files, fr)
			continue
		}
		errs, err := o.gate.CheckSyntax(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return TestReport{}, ctxErr
			}
			errs = []string{err.Error()}
		}
		if len(errs) > 0 {
			fr.Errors = errs
			report.OK = false
		}
		report.Files = append(report.Files, fr)
	}
	return report, nil
}

// Get returns the task with id.
func (o *Orchestrator) Get(ctx context.Context, id int64) (task.Task, error) {
	return o.tasks.Get(ctx, id)
}

// Pending returns the user's sandboxed tasks, most recent last.
func (o *Orchestrator) Pending(ctx context.Context, userID int64) ([]task.Task, error) {
	return o.tasks.Pending(ctx, userID)
}

// LastPending returns the task an implicit integrate request refers to.
func (o *Orchestrator) LastPending(ctx context.Context, userID int64) (task.Task, bool, error) {
	pending, err := o.tasks.Pending(ctx, userID)
	if err != nil {
		return task.Task{}, false, err
	}
	if len(pending) == 0 {
		return task.Task{}, false, nil
	}
	return pending[len(pending)-1], true, nil
}
