// Package reconcile brings task records back in line with the filesystem.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/metalagman/forge/internal/task"
	"github.com/rs/zerolog/log"
)

// MissingFilesReason is the event reason of a reconciled task.
const MissingFilesReason = "files missing on disk"

// Result reports what a pass changed.
type Result struct {
	Checked int
	Cleaned []int64
}

// Run marks every sandboxed task whose files are all gone as cleaned. A task
// that still has at least one file, or has no files at all, is left alone.
func Run(ctx context.Context, store *task.Store) (Result, error) {
	sandboxed, err := store.List(ctx, task.Filter{Status: task.StatusSandboxed})
	if err != nil {
		return Result{}, fmt.Errorf("list sandboxed tasks: %w", err)
	}
	res := Result{Checked: len(sandboxed)}
	for _, t := range sandboxed {
		if len(t.Files) == 0 || anyExists(t.Files) {
			continue
		}
		_, err := store.Update(ctx, t.ID, MissingFilesReason, func(cur *task.Task) error {
			if cur.Status != task.StatusSandboxed || anyExists(cur.Files) {
				return errSkip
			}
			cur.Status = task.StatusCleaned
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("reconcile task %d: %w", t.ID, err)
		}
		log.Info().Int64("task_id", t.ID).Msg("task files missing on disk, marked cleaned")
		res.Cleaned = append(res.Cleaned, t.ID)
	}
	return res, nil
}

// errSkip aborts the update when the task changed since it was listed.
var errSkip = errors.New("task changed")

func anyExists(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
