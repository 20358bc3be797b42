// Package task holds the persistent task record and its lifecycle rules.
package task

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusSandboxed  Status = "sandboxed"
	StatusIntegrated Status = "integrated"
	StatusCleaned    Status = "cleaned"
	StatusReverted   Status = "reverted"
)

// Kind is the kind of generation request that produced a task.
type Kind string

const (
	KindCreate Kind = "CREATE"
	KindEdit   Kind = "EDIT"
	KindRecode Kind = "RECODE"
)

var (
	// ErrNotFound is returned when no task has the requested id.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateID is returned by Append when the id is already taken.
	ErrDuplicateID = errors.New("task id already exists")
	// ErrIllegalTransition is returned when an update moves status along an edge that does not exist.
	ErrIllegalTransition = errors.New("illegal status transition")
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusSandboxed: {
		StatusIntegrated: {},
		StatusCleaned:    {},
	},
	StatusIntegrated: {
		StatusReverted: {},
	},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSandboxed, StatusIntegrated, StatusCleaned, StatusReverted:
		return true
	}
	return false
}

// ErrorEntry is a structured problem recorded while staging or promoting a file.
type ErrorEntry struct {
	File    string        `json:"file"`
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries the quality gate findings behind an ErrorEntry.
type ErrorDetails struct {
	Score       int      `json:"score"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Move records where a sandbox file went on integration.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Task is the unit of work tracking one generation-to-promotion attempt.
type Task struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Kind        Kind      `json:"kind,omitempty"`
	Description string    `json:"description,omitempty"`
	Feature     string    `json:"feature,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	UpdatedAt   time.Time `json:"updated_at"`
	Status      Status    `json:"status"`

	Files  []string     `json:"files"`
	Errors []ErrorEntry `json:"errors"`
	// Error is set when generation itself failed and no files were produced.
	Error string `json:"error,omitempty"`

	PluginName      string   `json:"plugin_name,omitempty"`
	PluginDir       string   `json:"plugin_dir,omitempty"`
	IntegratedFiles []string `json:"integrated_files,omitempty"`
	Moves           []Move   `json:"moves,omitempty"`
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	out.Files = slices.Clone(t.Files)
	out.IntegratedFiles = slices.Clone(t.IntegratedFiles)
	out.Moves = slices.Clone(t.Moves)
	if t.Errors != nil {
		out.Errors = make([]ErrorEntry, len(t.Errors))
		for i, e := range t.Errors {
			out.Errors[i] = e
			if e.Details != nil {
				d := *e.Details
				d.Errors = slices.Clone(e.Details.Errors)
				d.Warnings = slices.Clone(e.Details.Warnings)
				d.Suggestions = slices.Clone(e.Details.Suggestions)
				out.Errors[i].Details = &d
			}
		}
	}
	return out
}

// Validate checks the invariants a stored task must satisfy.
func (t Task) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("task id must be positive, got %d", t.ID)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	return nil
}

// Event is an audit record of a status transition.
type Event struct {
	TaskID int64     `json:"task_id"`
	Seq    int       `json:"seq"`
	At     time.Time `json:"at"`
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to"`
	Reason string    `json:"reason,omitempty"`
}
