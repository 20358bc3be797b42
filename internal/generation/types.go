// Package generation asks a language model for plugin source files and turns
// whatever it answers into an ordered file list.
package generation

import (
	"context"

	"github.com/metalagman/forge/internal/task"
)

// File is one generated source file. Path is relative to the sandbox root.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Turn is one line of conversation history.
type Turn struct {
	Role    string
	Content string
}

// Request describes one code generation call.
type Request struct {
	Description   string
	PreviousError string
	Type          task.Kind
	// Feature seeds the fallback file path when the answer is not JSON.
	Feature string
}

// Result is the parsed model answer. Files keep the order the model gave them.
type Result struct {
	Files []File
	Raw   string
	// Recovered is true when strict JSON decoding failed.
	Recovered bool
}

// CompletionRequest is a single model call.
type CompletionRequest struct {
	Instructions string
	Input        string
}

// Completer is a model backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
