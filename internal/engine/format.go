package engine

import (
	"fmt"
	"strings"

	"github.com/metalagman/forge/internal/sandbox"
	"github.com/metalagman/forge/internal/task"
)

func formatStaged(t task.Task) string {
	if len(t.Errors) == 0 {
		return fmt.Sprintf("Code generated! Task ID: %d\nSay 'integrate it' to move to plugins.", t.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Code generated with issues. Task ID: %d\n", t.ID)
	for _, e := range t.Errors {
		fmt.Fprintf(&b, "• %s: %s\n", e.File, e.Message)
		if e.Details == nil {
			continue
		}
		for _, msg := range e.Details.Errors {
			fmt.Fprintf(&b, "    error: %s\n", msg)
		}
		for _, msg := range e.Details.Warnings {
			fmt.Fprintf(&b, "    warning: %s\n", msg)
		}
	}
	if len(t.Files) > 0 {
		b.WriteString("Say 'integrate it' to move to plugins anyway.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatIntegrated(res sandbox.IntegrateResult) string {
	msg := fmt.Sprintf("Integrated to plugins/%s", res.PluginName)
	if res.LoadError != "" {
		msg += "\nThe plugin did not load: " + res.LoadError
	}
	return msg
}

func formatPending(tasks []task.Task) string {
	if len(tasks) == 0 {
		return "No pending tasks."
	}
	var b strings.Builder
	b.WriteString("Pending tasks:\n")
	for _, t := range tasks {
		label := t.Feature
		if label == "" {
			label = t.Description
		}
		fmt.Fprintf(&b, "• %d %s %q: %d file(s), %d issue(s)\n", t.ID, t.Kind, label, len(t.Files), len(t.Errors))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTestReport(r sandbox.TestReport) string {
	var b strings.Builder
	if r.OK {
		fmt.Fprintf(&b, "Task %d: all files parse.", r.TaskID)
		return b.String()
	}
	fmt.Fprintf(&b, "Task %d has problems:\n", r.TaskID)
	for _, f := range r.Files {
		switch {
		case f.Missing:
			fmt.Fprintf(&b, "• %s: missing\n", f.Path)
		case len(f.Errors) > 0:
			fmt.Fprintf(&b, "• %s: %s\n", f.Path, strings.Join(f.Errors, "; "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "• " + item
	}
	return strings.Join(lines, "\n")
}
