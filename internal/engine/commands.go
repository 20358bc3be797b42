package engine

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/metalagman/forge/internal/sandbox"
	"github.com/metalagman/forge/internal/task"
	"github.com/rs/zerolog"
)

type access int

const (
	devOnly access = iota
	ownerOnly
	anyone
)

type command struct {
	access access
	usage  string
	// args is the minimum number of arguments.
	args int
	run  func(ctx context.Context, e *Engine, reply *Reply, userID int64, args []string)
}

var commands = map[string]command{
	"pending":   {access: devOnly, run: cmdPending},
	"integrate": {access: devOnly, usage: "/integrate [plugin]", run: cmdIntegrate},
	"diff":      {access: devOnly, usage: "/diff <file>", args: 1, run: cmdDiff},
	"undo":      {access: devOnly, usage: "/undo <file|task ID>", args: 1, run: cmdUndo},
	"clean":     {access: devOnly, usage: "/clean <task ID>", args: 1, run: cmdClean},
	"test":      {access: devOnly, usage: "/test <task ID>", args: 1, run: cmdTest},
	"review":    {access: devOnly, usage: "/review <file>", args: 1, run: cmdReview},
	"debug":     {access: devOnly, usage: "/debug <task ID>", args: 1, run: cmdDebug},
	"forget":    {access: anyone, run: cmdForget},
	"modules":   {access: ownerOnly, run: cmdModules},
	"delete":    {access: ownerOnly, usage: "/delete <plugin>", args: 1, run: cmdDelete},
}

// Commands returns the names of the slash commands, sorted.
func Commands() []string {
	out := make([]string, 0, len(commands))
	for name := range commands {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (e *Engine) command(ctx context.Context, reply Reply, userID int64, text string) Reply {
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	// "/cmd@botname" addresses a command to one bot in a group
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	reply.Command = name

	cmd, ok := commands[name]
	if !ok {
		reply.Text = fmt.Sprintf("Unknown command /%s.", name)
		return reply
	}
	var allowed bool
	switch cmd.access {
	case ownerOnly:
		allowed = e.deps.Roles.IsOwner(userID)
	case anyone:
		allowed = true
	default:
		allowed = e.deps.Roles.IsDev(userID)
	}
	if !allowed {
		reply.Text = AccessDenied
		return reply
	}
	args := fields[1:]
	if len(args) < cmd.args {
		reply.Text = "Usage: " + cmd.usage
		return reply
	}
	zerolog.Ctx(ctx).Debug().Str("command", name).Strs("args", args).Msg("command")
	cmd.run(ctx, e, &reply, userID, args)
	return reply
}

// failure renders err for the requester, logging it when it is a fault.
func failure(ctx context.Context, op string, err error) string {
	if sandbox.IsExpected(err) {
		return err.Error()
	}
	return fault(ctx, op, err)
}

func parseTaskID(arg string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	return id, err == nil && id > 0
}

func cmdPending(ctx context.Context, e *Engine, reply *Reply, userID int64, _ []string) {
	tasks, err := e.deps.Sandbox.Pending(ctx, userID)
	if err != nil {
		reply.Text = fault(ctx, "list pending tasks", err)
		return
	}
	reply.Text = formatPending(tasks)
}

func cmdIntegrate(ctx context.Context, e *Engine, reply *Reply, userID int64, args []string) {
	t, ok, err := e.deps.Sandbox.LastPending(ctx, userID)
	if err != nil {
		reply.Text = fault(ctx, "list pending tasks", err)
		return
	}
	if !ok {
		reply.Text = NoPendingToMerge
		return
	}
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	reply.Text, reply.Task = e.integrate(ctx, t.ID, name)
}

func cmdDiff(ctx context.Context, e *Engine, reply *Reply, _ int64, args []string) {
	out, err := e.deps.Sandbox.DiffFile(args[0])
	if err != nil {
		reply.Text = "Error: " + failure(ctx, "diff file", err)
		return
	}
	reply.Text = "```diff\n" + out + "```"
}

func cmdUndo(ctx context.Context, e *Engine, reply *Reply, _ int64, args []string) {
	if id, ok := parseTaskID(args[0]); ok {
		t, err := e.deps.Sandbox.Revert(ctx, id)
		if err != nil {
			reply.Text = "Revert failed: " + failure(ctx, "revert task", err)
			return
		}
		reply.Task = &t
		reply.Text = fmt.Sprintf("Task %d reverted.", id)
		return
	}
	if _, err := e.deps.Sandbox.RestoreFile(args[0]); err != nil {
		if sandbox.IsNoBackup(err) {
			reply.Text = "No backup found."
			return
		}
		reply.Text = "Error: " + failure(ctx, "restore file", err)
		return
	}
	reply.Text = "Restored."
}

func cmdClean(ctx context.Context, e *Engine, reply *Reply, _ int64, args []string) {
	id, ok := parseTaskID(args[0])
	if !ok {
		reply.Text = "Usage: /clean <task ID>"
		return
	}
	t, err := e.deps.Sandbox.Clean(ctx, id)
	if err != nil {
		reply.Text = "Clean failed: " + failure(ctx, "clean task", err)
		return
	}
	reply.Task = &t
	reply.Text = fmt.Sprintf("Task %d cleaned.", id)
}

func cmdTest(ctx context.Context, e *Engine, reply *Reply, _ int64, args []string) {
	id, ok := parseTaskID(args[0])
	if !ok {
		reply.Text = "Usage: /test <task ID>"
		return
	}
	report, err := e.deps.Sandbox.Test(ctx, id)
	if err != nil {
		reply.Text = "Test failed: " + failure(ctx, "test task", err)
		return
	}
	reply.Text = formatTestReport(report)
}

func cmdReview(ctx context.Context, e *Engine, reply *Reply, _ int64, args []string) {
	path, err := e.deps.Sandbox.ManagedPath(args[0])
	if err != nil {
		reply.Text = "Error: " + failure(ctx, "review file", err)
		return
	}
	code, err := os.ReadFile(path)
	if err != nil {
		reply.Text = "File not found."
		return
	}
	out, err := e.deps.Generator.Review(ctx, path, string(code))
	if err != nil {
		reply.Text = fault(ctx, "review file", err)
		return
	}
	reply.Text = out
}

func cmdDebug(ctx context.Context, e *Engine, reply *Reply, _ int64, args []string) {
	id, ok := parseTaskID(args[0])
	if !ok {
		reply.Text = "Usage: /debug <task ID>"
		return
	}
	t, err := e.deps.Sandbox.Get(ctx, id)
	if err != nil {
		reply.Text = "Error: " + failure(ctx, "load task", err)
		return
	}
	trace, file := taskProblems(t)
	if trace == "" {
		reply.Text = fmt.Sprintf("Task %d has no recorded errors.", id)
		return
	}
	var code string
	if file != "" {
		if data, err := os.ReadFile(file); err == nil {
			code = string(data)
		}
	}
	out, err := e.deps.Generator.Debug(ctx, trace, code)
	if err != nil {
		reply.Text = fault(ctx, "debug task", err)
		return
	}
	reply.Task = &t
	reply.Text = out
}

// taskProblems flattens what went wrong with t and names the first file
// involved.
func taskProblems(t task.Task) (string, string) {
	var b strings.Builder
	if t.Error != "" {
		b.WriteString(t.Error)
		b.WriteByte('\n')
	}
	file := ""
	for _, entry := range t.Errors {
		if file == "" {
			file = entry.File
		}
		fmt.Fprintf(&b, "%s: %s\n", entry.File, entry.Message)
		if entry.Details != nil {
			for _, msg := range entry.Details.Errors {
				fmt.Fprintf(&b, "  %s\n", msg)
			}
		}
	}
	return strings.TrimSpace(b.String()), file
}

func cmdForget(ctx context.Context, e *Engine, reply *Reply, userID int64, _ []string) {
	if e.deps.Memory == nil {
		reply.Text = "Conversation cleared."
		return
	}
	if err := e.deps.Memory.Clear(ctx, userID); err != nil {
		reply.Text = fault(ctx, "clear conversation", err)
		return
	}
	reply.Text = "Conversation cleared."
}

func cmdModules(_ context.Context, e *Engine, reply *Reply, _ int64, _ []string) {
	if e.deps.Plugins == nil {
		reply.Text = "No modules."
		return
	}
	reply.Text = formatList(e.deps.Plugins.List(), "No modules.")
}

func cmdDelete(ctx context.Context, e *Engine, reply *Reply, _ int64, args []string) {
	if e.deps.Plugins == nil {
		reply.Text = "Not found."
		return
	}
	if err := e.deps.Plugins.Delete(args[0]); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("plugin", args[0]).Msg("delete plugin")
		reply.Text = "Error: " + err.Error()
		return
	}
	reply.Text = fmt.Sprintf("Deleted %s.", args[0])
}
