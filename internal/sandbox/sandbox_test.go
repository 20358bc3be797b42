package sandbox

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/metalagman/forge/internal/config"
	"github.com/metalagman/forge/internal/db"
	"github.com/metalagman/forge/internal/generation"
	"github.com/metalagman/forge/internal/plugin"
	"github.com/metalagman/forge/internal/quality"
	"github.com/metalagman/forge/internal/task"
	"github.com/metalagman/forge/internal/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const greeterModule = `from pyrogram import Client, filters


def register_handlers(app, bot):
    @app.on_message(filters.command("hello"))
    async def hello(client, message):
        try:
            await message.reply("Hi there")
        except Exception:
            pass
`

type harness struct {
	o        *Orchestrator
	tasks    *task.Store
	registry *plugin.Registry
	table    *plugin.Table
	work     string
	sandbox  string
	plugins  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	work := t.TempDir()
	conn, err := db.Open(filepath.Join(work, ".forge", db.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	q := config.Default().Quality
	h := &harness{
		tasks:   task.NewStore(conn),
		table:   plugin.NewTable(),
		work:    work,
		sandbox: filepath.Join(work, "sandbox"),
		plugins: filepath.Join(work, "plugins"),
	}
	h.registry = plugin.NewRegistry(h.table, h.plugins, plugin.Conventions{
		EntryPoint:       q.EntryPoint,
		HandlerDecorator: q.HandlerDecorator,
	})
	h.o = New(Config{SandboxRoot: h.sandbox, PluginsRoot: h.plugins, WorkDir: work},
		h.tasks, quality.NewGate(q, quality.Capabilities{}), h.registry)
	return h
}

func (h *harness) stage(t *testing.T, files ...generation.File) task.Task {
	t.Helper()
	tk, err := h.o.Stage(context.Background(), StageRequest{
		UserID:  42,
		Kind:    task.KindCreate,
		Feature: "greeter",
		Files:   files,
	})
	require.NoError(t, err)
	return tk
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestStage_ValidModule(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tk := h.stage(t, generation.File{Path: "sandbox/greeter/handler.py", Content: greeterModule})

	assert.Equal(t, task.StatusSandboxed, tk.Status)
	assert.Empty(t, tk.Errors)
	require.Len(t, tk.Files, 1)
	assert.Equal(t, filepath.Join(h.sandbox, "greeter", "handler.py"), tk.Files[0])
	assert.Equal(t, 1, countFiles(t, h.sandbox))

	stored, err := h.tasks.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.Files, stored.Files)
	assert.Equal(t, int64(42), stored.UserID)
}

func TestStage_BestEffortAcrossFiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tk := h.stage(t,
		generation.File{Path: "../escape.py", Content: greeterModule},
		generation.File{Path: "/etc/passwd", Content: "x"},
		generation.File{Path: "broken.py", Content: "def broken(:\n"},
		generation.File{Path: "greeter/handler.py", Content: greeterModule},
	)

	assert.Equal(t, task.StatusSandboxed, tk.Status)
	assert.Equal(t, []string{
		filepath.Join(h.sandbox, "greeter", "broken.py"),
		filepath.Join(h.sandbox, "greeter", "handler.py"),
	}, tk.Files)
	require.Len(t, tk.Errors, 3)
	assert.Equal(t, "../escape.py", tk.Errors[0].File)
	assert.Contains(t, tk.Errors[0].Message, "escapes the sandbox")
	assert.Contains(t, tk.Errors[1].Message, "absolute")

	gateErr := tk.Errors[2]
	assert.Equal(t, filepath.Join(h.sandbox, "greeter", "broken.py"), gateErr.File)
	require.NotNil(t, gateErr.Details)
	assert.NotEmpty(t, gateErr.Details.Errors)
	assert.Less(t, gateErr.Details.Score, 100)
	assert.NoFileExists(t, filepath.Join(h.work, "escape.py"))
}

func TestStage_OverwriteKeepsBackup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	first := h.stage(t, generation.File{Path: "greeter/handler.py", Content: greeterModule})
	path := first.Files[0]
	assert.False(t, versioning.HasBackup(path))

	edited := greeterModule + "\n# edited\n"
	second := h.stage(t, generation.File{Path: "greeter/handler.py", Content: edited})
	require.True(t, versioning.HasBackup(path))
	assert.NotEqual(t, first.ID, second.ID)

	got, err := h.o.Revert(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSandboxed, got.Status)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, greeterModule, string(data))
}

func TestRecordFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	tk, err := h.o.RecordFailure(ctx, StageRequest{UserID: 42, Kind: task.KindCreate}, errors.New("model unavailable"))
	require.NoError(t, err)
	assert.Equal(t, task.StatusCleaned, tk.Status)
	assert.Equal(t, "model unavailable", tk.Error)
	assert.Empty(t, tk.Files)

	pending, err := h.o.Pending(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestIntegrate_RoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	tk := h.stage(t, generation.File{Path: "sandbox/greeter/handler.py", Content: greeterModule})

	res, err := h.o.Integrate(ctx, tk.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "greeter", res.PluginName)
	assert.Equal(t, filepath.Join(h.plugins, "greeter"), res.PluginDir)
	assert.Equal(t, task.StatusIntegrated, res.Task.Status)
	assert.Empty(t, res.LoadError)
	assert.NoFileExists(t, tk.Files[0])
	assert.NoDirExists(t, filepath.Join(h.sandbox, "greeter"))
	assert.DirExists(t, h.sandbox)

	dest := filepath.Join(h.plugins, "greeter", "handler.py")
	assert.Equal(t, []string{dest}, res.Files)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, greeterModule, string(data))

	m, ok, err := plugin.ReadManifest(res.PluginDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tk.ID, m.TaskID)
	assert.Equal(t, int64(42), m.Owner)
	assert.Equal(t, []plugin.ManifestFile{{Source: tk.Files[0], Dest: dest}}, m.Files)

	stored, err := h.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Files, stored.Files)
	assert.Equal(t, []task.Move{{From: tk.Files[0], To: dest}}, stored.Moves)

	assert.Equal(t, []string{"greeter"}, h.registry.List())
	route, ok := h.table.Lookup("hello")
	require.True(t, ok)
	assert.Equal(t, "hello", route.Handler)

	events, err := h.tasks.Events(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, task.StatusIntegrated, events[1].To)
}

func TestIntegrate_ExplicitName(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tk := h.stage(t, generation.File{Path: "greeter/handler.py", Content: greeterModule})

	res, err := h.o.Integrate(context.Background(), tk.ID, "hello_bot")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.plugins, "hello_bot"), res.PluginDir)
	assert.FileExists(t, filepath.Join(h.plugins, "hello_bot", "handler.py"))

	_, err = h.o.Integrate(context.Background(), h.stage(t, generation.File{Path: "x/a.py", Content: greeterModule}).ID, "../up")
	require.ErrorIs(t, err, ErrInvalidPluginName)
	assert.True(t, IsExpected(err))
}

func TestIntegrate_SecondCallFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	tk := h.stage(t, generation.File{Path: "sandbox/greeter/handler.py", Content: greeterModule})

	_, err := h.o.Integrate(ctx, tk.ID, "")
	require.NoError(t, err)

	_, err = h.o.Integrate(ctx, tk.ID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task is not in sandbox state")
	assert.True(t, IsExpected(err))
}

func TestIntegrate_ConcurrentCallsMoveOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	tk := h.stage(t, generation.File{Path: "greeter/handler.py", Content: greeterModule})

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.o.Integrate(ctx, tk.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNotSandboxed):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, rejected)
	assert.FileExists(t, filepath.Join(h.plugins, "greeter", "handler.py"))
}

func TestIntegrate_DestinationClash(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tk := h.stage(t,
		generation.File{Path: "greeter/a/handler.py", Content: greeterModule},
		generation.File{Path: "greeter/b/handler.py", Content: greeterModule},
	)

	_, err := h.o.Integrate(context.Background(), tk.ID, "")
	require.ErrorIs(t, err, ErrDestinationClashes)
	for _, f := range tk.Files {
		assert.FileExists(t, f)
	}
	got, err := h.tasks.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSandboxed, got.Status)
}

func TestIntegrate_MissingSourceMovesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tk := h.stage(t,
		generation.File{Path: "greeter/handler.py", Content: greeterModule},
		generation.File{Path: "greeter/extra.py", Content: "X = 1\n"},
	)
	require.NoError(t, os.Remove(tk.Files[1]))

	_, err := h.o.Integrate(context.Background(), tk.ID, "")
	require.ErrorIs(t, err, ErrFileMissing)
	assert.FileExists(t, tk.Files[0])
	assert.NoDirExists(t, filepath.Join(h.plugins, "greeter"))
}

func TestIntegrate_UnknownTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.o.Integrate(context.Background(), 999, "")
	require.ErrorIs(t, err, ErrTaskNotFound)
	assert.True(t, IsExpected(err))
}

func TestRevert_IntegratedRestoresPreviousPlugin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first := h.stage(t, generation.File{Path: "greeter/handler.py", Content: greeterModule})
	_, err := h.o.Integrate(ctx, first.ID, "")
	require.NoError(t, err)

	upgraded := greeterModule + "\n# v2\n"
	second := h.stage(t, generation.File{Path: "greeter/handler.py", Content: upgraded})
	_, err = h.o.Integrate(ctx, second.ID, "")
	require.NoError(t, err)
	dest := filepath.Join(h.plugins, "greeter", "handler.py")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, upgraded, string(data))

	got, err := h.o.Revert(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusReverted, got.Status)
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, greeterModule, string(data))
	assert.Equal(t, []string{"greeter"}, h.registry.List())
}

func TestRevert_MissingBackupTouchesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.stage(t, generation.File{Path: "greeter/a.py", Content: "A = 1\n"})
	tk := h.stage(t,
		generation.File{Path: "greeter/a.py", Content: "A = 2\n"},
		generation.File{Path: "greeter/b.py", Content: "B = 2\n"},
	)

	_, err := h.o.Revert(ctx, tk.ID)
	require.Error(t, err)
	assert.True(t, IsNoBackup(err))
	assert.Contains(t, err.Error(), tk.Files[1])

	data, err := os.ReadFile(tk.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "A = 2\n", string(data))
}

func TestRevert_CleanedTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	tk := h.stage(t, generation.File{Path: "greeter/handler.py", Content: greeterModule})
	_, err := h.o.Clean(ctx, tk.ID)
	require.NoError(t, err)

	_, err = h.o.Revert(ctx, tk.ID)
	require.ErrorIs(t, err, ErrNotRevertible)
}

func TestClean(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.stage(t, generation.File{Path: "greeter/handler.py", Content: "X = 1\n"})
	tk := h.stage(t,
		generation.File{Path: "greeter/handler.py", Content: greeterModule},
		generation.File{Path: "greeter/gone.py", Content: "Y = 1\n"},
	)
	require.NoError(t, os.Remove(tk.Files[1]))

	got, err := h.o.Clean(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCleaned, got.Status)
	assert.NoFileExists(t, tk.Files[0])
	assert.NoFileExists(t, versioning.BackupPath(tk.Files[0]))
	assert.NoDirExists(t, filepath.Join(h.sandbox, "greeter"))

	_, err = h.o.Clean(ctx, tk.ID)
	require.ErrorIs(t, err, ErrNotSandboxed)
}

func TestTest_ReportsSyntaxAndMissingFiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	tk := h.stage(t,
		generation.File{Path: "greeter/handler.py", Content: greeterModule},
		generation.File{Path: "greeter/bad.py", Content: "def bad(:\n"},
		generation.File{Path: "greeter/gone.py", Content: "Z = 1\n"},
	)
	require.NoError(t, os.Remove(tk.Files[2]))

	report, err := h.o.Test(ctx, tk.ID)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.Len(t, report.Files, 3)
	assert.Empty(t, report.Files[0].Errors)
	assert.NotEmpty(t, report.Files[1].Errors)
	assert.True(t, report.Files[2].Missing)

	got, err := h.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSandboxed, got.Status)
}

func TestTest_CleanTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tk := h.stage(t, generation.File{Path: "greeter/handler.py", Content: greeterModule})

	report, err := h.o.Test(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.True(t, report.OK)
}

func TestRestoreFile_NoBackupLeavesFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tk := h.stage(t, generation.File{Path: "greeter/handler.py", Content: greeterModule})

	_, err := h.o.RestoreFile("sandbox/greeter/handler.py")
	require.Error(t, err)
	assert.True(t, IsNoBackup(err))
	assert.True(t, IsExpected(err))

	data, err := os.ReadFile(tk.Files[0])
	require.NoError(t, err)
	assert.Equal(t, greeterModule, string(data))
}

func TestRestoreAndDiffFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.stage(t, generation.File{Path: "greeter/handler.py", Content: "X = 1\n"})
	tk := h.stage(t, generation.File{Path: "greeter/handler.py", Content: "X = 2\n"})

	diff, err := h.o.DiffFile(tk.Files[0])
	require.NoError(t, err)
	assert.Contains(t, diff, "-X = 1")
	assert.Contains(t, diff, "+X = 2")

	path, err := h.o.RestoreFile("sandbox/greeter/handler.py")
	require.NoError(t, err)
	assert.Equal(t, tk.Files[0], path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "X = 1\n", string(data))

	diff, err = h.o.DiffFile(path)
	require.NoError(t, err)
	assert.Equal(t, versioning.NoDifferencesMessage, diff)
}

func TestManagedPathRejectsOutsideRoots(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, p := range []string{"", "go.mod", "sandbox/../secret.py", "/etc/passwd", "sandbox"} {
		_, err := h.o.DiffFile(p)
		require.Error(t, err, p)
		assert.True(t, IsExpected(err), p)
	}
}

func TestPluginNameFallback(t *testing.T) {
	t.Parallel()
	o := New(Config{SandboxRoot: "/srv/sandbox"}, nil, nil, nil)

	assert.Equal(t, "plugin_7", o.pluginName(task.Task{ID: 7, Files: []string{"/srv/sandbox/handler.py"}}, ""))
	assert.Equal(t, "weather", o.pluginName(task.Task{ID: 7, Files: []string{"/srv/sandbox/weather/x/handler.py"}}, ""))
	assert.Equal(t, "kept", o.pluginName(task.Task{ID: 7, PluginName: "kept"}, ""))
	assert.Equal(t, "explicit", o.pluginName(task.Task{ID: 7, PluginName: "kept"}, " explicit "))
}

func TestResolveStaged(t *testing.T) {
	t.Parallel()
	root := filepath.Join("/srv", "sandbox")
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "sandbox/greeter/handler.py", want: filepath.Join(root, "greeter", "handler.py")},
		{in: "greeter/handler.py", want: filepath.Join(root, "greeter", "handler.py")},
		{in: "handler.py", want: filepath.Join(root, "weather_report", "handler.py")},
		{in: "greeter/./sub/../handler.py", want: filepath.Join(root, "greeter", "handler.py")},
		{in: "../x.py", err: true},
		{in: "greeter/../../x.py", err: true},
		{in: "/abs/x.py", err: true},
		{in: "  ", err: true},
	}
	for _, tc := range cases {
		got, err := resolveStaged(root, tc.in, "weather report")
		if tc.err {
			require.ErrorIs(t, err, ErrInvalidPath, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

// closingChecker closes the task database while gating, so the record
// written after staging fails.
type closingChecker struct {
	*quality.Gate
	closeDB func() error
}

func (c closingChecker) Check(ctx context.Context, path string) quality.Result {
	_ = c.closeDB()
	return c.Gate.Check(ctx, path)
}

func TestStage_RollsBackFilesWhenTaskIsNotStored(t *testing.T) {
	t.Parallel()
	work := t.TempDir()
	conn, err := db.Open(filepath.Join(work, ".forge", db.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	sandboxRoot := filepath.Join(work, "sandbox")
	existing := filepath.Join(sandboxRoot, "greeter", "handler.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("OLD = 1\n"), 0o644))

	q := config.Default().Quality
	gate := closingChecker{Gate: quality.NewGate(q, quality.Capabilities{}), closeDB: conn.Close}
	o := New(Config{SandboxRoot: sandboxRoot, PluginsRoot: filepath.Join(work, "plugins"), WorkDir: work},
		task.NewStore(conn), gate, nil)

	_, err = o.Stage(context.Background(), StageRequest{
		UserID:  42,
		Kind:    task.KindCreate,
		Feature: "greeter",
		Files: []generation.File{
			{Path: "greeter/handler.py", Content: greeterModule},
			{Path: "dice/roll.py", Content: greeterModule},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist staged task")

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "OLD = 1\n", string(data))
	assert.NoFileExists(t, filepath.Join(sandboxRoot, "dice", "roll.py"))
	assert.NoDirExists(t, filepath.Join(sandboxRoot, "dice"))
}
