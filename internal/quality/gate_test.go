package quality

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/metalagman/forge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validModule = `from pyrogram import Client, filters


def register_handlers(app, bot):
    @app.on_message(filters.command("hello"))
    async def hello(client, message):
        try:
            await message.reply("Hi there")
        except Exception:
            pass
`

type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	fail    map[string]bool
	calls   map[string][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string][]string{}
	}
	f.calls[name] = args
	if f.fail[name] {
		return nil, errors.New("tool crashed")
	}
	return []byte(f.outputs[name]), nil
}

func (f *fakeRunner) called(name string) ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	args, ok := f.calls[name]
	return args, ok
}

func writeSource(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handler.py")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func policy() config.QualityConfig {
	return config.Default().Quality
}

func TestCheck_CleanModuleScoresFull(t *testing.T) {
	t.Parallel()

	g := NewGate(policy(), Capabilities{})
	res := g.Check(context.Background(), writeSource(t, validModule))

	assert.Equal(t, 100, res.Score)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.Suggestions)
}

func TestCheck_OneErrorCostsTwentyAndFails(t *testing.T) {
	t.Parallel()

	src := strings.Replace(validModule, "async def hello", "def hello", 1)
	g := NewGate(policy(), Capabilities{})
	res := g.Check(context.Background(), writeSource(t, src))

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "must be declared async")
	assert.Equal(t, 80, res.Score)
	assert.False(t, res.Passed, "any error fails regardless of score")
}

func TestCheck_MissingImportIsWarning(t *testing.T) {
	t.Parallel()

	src := strings.Replace(validModule, "from pyrogram import Client, filters\n", "import os\n", 1)
	g := NewGate(policy(), Capabilities{})
	res := g.Check(context.Background(), writeSource(t, src))

	assert.Equal(t, []string{"Missing required import: pyrogram"}, res.Warnings)
	assert.Equal(t, 90, res.Score)
	assert.True(t, res.Passed)
}

func TestCheck_MissingEntryPointAndTry(t *testing.T) {
	t.Parallel()

	src := `from pyrogram import filters

@app.on_message(filters.command("x"))
async def x(client, message):
    await message.reply("x")
`
	g := NewGate(policy(), Capabilities{})
	res := g.Check(context.Background(), writeSource(t, src))

	assert.Equal(t, []string{"Missing required entry point: register_handlers()"}, res.Errors)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, 75, res.Score)
	assert.False(t, res.Passed)
}

func TestCheck_SyntaxErrorSkipsStaticAnalysisOnly(t *testing.T) {
	t.Parallel()

	src := "from pyrogram import filters\n\ndef register_handlers(app, bot:\n    pass\n"
	runner := &fakeRunner{outputs: map[string]string{"bandit": `{"results": []}`}}
	g := NewGate(policy(), Capabilities{Pyflakes: true, Flake8: true, Bandit: true}, WithRunner(runner))
	res := g.Check(context.Background(), writeSource(t, src))

	require.NotEmpty(t, res.Errors)
	assert.True(t, strings.HasPrefix(res.Errors[0], "Syntax Error: line "), res.Errors[0])
	assert.False(t, res.Passed)

	_, ranPyflakes := runner.called("pyflakes")
	_, ranFlake8 := runner.called("flake8")
	_, ranBandit := runner.called("bandit")
	assert.False(t, ranPyflakes)
	assert.False(t, ranFlake8)
	assert.True(t, ranBandit)
	assert.Empty(t, res.Warnings, "imports come from the text fallback")
}

func TestCheck_MergesToolFindings(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outputs: map[string]string{
		"pyflakes": "/x/handler.py:3:5: undefined name 'foo'\n",
		"flake8":   "/x/handler.py:10:80: E501 line too long (90 > 79 characters)\n",
		"bandit": `{"results": [
			{"issue_severity": "MEDIUM", "issue_text": "Use of exec", "line_number": 4, "test_id": "B102"}
		]}`,
	}}
	g := NewGate(policy(), Capabilities{Pyflakes: true, Flake8: true, Bandit: true}, WithRunner(runner))
	res := g.Check(context.Background(), writeSource(t, validModule))

	assert.Equal(t, []string{"pyflakes: line 3: undefined name 'foo'"}, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "1 medium severity")
	assert.Equal(t, []string{"flake8: line 10: E501 line too long (90 > 79 characters)"}, res.Suggestions)
	assert.Equal(t, 65, res.Score)

	args, ok := runner.called("flake8")
	require.True(t, ok)
	assert.Contains(t, args, "--extend-ignore=F")
}

func TestCheck_ToolFailureSkipsStage(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{fail: map[string]bool{"flake8": true, "bandit": true}}
	g := NewGate(policy(), Capabilities{Flake8: true, Bandit: true}, WithRunner(runner))
	res := g.Check(context.Background(), writeSource(t, validModule))

	assert.Equal(t, 100, res.Score)
	assert.True(t, res.Passed)
}

func TestCheck_UnreadableFile(t *testing.T) {
	t.Parallel()

	g := NewGate(policy(), Capabilities{})
	res := g.Check(context.Background(), filepath.Join(t.TempDir(), "missing.py"))
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "File Error")
	assert.False(t, res.Passed)
}

func TestCheckSyntax(t *testing.T) {
	t.Parallel()

	g := NewGate(policy(), Capabilities{})
	errs, err := g.CheckSyntax(context.Background(), writeSource(t, validModule))
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = g.CheckSyntax(context.Background(), writeSource(t, "def f(:\n"))
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	_, err = g.CheckSyntax(context.Background(), filepath.Join(t.TempDir(), "nope.py"))
	require.Error(t, err)
}

func TestAutoFix(t *testing.T) {
	t.Parallel()

	path := writeSource(t, validModule)

	ran, err := NewGate(policy(), Capabilities{}).AutoFix(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, ran)

	runner := &fakeRunner{}
	ran, err = NewGate(policy(), Capabilities{Isort: true, Black: true}, WithRunner(runner)).
		AutoFix(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, ran)
	_, isort := runner.called("isort")
	_, black := runner.called("black")
	assert.True(t, isort)
	assert.True(t, black)
}

func TestProbeWith(t *testing.T) {
	t.Parallel()

	caps := ProbeWith(func(name string) (string, error) {
		if name == "flake8" || name == "black" {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	})
	assert.Equal(t, Capabilities{Flake8: true, Black: true}, caps)
}

func TestScoreClamps(t *testing.T) {
	t.Parallel()

	p := policy()
	assert.Equal(t, 100, Score(p, 0, 0, 0))
	assert.Equal(t, 0, Score(p, 6, 0, 0))
	assert.Equal(t, 65, Score(p, 1, 1, 1))
}
