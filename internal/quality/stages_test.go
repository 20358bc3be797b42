package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlake8(t *testing.T) {
	t.Parallel()

	out := []byte(`/x/a.py:3:1: F821 undefined name 'foo'
/x/a.py:4:1: F401 'os' imported but unused
/x/a.py:5:1: E999 SyntaxError: invalid syntax
/x/a.py:10:80: E501 line too long (90 > 79 characters)
garbage line
`)
	f := parseFlake8(out)
	assert.Equal(t, []string{
		"flake8: line 3: F821 undefined name 'foo'",
		"flake8: line 5: E999 SyntaxError: invalid syntax",
	}, f.errors)
	assert.Equal(t, []string{"flake8: line 4: F401 'os' imported but unused"}, f.warnings)
	assert.Equal(t, []string{"flake8: line 10: E501 line too long (90 > 79 characters)"}, f.suggestions)
}

func TestParsePyflakes(t *testing.T) {
	t.Parallel()

	f := parsePyflakes([]byte("a.py:1: 'os' imported but unused\na.py:2:3: undefined name 'x'\n"))
	assert.Equal(t, []string{"pyflakes: line 2: undefined name 'x'"}, f.errors)
	assert.Equal(t, []string{"pyflakes: line 1: 'os' imported but unused"}, f.warnings)
}

func TestParseBandit(t *testing.T) {
	t.Parallel()

	f, err := parseBandit([]byte(`{"results": [
		{"issue_severity": "HIGH", "issue_text": "subprocess with shell=True", "line_number": 7, "test_id": "B602"},
		{"issue_severity": "HIGH", "issue_text": "eval", "line_number": 9, "test_id": "B307"},
		{"issue_severity": "LOW", "issue_text": "assert used", "line_number": 2, "test_id": "B101"}
	]}`))
	require.NoError(t, err)
	require.Len(t, f.errors, 1)
	assert.Contains(t, f.errors[0], "2 high severity issue(s), first at line 7: B602")
	assert.Empty(t, f.warnings)
	require.Len(t, f.suggestions, 1)

	_, err = parseBandit([]byte("not json"))
	require.Error(t, err)

	f, err = parseBandit(nil)
	require.NoError(t, err)
	assert.Empty(t, f.errors)
}

func TestImportsFromTreeAndText(t *testing.T) {
	t.Parallel()

	src := []byte(`import os, sys as system
import pyrogram.types
from pyrogram import filters
from . import sibling

def f():
    import json
`)
	tree, err := parsePython(context.Background(), src)
	require.NoError(t, err)
	defer tree.Close()

	want := []string{"os", "sys", "pyrogram", "pyrogram", "json"}
	assert.Equal(t, want, importsFromTree(tree.RootNode(), src))
	assert.Equal(t, want, importsFromText(string(src)))
}

func TestCheckConventions_StackedDecorators(t *testing.T) {
	t.Parallel()

	src := `def register_handlers(app, bot):
    @app.on_message(
        filters.command("a")
    )
    @other
    def a(client, message):
        try:
            pass
        except Exception:
            pass

    @app.on_message(filters.command("b"))
    async def b(client, message):
        pass
`
	f := checkConventions(src, "register_handlers", "on_message")
	assert.Equal(t, []string{"Handler a at line 6 must be declared async"}, f.errors)
	assert.Empty(t, f.suggestions)
}

func TestCheckConventions_NoDecoratorNoSuggestion(t *testing.T) {
	t.Parallel()

	f := checkConventions("async def register_handlers(app, bot):\n    pass\n", "register_handlers", "on_message")
	assert.Empty(t, f.errors)
	assert.Empty(t, f.suggestions)
}
