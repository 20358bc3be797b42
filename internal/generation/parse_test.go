package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFiles_StrictKeepsOrder(t *testing.T) {
	t.Parallel()

	raw := `{"files": {"sandbox/greeter/z.py": "z", "sandbox/greeter/a.py": "a", "sandbox/greeter/m.py": "m"}}`
	files, recovered := ParseFiles(raw, "greeter")

	assert.False(t, recovered)
	assert.Equal(t, []File{
		{Path: "sandbox/greeter/z.py", Content: "z"},
		{Path: "sandbox/greeter/a.py", Content: "a"},
		{Path: "sandbox/greeter/m.py", Content: "m"},
	}, files)
}

func TestParseFiles_CodeFenceIsNotRecovery(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"files\": {\"greeter/handler.py\": \"print(1)\\n\"}}\n```"
	files, recovered := ParseFiles(raw, "greeter")

	assert.False(t, recovered)
	assert.Equal(t, []File{{Path: "greeter/handler.py", Content: "print(1)\n"}}, files)
}

func TestParseFiles_BraceSpan(t *testing.T) {
	t.Parallel()

	raw := `Sure! Here is your plugin: {"files": {"dice/handler.py": "roll()"}, "note": {"x": 1}} Enjoy.`
	files, recovered := ParseFiles(raw, "dice")

	assert.True(t, recovered)
	assert.Equal(t, []File{{Path: "dice/handler.py", Content: "roll()"}}, files)
}

func TestParseFiles_FallbackSingleFile(t *testing.T) {
	t.Parallel()

	raw := "```python\nasync def register_handlers(app, bot):\n    pass\n```"
	files, recovered := ParseFiles(raw, "Weather Plugin")

	assert.True(t, recovered)
	assert.Equal(t, []File{{
		Path:    "weather_plugin/handler.py",
		Content: "async def register_handlers(app, bot):\n    pass",
	}}, files)
}

func TestParseFiles_EmptyFilesFallsBack(t *testing.T) {
	t.Parallel()

	files, recovered := ParseFiles(`{"files": {}}`, "")
	assert.True(t, recovered)
	assert.Equal(t, "feature/handler.py", files[0].Path)
}

func TestParseFiles_WrongShapeFallsBack(t *testing.T) {
	t.Parallel()

	files, recovered := ParseFiles(`{"files": ["a.py"]}`, "x")
	assert.True(t, recovered)
	assert.Len(t, files, 1)
	assert.Equal(t, "x/handler.py", files[0].Path)
}

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "x = 1", StripCodeFences("```python\nx = 1\n```"))
	assert.Equal(t, "x = 1", StripCodeFences("  x = 1  "))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
