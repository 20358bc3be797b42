package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLoggerWritesJSONLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "activity.log")

	logger, closeFn, err := NewFileLogger(path, FileOptions{})
	require.NoError(t, err)
	logger.Info().Str("task_type", "CREATE").Msg("model call")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "CREATE", entry["task_type"])
	assert.Equal(t, "model call", entry["message"])
	assert.Contains(t, entry, "time")
}
