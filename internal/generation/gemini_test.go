package generation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiComplete(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [
				{"content": {"role": "model", "parts": [{"text": "  hello there  "}]}}
			]
		}`))
	}))
	t.Cleanup(srv.Close)

	g, err := NewGemini(context.Background(), BackendConfig{
		Model:   "gemini-2.5-flash",
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
	}, srv.Client())
	require.NoError(t, err)

	out, err := g.Complete(context.Background(), CompletionRequest{Instructions: "be brief", Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.True(t, strings.HasSuffix(gotPath, "models/gemini-2.5-flash:generateContent"), gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Contains(t, gotBody, "systemInstruction")
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), BackendConfig{Model: "gemini-2.5-flash"}, nil)
	require.Error(t, err)
}
