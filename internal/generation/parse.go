package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/metalagman/forge/internal/intent"
)

// FallbackFile is the file name used when the answer has to be taken as code.
const FallbackFile = "handler.py"

// ParseFiles extracts the file list from a model answer. It tries a strict
// decode, then the widest {...} span, and finally takes the whole answer as
// the source of <feature>/handler.py. It never fails.
func ParseFiles(raw, feature string) (files []File, recovered bool) {
	cleaned := StripCodeFences(raw)
	if files, err := decodeFiles(cleaned); err == nil {
		return files, false
	}
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		if files, err := decodeFiles(cleaned[start : end+1]); err == nil {
			return files, true
		}
	}
	return []File{{
		Path:    path.Join(intent.Slug(feature), FallbackFile),
		Content: cleaned,
	}}, true
}

// StripCodeFences removes a surrounding markdown code fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var errNoFiles = errors.New("no files in answer")

// decodeFiles reads {"files": {"path": "content", ...}} keeping key order.
func decodeFiles(s string) ([]File, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var files []File
	found := false
	for dec.More() {
		key, err := readString(dec)
		if err != nil {
			return nil, err
		}
		if key != "files" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("skip %q: %w", key, err)
			}
			continue
		}
		found = true
		if files, err = decodeFileMap(dec); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after object")
	}
	if !found || len(files) == 0 {
		return nil, errNoFiles
	}
	return files, nil
}

func decodeFileMap(dec *json.Decoder) ([]File, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var files []File
	seen := map[string]int{}
	for dec.More() {
		p, err := readString(dec)
		if err != nil {
			return nil, err
		}
		var content string
		if err := dec.Decode(&content); err != nil {
			return nil, fmt.Errorf("decode content of %q: %w", p, err)
		}
		// a repeated key replaces the earlier content in place
		if i, ok := seen[p]; ok {
			files[i].Content = content
			continue
		}
		seen[p] = len(files)
		files = append(files, File{Path: p, Content: content})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return files, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func readString(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %v", tok)
	}
	return s, nil
}

// truncate shortens s to n bytes for the activity log.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
