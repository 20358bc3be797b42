package quality

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// lintLine matches "path:row[:col]: text" as printed by flake8 and pyflakes.
var lintLine = regexp.MustCompile(`^.*?:(\d+):(?:\d+:)?\s*(.*)$`)

// flake8Code splits "F821 undefined name 'x'" into code and text.
var flake8Code = regexp.MustCompile(`^([A-Z]+\d+)\s+(.*)$`)

// flake8Args builds the flake8 command line. When pyflakes runs as well the
// F codes are left to it so findings are not reported twice.
func flake8Args(path string, withPyflakes bool) []string {
	args := []string{"--format=default"}
	if withPyflakes {
		args = append(args, "--extend-ignore=F")
	}
	return append(args, path)
}

// parseFlake8 classifies flake8 findings. Syntax and undefined-name codes
// (E9, F63, F7, F82) are errors, other pyflakes codes are warnings and style
// codes are suggestions.
func parseFlake8(out []byte) findings {
	var f findings
	scanLines(out, func(row, text string) {
		code, msg := "", text
		if m := flake8Code.FindStringSubmatch(text); m != nil {
			code, msg = m[1], m[2]
		}
		entry := fmt.Sprintf("flake8: line %s: %s", row, strings.TrimSpace(code+" "+msg))
		switch {
		case isFlake8Error(code):
			f.errors = append(f.errors, entry)
		case strings.HasPrefix(code, "F"):
			f.warnings = append(f.warnings, entry)
		default:
			f.suggestions = append(f.suggestions, entry)
		}
	})
	return f
}

func isFlake8Error(code string) bool {
	for _, prefix := range []string{"E9", "F63", "F7", "F82"} {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

// parsePyflakes classifies pyflakes findings. Undefined names and syntax
// problems are errors; everything else pyflakes reports is a warning.
func parsePyflakes(out []byte) findings {
	var f findings
	scanLines(out, func(row, text string) {
		entry := fmt.Sprintf("pyflakes: line %s: %s", row, text)
		lower := strings.ToLower(text)
		if strings.Contains(lower, "undefined name") || strings.Contains(lower, "syntax") {
			f.errors = append(f.errors, entry)
			return
		}
		f.warnings = append(f.warnings, entry)
	})
	return f
}

func scanLines(out []byte, fn func(row, text string)) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		m := lintLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fn(m[1], strings.TrimSpace(m[2]))
	}
}
