package quality

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	defLine = regexp.MustCompile(`^\s*(async\s+)?def\s+(\w+)`)
	tryLine = regexp.MustCompile(`(?m)^\s*try\s*:`)
)

// checkDependencies warns when the required framework import is absent.
func checkDependencies(imports []string, required string) findings {
	var f findings
	if required == "" || slices.Contains(imports, required) {
		return f
	}
	f.warnings = append(f.warnings, "Missing required import: "+required)
	return f
}

// checkConventions applies the bot-module contract: the entry point must be
// defined, decorated handlers must be async and should handle exceptions.
func checkConventions(src, entryPoint, decorator string) findings {
	var f findings
	if entryPoint != "" {
		entry := regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+` + regexp.QuoteMeta(entryPoint) + `\s*\(`)
		if !entry.MatchString(src) {
			f.errors = append(f.errors, fmt.Sprintf("Missing required entry point: %s()", entryPoint))
		}
	}
	if decorator == "" {
		return f
	}

	decoratorLine := regexp.MustCompile(`^\s*@.*\b` + regexp.QuoteMeta(decorator) + `\b`)
	lines := strings.Split(src, "\n")
	handlers := 0
	for i := 0; i < len(lines); i++ {
		if !decoratorLine.MatchString(lines[i]) {
			continue
		}
		handlers++
		name, async, row, ok := decoratedFunction(lines, i+1)
		if !ok {
			continue
		}
		if !async {
			f.errors = append(f.errors, fmt.Sprintf("Handler %s at line %d must be declared async", name, row))
		}
		i = row - 1
	}
	if handlers > 0 && !tryLine.MatchString(src) {
		f.suggestions = append(f.suggestions, "Consider adding try/except error handling to message handlers")
	}
	return f
}

// decoratedFunction finds the def that a decorator starting above line from
// applies to. Stacked decorators and wrapped decorator arguments are skipped.
func decoratedFunction(lines []string, from int) (name string, async bool, row int, ok bool) {
	for j := from; j < len(lines); j++ {
		if m := defLine.FindStringSubmatch(lines[j]); m != nil {
			return m[2], m[1] != "", j + 1, true
		}
		if strings.HasPrefix(strings.TrimSpace(lines[j]), "class ") {
			return "", false, 0, false
		}
	}
	return "", false, 0, false
}
