// Package quality scores one generated source file through an ordered
// pipeline of checks: syntax, static analysis, security, dependencies and
// bot-module conventions.
package quality

import "github.com/metalagman/forge/internal/config"

// Result is the outcome of checking one file. It is not modified after Check returns.
type Result struct {
	Passed      bool     `json:"passed"`
	Score       int      `json:"score"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// findings accumulates stage output before scoring.
type findings struct {
	errors      []string
	warnings    []string
	suggestions []string
}

func (f *findings) merge(o findings) {
	f.errors = append(f.errors, o.errors...)
	f.warnings = append(f.warnings, o.warnings...)
	f.suggestions = append(f.suggestions, o.suggestions...)
}

// Score applies the policy penalties and clamps to [0,100].
func Score(p config.QualityConfig, errs, warnings, suggestions int) int {
	score := 100 - p.ErrorPenalty*errs - p.WarningPenalty*warnings - p.SuggestionPenalty*suggestions
	return max(0, min(100, score))
}

func (f findings) result(p config.QualityConfig) Result {
	score := Score(p, len(f.errors), len(f.warnings), len(f.suggestions))
	return Result{
		Passed:      score >= p.PassScore && len(f.errors) == 0,
		Score:       score,
		Errors:      nonNil(f.errors),
		Warnings:    nonNil(f.warnings),
		Suggestions: nonNil(f.suggestions),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
