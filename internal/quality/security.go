package quality

import (
	"encoding/json"
	"fmt"
	"strings"
)

type banditReport struct {
	Results []banditIssue `json:"results"`
}

type banditIssue struct {
	Severity string `json:"issue_severity"`
	Text     string `json:"issue_text"`
	Line     int    `json:"line_number"`
	TestID   string `json:"test_id"`
}

// parseBandit summarizes a bandit JSON report into at most one entry per
// severity band: HIGH is an error, MEDIUM a warning and LOW a suggestion.
func parseBandit(out []byte) (findings, error) {
	var f findings
	if len(strings.TrimSpace(string(out))) == 0 {
		return f, nil
	}
	var report banditReport
	if err := json.Unmarshal(out, &report); err != nil {
		return f, fmt.Errorf("decode bandit report: %w", err)
	}
	bands := map[string][]banditIssue{}
	for _, issue := range report.Results {
		sev := strings.ToUpper(issue.Severity)
		bands[sev] = append(bands[sev], issue)
	}
	if e := summarizeBand("high", bands["HIGH"]); e != "" {
		f.errors = append(f.errors, e)
	}
	if e := summarizeBand("medium", bands["MEDIUM"]); e != "" {
		f.warnings = append(f.warnings, e)
	}
	if e := summarizeBand("low", bands["LOW"]); e != "" {
		f.suggestions = append(f.suggestions, e)
	}
	return f, nil
}

func summarizeBand(name string, issues []banditIssue) string {
	if len(issues) == 0 {
		return ""
	}
	first := issues[0]
	return fmt.Sprintf("Security: %d %s severity issue(s), first at line %d: %s %s",
		len(issues), name, first.Line, first.TestID, first.Text)
}
