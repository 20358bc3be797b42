package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	integratePattern = regexp.MustCompile(`(?i)\b(integrate|confirm|deploy|make it live|go live|ship it|promote it)\b`)
	greetingPattern  = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|greetings|good (morning|afternoon|evening|night)|thanks|thank you|bye|goodbye|see you|cya)\b`)

	questionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\?\s*$`),
		regexp.MustCompile(`(?i)^\s*(what|why|how|when|where|which|who|is|are|does|do)\b`),
		regexp.MustCompile(`(?i)\bexplain\b`),
		regexp.MustCompile(`(?i)\bhelp me understand\b`),
	}

	recodeKeywords = regexp.MustCompile(`(?i)\b(recode|rewrite|redo|rebuild|from scratch)\b`)
	editKeywords   = regexp.MustCompile(`(?i)\b(edit|modify|fix|change|update|improve|tweak|patch)\b`)
	createKeywords = regexp.MustCompile(`(?i)\b(create|build|make|generate|write|develop|add|implement)\b`)

	ambiguousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bhelp me (with|make|build|create|write)\b`),
		regexp.MustCompile(`(?i)\bhow (do|to|can|would) .*\b(make|create|build|write)\b`),
		regexp.MustCompile(`(?i)\b(i need|i'?d like|looking for) (a|an|some) .*\b(plugin|module|command|bot|feature)\b`),
		regexp.MustCompile(`(?i)\b(something|anything) (that|which) (can|could|will|does)\b`),
		regexp.MustCompile(`(?i)\bnot sure (how|what|if)\b`),
	}
)

// Classifier maps text to an Intent. It is safe for concurrent use.
type Classifier struct {
	pending PendingLookup
}

// NewClassifier builds a classifier that consults pending for integration requests.
func NewClassifier(pending PendingLookup) *Classifier {
	return &Classifier{pending: pending}
}

// Classify returns the first intent whose rule matches text. Rules are tried
// in priority order: integration, greeting, question, developer keywords,
// ambiguous help requests. Developer-only rules are skipped unless isDev.
// A help-seeking phrase turns the keyword step off, so "help me build a
// bot" asks for clarification instead of generating.
// The only error is a failed pending-task lookup.
func (c *Classifier) Classify(ctx context.Context, text string, userID int64, isDev bool) (Intent, error) {
	if m := integratePattern.FindString(text); m != "" {
		tasks, err := c.pending.Pending(ctx, userID)
		if err != nil {
			return Intent{}, fmt.Errorf("lookup pending tasks: %w", err)
		}
		if len(tasks) == 0 {
			return Intent{Kind: IntegrateNoPending, Meta: Meta{Confident: true, Keyword: strings.ToLower(m)}}, nil
		}
		return Intent{Kind: Integrate, Meta: Meta{Confident: true, PendingTasks: tasks, Keyword: strings.ToLower(m)}}, nil
	}

	if m := greetingPattern.FindStringSubmatch(text); m != nil {
		return Intent{Kind: Conversation, Meta: Meta{Confident: true, Keyword: strings.ToLower(m[1])}}, nil
	}

	for _, re := range questionPatterns {
		if re.MatchString(text) {
			return Intent{Kind: Question, Meta: Meta{Confident: true}}, nil
		}
	}

	if !isDev {
		return Intent{Kind: Conversation}, nil
	}

	if isHelpSeeking(text) {
		return Intent{Kind: Clarify, Meta: Meta{
			Question:   ClarifyQuestion,
			Candidates: candidates(text),
		}}, nil
	}
	if kind, kw, ok := devCommand(text); ok {
		return Intent{Kind: kind, Meta: Meta{Confident: true, Keyword: kw}}, nil
	}

	return Intent{Kind: Conversation}, nil
}

// devCommand looks for a generation keyword anywhere in text, trying the
// recode, edit and create sets in that order. "from scratch" counts as a
// recode keyword whatever verb comes with it.
func devCommand(text string) (Kind, string, bool) {
	for _, rule := range []struct {
		kind Kind
		re   *regexp.Regexp
	}{
		{Recode, recodeKeywords},
		{Edit, editKeywords},
		{Create, createKeywords},
	} {
		if m := rule.re.FindStringSubmatch(text); m != nil {
			return rule.kind, strings.ToLower(m[1]), true
		}
	}
	return "", "", false
}

// isHelpSeeking reports whether text asks for help rather than giving an
// instruction. Keywords inside such a request are candidates, not commands.
func isHelpSeeking(text string) bool {
	for _, re := range ambiguousPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func candidates(text string) []Kind {
	var out []Kind
	if recodeKeywords.MatchString(text) {
		out = append(out, Recode)
	}
	if editKeywords.MatchString(text) {
		out = append(out, Edit)
	}
	if createKeywords.MatchString(text) {
		out = append(out, Create)
	}
	if len(out) == 0 {
		out = []Kind{Conversation}
	}
	return out
}
