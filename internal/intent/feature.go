package intent

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	fallbackWords = 3
	fallbackChars = 30
	maxSlugLen    = 40
)

// tail cuts a trailing clause ("that says hi", "for my group") off the capture.
const tail = `(?:\s+(?:that|which|who|to|for|with|so|in|on)\b.*)?[.!?]*\s*$`

var featurePatterns = []*regexp.Regexp{
	// direct request: "create a weather plugin"
	regexp.MustCompile(`(?i)\b(?:create|build|make|generate|write|develop|add|implement)\s+(?:me\s+)?(.+?)` + tail),
	// "help me with a weather plugin"
	regexp.MustCompile(`(?i)\bhelp\s+me\s+(?:to\s+)?(?:with|create|build|make|write)\s+(.+?)` + tail),
	// "I want a weather plugin"
	regexp.MustCompile(`(?i)\bi\s+(?:want|need|would\s+like)\s+(?:to\s+have\s+)?(.+?)` + tail),
}

var fillerWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "some": {}, "my": {}, "our": {}, "your": {}, "their": {},
}

// ExtractFeatureName pulls a short feature name out of a request. The result
// is human text; use Slug before putting it in a path.
func ExtractFeatureName(text string) string {
	for _, re := range featurePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if name := stripFiller(m[1]); name != "" {
			return name
		}
	}
	return fallbackName(text)
}

func stripFiller(span string) string {
	words := strings.Fields(span)
	kept := words[:0]
	for _, w := range words {
		if _, ok := fillerWords[strings.ToLower(w)]; ok {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func fallbackName(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > fallbackWords {
		words = words[:fallbackWords]
	}
	name := strings.Join(words, " ")
	if r := []rune(name); len(r) > fallbackChars {
		name = string(r[:fallbackChars])
	}
	return name
}

// Slug turns a feature name into a lowercase path segment made of letters,
// digits and underscores. It never returns "", "." or "..".
func Slug(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	out := b.String()
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "_")
	}
	if out == "" {
		return "feature"
	}
	return out
}
