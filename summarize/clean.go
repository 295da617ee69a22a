package summarize

import (
	"regexp"
	"strings"
)

// Boilerplate a legal document repeats without informational value. These
// are removed before chunking so that model budget is spent on substance.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)IN WITNESS WHEREOF[^.]*\.`),
	regexp.MustCompile(`(?i)(NOW,?\s+THEREFORE,?\s+)?in consideration of[^,]*,`),
	regexp.MustCompile(`(?i)this agreement is made( and entered into)?( as of)?\b`),
	regexp.MustCompile(`(?i)\(hereinafter referred to as [^)]*\)`),
	regexp.MustCompile(`(?i)\(the\s+"[^"]+"\)`),
	regexp.MustCompile(`(?i)^\s*page \d+ of \d+\s*$`),
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

// Clean normalizes extracted text for summarization: strips boilerplate,
// collapses runs of whitespace, and preserves paragraph breaks so the
// chunker can still split on them.
func Clean(text string) string {
	for _, pat := range boilerplatePatterns {
		text = pat.ReplaceAllString(text, " ")
	}

	// Normalize line endings and collapse horizontal whitespace per line.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(multiSpace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	text = multiNewline.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
