package summarize

import (
	"regexp"
	"strings"
)

// StructuredSummary is the lightly structured view of a summary: the
// sentences that state obligations, extracted parties/dates/amounts, and
// notable clauses.
type StructuredSummary struct {
	Summary    string   `json:"summary"`
	KeyPoints  []string `json:"key_points"`
	Tables     []Table  `json:"tables"`
	Highlights []string `json:"highlights"`
}

// Table is a titled single-column list of extracted values.
type Table struct {
	Title string   `json:"title"`
	Rows  []string `json:"rows"`
}

// Substring match, not word-bounded: "obligations", "rights" and
// "indemnities" count too.
var keyPointTerms = regexp.MustCompile(`(?i)(shall|must|obligation|right|dut(y|ies)|liabilit(y|ies)|warrant(y|ies)|indemnit)`)

var (
	partyPattern  = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\s+(?:shall|must|agrees)\b`)
	datePattern   = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
	amountPattern = regexp.MustCompile(`\$\d+(?:,\d{3})*(?:\.\d{2})?`)
)

var highlightPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(notwithstanding|provided that|subject to)[^.]*\.`),
	regexp.MustCompile(`(?i)(in the event|if)\s[^.]*\.`),
	regexp.MustCompile(`(?i)(shall not|must not)[^.]*\.`),
}

// Structure buckets the concatenated summary into key points, tables of
// parties/dates/amounts, and highlighted clauses. This is deliberately
// shallow pattern matching over model output, not a parser.
func Structure(summary string) StructuredSummary {
	out := StructuredSummary{Summary: summary}

	for _, sentence := range splitSentences(summary) {
		if keyPointTerms.MatchString(sentence) {
			out.KeyPoints = append(out.KeyPoints, sentence)
		}
	}

	var parties []string
	for _, m := range partyPattern.FindAllStringSubmatch(summary, -1) {
		parties = append(parties, m[1])
	}
	if t := makeTable("Parties", parties); t != nil {
		out.Tables = append(out.Tables, *t)
	}
	if t := makeTable("Important Dates", datePattern.FindAllString(summary, -1)); t != nil {
		out.Tables = append(out.Tables, *t)
	}
	if t := makeTable("Financial Amounts", amountPattern.FindAllString(summary, -1)); t != nil {
		out.Tables = append(out.Tables, *t)
	}

	seen := make(map[string]bool)
	for _, pat := range highlightPatterns {
		for _, m := range pat.FindAllString(summary, -1) {
			m = strings.TrimSpace(m)
			if m != "" && !seen[m] {
				seen[m] = true
				out.Highlights = append(out.Highlights, m)
			}
		}
	}

	return out
}

// makeTable deduplicates rows preserving order; empty tables are omitted.
func makeTable(title string, rows []string) *Table {
	if len(rows) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(rows))
	var uniq []string
	for _, r := range rows {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		uniq = append(uniq, r)
	}
	if len(uniq) == 0 {
		return nil
	}
	return &Table{Title: title, Rows: uniq}
}

// splitSentences splits on sentence-terminating punctuation followed by
// whitespace. Good enough for bucketing model output; not a tokenizer.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			// Consume trailing closers like quotes or parens.
			end := i + 1
			for end < len(runes) && (runes[end] == '"' || runes[end] == ')' || runes[end] == '\'') {
				end++
			}
			if end >= len(runes) || runes[end] == ' ' || runes[end] == '\n' || runes[end] == '\t' {
				s := strings.TrimSpace(string(runes[start:end]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = end
				i = end
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
