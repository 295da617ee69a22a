// Package chunk splits extracted document text into bounded pieces for the
// summarization model. Splitting is paragraph-aware, falls back to word
// boundaries, and supports a configurable overlap so clauses that straddle a
// boundary appear in both neighbouring chunks.
package chunk

import "strings"

// DefaultMaxChars is the chunk budget the summarization pipeline uses when
// the config does not override it.
const DefaultMaxChars = 1024

// Options controls Split behaviour.
type Options struct {
	// MaxChars is the maximum chunk length in runes. Default: 1024.
	MaxChars int
	// OverlapChars is how many trailing runes of a chunk are repeated at
	// the start of the next one. Default: 0.
	OverlapChars int
}

func (o *Options) defaults() {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.OverlapChars < 0 {
		o.OverlapChars = 0
	}
	if o.OverlapChars >= o.MaxChars {
		o.OverlapChars = o.MaxChars / 4
	}
}

// Chunk is one piece of split text.
type Chunk struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	CharCount   int    `json:"char_count"`
	OverlapPrev int    `json:"overlap_prev"` // runes shared with the previous chunk
}

// Split divides text into chunks of at most opts.MaxChars runes.
// Paragraph breaks (blank lines) are preferred split points, then word
// boundaries. Empty or whitespace-only input returns nil.
func Split(text string, opts Options) []Chunk {
	opts.defaults()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= opts.MaxChars {
		return []Chunk{{Index: 0, Text: text, CharCount: len(runes)}}
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + opts.MaxChars
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = splitPoint(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			overlap := 0
			if len(chunks) > 0 && opts.OverlapChars > 0 {
				overlap = opts.OverlapChars
			}
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Text:        piece,
				CharCount:   len([]rune(piece)),
				OverlapPrev: overlap,
			})
		}

		if end == len(runes) {
			break
		}
		next := end - opts.OverlapChars
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// splitPoint finds the best boundary in runes[start:limit], scanning
// backwards from limit: paragraph break first, then any whitespace.
// Returns limit when the window is a single unbroken token.
func splitPoint(runes []rune, start, limit int) int {
	// Don't search further back than half the window; a tiny chunk is
	// worse than a mid-word split near the limit.
	floor := start + (limit-start)/2

	for i := limit; i > floor; i-- {
		if i < len(runes) && runes[i] == '\n' && i > 0 && runes[i-1] == '\n' {
			return i
		}
	}
	for i := limit; i > floor; i-- {
		if isSpace(runes[i-1]) {
			return i - 1
		}
	}
	return limit
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Count returns how many chunks Split would produce without materializing
// them. Used for metrics before the pipeline runs.
func Count(text string, opts Options) int {
	return len(Split(text, opts))
}
