package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veridoc/briefd/chunk"
)

// Pipeline runs the clean → chunk → summarize-per-chunk → structure flow.
type Pipeline struct {
	summarizer Summarizer
	chunkOpts  chunk.Options
	logger     *slog.Logger
}

// Result is the outcome of summarizing one document.
type Result struct {
	Summary    StructuredSummary `json:"summary"`
	ChunkCount int               `json:"chunk_count"`
	ModelCalls int               `json:"model_calls"`
	Duration   time.Duration     `json:"duration"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkOptions overrides the default chunking parameters.
func WithChunkOptions(opts chunk.Options) Option {
	return func(p *Pipeline) { p.chunkOpts = opts }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// NewPipeline creates a Pipeline around a Summarizer.
func NewPipeline(s Summarizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		summarizer: s,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run summarizes a whole document. Each chunk is sent to the model in
// order; any failed call fails the run. Chunk summaries are joined with
// spaces before structuring so sentence-level patterns can cross chunk
// boundaries.
func (p *Pipeline) Run(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	cleaned := Clean(text)
	if cleaned == "" {
		return nil, fmt.Errorf("nothing to summarize after cleanup")
	}

	chunks := chunk.Split(cleaned, p.chunkOpts)
	p.logger.Debug("summarizing document", "chunks", len(chunks), "chars", len(cleaned))

	parts := make([]string, 0, len(chunks))
	calls := 0
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := p.summarizer.Summarize(ctx, c.Text)
		calls++
		if err != nil {
			return nil, fmt.Errorf("summarize chunk %d/%d: %w", c.Index+1, len(chunks), err)
		}
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}

	full := strings.Join(parts, " ")
	result := &Result{
		Summary:    Structure(full),
		ChunkCount: len(chunks),
		ModelCalls: calls,
		Duration:   time.Since(start),
	}

	p.logger.Info("document summarized",
		"chunks", result.ChunkCount,
		"model_calls", result.ModelCalls,
		"duration", result.Duration,
		"key_points", len(result.Summary.KeyPoints))
	return result, nil
}
