package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/veridoc/briefd/docpipe"
	"github.com/veridoc/briefd/intake"
	"github.com/veridoc/briefd/summarize"
)

// runMCP serves the document tools over stdio until ctx is cancelled.
func runMCP(ctx context.Context, cfg *intake.Config) error {
	docs := docpipe.New(cfg.DocpipeConfig())

	client, err := summarize.NewModelClient(cfg.ModelConfig(), slog.Default())
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}
	pipeline := summarize.NewPipeline(client,
		summarize.WithChunkOptions(cfg.ChunkOptions()),
	)

	srv := mcp.NewServer(&mcp.Implementation{Name: "briefd", Version: "1.0.0"}, nil)
	docs.RegisterMCP(srv)
	pipeline.RegisterMCP(srv)

	return srv.Run(ctx, &mcp.StdioTransport{})
}
