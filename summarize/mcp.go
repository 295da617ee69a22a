package summarize

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/veridoc/briefd/kit"
)

type summarizeReq struct {
	Text string `json:"text"`
}

// RegisterMCP registers the summarization tool on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "briefd_summarize",
		Description: "Summarize legal document text into key points, parties, dates, amounts, and highlighted clauses.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "Document text to summarize"},
			},
			"required": []string{"text"},
		},
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*summarizeReq)
		return p.Run(ctx, r.Text)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r summarizeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
