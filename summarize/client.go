// Package summarize turns extracted document text into a condensed
// summary with structured key points, tables, and highlights.
//
// The heavy lifting is delegated to an OpenAI-compatible chat completions
// endpoint (vLLM, llama.cpp server, or a hosted API). The package splits
// long documents into chunks, summarizes each chunk independently, then
// concatenates and post-processes the result.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veridoc/briefd/safety"
)

// Summarizer produces a condensed version of a chunk of text.
// Implementations must be safe for concurrent use.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// ModelConfig configures the chat completions client.
type ModelConfig struct {
	// Endpoint is the server base URL, e.g. "http://localhost:8000".
	// The client appends /v1/chat/completions.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// APIKey, when set, is sent as a Bearer token.
	APIKey string `json:"api_key" yaml:"api_key"`

	// MaxTokens caps the completion length per chunk (default: 256).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature for sampling (default: 0.3; summaries want low variance).
	Temperature float32 `json:"temperature" yaml:"temperature"`

	// Timeout per request (default: 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// SystemPrompt overrides the default summarization instruction.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

const defaultSystemPrompt = "You are a legal document summarizer. Condense the given passage into its essential obligations, rights, parties, dates, and amounts. Be factual and concise. Do not add information that is not in the passage."

func (c *ModelConfig) defaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
}

// ModelClient talks to an OpenAI-compatible chat completions endpoint.
type ModelClient struct {
	cfg    ModelConfig
	client *http.Client
	logger *slog.Logger
}

// NewModelClient validates the endpoint and returns a client.
func NewModelClient(cfg ModelConfig, logger *slog.Logger) (*ModelClient, error) {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("model endpoint is required")
	}
	// The inference server normally runs on localhost, so only the scheme
	// is vetted here; SSRF checks apply to webhook targets, not this.
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("model endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("model endpoint: %w", safety.ErrUnsafeScheme)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Summarize sends one chunk to the model and returns its condensed form.
func (c *ModelClient) Summarize(ctx context.Context, text string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.Endpoint, "/")+"/v1/chat/completions", bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		body, _ := safety.LimitedReadAll(resp.Body, safety.MaxResponseBody)
		c.logger.Error("model HTTP error",
			"status", resp.StatusCode,
			"body", string(body),
			"duration", duration)
		return "", fmt.Errorf("model returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, safety.MaxResponseBody)).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	c.logger.Debug("model response received",
		"duration", duration,
		"tokens", chatResp.Usage.TotalTokens,
		"finish_reason", chatResp.Choices[0].FinishReason)

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
