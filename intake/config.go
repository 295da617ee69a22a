package intake

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veridoc/briefd/chunk"
	"github.com/veridoc/briefd/docpipe"
	"github.com/veridoc/briefd/safety"
	"github.com/veridoc/briefd/summarize"
)

// Config holds the full briefd configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	DBPath    string          `yaml:"db_path"`
	ObsDBPath string          `yaml:"obs_db_path"`
	SpoolDir  string          `yaml:"spool_dir"`
	MaxFileMB int             `yaml:"max_file_mb"`
	Model     ModelSettings   `yaml:"model"`
	Chunking  ChunkSettings   `yaml:"chunking"`
	OCR       OCRSettings     `yaml:"ocr"`
	Webhooks  []WebhookTarget `yaml:"webhooks"`
}

// ModelSettings configures the summarization model endpoint.
type ModelSettings struct {
	Endpoint       string  `yaml:"endpoint"`
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	SystemPrompt   string  `yaml:"system_prompt"`
}

// ChunkSettings configures how extracted text is split before summarization.
type ChunkSettings struct {
	MaxChars     int `yaml:"max_chars"`
	OverlapChars int `yaml:"overlap_chars"`
}

// OCRSettings configures the OCR fallback for scanned documents.
type OCRSettings struct {
	Enabled  bool    `yaml:"enabled"`
	Language string  `yaml:"language"`
	DPI      float64 `yaml:"dpi"`
}

// WebhookTarget configures a downstream webhook notified when a document
// reaches a terminal state. Events filters which events fire the target;
// empty means all events.
type WebhookTarget struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"` // HMAC signing key
	Events []string `yaml:"events"`
}

// Wants reports whether the target subscribes to the given event.
func (w *WebhookTarget) Wants(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8090",
		DBPath:    "briefd.db",
		ObsDBPath: "briefd_obs.db",
		SpoolDir:  "spool",
		MaxFileMB: 100,
		Model: ModelSettings{
			Endpoint:       "http://localhost:8000",
			Model:          "mistralai/Mistral-7B-Instruct-v0.3",
			MaxTokens:      256,
			Temperature:    0.3,
			TimeoutSeconds: 120,
		},
		Chunking: ChunkSettings{
			MaxChars: chunk.DefaultMaxChars,
		},
		OCR: OCRSettings{
			Enabled:  true,
			Language: "eng",
			DPI:      300,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.SpoolDir == "" {
		return fmt.Errorf("spool_dir is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Chunking.MaxChars < 0 || c.Chunking.OverlapChars < 0 {
		return fmt.Errorf("chunking values must be >= 0")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook[%d]: url is required", i)
		}
		if err := safety.ValidateURL(wh.URL); err != nil {
			return fmt.Errorf("webhook[%d]: %w", i, err)
		}
		if wh.Secret != "" {
			if err := safety.ValidateSecret([]byte(wh.Secret)); err != nil {
				return fmt.Errorf("webhook[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// MaxFileBytes returns max file size in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

// ModelConfig converts the YAML model section into the summarize client config.
func (c *Config) ModelConfig() summarize.ModelConfig {
	return summarize.ModelConfig{
		Endpoint:     c.Model.Endpoint,
		Model:        c.Model.Model,
		APIKey:       c.Model.APIKey,
		MaxTokens:    c.Model.MaxTokens,
		Temperature:  c.Model.Temperature,
		Timeout:      time.Duration(c.Model.TimeoutSeconds) * time.Second,
		SystemPrompt: c.Model.SystemPrompt,
	}
}

// ChunkOptions converts the YAML chunking section into split options.
func (c *Config) ChunkOptions() chunk.Options {
	return chunk.Options{
		MaxChars:     c.Chunking.MaxChars,
		OverlapChars: c.Chunking.OverlapChars,
	}
}

// DocpipeConfig converts the YAML sections that drive text extraction.
func (c *Config) DocpipeConfig() docpipe.Config {
	return docpipe.Config{
		MaxFileSize: c.MaxFileBytes(),
		OCR: docpipe.OCRConfig{
			Enabled:  c.OCR.Enabled,
			Language: c.OCR.Language,
			DPI:      c.OCR.DPI,
		},
	}
}
