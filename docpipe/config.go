package docpipe

import "log/slog"

// Config configures the document pipeline.
type Config struct {
	// MaxFileSize is the maximum file size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// OCR configures the Tesseract fallback path.
	OCR OCRConfig `json:"ocr" yaml:"ocr"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// OCRConfig configures the Tesseract engine used for images and scanned PDFs.
type OCRConfig struct {
	// Enabled turns the OCR path on. When false, image uploads and scanned
	// PDFs fail with ErrOCRDisabled instead of silently returning junk.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Language is the Tesseract language code (default: "eng").
	Language string `json:"language" yaml:"language"`

	// DPI is the render resolution for PDF pages fed to OCR (default: 300).
	DPI float64 `json:"dpi" yaml:"dpi"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "eng"
	}
	if c.OCR.DPI <= 0 {
		c.OCR.DPI = 300
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
