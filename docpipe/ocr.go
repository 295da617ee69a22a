package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"slices"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
)

// ocrEngine runs Tesseract over rendered page images. It is created once
// per Pipeline; each call spins up its own gosseract client because the
// client is not safe for concurrent use.
type ocrEngine struct {
	cfg    OCRConfig
	logger *slog.Logger
}

func newOCREngine(cfg OCRConfig, logger *slog.Logger) *ocrEngine {
	e := &ocrEngine{cfg: cfg, logger: logger}
	if cfg.Enabled {
		e.checkInstall()
	}
	return e
}

// checkInstall verifies once, at construction, that Tesseract is usable
// and the configured language data is installed. Misconfiguration is
// logged as a warning instead of failing construction; the actual OCR
// calls will surface the error per document.
func (e *ocrEngine) checkInstall() {
	client := gosseract.NewClient()
	defer client.Close()

	langs, err := client.GetAvailableLanguages()
	if err != nil {
		e.logger.Warn("tesseract not available, ocr requests will fail",
			"error", err)
		return
	}
	for _, want := range strings.Split(e.cfg.Language, "+") {
		if !slices.Contains(langs, want) {
			e.logger.Warn("tesseract language data not installed",
				"language", want, "available", langs)
		}
	}
}

func (e *ocrEngine) newClient() (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(e.cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("set language %q: %w", e.cfg.Language, err)
	}
	// LSTM engine, automatic page segmentation, keep word spacing.
	client.SetVariable("tessedit_ocr_engine_mode", "1")
	client.SetVariable("tessedit_pageseg_mode", "3")
	client.SetVariable("preserve_interword_spaces", "1")
	return client, nil
}

// imageFile OCRs a single raster image (PNG, JPEG, TIFF, BMP).
func (e *ocrEngine) imageFile(ctx context.Context, path string) (string, []Section, error) {
	if !e.cfg.Enabled {
		return "", nil, ErrOCRDisabled
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	client, err := e.newClient()
	if err != nil {
		return "", nil, err
	}
	defer client.Close()

	if err := client.SetImage(path); err != nil {
		return "", nil, fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", nil, fmt.Errorf("ocr image: %w", err)
	}

	text = normalizeWhitespace(text)
	if text == "" {
		return "", nil, nil
	}
	return firstLine(text), []Section{{Text: text, Type: "ocr"}}, nil
}

// pdfPages renders each PDF page to an image and OCRs it. Pages that fail
// to render or recognize are skipped with a warning rather than aborting
// the whole document.
func (e *ocrEngine) pdfPages(ctx context.Context, path string) (string, []Section, error) {
	if !e.cfg.Enabled {
		return "", nil, ErrOCRDisabled
	}

	doc, err := fitz.New(path)
	if err != nil {
		return "", nil, fmt.Errorf("open pdf for ocr: %w", err)
	}
	defer doc.Close()

	client, err := e.newClient()
	if err != nil {
		return "", nil, err
	}
	defer client.Close()

	var sections []Section
	for page := 0; page < doc.NumPage(); page++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		img, err := doc.ImageDPI(page, e.cfg.DPI)
		if err != nil {
			e.logger.Warn("ocr: render page failed", "page", page+1, "error", err)
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			e.logger.Warn("ocr: encode page failed", "page", page+1, "error", err)
			continue
		}

		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			e.logger.Warn("ocr: set image failed", "page", page+1, "error", err)
			continue
		}
		text, err := client.Text()
		if err != nil {
			e.logger.Warn("ocr: recognize failed", "page", page+1, "error", err)
			continue
		}

		text = normalizeWhitespace(text)
		if text == "" {
			continue
		}
		sections = append(sections, Section{
			Text:     text,
			Type:     "page",
			Metadata: map[string]string{"page": fmt.Sprintf("%d", page+1), "source": "ocr"},
		})
	}

	if len(sections) == 0 {
		return "", nil, nil
	}

	var all strings.Builder
	for i, s := range sections {
		if i > 0 {
			all.WriteString("\n\n")
		}
		all.WriteString(s.Text)
	}
	return firstLine(all.String()), sections, nil
}
