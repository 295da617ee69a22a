// Package docpipe extracts text from uploaded legal documents.
//
// Dispatch is keyed on the declared MIME type, falling back to the filename
// extension when the caller sent nothing useful:
//   - application/pdf                → pdfcpu content-stream extraction,
//     with Tesseract OCR fallback when the result looks like a scan
//   - Word (docx, legacy msword)     → archive/zip → word/document.xml
//   - OpenDocument Text              → archive/zip → content.xml
//   - text/plain, text/markdown      → direct read with normalization
//   - text/html                      → sanitize, convert to markdown, parse
//   - image/*                        → Tesseract OCR
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{OCR: docpipe.OCRConfig{Enabled: true}})
//	doc, err := pipe.Extract(ctx, "/tmp/upload.pdf", "application/pdf")
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	ocr    *ocrEngine
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		ocr:    newOCREngine(cfg.OCR, cfg.Logger),
	}
}

// mimeFormats maps declared content types to formats. image/* is handled
// separately as a prefix match.
var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDocx,
	"application/msword":                      FormatDocx,
	"application/vnd.oasis.opendocument.text": FormatODT,
	"text/plain":    FormatTXT,
	"text/markdown": FormatMD,
	"text/html":     FormatHTML,
}

var extFormats = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDocx,
	".doc":      FormatDocx,
	".odt":      FormatODT,
	".txt":      FormatTXT,
	".text":     FormatTXT,
	".md":       FormatMD,
	".markdown": FormatMD,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".png":      FormatImage,
	".jpg":      FormatImage,
	".jpeg":     FormatImage,
	".tif":      FormatImage,
	".tiff":     FormatImage,
	".bmp":      FormatImage,
}

// Detect returns the document format for a declared MIME type and filename.
// The MIME type wins; the extension is consulted only when the type is
// empty or the generic application/octet-stream that curl and several SDKs
// send by default.
func (p *Pipeline) Detect(mimeType, filename string) (Format, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	// Strip parameters: "text/plain; charset=utf-8" → "text/plain".
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}

	if mt != "" && mt != "application/octet-stream" {
		if f, ok := mimeFormats[mt]; ok {
			return f, nil
		}
		if strings.HasPrefix(mt, "image/") {
			return FormatImage, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, mt)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extFormats[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Extract parses a document and returns structured sections. mimeType is
// the type the uploader declared; pass "" to force extension detection.
//
// For PDFs, the OCR path runs when direct extraction errors, yields no
// text, or the quality metrics say the file is likely a scan. Images go
// straight to OCR.
func (p *Pipeline) Extract(ctx context.Context, path, mimeType string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, info.Size(), p.cfg.MaxFileSize)
	}

	format, err := p.Detect(mimeType, path)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("extracting document", "path", path, "format", format)

	var (
		sections []Section
		title    string
		quality  *ExtractionQuality
		ocrUsed  bool
	)

	switch format {
	case FormatPDF:
		title, sections, quality, err = extractPDF(path)
		if needsOCRFallback(sections, quality, err) {
			p.logger.Info("pdf extraction poor, falling back to OCR",
				"path", path, "direct_error", err)
			ocrTitle, ocrSections, ocrErr := p.ocr.pdfPages(ctx, path)
			switch {
			case ocrErr == nil:
				title, sections, ocrUsed, err = ocrTitle, ocrSections, true, nil
			case errors.Is(ocrErr, ErrOCRDisabled) && err == nil && len(sections) > 0:
				// Direct extraction produced something; better a suspect
				// result than none when OCR is turned off.
				p.logger.Warn("keeping low-quality pdf text, OCR disabled", "path", path)
			case err != nil:
				return nil, fmt.Errorf("extract pdf: %w (ocr fallback also failed: %v)", err, ocrErr)
			default:
				return nil, fmt.Errorf("ocr fallback: %w", ocrErr)
			}
		}
	case FormatDocx:
		title, sections, err = extractDocx(path)
	case FormatODT:
		title, sections, err = extractODT(path)
	case FormatTXT:
		title, sections, err = extractText(path)
	case FormatMD:
		title, sections, err = extractMarkdown(path)
	case FormatHTML:
		title, sections, err = extractHTMLFile(path)
	case FormatImage:
		title, sections, err = p.ocr.imageFile(ctx, path)
		ocrUsed = err == nil
	default:
		return nil, fmt.Errorf("%w: no parser for %s", ErrUnsupportedFormat, format)
	}

	if err != nil {
		return nil, fmt.Errorf("extract %s (%s): %w", path, format, err)
	}

	raw := joinSections(sections)
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyDocument
	}

	return &Document{
		Path:     path,
		Format:   format,
		Title:    title,
		Sections: sections,
		RawText:  raw,
		Quality:  quality,
		OCRUsed:  ocrUsed,
	}, nil
}

// needsOCRFallback decides whether the direct PDF extraction result should
// be discarded in favour of OCR. Direct extraction rarely errors on scanned
// PDFs; it returns nothing, or junk that the quality metrics catch.
func needsOCRFallback(sections []Section, quality *ExtractionQuality, err error) bool {
	if err != nil {
		return true
	}
	if len(sections) == 0 {
		return true
	}
	return quality != nil && quality.NeedsOCR()
}

func joinSections(sections []Section) string {
	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if s.Title != "" && s.Title != s.Text {
			sb.WriteString(s.Title)
			sb.WriteByte('\n')
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// SupportedFormats returns all supported format names.
func SupportedFormats() []string {
	return []string{"pdf", "docx", "odt", "txt", "md", "html", "image"}
}
