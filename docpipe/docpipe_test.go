package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	pipe := New(Config{})

	tests := []struct {
		mime   string
		path   string
		format Format
	}{
		// MIME type wins when declared.
		{"application/pdf", "upload.bin", FormatPDF},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "upload.bin", FormatDocx},
		{"application/msword", "upload.bin", FormatDocx},
		{"application/vnd.oasis.opendocument.text", "upload.bin", FormatODT},
		{"text/plain", "upload.bin", FormatTXT},
		{"text/plain; charset=utf-8", "upload.bin", FormatTXT},
		{"text/markdown", "upload.bin", FormatMD},
		{"text/html", "upload.bin", FormatHTML},
		{"image/png", "upload.bin", FormatImage},
		{"image/tiff", "upload.bin", FormatImage},

		// Extension fallback when the type is empty or generic.
		{"", "doc.docx", FormatDocx},
		{"", "doc.odt", FormatODT},
		{"", "doc.pdf", FormatPDF},
		{"", "doc.md", FormatMD},
		{"", "doc.markdown", FormatMD},
		{"", "doc.txt", FormatTXT},
		{"", "doc.html", FormatHTML},
		{"", "doc.htm", FormatHTML},
		{"", "scan.jpg", FormatImage},
		{"application/octet-stream", "doc.pdf", FormatPDF},
		{"application/octet-stream", "scan.png", FormatImage},
	}

	for _, tt := range tests {
		f, err := pipe.Detect(tt.mime, tt.path)
		if err != nil {
			t.Errorf("Detect(%q, %q): %v", tt.mime, tt.path, err)
			continue
		}
		if f != tt.format {
			t.Errorf("Detect(%q, %q) = %q, want %q", tt.mime, tt.path, f, tt.format)
		}
	}

	// Unsupported combinations.
	if _, err := pipe.Detect("application/x-tar", "file.tar"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for tar mime, got %v", err)
	}
	if _, err := pipe.Detect("", "file.xyz"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for .xyz, got %v", err)
	}
}

func TestExtractText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	os.WriteFile(path, []byte("Hello  world\n\n  test  "), 0644)

	pipe := New(Config{})
	doc, err := pipe.Extract(context.Background(), path, "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Format != FormatTXT {
		t.Fatalf("expected txt format, got %s", doc.Format)
	}
	if !strings.Contains(doc.RawText, "Hello") {
		t.Fatalf("expected text to contain Hello, got %q", doc.RawText)
	}
	if doc.OCRUsed {
		t.Error("OCRUsed should be false for plain text")
	}
}

func TestExtractText_Empty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	os.WriteFile(path, []byte("   \n\t\n  "), 0644)

	pipe := New(Config{})
	_, err := pipe.Extract(context.Background(), path, "text/plain")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestExtract_TooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	os.WriteFile(path, []byte(strings.Repeat("x", 2048)), 0644)

	pipe := New(Config{MaxFileSize: 1024})
	_, err := pipe.Extract(context.Background(), path, "text/plain")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestExtractMarkdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.md")
	content := `# Service Agreement

This is a paragraph.

## Payment Terms

Another paragraph here.
`
	os.WriteFile(path, []byte(content), 0644)

	pipe := New(Config{})
	doc, err := pipe.Extract(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Service Agreement" {
		t.Fatalf("expected title 'Service Agreement', got %q", doc.Title)
	}
	if doc.Format != FormatMD {
		t.Fatalf("expected md format, got %s", doc.Format)
	}

	headings := 0
	paragraphs := 0
	for _, s := range doc.Sections {
		switch s.Type {
		case "heading":
			headings++
		case "paragraph":
			paragraphs++
		}
	}
	if headings < 2 {
		t.Fatalf("expected at least 2 headings, got %d", headings)
	}
	if paragraphs < 2 {
		t.Fatalf("expected at least 2 paragraphs, got %d", paragraphs)
	}
}

func TestExtractDocx(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.docx")

	// Minimal .docx: a ZIP with just word/document.xml.
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)

	docXML := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Consulting Agreement</w:t></w:r></w:p>
<w:p><w:r><w:t>This Agreement is made between the parties.</w:t></w:r></w:p>
<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Compensation</w:t></w:r></w:p>
<w:p><w:r><w:t>The Client shall pay the Consultant monthly.</w:t></w:r></w:p>
</w:body>
</w:document>`

	fw, _ := w.Create("word/document.xml")
	fw.Write([]byte(docXML))
	w.Close()
	f.Close()

	pipe := New(Config{})
	doc, err := pipe.Extract(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}

	if doc.Title != "Consulting Agreement" {
		t.Fatalf("expected title 'Consulting Agreement', got %q", doc.Title)
	}
	if len(doc.Sections) < 4 {
		t.Fatalf("expected at least 4 sections, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Level != 1 {
		t.Errorf("first heading level = %d, want 1", doc.Sections[0].Level)
	}
}

func TestExtractODT(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.odt")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)

	contentXML := `<?xml version="1.0" encoding="UTF-8"?>
<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"
  xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">
<office:body>
<office:text>
<text:h text:outline-level="1">Lease Agreement</text:h>
<text:p>First paragraph.</text:p>
<text:h text:outline-level="2">Term</text:h>
<text:p>Second paragraph.</text:p>
</office:text>
</office:body>
</office:document-content>`

	fw, _ := w.Create("content.xml")
	fw.Write([]byte(contentXML))
	w.Close()
	f.Close()

	pipe := New(Config{})
	doc, err := pipe.Extract(context.Background(), path, "application/vnd.oasis.opendocument.text")
	if err != nil {
		t.Fatal(err)
	}

	if doc.Title != "Lease Agreement" {
		t.Fatalf("expected title 'Lease Agreement', got %q", doc.Title)
	}
	if len(doc.Sections) < 4 {
		t.Fatalf("expected at least 4 sections, got %d", len(doc.Sections))
	}
}

func TestExtractHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.html")
	html := `<!DOCTYPE html>
<html><head><title>Engagement Letter</title><script>alert(1)</script></head>
<body>
<article>
<h1>Scope of Services</h1>
<p>The Firm will provide legal services in connection with the matter
described above, including document review and contract negotiation.</p>
</article>
</body></html>`
	os.WriteFile(path, []byte(html), 0644)

	pipe := New(Config{})
	doc, err := pipe.Extract(context.Background(), path, "text/html")
	if err != nil {
		t.Fatal(err)
	}

	if doc.Title != "Engagement Letter" {
		t.Fatalf("expected title 'Engagement Letter', got %q", doc.Title)
	}
	if !strings.Contains(doc.RawText, "legal services") {
		t.Fatalf("expected text to contain content, got %q", doc.RawText)
	}
	if strings.Contains(doc.RawText, "alert(1)") {
		t.Error("script content should be stripped")
	}
}

func TestExtractImage_OCRDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	os.WriteFile(path, []byte("not really a png"), 0644)

	pipe := New(Config{})
	_, err := pipe.Extract(context.Background(), path, "image/png")
	if !errors.Is(err, ErrOCRDisabled) {
		t.Fatalf("expected ErrOCRDisabled, got %v", err)
	}
}

func TestNewOCREngine_WarnsOnMissingLanguage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// A language code no Tesseract install ships with. Construction must
	// succeed, and the missing data (or a missing Tesseract entirely)
	// must be reported up front as a warning.
	newOCREngine(OCRConfig{Enabled: true, Language: "zxx-none"}, logger)
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Fatalf("expected a warning, got log output %q", buf.String())
	}
}

func TestNewOCREngine_DisabledSkipsCheck(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	newOCREngine(OCRConfig{Enabled: false, Language: "zxx-none"}, logger)
	if buf.Len() != 0 {
		t.Fatalf("expected no log output, got %q", buf.String())
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()
	if len(formats) != 7 {
		t.Fatalf("expected 7 formats, got %d", len(formats))
	}
	seen := make(map[string]bool, len(formats))
	for _, f := range formats {
		seen[f] = true
	}
	for _, want := range []string{"pdf", "docx", "odt", "txt", "md", "html", "image"} {
		if !seen[want] {
			t.Errorf("missing format %q", want)
		}
	}
}
