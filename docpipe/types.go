package docpipe

// Format identifies a document type.
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatDocx  Format = "docx"
	FormatODT   Format = "odt"
	FormatTXT   Format = "txt"
	FormatMD    Format = "md"
	FormatHTML  Format = "html"
	FormatImage Format = "image"
)

// Section is a structural unit of a document.
type Section struct {
	Title    string            `json:"title,omitempty"`
	Level    int               `json:"level"`              // heading level 1-6, 0 for body
	Text     string            `json:"text"`               // extracted text content
	Type     string            `json:"type"`               // heading, paragraph, page
	Metadata map[string]string `json:"metadata,omitempty"` // extra attributes (page number, OCR source)
}

// Document is the result of extracting content from a file.
type Document struct {
	Path     string             `json:"path"`
	Format   Format             `json:"format"`
	Title    string             `json:"title"`
	Sections []Section          `json:"sections"`
	RawText  string             `json:"raw_text"`          // concatenated full text
	Quality  *ExtractionQuality `json:"quality,omitempty"` // PDF extraction quality metrics
	OCRUsed  bool               `json:"ocr_used"`          // content came from the OCR path
}
