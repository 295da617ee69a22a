package docpipe

import "errors"

// ErrUnsupportedFormat is returned when neither the declared MIME type nor
// the filename extension maps to a known format.
var ErrUnsupportedFormat = errors.New("docpipe: unsupported document format")

// ErrEmptyDocument is returned when extraction succeeds mechanically but
// yields no text at all.
var ErrEmptyDocument = errors.New("docpipe: document contains no extractable text")

// ErrTooLarge is returned when the input file exceeds Config.MaxFileSize.
var ErrTooLarge = errors.New("docpipe: file exceeds maximum size")

// ErrOCRDisabled is returned when a path requires OCR but the engine is
// disabled in config.
var ErrOCRDisabled = errors.New("docpipe: OCR required but disabled")
