// Package extract converts uploaded document bytes into sanitized UTF-8
// text plus a best-effort human-readable title. Supported formats are
// plain text, markdown, DOCX, and PDF (with an OCR fallback for
// image-only PDFs).
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat is returned for file extensions outside the
	// allow-list.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrExtractionFailed is returned when no readable text remains
	// after all extraction fallbacks.
	ErrExtractionFailed = errors.New("no extractable text in document")
)

// Extractor turns raw document bytes into sanitized text and a title.
type Extractor struct {
	pdf    *pdfExtractor
	logger *slog.Logger
}

// New creates an Extractor. ocr may be nil, in which case image-only
// PDFs yield ErrExtractionFailed instead of being rasterized.
func New(ocr *OCRClient, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		pdf:    &pdfExtractor{ocr: ocr, logger: logger},
		logger: logger,
	}
}

// Extract converts data into sanitized text and derives a title from
// content or filename. ext is the declared extension including the dot,
// e.g. ".pdf". Extraction failures are fatal: no document should be
// created without readable text.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename, ext string) (text, title string, err error) {
	switch strings.ToLower(ext) {
	case ".txt", ".md":
		text = string(data)
	case ".docx":
		text, err = extractDOCX(data)
		if err != nil {
			return "", "", fmt.Errorf("docx: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			// Keep the document referenceable even when the body
			// carries no extractable runs.
			text = fmt.Sprintf("Word document %q (no extractable text content)", filename)
		}
	case ".pdf":
		text, err = e.pdf.extract(ctx, data)
		if err != nil {
			return "", "", fmt.Errorf("pdf: %w", err)
		}
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	text = Sanitize(text)
	if strings.TrimSpace(text) == "" {
		return "", "", ErrExtractionFailed
	}

	return text, TitleFromContent(text, filename), nil
}

// Sanitize strips NUL and other control characters (0x00-0x08,
// 0x0B-0x0C, 0x0E-0x1F, 0x7F) and invalid UTF-8 sequences. Control
// bytes in extracted text have broken the storage layer before.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return r
		case r < 0x20 || r == 0x7F:
			return -1
		}
		return r
	}, s)
}
