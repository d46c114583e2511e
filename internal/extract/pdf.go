package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	// minTextLayerChars separates PDFs with a usable text layer from
	// scanned, image-only PDFs that need OCR.
	minTextLayerChars = 50

	// maxOCRPages bounds OCR latency on large scanned documents.
	maxOCRPages = 10
)

// pdfExtractor runs two-phase PDF extraction: direct text-layer
// decoding first, page rasterization + OCR second.
type pdfExtractor struct {
	ocr    *OCRClient
	logger *slog.Logger
}

func (p *pdfExtractor) extract(ctx context.Context, data []byte) (string, error) {
	conf := model.NewDefaultConfiguration()

	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return "", fmt.Errorf("page count: %w", err)
	}

	text := p.textLayer(data, pageCount, conf)
	if len(strings.TrimSpace(text)) >= minTextLayerChars {
		return text, nil
	}

	// Treat as image-based and fall back to OCR.
	if p.ocr == nil {
		p.logger.Warn("pdf has no usable text layer and OCR is not configured",
			"pages", pageCount, "text_chars", len(strings.TrimSpace(text)))
		return text, nil
	}

	ocrText, err := p.ocrPages(ctx, data, pageCount, conf)
	if err != nil {
		p.logger.Warn("ocr fallback failed, keeping text-layer result", "error", err)
		return text, nil
	}
	if strings.TrimSpace(ocrText) == "" {
		return text, nil
	}
	return ocrText, nil
}

// textLayer decodes page content streams and joins the text-showing
// operator arguments. Per-page decode failures are skipped.
func (p *pdfExtractor) textLayer(data []byte, pageCount int, conf *model.Configuration) string {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		p.logger.Warn("pdf read for content extraction failed", "error", err)
		return ""
	}

	var pages []string
	for pageNr := 1; pageNr <= pageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			p.logger.Warn("pdf page content extraction failed", "page", pageNr, "error", err)
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			p.logger.Warn("pdf page content read failed", "page", pageNr, "error", err)
			continue
		}
		if pageText := decodeContentText(content); pageText != "" {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n\n")
}

// ocrPages rasterizes up to maxOCRPages pages and runs each image
// through the OCR service. Individual page failures are logged and
// skipped so the pipeline continues with whatever pages succeeded.
func (p *pdfExtractor) ocrPages(ctx context.Context, data []byte, pageCount int, conf *model.Configuration) (string, error) {
	lastPage := min(pageCount, maxOCRPages)
	if pageCount > maxOCRPages {
		p.logger.Warn("capping ocr to leading pages", "pages", pageCount, "cap", maxOCRPages)
	}

	selected := []string{fmt.Sprintf("1-%d", lastPage)}
	pageImages, err := api.ExtractImagesRaw(bytes.NewReader(data), selected, conf)
	if err != nil {
		return "", fmt.Errorf("extract page images: %w", err)
	}

	var pages []string
	for _, byPage := range pageImages {
		for pageNr, img := range byPage {
			raw, err := io.ReadAll(img)
			if err != nil {
				p.logger.Warn("ocr: reading page image failed", "page", pageNr, "error", err)
				continue
			}
			pageText, err := p.ocr.Recognize(ctx, raw, img.FileType)
			if err != nil {
				p.logger.Warn("ocr: page recognition failed", "page", pageNr, "error", err)
				continue
			}
			if strings.TrimSpace(pageText) != "" {
				pages = append(pages, strings.TrimSpace(pageText))
			}
		}
	}

	return strings.Join(pages, "\n\n"), nil
}

var (
	// (literal) Tj and (literal) ' single-string text operators.
	showTextRe = regexp.MustCompile(`\((?:\\.|[^\\()])*\)\s*(?:Tj|')`)
	// [(a) -120 (b)] TJ array text operator.
	showArrayRe = regexp.MustCompile(`\[(?:\\.|[^\]\\])*\]\s*TJ`)
	literalRe   = regexp.MustCompile(`\((?:\\.|[^\\()])*\)`)
)

// decodeContentText scrapes string literals from text-showing operators
// in a decoded content stream. Hex-string arguments and exotic encodings
// are out of scope; OCR covers documents this misses.
func decodeContentText(content []byte) string {
	var parts []string
	collect := func(op []byte) {
		for _, lit := range literalRe.FindAll(op, -1) {
			if s := unescapeLiteral(lit); strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
	}
	for _, op := range showTextRe.FindAll(content, -1) {
		collect(op)
	}
	for _, op := range showArrayRe.FindAll(content, -1) {
		collect(op)
	}
	return strings.Join(parts, " ")
}

// unescapeLiteral resolves PDF string-literal escapes: named escapes,
// octal codes, and escaped delimiters.
func unescapeLiteral(lit []byte) string {
	s := string(lit[1 : len(lit)-1])
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b', 'f':
			// Ignored control escapes.
		case '(', ')', '\\':
			b.WriteByte(s[i])
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			if code, err := strconv.ParseUint(s[i:j], 8, 16); err == nil && code < 256 {
				b.WriteByte(byte(code))
			}
			i = j - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
