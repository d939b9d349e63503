// Package ocr turns PDF notice documents into plain text.
package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/config"
)

// PageBreak separates pages in extracted text.
const PageBreak = "\f"

// Result is the text of one PDF.
type Result struct {
	Text  string
	Pages int
}

// Extractor extracts text content from PDF bytes.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (Result, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.DocumentConfig) (Extractor, error) {
	switch cfg.OCR.Provider {
	case "local", "":
		return NewPdfToText(cfg.OCR.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		m := NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
		if cfg.MistralURL != "" {
			m.endpoint = strings.TrimRight(cfg.MistralURL, "/") + "/ocr"
		}
		return m, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.OCR.Provider)
	}
}

// countPages counts form-feed separated pages, ignoring a trailing break.
func countPages(text string) int {
	text = strings.TrimRight(text, "\n "+PageBreak)
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return strings.Count(text, PageBreak) + 1
}
