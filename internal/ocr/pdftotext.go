package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText spools pdf to a temp file and runs pdftotext -layout on it.
// pdftotext ends every page with a form feed.
func (p *PdfToText) ExtractText(ctx context.Context, pdf []byte) (Result, error) {
	f, err := os.CreateTemp("", "notice-*.pdf")
	if err != nil {
		return Result{}, eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(pdf); err != nil {
		f.Close() //nolint:errcheck
		return Result{}, eris.Wrap(err, "ocr: write temp file")
	}
	if err := f.Close(); err != nil {
		return Result{}, eris.Wrap(err, "ocr: close temp file")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", f.Name(), "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, eris.Wrapf(err, "ocr: pdftotext failed: %s", stderr.String())
	}

	text := stdout.String()
	return Result{Text: text, Pages: countPages(text)}, nil
}
