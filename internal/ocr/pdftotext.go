package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

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

// ExtractPages spools the PDF to a temp file, runs pdftotext -layout on it
// and splits stdout on form feeds.
func (p *PdfToText) ExtractPages(ctx context.Context, pdf []byte) ([]string, error) {
	f, err := os.CreateTemp("", "catalog-ingest-*.pdf")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(pdf); err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "ocr: write temp file")
	}
	if err := f.Close(); err != nil {
		return nil, eris.Wrap(err, "ocr: close temp file")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", f.Name(), "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftotext failed: %s", stderr.String())
	}

	return splitPages(stdout.String()), nil
}

// splitPages splits pdftotext output on form feeds, dropping the empty tail
// pdftotext writes after the last page.
func splitPages(out string) []string {
	pages := strings.Split(out, "\f")
	for len(pages) > 0 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
