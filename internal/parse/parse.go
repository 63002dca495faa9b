// Package parse turns uploaded document bytes into text, pages and tables.
package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/ocr"
)

// Format is a supported document encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatJSON    Format = "json"
	FormatPDF     Format = "pdf"
	FormatText    Format = "text"
	FormatUnknown Format = "unknown"
)

// Table is one tabular region: a CSV file, a spreadsheet sheet or a JSON
// array of objects.
type Table struct {
	Name   string     `json:"name,omitempty"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Document is a parsed upload.
type Document struct {
	Name   string   `json:"name"`
	Format Format   `json:"format"`
	Text   string   `json:"text"`
	Pages  []string `json:"pages,omitempty"`
	Tables []Table  `json:"tables,omitempty"`
}

// Tabular reports whether the document came from a spreadsheet-like source.
func (d *Document) Tabular() bool {
	return d != nil && len(d.Tables) > 0 && d.Format != FormatPDF && d.Format != FormatText
}

// Parser converts uploads into Documents.
type Parser struct {
	pdf      ocr.Extractor
	maxBytes int
}

// New creates a Parser. pdf may be nil, in which case PDFs fail to parse.
func New(pdf ocr.Extractor, maxBytes int) *Parser {
	return &Parser{pdf: pdf, maxBytes: maxBytes}
}

// Parse decodes f according to its detected format.
func (p *Parser) Parse(ctx context.Context, f model.IngestFile) (*Document, error) {
	if len(f.Data) == 0 {
		return nil, eris.Errorf("parse: %s is empty", f.Name)
	}
	if p.maxBytes > 0 && len(f.Data) > p.maxBytes {
		return nil, eris.Errorf("parse: %s exceeds %d bytes", f.Name, p.maxBytes)
	}

	format := DetectFormat(f.Name, f.ContentType, f.Data)
	doc := &Document{Name: f.Name, Format: format}

	var err error
	switch format {
	case FormatCSV:
		err = parseCSV(doc, f.Data, delimiterFor(f.Name))
	case FormatXLSX:
		err = parseXLSX(doc, f.Data)
	case FormatJSON:
		err = parseJSON(doc, f.Data)
	case FormatPDF:
		err = p.parsePDF(ctx, doc, f.Data)
	case FormatText:
		doc.Text, err = decodeText(f.Data)
	default:
		return nil, eris.Errorf("parse: unsupported format for %s (%s)", f.Name, f.ContentType)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "parse: %s", f.Name)
	}

	if doc.Text == "" && len(doc.Tables) > 0 {
		doc.Text = renderTables(doc.Tables)
	}

	zap.L().Debug("parse: document parsed",
		zap.String("file", f.Name),
		zap.String("format", string(format)),
		zap.Int("tables", len(doc.Tables)),
		zap.Int("pages", len(doc.Pages)),
		zap.Int("chars", len(doc.Text)),
	)
	return doc, nil
}

func (p *Parser) parsePDF(ctx context.Context, doc *Document, data []byte) error {
	if p.pdf == nil {
		return eris.New("no PDF extractor configured")
	}
	pages, err := p.pdf.ExtractPages(ctx, data)
	if err != nil {
		return err
	}
	doc.Pages = pages
	doc.Text = strings.Join(pages, "\n\n")
	return nil
}

var extFormats = map[string]Format{
	".csv":  FormatCSV,
	".tsv":  FormatCSV,
	".xlsx": FormatXLSX,
	".xlsm": FormatXLSX,
	".json": FormatJSON,
	".pdf":  FormatPDF,
	".txt":  FormatText,
	".md":   FormatText,
	".text": FormatText,
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var typeFormats = map[string]Format{
	"text/csv":                  FormatCSV,
	"text/tab-separated-values": FormatCSV,
	xlsxContentType:             FormatXLSX,
	"application/json":          FormatJSON,
	"application/pdf":           FormatPDF,
	"text/plain":                FormatText,
	"text/markdown":             FormatText,
}

// DetectFormat picks a format from the file extension, then the declared
// content type, then the leading bytes.
func DetectFormat(name, contentType string, data []byte) Format {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if f, ok := typeFormats[ct]; ok {
		return f
	}
	return sniff(data)
}

func sniff(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return FormatXLSX
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return FormatJSON
	}
	if strings.HasPrefix(http.DetectContentType(data), "text/") {
		return FormatText
	}
	return FormatUnknown
}

func renderTables(tables []Table) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if t.Name != "" {
			b.WriteString("## ")
			b.WriteString(t.Name)
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(t.Header, " | "))
		for _, r := range t.Rows {
			b.WriteString("\n")
			b.WriteString(strings.Join(r, " | "))
		}
	}
	return b.String()
}

// FallbackText salvages a document that failed to parse in its declared
// format when the bytes are still readable text.
func FallbackText(f model.IngestFile) (*Document, bool) {
	if len(f.Data) == 0 || !strings.HasPrefix(http.DetectContentType(f.Data), "text/") {
		return nil, false
	}
	text, err := decodeText(f.Data)
	if err != nil || strings.TrimSpace(text) == "" {
		return nil, false
	}
	return &Document{Name: f.Name, Format: FormatText, Text: text}, true
}
