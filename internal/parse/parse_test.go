package parse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/catalog-ingest/internal/model"
)

type fakePDF struct {
	pages []string
	err   error
}

func (f fakePDF) ExtractPages(_ context.Context, _ []byte) ([]string, error) {
	return f.pages, f.err
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name, file, ct string
		data           string
		want           Format
	}{
		{"csv ext", "tools.CSV", "", "a,b", FormatCSV},
		{"tsv ext", "tools.tsv", "", "a\tb", FormatCSV},
		{"content type", "upload", "application/pdf", "", FormatPDF},
		{"content type params", "upload", "text/csv; charset=utf-8", "", FormatCSV},
		{"pdf magic", "upload", "", "%PDF-1.7 ...", FormatPDF},
		{"zip magic", "upload", "application/octet-stream", "PK\x03\x04....", FormatXLSX},
		{"json sniff", "upload", "", ` [{"name":"Jira"}]`, FormatJSON},
		{"text sniff", "notes", "", "Our vendors include Salesforce.", FormatText},
		{"binary", "blob", "", "\x00\x01\x02\x03", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.file, tt.ct, []byte(tt.data)))
		})
	}
}

func TestParse_CSV(t *testing.T) {
	p := New(nil, 0)
	data := "\xEF\xBB\xBFProduct Name;Vendor;Annual Cost\n Salesforce ;Salesforce Inc;\"120,000\"\n\n;;\nJira;Atlassian;8000\n"
	doc, err := p.Parse(context.Background(), model.IngestFile{Name: "tools.csv", Data: []byte(data)})
	require.NoError(t, err)

	require.Len(t, doc.Tables, 1)
	tbl := doc.Tables[0]
	assert.Equal(t, []string{"Product Name", "Vendor", "Annual Cost"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"Salesforce", "Salesforce Inc", "120,000"}, tbl.Rows[0])
	assert.True(t, doc.Tabular())
	assert.Contains(t, doc.Text, "Jira | Atlassian | 8000")
}

func TestParse_CSVWindows1252(t *testing.T) {
	data := []byte("name,vendor\nCaf\xe9 POS,Square\n")
	doc, err := New(nil, 0).Parse(context.Background(), model.IngestFile{Name: "pos.csv", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "Café POS", doc.Tables[0].Rows[0][0])
}

func TestParse_XLSX(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Apps": {
			{"Name", "Owner", "Budget"},
			{"Workday", "HR", "250000"},
		},
		"Empty": {},
	})
	doc, err := New(nil, 0).Parse(context.Background(), model.IngestFile{Name: "apps.xlsx", Data: data})
	require.NoError(t, err)

	require.Len(t, doc.Tables, 1)
	assert.Equal(t, "Apps", doc.Tables[0].Name)
	assert.Equal(t, []string{"Workday", "HR", "250000"}, doc.Tables[0].Rows[0])
	assert.Contains(t, doc.Text, "## Apps")
}

func TestParse_XLSXCorrupt(t *testing.T) {
	_, err := New(nil, 0).Parse(context.Background(), model.IngestFile{Name: "bad.xlsx", Data: []byte("PK\x03\x04garbage")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open workbook")
}

func TestParse_JSONCatalog(t *testing.T) {
	data := `{"catalog_name":"Cloud Tools","products":[
		{"name":"Slack","vendor":"Salesforce","price":12.5,"tags":["chat"]},
		{"name":"Zoom","vendor":"Zoom","active":true}
	]}`
	doc, err := New(nil, 0).Parse(context.Background(), model.IngestFile{Name: "catalog.json", Data: []byte(data)})
	require.NoError(t, err)

	require.Len(t, doc.Tables, 1)
	tbl := doc.Tables[0]
	assert.Equal(t, "Cloud Tools", tbl.Name)
	assert.Equal(t, []string{"name", "vendor", "active", "price", "tags"}, tbl.Header)
	assert.Equal(t, []string{"Slack", "Salesforce", "", "12.5", `["chat"]`}, tbl.Rows[0])
	assert.Equal(t, "true", tbl.Rows[1][2])
}

func TestParse_JSONWithoutRecords(t *testing.T) {
	doc, err := New(nil, 0).Parse(context.Background(), model.IngestFile{Name: "x.json", Data: []byte(`{"summary":"three tools"}`)})
	require.NoError(t, err)
	assert.Empty(t, doc.Tables)
	assert.Contains(t, doc.Text, "three tools")
}

func TestParse_PDF(t *testing.T) {
	p := New(fakePDF{pages: []string{"Page one", "Page two"}}, 0)
	doc, err := p.Parse(context.Background(), model.IngestFile{Name: "deck.pdf", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, doc.Format)
	assert.Len(t, doc.Pages, 2)
	assert.Equal(t, "Page one\n\nPage two", doc.Text)
	assert.False(t, doc.Tabular())

	_, err = New(fakePDF{err: eris.New("boom")}, 0).Parse(context.Background(), model.IngestFile{Name: "deck.pdf", Data: []byte("%PDF")})
	require.Error(t, err)

	_, err = New(nil, 0).Parse(context.Background(), model.IngestFile{Name: "deck.pdf", Data: []byte("%PDF")})
	require.Error(t, err)
}

func TestParse_Limits(t *testing.T) {
	p := New(nil, 4)
	_, err := p.Parse(context.Background(), model.IngestFile{Name: "a.txt"})
	require.Error(t, err)

	_, err = p.Parse(context.Background(), model.IngestFile{Name: "a.txt", Data: []byte("too long")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	_, err = New(nil, 0).Parse(context.Background(), model.IngestFile{Name: "a.bin", Data: []byte{0, 1, 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestFallbackText(t *testing.T) {
	doc, ok := FallbackText(model.IngestFile{Name: "broken.json", Data: []byte(`{"products": [ {"name": "Jira"`)})
	require.True(t, ok)
	assert.Equal(t, FormatText, doc.Format)
	assert.Contains(t, doc.Text, "Jira")

	_, ok = FallbackText(model.IngestFile{Name: "bad.xlsx", Data: []byte("PK\x03\x04\x00\x00\x01")})
	assert.False(t, ok)
}
