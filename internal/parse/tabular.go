package parse

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeText returns data as UTF-8. Byte order marks select UTF-8 or UTF-16;
// input that is not valid UTF-8 is read as Windows-1252, the usual encoding
// of spreadsheet exports.
func decodeText(data []byte) (string, error) {
	if hasBOM(data) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return "", eris.Wrap(err, "decode text")
		}
		return string(out), nil
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return "", eris.Wrap(err, "decode windows-1252")
	}
	return string(out), nil
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE})
}

func delimiterFor(name string) rune {
	if strings.EqualFold(filepath.Ext(name), ".tsv") {
		return '\t'
	}
	return 0
}

// sniffDelimiter picks the most frequent candidate separator on the first line.
func sniffDelimiter(text string) rune {
	line := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestN := ',', strings.Count(line, ",")
	for _, c := range []rune{';', '\t', '|'} {
		if n := strings.Count(line, string(c)); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func parseCSV(doc *Document, data []byte, delim rune) error {
	text, err := decodeText(data)
	if err != nil {
		return err
	}
	if delim == 0 {
		delim = sniffDelimiter(text)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow variable fields

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		if blankRow(record) {
			continue
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return eris.New("csv: no rows")
	}

	doc.Tables = []Table{{Header: rows[0], Rows: rows[1:]}}
	return nil
}

func parseXLSX(doc *Document, data []byte) error {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return eris.Wrap(err, "xlsx: open workbook")
	}

	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := rowToStrings(row)
			if blankRow(cells) {
				continue
			}
			rows = append(rows, cells)
		}
		if len(rows) == 0 {
			continue
		}
		doc.Tables = append(doc.Tables, Table{Name: sheet.Name, Header: rows[0], Rows: rows[1:]})
	}
	if len(doc.Tables) == 0 {
		return eris.New("xlsx: workbook has no data")
	}
	return nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// recordKeys are the JSON keys searched, in order, for an array of records.
var recordKeys = []string{"products", "items", "services", "catalog", "records", "data"}

// leadingColumns are moved to the front of a JSON-derived header.
var leadingColumns = []string{"id", "name", "vendor", "description"}

func parseJSON(doc *Document, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return eris.Wrap(err, "json: decode")
	}

	records, name := findRecords(v)
	if len(records) == 0 {
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return eris.Wrap(err, "json: render")
		}
		doc.Text = string(pretty)
		return nil
	}

	header := recordHeader(records)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = cellString(rec[k])
		}
		rows = append(rows, row)
	}
	doc.Tables = []Table{{Name: name, Header: header, Rows: rows}}
	return nil
}

// findRecords locates the array of objects in a decoded JSON value. A
// top-level object may wrap it under a well-known key, e.g.
// {"catalog_name": "...", "products": [...]}.
func findRecords(v any) ([]map[string]any, string) {
	switch t := v.(type) {
	case []any:
		return asRecords(t), ""
	case map[string]any:
		name, _ := t["catalog_name"].(string)
		for _, k := range recordKeys {
			if arr, ok := t[k].([]any); ok {
				if recs := asRecords(arr); len(recs) > 0 {
					return recs, name
				}
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if arr, ok := t[k].([]any); ok {
				if recs := asRecords(arr); len(recs) > 0 {
					return recs, name
				}
			}
		}
	}
	return nil, ""
}

func asRecords(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			return nil
		}
		out = append(out, m)
	}
	return out
}

func recordHeader(records []map[string]any) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	header := make([]string, 0, len(keys))
	for _, lead := range leadingColumns {
		if seen[lead] {
			header = append(header, lead)
		}
	}
	for _, k := range keys {
		if !contains(leadingColumns, k) {
			header = append(header, k)
		}
	}
	return header
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
