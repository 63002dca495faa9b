package analyze

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/parse"
)

// catalogTerms are words that mark a header cell or section as describing
// catalog records.
var catalogTerms = map[string]bool{
	"name": true, "product": true, "products": true, "service": true, "services": true,
	"vendor": true, "supplier": true, "provider": true, "price": true, "pricing": true,
	"cost": true, "budget": true, "spend": true, "owner": true, "status": true,
	"priority": true, "category": true, "description": true, "license": true,
	"licenses": true, "contract": true, "tool": true, "tools": true, "application": true,
	"applications": true, "app": true, "platform": true, "system": true, "systems": true,
	"renewal": true, "seats": true, "subscription": true, "software": true,
}

// termsIn returns the distinct catalog terms in s.
func termsIn(s string) map[string]bool {
	hits := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if catalogTerms[w] {
			hits[w] = true
		}
	}
	return hits
}

// headerRelevance is the share of non-empty header cells naming a catalog term.
func headerRelevance(header []string) float64 {
	var total, hits int
	for _, h := range header {
		if strings.TrimSpace(h) == "" {
			continue
		}
		total++
		if len(termsIn(h)) > 0 {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// sectionRelevance saturates at four distinct catalog terms.
func sectionRelevance(body string) float64 {
	n := len(termsIn(body))
	if n >= 4 {
		return 1
	}
	return float64(n) / 4
}

func tablesFromDocument(doc *parse.Document) []model.Table {
	var out []model.Table
	for _, t := range doc.Tables {
		out = append(out, model.Table{
			Index:     len(out),
			Header:    t.Header,
			RowCount:  len(t.Rows),
			Relevance: headerRelevance(t.Header),
		})
	}
	return out
}

var (
	multiSpace   = regexp.MustCompile(`\S\s{2,}\S`)
	splitSpaces  = regexp.MustCompile(`\s{2,}`)
	mdSeparator  = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
	numberedHead = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+\S`)
)

// splitCells splits a line into columns on pipes, tabs or runs of spaces.
// ok is false when the line has fewer than two columns.
func splitCells(line string) ([]string, byte, bool) {
	trimmed := strings.TrimSpace(line)
	var cells []string
	var delim byte
	switch {
	case strings.Count(trimmed, "|") >= 1:
		delim = '|'
		cells = strings.Split(strings.Trim(trimmed, "|"), "|")
	case strings.Contains(trimmed, "\t"):
		delim = '\t'
		cells = strings.Split(trimmed, "\t")
	case multiSpace.MatchString(trimmed):
		delim = ' '
		cells = splitSpaces.Split(trimmed, -1)
	default:
		return nil, 0, false
	}
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells, delim, len(cells) >= 2
}

// detectTextTables finds runs of at least three consecutive lines sharing a
// delimiter and column count.
func detectTextTables(text string) []model.Table {
	var out []model.Table
	lines := strings.Split(text, "\n")

	var run [][]string
	var runDelim byte
	flush := func() {
		if len(run) >= 3 {
			out = append(out, model.Table{
				Index:     len(out),
				Header:    run[0],
				RowCount:  len(run) - 1,
				Relevance: headerRelevance(run[0]),
			})
		}
		run, runDelim = nil, 0
	}

	for _, line := range lines {
		if mdSeparator.MatchString(strings.TrimSpace(line)) && len(run) > 0 {
			continue
		}
		cells, delim, ok := splitCells(line)
		if !ok {
			flush()
			continue
		}
		if len(run) > 0 && (delim != runDelim || len(cells) != len(run[0])) {
			flush()
		}
		run = append(run, cells)
		runDelim = delim
	}
	flush()
	return out
}

// headingTitle reports whether line looks like a section heading.
func headingTitle(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if s == "" || len(s) > 80 {
		return "", false
	}
	if strings.HasPrefix(s, "#") {
		return strings.TrimSpace(strings.TrimLeft(s, "#")), true
	}
	if strings.ContainsAny(s, "|\t") {
		return "", false
	}
	if numberedHead.MatchString(s) && !strings.HasSuffix(s, ".") {
		return s, true
	}
	if strings.HasSuffix(s, ":") && len(s) <= 60 {
		return strings.TrimSuffix(s, ":"), true
	}
	if len(s) >= 3 && len(s) <= 60 && isUpper(s) {
		return s, true
	}
	return "", false
}

func isUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters >= 3
}

// detectSections splits text at heading lines. Text before the first heading
// forms an untitled section; text with no headings is a single section.
func detectSections(text string) []model.Section {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	type heading struct {
		title string
		start int
	}
	var heads []heading
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if title, ok := headingTitle(line); ok {
			heads = append(heads, heading{title: title, start: offset})
		}
		offset += len(line)
	}

	var sections []model.Section
	add := func(title string, start, end int) {
		if strings.TrimSpace(text[start:end]) == "" {
			return
		}
		sections = append(sections, model.Section{
			Index:     len(sections),
			Title:     title,
			Start:     start,
			End:       end,
			Relevance: sectionRelevance(text[start:end]),
		})
	}

	if len(heads) == 0 {
		add("", 0, len(text))
		return sections
	}
	if heads[0].start > 0 {
		add("", 0, heads[0].start)
	}
	for i, h := range heads {
		end := len(text)
		if i+1 < len(heads) {
			end = heads[i+1].start
		}
		add(h.title, h.start, end)
	}
	return sections
}

var visualMarkers = []struct {
	prefix string
	kind   string
}{
	{"![", "image"},
	{"<img", "image"},
	{"[image", "image"},
	{"[figure", "figure"},
	{"figure ", "figure"},
	{"chart:", "chart"},
	{"[chart", "chart"},
	{"diagram:", "diagram"},
	{"slide ", "slide"},
}

// slidePageChars is the page length under which a PDF page reads as a slide.
const slidePageChars = 300

// detectVisuals finds image and figure markers in the text and treats
// mostly-short PDF pages as slides.
func detectVisuals(doc *parse.Document) []model.VisualElement {
	var out []model.VisualElement
	for _, line := range strings.Split(doc.Text, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, m := range visualMarkers {
			if strings.HasPrefix(lower, m.prefix) {
				out = append(out, model.VisualElement{Kind: m.kind, Label: strings.TrimSpace(line)})
				break
			}
		}
	}
	if ratio := slideRatio(doc.Pages); len(doc.Pages) >= 3 && ratio >= 0.6 {
		for i := range doc.Pages {
			out = append(out, model.VisualElement{Kind: "slide", Label: "page " + strconv.Itoa(i+1)})
		}
	}
	return out
}

func slideRatio(pages []string) float64 {
	if len(pages) == 0 {
		return 0
	}
	short := 0
	for _, p := range pages {
		n := len(strings.Join(strings.Fields(p), ""))
		if n > 0 && n < slidePageChars {
			short++
		}
	}
	return float64(short) / float64(len(pages))
}
