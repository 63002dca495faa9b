package model

// DocumentType is the coarse classification of an uploaded document.
type DocumentType string

const (
	DocumentTypeSpreadsheet  DocumentType = "spreadsheet"
	DocumentTypeReport       DocumentType = "report"
	DocumentTypePresentation DocumentType = "presentation"
	DocumentTypeCatalog      DocumentType = "catalog"
	DocumentTypeFreeText     DocumentType = "free_text"
	DocumentTypeUnknown      DocumentType = "unknown"
)

// ExtractionStrategy is the plan the chunk scheduler follows for a document.
type ExtractionStrategy string

const (
	StrategyTableFirst       ExtractionStrategy = "table_first"
	StrategySectionBySection ExtractionStrategy = "section_by_section"
	StrategyVisualGuided     ExtractionStrategy = "visual_guided"
	StrategyHybrid           ExtractionStrategy = "hybrid"
)

// Section is a contiguous titled region of document text.
type Section struct {
	Index     int     `json:"index"`
	Title     string  `json:"title"`
	Start     int     `json:"start"`
	End       int     `json:"end"`
	Relevance float64 `json:"relevance"`
}

// Table is a detected tabular region.
type Table struct {
	Index     int      `json:"index"`
	Header    []string `json:"header"`
	RowCount  int      `json:"row_count"`
	Relevance float64  `json:"relevance"`
}

// VisualElement is an image, chart or slide marker found in the document.
type VisualElement struct {
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
}

// DocumentStructure is the Structure Analyzer's view of a document.
type DocumentStructure struct {
	Type       DocumentType    `json:"type"`
	Format     string          `json:"format"`
	Sections   []Section       `json:"sections"`
	Tables     []Table         `json:"tables"`
	Visuals    []VisualElement `json:"visuals"`
	Confidence float64         `json:"confidence"`
	Degraded   bool            `json:"degraded"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// LowConfidence reports whether downstream scoring should penalize source clarity.
func (d *DocumentStructure) LowConfidence() bool {
	return d == nil || d.Degraded || d.Confidence < 0.6
}

// SourceClarity maps structural confidence into the scorer's sourceClarity
// quality indicator.
func (d *DocumentStructure) SourceClarity() float64 {
	if d == nil || d.Degraded {
		return 0.4
	}
	c := 0.5 + 0.45*d.Confidence
	if d.LowConfidence() {
		c -= 0.15
	}
	if c > 0.95 {
		c = 0.95
	}
	if c < 0.3 {
		c = 0.3
	}
	return c
}
