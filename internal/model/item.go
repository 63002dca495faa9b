package model

import (
	"sort"
	"strings"
	"time"
)

// SourceType records what kind of document region produced a raw item.
type SourceType string

const (
	SourceTableRow       SourceType = "table_row"
	SourceTextBlock      SourceType = "text_block"
	SourceSpreadsheetRow SourceType = "spreadsheet_row"
)

// RawExtractedItem is a single candidate record pulled from one chunk.
type RawExtractedItem struct {
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	RawFields     map[string]FieldValue `json:"raw_fields,omitempty"`
	SourceChunkID string                `json:"source_chunk_id"`
	SourceType    SourceType            `json:"source_type"`
	// Order is the item's position in document order, assigned after
	// chunk results are re-sequenced.
	Order          int      `json:"order"`
	DuplicateCount int      `json:"duplicate_count,omitempty"`
	MergedChunkIDs []string `json:"merged_chunk_ids,omitempty"`
}

// Field returns a raw field by case-insensitive key.
func (r RawExtractedItem) Field(key string) (FieldValue, bool) {
	if v, ok := r.RawFields[key]; ok {
		return v, true
	}
	for k, v := range r.RawFields {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return FieldValue{}, false
}

// PopulatedFields counts non-empty attributes, used to pick a merge winner.
func (r RawExtractedItem) PopulatedFields() int {
	n := 0
	if strings.TrimSpace(r.Name) != "" {
		n++
	}
	if strings.TrimSpace(r.Description) != "" {
		n++
	}
	for _, v := range r.RawFields {
		if !v.IsEmpty() {
			n++
		}
	}
	return n
}

// Text is the canonical text used for fingerprints and similarity.
func (r RawExtractedItem) Text() string {
	parts := []string{r.Name, r.Description}
	if v, ok := r.Field("vendor"); ok {
		parts = append(parts, v.Text())
	}
	return strings.Join(parts, " ")
}

// ItemType is the catalog record type.
type ItemType string

const (
	ItemTypeProduct ItemType = "product"
	ItemTypeService ItemType = "service"
)

// QualityIndicators are the document-level signals folded into confidence.
type QualityIndicators struct {
	SourceClarity float64 `json:"source_clarity"`
	PatternMatch  float64 `json:"pattern_match"`
	SchemaFit     float64 `json:"schema_fit"`
}

// ConfidenceBreakdown explains how an item's overall confidence was reached.
// Overall is always derived from the other members and is never set by hand.
type ConfidenceBreakdown struct {
	Overall           float64            `json:"overall"`
	TypeConfidence    float64            `json:"type_confidence"`
	Fields            map[string]float64 `json:"fields"`
	QualityIndicators QualityIndicators  `json:"quality_indicators"`
	Reasoning         []string           `json:"reasoning"`
}

// AvgFieldConfidence is the unweighted mean over per-field confidences,
// iterating keys in sorted order so the float sum is reproducible.
func (c ConfidenceBreakdown) AvgFieldConfidence() float64 {
	if len(c.Fields) == 0 {
		return 0
	}
	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sum float64
	for _, k := range keys {
		sum += c.Fields[k]
	}
	return sum / float64(len(keys))
}

// ExtractionMetadata records provenance for a normalized item.
type ExtractionMetadata struct {
	RunID             string             `json:"run_id"`
	SourceFile        string             `json:"source_file"`
	SourceFormat      string             `json:"source_format"`
	SourceChunkID     string             `json:"source_chunk_id"`
	SourceType        SourceType         `json:"source_type"`
	Strategy          ExtractionStrategy `json:"strategy"`
	DuplicatesMerged  int                `json:"duplicates_merged"`
	AppliedPatternIDs []string           `json:"applied_pattern_ids,omitempty"`
	CategorySource    string             `json:"category_source,omitempty"`
	InferredFields    []string           `json:"inferred_fields,omitempty"`
	ExtractedAt       time.Time          `json:"extracted_at"`
}

// NormalizedItem is the durable catalog record routed through review.
type NormalizedItem struct {
	ID                 string              `json:"id"`
	TenantID           string              `json:"tenant_id"`
	Version            int                 `json:"version"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Type               ItemType            `json:"type"`
	Category           string              `json:"category"`
	Vendor             string              `json:"vendor,omitempty"`
	Budget             *float64            `json:"budget,omitempty"`
	Owner              *string             `json:"owner,omitempty"`
	Status             string              `json:"status"`
	Priority           string              `json:"priority"`
	StrategicAlignment int                 `json:"strategic_alignment"`
	BusinessValue      int                 `json:"business_value"`
	Confidence         ConfidenceBreakdown `json:"confidence_breakdown"`
	Metadata           ExtractionMetadata  `json:"extraction_metadata"`
}

// Clone returns a deep copy so edits produce a new version without aliasing.
func (n NormalizedItem) Clone() NormalizedItem {
	out := n
	if n.Budget != nil {
		b := *n.Budget
		out.Budget = &b
	}
	if n.Owner != nil {
		o := *n.Owner
		out.Owner = &o
	}
	if n.Confidence.Fields != nil {
		out.Confidence.Fields = make(map[string]float64, len(n.Confidence.Fields))
		for k, v := range n.Confidence.Fields {
			out.Confidence.Fields[k] = v
		}
	}
	out.Confidence.Reasoning = append([]string(nil), n.Confidence.Reasoning...)
	out.Metadata.AppliedPatternIDs = append([]string(nil), n.Metadata.AppliedPatternIDs...)
	out.Metadata.InferredFields = append([]string(nil), n.Metadata.InferredFields...)
	return out
}

// FieldString returns the string form of a correctable field, used by the
// pattern learning engine to diff and match items.
func (n NormalizedItem) FieldString(field string) string {
	switch field {
	case "name":
		return n.Name
	case "type":
		return string(n.Type)
	case "category":
		return n.Category
	case "vendor":
		return n.Vendor
	case "status":
		return n.Status
	case "priority":
		return n.Priority
	case "owner":
		if n.Owner != nil {
			return *n.Owner
		}
	case "source_format":
		return n.Metadata.SourceFormat
	}
	return ""
}

// CorrectableFields lists the fields the learning engine tracks.
var CorrectableFields = []string{"category", "type", "status", "priority", "owner"}

// SetField assigns the string form of a correctable field. It returns false
// for fields that cannot be set this way.
func (n *NormalizedItem) SetField(field, value string) bool {
	switch field {
	case "name":
		n.Name = value
	case "type":
		n.Type = ItemType(value)
	case "category":
		n.Category = value
	case "vendor":
		n.Vendor = value
	case "status":
		n.Status = value
	case "priority":
		n.Priority = value
	case "owner":
		if value == "" {
			n.Owner = nil
		} else {
			v := value
			n.Owner = &v
		}
	default:
		return false
	}
	return true
}
