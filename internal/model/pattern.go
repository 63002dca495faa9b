package model

import (
	"sort"
	"strings"
	"time"
)

// CorrectionContext is the signature a correction is grouped under.
type CorrectionContext struct {
	Category     string `json:"category"`
	SourceFormat string `json:"source_format"`
	Vendor       string `json:"vendor"`
}

// Signature is the canonical lowercase key for the context.
func (c CorrectionContext) Signature() string {
	return strings.Join([]string{
		"category=" + normKey(c.Category),
		"format=" + normKey(c.SourceFormat),
		"vendor=" + normKey(c.Vendor),
	}, "|")
}

// ContextFor derives the correction context from the pre-correction item.
func ContextFor(item NormalizedItem) CorrectionContext {
	return CorrectionContext{
		Category:     item.Category,
		SourceFormat: item.Metadata.SourceFormat,
		Vendor:       item.Vendor,
	}
}

// Correction is one reviewer change to a single field.
type Correction struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	EntryID        string            `json:"entry_id,omitempty"`
	ItemID         string            `json:"item_id"`
	Field          string            `json:"field"`
	OriginalValue  string            `json:"original_value"`
	CorrectedValue string            `json:"corrected_value"`
	Context        CorrectionContext `json:"context"`
	Signature      string            `json:"signature"`
	Reviewer       string            `json:"reviewer,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Operator compares an item field to a condition value.
type Operator string

const (
	OpEquals   Operator = "eq"
	OpContains Operator = "contains"
)

// Condition is one predicate of a learned pattern.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// Matches evaluates the condition against an item.
func (c Condition) Matches(item NormalizedItem) bool {
	got := normKey(item.FieldString(c.Field))
	want := normKey(c.Value)
	switch c.Operator {
	case OpContains:
		return want != "" && strings.Contains(got, want)
	default:
		return got == want
	}
}

// AdjustmentKind selects what a pattern changes.
type AdjustmentKind string

const (
	AdjustFieldOverride   AdjustmentKind = "field_override"
	AdjustConfidenceDelta AdjustmentKind = "confidence_delta"
)

// Adjustment is the effect of a learned pattern.
type Adjustment struct {
	Kind            AdjustmentKind `json:"kind"`
	Field           string         `json:"field,omitempty"`
	Value           string         `json:"value,omitempty"`
	ConfidenceDelta float64        `json:"confidence_delta,omitempty"`
}

// LearnedPattern is a rule inferred from repeated consistent corrections.
type LearnedPattern struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenant_id"`
	Field        string      `json:"field"`
	Signature    string      `json:"signature"`
	Conditions   []Condition `json:"conditions"`
	Adjustment   Adjustment  `json:"adjustment"`
	Confidence   float64     `json:"confidence"`
	SupportCount int         `json:"support_count"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Active reports whether the pattern is above the soft-disable floor.
func (p LearnedPattern) Active(floor float64) bool {
	return p.Confidence >= floor
}

// Matches reports whether every condition holds for the item.
func (p LearnedPattern) Matches(item NormalizedItem) bool {
	if len(p.Conditions) == 0 {
		return false
	}
	for _, c := range p.Conditions {
		if !c.Matches(item) {
			return false
		}
	}
	return true
}

// ConditionsFor converts a correction context into pattern conditions.
// Empty context members are omitted so they act as wildcards.
func ConditionsFor(ctx CorrectionContext) []Condition {
	var conds []Condition
	if ctx.Category != "" {
		conds = append(conds, Condition{Field: "category", Operator: OpEquals, Value: ctx.Category})
	}
	if ctx.SourceFormat != "" {
		conds = append(conds, Condition{Field: "source_format", Operator: OpEquals, Value: ctx.SourceFormat})
	}
	if ctx.Vendor != "" {
		conds = append(conds, Condition{Field: "vendor", Operator: OpEquals, Value: ctx.Vendor})
	}
	sort.Slice(conds, func(i, j int) bool { return conds[i].Field < conds[j].Field })
	return conds
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
