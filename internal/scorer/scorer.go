package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Overall applies DefaultWeights to a breakdown.
func Overall(b model.ConfidenceBreakdown) float64 {
	return OverallWith(DefaultWeights(), b)
}

// OverallWith applies w to a breakdown, clamped to [0,1].
func OverallWith(w Weights, b model.ConfidenceBreakdown) float64 {
	v := w.Type*b.TypeConfidence +
		w.Fields*b.AvgFieldConfidence() +
		w.SourceClarity*b.QualityIndicators.SourceClarity +
		w.PatternMatch*b.QualityIndicators.PatternMatch
	return clamp01(v)
}

// Breakdown accumulates confidence signals for one item. Reasoning is
// append-only; Build derives Overall from the signals.
type Breakdown struct {
	b model.ConfidenceBreakdown
}

// NewBreakdown starts an empty breakdown.
func NewBreakdown() *Breakdown {
	return &Breakdown{b: model.ConfidenceBreakdown{Fields: make(map[string]float64)}}
}

// Extend continues from an existing breakdown. Field scores and reasoning
// carry over; later calls overwrite scores and append reasons.
func Extend(prev model.ConfidenceBreakdown) *Breakdown {
	b := NewBreakdown()
	b.b.TypeConfidence = prev.TypeConfidence
	b.b.QualityIndicators = prev.QualityIndicators
	for k, v := range prev.Fields {
		b.b.Fields[k] = v
	}
	b.b.Reasoning = append([]string(nil), prev.Reasoning...)
	return b
}

// Type sets type confidence.
func (b *Breakdown) Type(conf float64, reason string) *Breakdown {
	b.b.TypeConfidence = clamp01(conf)
	return b.Reason(reason)
}

// Field sets one field's confidence.
func (b *Breakdown) Field(name string, conf float64, reason string) *Breakdown {
	b.b.Fields[name] = clamp01(conf)
	return b.Reason(reason)
}

// Drop removes a field score, used when an edit clears the field.
func (b *Breakdown) Drop(name string) *Breakdown {
	delete(b.b.Fields, name)
	return b
}

// AdjustField shifts an existing field score by delta.
func (b *Breakdown) AdjustField(name string, delta float64, reason string) *Breakdown {
	if v, ok := b.b.Fields[name]; ok {
		b.b.Fields[name] = clamp01(v + delta)
	}
	return b.Reason(reason)
}

// SourceClarity sets the document-level clarity signal.
func (b *Breakdown) SourceClarity(v float64) *Breakdown {
	b.b.QualityIndicators.SourceClarity = clamp01(v)
	return b
}

// PatternMatch sets pattern match quality.
func (b *Breakdown) PatternMatch(v float64, reason string) *Breakdown {
	b.b.QualityIndicators.PatternMatch = clamp01(v)
	return b.Reason(reason)
}

// SchemaFit sets the share of expected fields that were populated.
func (b *Breakdown) SchemaFit(v float64) *Breakdown {
	b.b.QualityIndicators.SchemaFit = clamp01(v)
	return b
}

// Reason appends a reasoning statement. Empty and repeated statements are
// ignored.
func (b *Breakdown) Reason(s string) *Breakdown {
	if s == "" {
		return b
	}
	for _, r := range b.b.Reasoning {
		if r == s {
			return b
		}
	}
	b.b.Reasoning = append(b.b.Reasoning, s)
	return b
}

// Build returns the breakdown with Overall recomputed.
func (b *Breakdown) Build() model.ConfidenceBreakdown {
	out := b.b
	out.Fields = make(map[string]float64, len(b.b.Fields))
	for k, v := range b.b.Fields {
		out.Fields[k] = v
	}
	out.Reasoning = append([]string(nil), b.b.Reasoning...)
	out.Overall = Overall(out)
	return out
}

// BudgetConfidence scores a budget value.
func BudgetConfidence(v model.FieldValue) (float64, string) {
	if _, ok := v.AsNumber(); ok {
		return BudgetNumeric, "budget stated as a number"
	}
	return BudgetUnparsed, "budget present but not numeric"
}

// OwnerConfidence scores an owner string.
func OwnerConfidence(owner string) (float64, string) {
	if len(strings.TrimSpace(owner)) > 2 {
		return OwnerNamed, "owner identified"
	}
	return OwnerWeak, "owner unclear"
}

// DescriptionConfidence scores a description.
func DescriptionConfidence(desc string) (float64, string) {
	if len(strings.TrimSpace(desc)) >= 20 {
		return DescriptionRich, "descriptive text available"
	}
	return DescriptionShort, "limited description"
}

// VocabConfidence scores a status or priority that was either mapped from
// the source vocabulary or defaulted.
func VocabConfidence(field string, mapped bool) (float64, string) {
	if mapped {
		return VocabNormalized, ""
	}
	return VocabDefaulted, fmt.Sprintf("%s defaulted", field)
}

// MatchKeywords returns the keywords found in any of texts, case-insensitively.
func MatchKeywords(keywords []string, texts ...string) []string {
	var combined string
	for _, t := range texts {
		if t != "" {
			combined += " " + strings.ToLower(t)
		}
	}
	if combined == "" {
		return nil
	}

	var matched []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" && strings.Contains(combined, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
