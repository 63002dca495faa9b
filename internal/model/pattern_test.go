package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrectionContext_Signature(t *testing.T) {
	t.Parallel()

	a := CorrectionContext{Category: "CRM ", SourceFormat: "csv", Vendor: "Acme"}
	b := CorrectionContext{Category: "crm", SourceFormat: "CSV", Vendor: "acme"}
	assert.Equal(t, a.Signature(), b.Signature())

	c := CorrectionContext{Category: "crm", SourceFormat: "xlsx", Vendor: "acme"}
	assert.NotEqual(t, a.Signature(), c.Signature())
}

func TestLearnedPattern_Matches(t *testing.T) {
	t.Parallel()

	item := NormalizedItem{Category: "CRM", Vendor: "Acme Corp", Metadata: ExtractionMetadata{SourceFormat: "csv"}}
	p := LearnedPattern{Conditions: ConditionsFor(ContextFor(item))}
	assert.Len(t, p.Conditions, 3)
	assert.True(t, p.Matches(item))

	other := item
	other.Vendor = "Globex"
	assert.False(t, p.Matches(other))

	contains := LearnedPattern{Conditions: []Condition{{Field: "vendor", Operator: OpContains, Value: "acme"}}}
	assert.True(t, contains.Matches(item))

	assert.False(t, LearnedPattern{}.Matches(item))
}

func TestConditionsFor_OmitsEmpty(t *testing.T) {
	t.Parallel()

	conds := ConditionsFor(CorrectionContext{Category: "Analytics"})
	assert.Equal(t, []Condition{{Field: "category", Operator: OpEquals, Value: "Analytics"}}, conds)
}

func TestLearnedPattern_Active(t *testing.T) {
	t.Parallel()

	p := LearnedPattern{Confidence: 0.3}
	assert.False(t, p.Active(0.4))
	p.Confidence = 0.4
	assert.True(t, p.Active(0.4))
}

func TestIngestResult_Merge(t *testing.T) {
	t.Parallel()

	var r IngestResult
	r.Merge("run-1", &RunResult{QueuedCount: 2, DuplicatesRemoved: 1, TierBreakdown: map[ReviewTier]int{TierQuickReview: 2}, CostUSD: 0.01})
	r.Merge("run-2", &RunResult{QueuedCount: 1, SkippedCount: 1, TierBreakdown: map[ReviewTier]int{TierQuickReview: 1}, Warnings: []string{"w"}})
	r.Merge("run-3", nil)

	assert.Equal(t, []string{"run-1", "run-2", "run-3"}, r.RunIDs)
	assert.Equal(t, 3, r.QueuedCount)
	assert.Equal(t, 1, r.SkippedCount)
	assert.Equal(t, 3, r.TierBreakdown[TierQuickReview])
	assert.Equal(t, []string{"w"}, r.Warnings)
}
