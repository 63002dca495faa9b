//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/monitoring"
)

func TestFormatEntries(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	entries := []model.ReviewQueueEntry{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			Item:       model.NormalizedItem{Name: "Salesforce Sales Cloud", Category: "CRM"},
			Tier:       model.TierQuickReview,
			Priority:   6,
			Confidence: 0.83,
			Status:     model.StatusPending,
			CreatedAt:  now,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			Item:       model.NormalizedItem{Name: "A very long item name that will not fit in the column"},
			Tier:       model.TierFullEdit,
			Priority:   10,
			Confidence: 0.31,
			Status:     model.StatusInReview,
			CreatedAt:  now,
		},
	}

	var buf bytes.Buffer
	formatEntries(&buf, entries)

	output := buf.String()
	assert.Contains(t, output, "CONFIDENCE")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "Salesforce Sales Cloud")
	assert.Contains(t, output, "quick_review")
	assert.Contains(t, output, "0.83")
	assert.Contains(t, output, "A very long item name that will not f...")
	assert.Contains(t, output, "in_review")
	assert.Contains(t, output, "2026-03-02 09:15")
}

func TestFormatSummary(t *testing.T) {
	oldest := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := &model.QueueSummary{
		TenantID:        "acme",
		Total:           7,
		CountsByTier:    map[model.ReviewTier]int{model.TierAutoAccept: 3, model.TierFullEdit: 4},
		AvgConfidence:   0.64,
		OldestPendingAt: &oldest,
	}

	var buf bytes.Buffer
	formatSummary(&buf, s)

	output := buf.String()
	assert.Contains(t, output, "acme")
	assert.Contains(t, output, "7")
	assert.Contains(t, output, "0.64")
	assert.Contains(t, output, "2026-03-01 08:00")
	assert.Contains(t, output, "manual_review:")
}

func TestFormatIngestResult(t *testing.T) {
	res := &model.IngestResult{
		TenantID:          "acme",
		RunIDs:            []string{"r1", "r2"},
		QueuedCount:       9,
		SkippedCount:      1,
		ChunksTotal:       6,
		ChunksPartial:     1,
		DuplicatesRemoved: 2,
		TierBreakdown:     map[model.ReviewTier]int{model.TierQuickReview: 5, model.TierAutoAccept: 4},
		Warnings:          []string{"empty.txt: no extractable text"},
		CostUSD:           0.0123,
	}

	var buf bytes.Buffer
	formatIngestResult(&buf, res)

	output := buf.String()
	assert.Contains(t, output, "Queued:")
	assert.Contains(t, output, "$0.0123")
	assert.Contains(t, output, "6 (1 failed, 0 not processed)")
	assert.Contains(t, output, "warning: empty.txt: no extractable text")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("auto_accept")), bytes.Index(buf.Bytes(), []byte("quick_review")))
}

func TestFormatPatterns(t *testing.T) {
	patterns := []model.LearnedPattern{
		{
			ID:           "abc12345-6789-0000-0000-000000000000",
			Field:        "category",
			Signature:    "category=maintenance|format=csv|vendor=acme",
			Adjustment:   model.Adjustment{Kind: model.AdjustFieldOverride, Field: "category", Value: "Facilities"},
			Confidence:   0.7,
			SupportCount: 3,
		},
		{
			ID:           "def12345-6789-0000-0000-000000000000",
			Field:        "rejection",
			Adjustment:   model.Adjustment{Kind: model.AdjustConfidenceDelta, ConfidenceDelta: -0.15},
			Confidence:   0.7,
			SupportCount: 3,
		},
	}

	var buf bytes.Buffer
	formatPatterns(&buf, patterns)

	output := buf.String()
	assert.Contains(t, output, "category=Facilities")
	assert.Contains(t, output, "-0.15")
	assert.Contains(t, output, "0.70")
	assert.Contains(t, output, "category=maintenance|format=csv|vendor=acme")
}

func TestFormatReport(t *testing.T) {
	oldest := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	report := &monitoring.Report{
		Snapshot: &monitoring.MetricsSnapshot{
			RunsTotal:       7,
			RunsComplete:    5,
			RunsFailed:      2,
			RunFailRate:     2.0 / 7.0,
			CostUSD:         0.125,
			ReviewBacklog:   42,
			Tenants:         []string{"acme"},
			OldestPendingAt: &oldest,
			LookbackHours:   24,
		},
		Alerts: []monitoring.Alert{
			{Type: monitoring.AlertRunFailureRate, Severity: "high", Message: "too many failures"},
		},
	}

	var buf bytes.Buffer
	formatReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "last 24h")
	assert.Contains(t, out, "7 (5 complete, 2 failed, 0 in flight)")
	assert.Contains(t, out, "28.6%")
	assert.Contains(t, out, "$0.1250")
	assert.Contains(t, out, "42 across 1 tenant(s)")
	assert.Contains(t, out, "2026-03-01T08:00:00Z")
	assert.Contains(t, out, "Alerts (1, 0 sent)")
	assert.Contains(t, out, "[high] run_failure_rate: too many failures")

	buf.Reset()
	report.Alerts = nil
	formatReport(&buf, report)
	assert.Contains(t, buf.String(), "No alerts.")
}
