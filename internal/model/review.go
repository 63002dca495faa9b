package model

import (
	"encoding/json"
	"time"
)

// ReviewTier is the confidence-derived routing bucket.
type ReviewTier string

const (
	TierAutoAccept   ReviewTier = "auto_accept"
	TierQuickReview  ReviewTier = "quick_review"
	TierManualReview ReviewTier = "manual_review"
	TierFullEdit     ReviewTier = "full_edit"
)

// AllTiers lists tiers from least to most reviewer effort.
func AllTiers() []ReviewTier {
	return []ReviewTier{TierAutoAccept, TierQuickReview, TierManualReview, TierFullEdit}
}

// Tier boundaries on overall confidence.
const (
	AutoAcceptThreshold   = 0.90
	QuickReviewThreshold  = 0.70
	ManualReviewThreshold = 0.50
)

// TierForConfidence maps overall confidence onto a review tier.
func TierForConfidence(overall float64) ReviewTier {
	switch {
	case overall >= AutoAcceptThreshold:
		return TierAutoAccept
	case overall >= QuickReviewThreshold:
		return TierQuickReview
	case overall >= ManualReviewThreshold:
		return TierManualReview
	default:
		return TierFullEdit
	}
}

// PriorityFor computes the queue priority. Lower confidence never lowers
// priority; the result is clamped to [1,10].
func PriorityFor(overall float64, businessValue, alignment int) int {
	p := 5
	if overall < 0.50 {
		p += 3
	} else if overall < 0.70 {
		p++
	}
	if businessValue >= 8 {
		p += 2
	} else if businessValue >= 6 {
		p++
	}
	if alignment >= 8 {
		p++
	}
	return clampInt(p, 1, 10)
}

// ReviewStatus is the workflow state of a queue entry.
type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusInReview ReviewStatus = "in_review"
	StatusApproved ReviewStatus = "approved"
	StatusRejected ReviewStatus = "rejected"
	StatusEdited   ReviewStatus = "edited"
)

// transitions is the single source of truth for legal status changes.
var transitions = map[ReviewStatus]map[ReviewStatus]bool{
	StatusPending: {
		StatusInReview: true,
		StatusApproved: true,
		StatusRejected: true,
		StatusEdited:   true,
	},
	StatusInReview: {
		StatusApproved: true,
		StatusRejected: true,
		StatusEdited:   true,
	},
}

// CanTransition reports whether from → to is a legal review transition.
func CanTransition(from, to ReviewStatus) bool {
	return transitions[from][to]
}

// IsTerminal reports whether no further transitions are possible.
func (s ReviewStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// EditRecord preserves the prior version of an item across an edit.
type EditRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Reviewer    string          `json:"reviewer"`
	PriorData   json.RawMessage `json:"prior_data"`
	PriorStatus ReviewStatus    `json:"prior_status"`
	Notes       string          `json:"notes,omitempty"`
}

// ReviewQueueEntry wraps a normalized item with workflow state.
type ReviewQueueEntry struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	RunID       string         `json:"run_id,omitempty"`
	Item        NormalizedItem `json:"item"`
	Confidence  float64        `json:"confidence"`
	Tier        ReviewTier     `json:"tier"`
	Priority    int            `json:"priority"`
	Status      ReviewStatus   `json:"status"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	ReviewNotes string         `json:"review_notes,omitempty"`
	EditHistory []EditRecord   `json:"edit_history,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Expired reports whether a pending entry has passed its review window.
func (e ReviewQueueEntry) Expired(now time.Time) bool {
	return e.Status == StatusPending && !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// QueueSummary aggregates a tenant's review queue.
type QueueSummary struct {
	TenantID        string               `json:"tenant_id"`
	Total           int                  `json:"total"`
	CountsByTier    map[ReviewTier]int   `json:"counts_by_tier"`
	CountsByStatus  map[ReviewStatus]int `json:"counts_by_status"`
	AvgConfidence   float64              `json:"avg_confidence"`
	OldestPendingAt *time.Time           `json:"oldest_pending_at,omitempty"`
}

// ReviewStatistics is one tenant-day row maintained by the store trigger.
type ReviewStatistics struct {
	TenantID      string  `json:"tenant_id"`
	Day           string  `json:"day"`
	Enqueued      int     `json:"enqueued"`
	Approved      int     `json:"approved"`
	Rejected      int     `json:"rejected"`
	Edited        int     `json:"edited"`
	AutoAccepted  int     `json:"auto_accepted"`
	AvgConfidence float64 `json:"avg_confidence"`
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
