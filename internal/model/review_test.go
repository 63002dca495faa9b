package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTierForConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		conf float64
		want ReviewTier
	}{
		{1.0, TierAutoAccept},
		{0.90, TierAutoAccept},
		{0.894, TierQuickReview},
		{0.70, TierQuickReview},
		{0.699, TierManualReview},
		{0.50, TierManualReview},
		{0.49, TierFullEdit},
		{0, TierFullEdit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForConfidence(tt.conf), tt.conf)
	}
}

func TestTierForConfidence_Monotonic(t *testing.T) {
	t.Parallel()

	rank := map[ReviewTier]int{}
	for i, tier := range AllTiers() {
		rank[tier] = i
	}
	prev := rank[TierForConfidence(1)]
	for c := 1.0; c >= 0; c -= 0.005 {
		cur := rank[TierForConfidence(c)]
		assert.GreaterOrEqual(t, cur, prev, "confidence %.3f", c)
		prev = cur
	}
}

func TestPriorityFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, PriorityFor(0.95, 5, 5))
	assert.Equal(t, 6, PriorityFor(0.65, 5, 5))
	assert.Equal(t, 8, PriorityFor(0.40, 5, 5))
	assert.Equal(t, 7, PriorityFor(0.95, 8, 5))
	assert.Equal(t, 6, PriorityFor(0.95, 6, 5))
	assert.Equal(t, 6, PriorityFor(0.95, 5, 8))
	assert.Equal(t, 10, PriorityFor(0.10, 10, 10))
}

func TestPriorityFor_NonIncreasingInConfidence(t *testing.T) {
	t.Parallel()

	for bv := 1; bv <= 10; bv++ {
		for al := 1; al <= 10; al++ {
			prev := PriorityFor(0, bv, al)
			for c := 0.0; c <= 1.0; c += 0.01 {
				p := PriorityFor(c, bv, al)
				assert.LessOrEqual(t, p, prev)
				assert.GreaterOrEqual(t, p, 1)
				assert.LessOrEqual(t, p, 10)
				prev = p
			}
		}
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StatusPending, StatusInReview))
	assert.True(t, CanTransition(StatusPending, StatusApproved))
	assert.True(t, CanTransition(StatusInReview, StatusEdited))
	assert.False(t, CanTransition(StatusInReview, StatusPending))
	assert.False(t, CanTransition(StatusPending, StatusPending))

	for _, terminal := range []ReviewStatus{StatusApproved, StatusRejected, StatusEdited} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []ReviewStatus{StatusPending, StatusInReview, StatusApproved, StatusRejected, StatusEdited} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
	assert.False(t, StatusPending.IsTerminal())
}

func TestReviewQueueEntry_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	e := ReviewQueueEntry{Status: StatusPending, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, e.Expired(now))

	e.Status = StatusApproved
	assert.False(t, e.Expired(now))

	e = ReviewQueueEntry{Status: StatusPending}
	assert.False(t, e.Expired(now))
}
