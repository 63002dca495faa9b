package review

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/learning"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/scorer"
	"github.com/sells-group/catalog-ingest/internal/store"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type mockLearner struct {
	mock.Mock
}

func (m *mockLearner) RecordCorrection(ctx context.Context, tenantID string, original, corrected model.NormalizedItem, cc model.CorrectionContext, meta learning.Meta) ([]model.Correction, error) {
	args := m.Called(ctx, tenantID, original, corrected, cc, meta)
	return nil, args.Error(0)
}

func (m *mockLearner) RecordRejection(ctx context.Context, tenantID string, item model.NormalizedItem, notes string, meta learning.Meta) error {
	return m.Called(ctx, tenantID, item, notes, meta).Error(0)
}

func (m *mockLearner) Feedback(ctx context.Context, tenantID string, outcome learning.Outcome, final model.NormalizedItem) error {
	return m.Called(ctx, tenantID, outcome, final).Error(0)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestQueue(t *testing.T, learner Learner) *Queue {
	t.Helper()
	q := New(newTestStore(t), learner, config.ReviewConfig{ExpiryHours: 48})
	q.now = func() time.Time { return testNow }
	return q
}

// item builds an item scored at roughly 0.67, which routes to manual review.
func item(name string) model.NormalizedItem {
	return model.NormalizedItem{
		ID:                 uuid.NewString(),
		TenantID:           "acme",
		Version:            1,
		Name:               name,
		Type:               model.ItemTypeService,
		Category:           "Maintenance",
		Vendor:             "Acme",
		Status:             "active",
		Priority:           "medium",
		StrategicAlignment: 3,
		BusinessValue:      5,
		Confidence: scorer.NewBreakdown().
			Type(0.75, "").
			Field("category", 0.6, "category from source").
			SourceClarity(0.8).
			PatternMatch(0.5, "").
			Build(),
		Metadata: model.ExtractionMetadata{SourceFormat: "csv"},
	}
}

func withOverall(it model.NormalizedItem, overall float64) model.NormalizedItem {
	it.Confidence.Overall = overall
	return it
}

func enqueueOne(t *testing.T, q *Queue, it model.NormalizedItem) model.ReviewQueueEntry {
	t.Helper()
	entries, err := q.Enqueue(context.Background(), "acme", "", []model.NormalizedItem{it})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestQueue_Enqueue(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	low := withOverall(item("Scanner"), 0.42)
	low.BusinessValue = 8
	entries, err := q.Enqueue(ctx, "acme", "", []model.NormalizedItem{
		withOverall(item("CRM"), 0.95),
		withOverall(item("ERP"), 0.80),
		withOverall(item("HR"), 0.60),
		low,
	})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, model.TierAutoAccept, entries[0].Tier)
	assert.Equal(t, model.TierQuickReview, entries[1].Tier)
	assert.Equal(t, model.TierManualReview, entries[2].Tier)
	assert.Equal(t, model.TierFullEdit, entries[3].Tier)

	assert.Equal(t, 5, entries[0].Priority)
	assert.Equal(t, 6, entries[2].Priority)
	assert.Equal(t, 10, entries[3].Priority)

	for _, e := range entries {
		assert.Equal(t, model.StatusPending, e.Status)
		assert.Equal(t, testNow.Add(48*time.Hour), e.ExpiresAt)
	}

	got, err := q.Get(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "CRM", got.Item.Name)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestQueue_EnqueueTenantMismatch(t *testing.T) {
	q := newTestQueue(t, nil)
	it := item("CRM")
	it.TenantID = "globex"
	_, err := q.Enqueue(context.Background(), "acme", "", []model.NormalizedItem{it})
	assert.Error(t, err)

	_, err = q.Enqueue(context.Background(), "", "", []model.NormalizedItem{item("CRM")})
	assert.Error(t, err)
}

func TestQueue_ApproveOnce(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()
	e := enqueueOne(t, q, item("Copier"))

	approved, err := q.Approve(ctx, e.ID, "pat", "looks right")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	assert.Equal(t, "pat", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)

	_, err = q.Approve(ctx, e.ID, "pat", "")
	require.Error(t, err)
	assert.True(t, resilience.IsInvalidState(err))
}

func TestQueue_StartReviewThenApprove(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()
	e := enqueueOne(t, q, item("Copier"))

	started, err := q.StartReview(ctx, e.ID, "pat")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInReview, started.Status)
	assert.Nil(t, started.ReviewedAt)

	_, err = q.StartReview(ctx, e.ID, "sam")
	assert.True(t, resilience.IsInvalidState(err))

	approved, err := q.Approve(ctx, e.ID, "pat", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
}

func TestQueue_RejectRequiresNotes(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()
	e := enqueueOne(t, q, item("Copier"))

	_, err := q.Reject(ctx, e.ID, "pat", "   ")
	assert.ErrorIs(t, err, ErrNotesRequired)

	got, err := q.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestQueue_TerminalStatesRejectAllMutations(t *testing.T) {
	ctx := context.Background()
	finish := map[string]func(q *Queue, id string) error{
		"approved": func(q *Queue, id string) error { _, err := q.Approve(ctx, id, "pat", ""); return err },
		"rejected": func(q *Queue, id string) error { _, err := q.Reject(ctx, id, "pat", "duplicate"); return err },
		"edited": func(q *Queue, id string) error {
			cat := "Support"
			_, err := q.EditAndApprove(ctx, id, "pat", Edit{Category: &cat}, "")
			return err
		},
	}
	for name, fin := range finish {
		t.Run(name, func(t *testing.T) {
			q := newTestQueue(t, nil)
			e := enqueueOne(t, q, item("Copier"))
			require.NoError(t, fin(q, e.ID))

			for op, again := range finish {
				err := again(q, e.ID)
				assert.True(t, resilience.IsInvalidState(err), "%s after %s", op, name)
			}
			_, err := q.StartReview(ctx, e.ID, "sam")
			assert.True(t, resilience.IsInvalidState(err))
		})
	}
}

func TestQueue_NotFound(t *testing.T) {
	q := newTestQueue(t, nil)
	_, err := q.Approve(context.Background(), "missing", "pat", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueue_ConcurrentApproveSingleWinner(t *testing.T) {
	q := newTestQueue(t, nil)
	e := enqueueOne(t, q, item("Copier"))

	const reviewers = 8
	var wg sync.WaitGroup
	results := make([]error, reviewers)
	for i := range reviewers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = q.Approve(context.Background(), e.ID, "reviewer", "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, resilience.IsInvalidState(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestQueue_EditAndApprove(t *testing.T) {
	l := &mockLearner{}
	q := newTestQueue(t, l)
	ctx := context.Background()
	orig := item("Copier")
	e := enqueueOne(t, q, orig)
	assert.Equal(t, model.TierManualReview, e.Tier)

	l.On("RecordCorrection", mock.Anything, "acme",
		mock.MatchedBy(func(it model.NormalizedItem) bool { return it.Category == "Maintenance" }),
		mock.MatchedBy(func(it model.NormalizedItem) bool { return it.Category == "Support" }),
		model.ContextFor(orig),
		learning.Meta{EntryID: e.ID, Reviewer: "pat"},
	).Return(nil).Once()

	cat := "Support"
	edited, err := q.EditAndApprove(ctx, e.ID, "pat", Edit{Category: &cat}, "vendor handles support")
	require.NoError(t, err)
	l.AssertExpectations(t)

	assert.Equal(t, model.StatusEdited, edited.Status)
	assert.Equal(t, "Support", edited.Item.Category)
	assert.Equal(t, 2, edited.Item.Version)
	assert.InDelta(t, 0.8325, edited.Confidence, 1e-9)
	assert.InDelta(t, edited.Confidence, edited.Item.Confidence.Overall, 1e-12)
	assert.Equal(t, model.TierQuickReview, edited.Tier)
	assert.Contains(t, edited.Item.Confidence.Reasoning, "category confirmed by reviewer")
	assert.Contains(t, edited.Item.Confidence.Reasoning, "category from source")

	require.Len(t, edited.EditHistory, 1)
	rec := edited.EditHistory[0]
	assert.Equal(t, "pat", rec.Reviewer)
	assert.Equal(t, model.StatusPending, rec.PriorStatus)
	assert.Equal(t, "vendor handles support", rec.Notes)
	var prior model.NormalizedItem
	require.NoError(t, json.Unmarshal(rec.PriorData, &prior))
	assert.Equal(t, "Maintenance", prior.Category)
	assert.Equal(t, 1, prior.Version)

	stored, err := q.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Support", stored.Item.Category)
	assert.Len(t, stored.EditHistory, 1)
}

func TestQueue_EditValidation(t *testing.T) {
	q := newTestQueue(t, nil)
	e := enqueueOne(t, q, item("Copier"))

	bad := "gadget"
	_, err := q.EditAndApprove(context.Background(), e.ID, "pat", Edit{Type: &bad}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEdit)

	got, err := q.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestQueue_RejectFeedsLearning(t *testing.T) {
	l := &mockLearner{}
	q := newTestQueue(t, l)
	it := item("Copier")
	it.Metadata.AppliedPatternIDs = []string{"p1"}
	e := enqueueOne(t, q, it)

	l.On("RecordRejection", mock.Anything, "acme", mock.Anything, "not ours", learning.Meta{EntryID: e.ID, Reviewer: "pat"}).Return(nil).Once()
	l.On("Feedback", mock.Anything, "acme", learning.OutcomeRejected, mock.Anything).Return(nil).Once()

	_, err := q.Reject(context.Background(), e.ID, "pat", " not ours ")
	require.NoError(t, err)
	l.AssertExpectations(t)
}

func TestQueue_ApproveWithoutPatternsSkipsFeedback(t *testing.T) {
	l := &mockLearner{}
	q := newTestQueue(t, l)
	e := enqueueOne(t, q, item("Copier"))

	_, err := q.Approve(context.Background(), e.ID, "pat", "")
	require.NoError(t, err)
	l.AssertNotCalled(t, "Feedback", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQueue_BulkApprovePartial(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()
	a := enqueueOne(t, q, item("A"))
	b := enqueueOne(t, q, item("B"))
	c := enqueueOne(t, q, item("C"))
	_, err := q.Reject(ctx, b.ID, "pat", "duplicate")
	require.NoError(t, err)

	n, err := q.BulkApprove(ctx, []string{a.ID, b.ID, c.ID, "missing"}, "pat")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := q.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
}

func TestQueue_ListOrderingAndExpiry(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	q.now = func() time.Time { return testNow.Add(-72 * time.Hour) }
	stale := enqueueOne(t, q, withOverall(item("Stale"), 0.3))

	q.now = func() time.Time { return testNow }
	first := enqueueOne(t, q, withOverall(item("First"), 0.8))
	q.now = func() time.Time { return testNow.Add(time.Minute) }
	urgent := enqueueOne(t, q, withOverall(item("Urgent"), 0.3))
	q.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	second := enqueueOne(t, q, withOverall(item("Second"), 0.8))

	q.now = func() time.Time { return testNow.Add(time.Hour) }
	got, err := q.List(ctx, "acme", Filter{}, 0)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{urgent.ID, first.ID, second.ID}, ids)

	all, err := q.List(ctx, "acme", Filter{IncludeExpired: true}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, stale.ID, all[0].ID)

	tier, err := q.List(ctx, "acme", Filter{Tier: model.TierQuickReview}, 0)
	require.NoError(t, err)
	assert.Len(t, tier, 2)

	limited, err := q.List(ctx, "acme", Filter{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	other, err := q.List(ctx, "globex", Filter{IncludeExpired: true}, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestQueue_SummaryAndDailyStats(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()
	entries, err := q.Enqueue(ctx, "acme", "", []model.NormalizedItem{
		withOverall(item("A"), 0.95),
		withOverall(item("B"), 0.75),
		withOverall(item("C"), 0.55),
	})
	require.NoError(t, err)

	_, err = q.Approve(ctx, entries[0].ID, "pat", "")
	require.NoError(t, err)
	_, err = q.Reject(ctx, entries[2].ID, "pat", "not software")
	require.NoError(t, err)

	sum, err := q.Summary(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.CountsByTier[model.TierQuickReview])
	assert.InDelta(t, 0.75, sum.AvgConfidence, 1e-9)
	require.NotNil(t, sum.OldestPendingAt)

	stats, err := q.DailyStats(ctx, "acme", "")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", stats.Day)
	assert.Equal(t, 3, stats.Enqueued)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.AutoAccepted)
	assert.InDelta(t, 0.75, stats.AvgConfidence, 1e-9)

	_, err = q.DailyStats(ctx, "acme", "March 2")
	assert.Error(t, err)
}

func TestQueue_LearningLoop(t *testing.T) {
	st := newTestStore(t)
	engine := learning.New(st, learning.Config{})
	q := New(st, engine, config.ReviewConfig{})
	ctx := context.Background()

	for i := range 3 {
		e := enqueueOne(t, q, item("Printer upkeep "+string(rune('A'+i))))
		cat := "Support"
		_, err := q.EditAndApprove(ctx, e.ID, "pat", Edit{Category: &cat}, "")
		require.NoError(t, err)
	}

	patterns, err := engine.ListPatterns(ctx, "acme", false)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 3, patterns[0].SupportCount)

	adjusted, fired := engine.Apply(ctx, "acme", item("Copier service"))
	require.Len(t, fired, 1)
	assert.Equal(t, "Support", adjusted.Category)

	e := enqueueOne(t, q, adjusted)
	_, err = q.Approve(ctx, e.ID, "pat", "")
	require.NoError(t, err)

	patterns, err = engine.ListPatterns(ctx, "acme", false)
	require.NoError(t, err)
	assert.Equal(t, 4, patterns[0].SupportCount)
}
