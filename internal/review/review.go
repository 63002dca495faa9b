// Package review implements the human-in-the-loop review queue: tiered
// enqueueing, guarded status transitions and feedback into pattern learning.
package review

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/learning"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/store"
)

const (
	defaultExpiry = 14 * 24 * time.Hour
	defaultLimit  = 50
)

// ErrNotesRequired is returned when a rejection carries no notes.
var ErrNotesRequired = eris.New("review: rejection notes are required")

// Learner receives review decisions. *learning.Engine implements it.
type Learner interface {
	RecordCorrection(ctx context.Context, tenantID string, original, corrected model.NormalizedItem, cc model.CorrectionContext, meta learning.Meta) ([]model.Correction, error)
	RecordRejection(ctx context.Context, tenantID string, item model.NormalizedItem, notes string, meta learning.Meta) error
	Feedback(ctx context.Context, tenantID string, outcome learning.Outcome, final model.NormalizedItem) error
}

// Filter narrows a queue listing.
type Filter struct {
	Tier           model.ReviewTier
	Status         model.ReviewStatus
	IncludeExpired bool
	Offset         int
}

// Queue is the review queue service. Every mutation checks the transition
// table and then writes with a compare-and-set on the prior status, so two
// reviewers racing on one entry produce exactly one winner.
type Queue struct {
	store   store.ReviewStore
	learner Learner
	expiry  time.Duration
	limit   int
	now     func() time.Time
}

// New creates a Queue. learner may be nil.
func New(st store.ReviewStore, learner Learner, cfg config.ReviewConfig) *Queue {
	expiry := time.Duration(cfg.ExpiryHours) * time.Hour
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Queue{store: st, learner: learner, expiry: expiry, limit: limit, now: time.Now}
}

// Enqueue creates one pending entry per item with tier and priority derived
// from the item's confidence, value and alignment.
func (q *Queue) Enqueue(ctx context.Context, tenantID, runID string, items []model.NormalizedItem) ([]model.ReviewQueueEntry, error) {
	if tenantID == "" {
		return nil, eris.New("review: tenant id is required")
	}
	if len(items) == 0 {
		return nil, nil
	}
	now := q.now().UTC()
	entries := make([]model.ReviewQueueEntry, 0, len(items))
	for _, item := range items {
		if item.TenantID == "" {
			item.TenantID = tenantID
		}
		if item.TenantID != tenantID {
			return nil, eris.Errorf("review: item %s belongs to tenant %s", item.ID, item.TenantID)
		}
		overall := item.Confidence.Overall
		entries = append(entries, model.ReviewQueueEntry{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			RunID:      runID,
			Item:       item,
			Confidence: overall,
			Tier:       model.TierForConfidence(overall),
			Priority:   model.PriorityFor(overall, item.BusinessValue, item.StrategicAlignment),
			Status:     model.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
			ExpiresAt:  now.Add(q.expiry),
		})
	}
	if err := q.store.InsertEntries(ctx, entries); err != nil {
		return nil, eris.Wrap(err, "review: enqueue")
	}
	zap.L().Info("review: entries enqueued",
		zap.String("tenant_id", tenantID),
		zap.String("run_id", runID),
		zap.Int("count", len(entries)),
	)
	return entries, nil
}

// Get returns one entry.
func (q *Queue) Get(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	e, err := q.store.GetEntry(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: get entry %s", id)
	}
	return e, nil
}

// StartReview claims a pending entry for a reviewer.
func (q *Queue) StartReview(ctx context.Context, id, reviewer string) (*model.ReviewQueueEntry, error) {
	return q.transition(ctx, id, model.StatusInReview, func(e *model.ReviewQueueEntry) error {
		e.ReviewedBy = reviewer
		return nil
	})
}

// Approve accepts an entry as is. Patterns that fired on the item are
// reinforced.
func (q *Queue) Approve(ctx context.Context, id, reviewer, notes string) (*model.ReviewQueueEntry, error) {
	e, err := q.transition(ctx, id, model.StatusApproved, func(e *model.ReviewQueueEntry) error {
		e.ReviewedBy = reviewer
		e.ReviewNotes = strings.TrimSpace(notes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if q.learner != nil && len(e.Item.Metadata.AppliedPatternIDs) > 0 {
		q.learn(e, "feedback", q.learner.Feedback(ctx, e.TenantID, learning.OutcomeApproved, e.Item))
	}
	return e, nil
}

// Reject declines an entry. Notes are required and recorded for learning.
func (q *Queue) Reject(ctx context.Context, id, reviewer, notes string) (*model.ReviewQueueEntry, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, ErrNotesRequired
	}
	e, err := q.transition(ctx, id, model.StatusRejected, func(e *model.ReviewQueueEntry) error {
		e.ReviewedBy = reviewer
		e.ReviewNotes = notes
		return nil
	})
	if err != nil {
		return nil, err
	}
	if q.learner != nil {
		meta := learning.Meta{EntryID: e.ID, Reviewer: reviewer}
		q.learn(e, "rejection", q.learner.RecordRejection(ctx, e.TenantID, e.Item, notes, meta))
		if len(e.Item.Metadata.AppliedPatternIDs) > 0 {
			q.learn(e, "feedback", q.learner.Feedback(ctx, e.TenantID, learning.OutcomeRejected, e.Item))
		}
	}
	return e, nil
}

// EditAndApprove applies a reviewer's edit, rescoring the item and keeping
// the prior version in the entry's edit history.
func (q *Queue) EditAndApprove(ctx context.Context, id, reviewer string, edit Edit, notes string) (*model.ReviewQueueEntry, error) {
	if err := edit.Validate(); err != nil {
		return nil, err
	}
	var prior model.NormalizedItem
	e, err := q.transition(ctx, id, model.StatusEdited, func(e *model.ReviewQueueEntry) error {
		prior = e.Item.Clone()
		priorJSON, err := json.Marshal(e.Item)
		if err != nil {
			return eris.Wrap(err, "review: marshal prior item")
		}
		e.EditHistory = append(e.EditHistory, model.EditRecord{
			Timestamp:   q.now().UTC(),
			Reviewer:    reviewer,
			PriorData:   priorJSON,
			PriorStatus: e.Status,
			Notes:       strings.TrimSpace(notes),
		})
		e.Item = edit.apply(e.Item)
		e.Confidence = e.Item.Confidence.Overall
		e.Tier = model.TierForConfidence(e.Confidence)
		e.Priority = model.PriorityFor(e.Confidence, e.Item.BusinessValue, e.Item.StrategicAlignment)
		e.ReviewedBy = reviewer
		e.ReviewNotes = strings.TrimSpace(notes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if q.learner != nil {
		meta := learning.Meta{EntryID: e.ID, Reviewer: reviewer}
		_, lerr := q.learner.RecordCorrection(ctx, e.TenantID, prior, e.Item, model.ContextFor(prior), meta)
		q.learn(e, "correction", lerr)
		if len(e.Item.Metadata.AppliedPatternIDs) > 0 {
			q.learn(e, "feedback", q.learner.Feedback(ctx, e.TenantID, learning.OutcomeEdited, e.Item))
		}
	}
	return e, nil
}

// BulkApprove approves each entry independently and returns how many
// transitioned. Entries in the wrong state or missing are skipped; the first
// other failure is returned alongside the count.
func (q *Queue) BulkApprove(ctx context.Context, ids []string, reviewer string) (int, error) {
	var n int
	var firstErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, eris.Wrap(err, "review: bulk approve")
		}
		_, err := q.Approve(ctx, id, reviewer, "")
		switch {
		case err == nil:
			n++
		case resilience.IsInvalidState(err) || eris.Is(err, store.ErrNotFound):
			zap.L().Debug("review: bulk approve skipped entry", zap.String("id", id), zap.Error(err))
		case firstErr == nil:
			firstErr = err
		}
	}
	zap.L().Info("review: bulk approve",
		zap.Int("requested", len(ids)),
		zap.Int("approved", n),
	)
	return n, firstErr
}

// List returns a tenant's entries by priority desc, created_at asc. Expired
// pending entries are hidden unless requested.
func (q *Queue) List(ctx context.Context, tenantID string, f Filter, limit int) ([]model.ReviewQueueEntry, error) {
	if limit <= 0 {
		limit = q.limit
	}
	entries, err := q.store.ListEntries(ctx, store.ReviewFilter{
		TenantID:       tenantID,
		Tier:           f.Tier,
		Status:         f.Status,
		IncludeExpired: f.IncludeExpired,
		Now:            q.now(),
		Limit:          limit,
		Offset:         f.Offset,
	})
	if err != nil {
		return nil, eris.Wrap(err, "review: list")
	}
	return entries, nil
}

// Summary aggregates the tenant's open entries.
func (q *Queue) Summary(ctx context.Context, tenantID string) (*model.QueueSummary, error) {
	s, err := q.store.QueueSummary(ctx, tenantID, q.now())
	if err != nil {
		return nil, eris.Wrap(err, "review: summary")
	}
	return s, nil
}

// DailyStats returns the tenant's counters for a UTC day (YYYY-MM-DD).
// An empty day means today.
func (q *Queue) DailyStats(ctx context.Context, tenantID, day string) (*model.ReviewStatistics, error) {
	if day == "" {
		day = q.now().UTC().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return nil, eris.Wrapf(err, "review: invalid day %q", day)
	}
	st, err := q.store.DailyStats(ctx, tenantID, day)
	if err != nil {
		return nil, eris.Wrap(err, "review: daily stats")
	}
	return st, nil
}

// transition loads an entry, checks from → to, applies mutate to a copy and
// writes it only if the stored status is unchanged.
func (q *Queue) transition(ctx context.Context, id string, to model.ReviewStatus, mutate func(*model.ReviewQueueEntry) error) (*model.ReviewQueueEntry, error) {
	cur, err := q.store.GetEntry(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: get entry %s", id)
	}
	from := cur.Status
	if !model.CanTransition(from, to) {
		return nil, resilience.NewInvalidStateError(id, string(from), string(to))
	}

	next := *cur
	next.Item = cur.Item.Clone()
	next.EditHistory = append([]model.EditRecord(nil), cur.EditHistory...)
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return nil, err
		}
	}
	now := q.now().UTC()
	next.Status = to
	next.UpdatedAt = now
	if to.IsTerminal() {
		next.ReviewedAt = &now
	}

	ok, err := q.store.CompareAndSetStatus(ctx, &next, from)
	if err != nil {
		return nil, eris.Wrapf(err, "review: update entry %s", id)
	}
	if !ok {
		return nil, resilience.NewInvalidStateError(id, string(from), string(to))
	}
	zap.L().Debug("review: entry transitioned",
		zap.String("id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return &next, nil
}

// learn logs a feedback failure. The review decision is already stored.
func (q *Queue) learn(e *model.ReviewQueueEntry, kind string, err error) {
	if err == nil {
		return
	}
	zap.L().Warn("review: learning feedback failed",
		zap.String("id", e.ID),
		zap.String("tenant_id", e.TenantID),
		zap.String("kind", kind),
		zap.Error(err),
	)
}
