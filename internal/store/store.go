// Package store persists ingestion runs, the persistent cache tier, the review
// queue, corrections and learned patterns. SQLite and Postgres backends share
// one interface.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	TenantID string          `json:"tenant_id,omitempty"`
	Status   model.RunStatus `json:"status,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// ReviewFilter specifies criteria for listing review queue entries.
type ReviewFilter struct {
	TenantID string             `json:"tenant_id"`
	Tier     model.ReviewTier   `json:"tier,omitempty"`
	Status   model.ReviewStatus `json:"status,omitempty"`
	// IncludeExpired returns pending entries whose expiry has passed.
	IncludeExpired bool      `json:"include_expired,omitempty"`
	Now            time.Time `json:"-"`
	Limit          int       `json:"limit,omitempty"`
	Offset         int       `json:"offset,omitempty"`
}

// RunStore tracks ingestion runs and their phases.
type RunStore interface {
	CreateRun(ctx context.Context, tenantID, fileName string) (*model.IngestionRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*model.IngestionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error)
	FailStaleRuns(ctx context.Context, olderThan time.Time) (int, error)

	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
}

// CacheStore is the persistent (L2) tier of the extraction cache. Writes are
// idempotent upserts keyed by the tenant-scoped fingerprint.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, key string) ([]byte, error)
	SetCacheEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteExpiredCache(ctx context.Context) (int, error)
}

// ReviewStore persists review queue entries.
type ReviewStore interface {
	InsertEntries(ctx context.Context, entries []model.ReviewQueueEntry) error
	GetEntry(ctx context.Context, id string) (*model.ReviewQueueEntry, error)
	// CompareAndSetStatus writes entry only if the stored status still equals
	// expected. It reports false when another writer got there first.
	CompareAndSetStatus(ctx context.Context, entry *model.ReviewQueueEntry, expected model.ReviewStatus) (bool, error)
	ListEntries(ctx context.Context, filter ReviewFilter) ([]model.ReviewQueueEntry, error)
	QueueSummary(ctx context.Context, tenantID string, now time.Time) (*model.QueueSummary, error)
	DailyStats(ctx context.Context, tenantID, day string) (*model.ReviewStatistics, error)
}

// CorrectionStore persists reviewer corrections.
type CorrectionStore interface {
	InsertCorrection(ctx context.Context, c model.Correction) error
	ListCorrections(ctx context.Context, tenantID, field, signature string) ([]model.Correction, error)
}

// PatternStore persists learned patterns.
type PatternStore interface {
	GetPattern(ctx context.Context, tenantID, field, signature string) (*model.LearnedPattern, error)
	GetPatternByID(ctx context.Context, id string) (*model.LearnedPattern, error)
	UpsertPattern(ctx context.Context, p model.LearnedPattern) error
	// ReinforcePattern applies new = old*decay + boost and adds supportDelta
	// in a single statement.
	ReinforcePattern(ctx context.Context, id string, decay, boost float64, supportDelta int) error
	ListPatterns(ctx context.Context, tenantID string) ([]model.LearnedPattern, error)
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	RunStore
	CacheStore
	ReviewStore
	CorrectionStore
	PatternStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// summaryRow is one GROUP BY bucket of the review queue.
type summaryRow struct {
	Tier          model.ReviewTier
	Status        model.ReviewStatus
	Expired       bool
	Count         int
	SumConfidence float64
	OldestCreated time.Time
}

// foldSummary reduces grouped rows into a QueueSummary. Open entries are
// pending or in_review, excluding expired pending ones.
func foldSummary(tenantID string, rows []summaryRow) *model.QueueSummary {
	sum := &model.QueueSummary{
		TenantID:       tenantID,
		CountsByTier:   make(map[model.ReviewTier]int),
		CountsByStatus: make(map[model.ReviewStatus]int),
	}
	var confSum float64
	for _, r := range rows {
		sum.CountsByStatus[r.Status] += r.Count
		open := r.Status == model.StatusInReview || (r.Status == model.StatusPending && !r.Expired)
		if !open {
			continue
		}
		sum.Total += r.Count
		sum.CountsByTier[r.Tier] += r.Count
		confSum += r.SumConfidence
		if r.Status == model.StatusPending && !r.OldestCreated.IsZero() {
			if sum.OldestPendingAt == nil || r.OldestCreated.Before(*sum.OldestPendingAt) {
				t := r.OldestCreated
				sum.OldestPendingAt = &t
			}
		}
	}
	if sum.Total > 0 {
		sum.AvgConfidence = confSum / float64(sum.Total)
	}
	return sum
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
