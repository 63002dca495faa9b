package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/store"
)

const runPageSize = 1000

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal         int     `json:"runs_total"`
	RunsComplete      int     `json:"runs_complete"`
	RunsFailed        int     `json:"runs_failed"`
	RunsInFlight      int     `json:"runs_in_flight"`
	RunFailRate       float64 `json:"run_fail_rate"`
	CostUSD           float64 `json:"cost_usd"`
	ItemsQueued       int     `json:"items_queued"`
	DuplicatesRemoved int     `json:"duplicates_removed"`
	PartialChunks     int     `json:"partial_chunks"`

	// Review backlog across tenants active in the window.
	Tenants         []string   `json:"tenants"`
	ReviewBacklog   int        `json:"review_backlog"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the slice of the store the collector reads.
type Source interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.IngestionRun, error)
	QueueSummary(ctx context.Context, tenantID string, now time.Time) (*model.QueueSummary, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runsSince(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, err
	}

	tenants := make(map[string]struct{})
	snap.RunsTotal = len(runs)
	for _, r := range runs {
		tenants[r.TenantID] = struct{}{}
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsInFlight++
		}
		if r.Result != nil {
			snap.CostUSD += r.Result.CostUSD
			snap.ItemsQueued += r.Result.QueuedCount
			snap.DuplicatesRemoved += r.Result.DuplicatesRemoved
			snap.PartialChunks += r.Result.ChunksPartial
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	for id := range tenants {
		snap.Tenants = append(snap.Tenants, id)
	}
	sort.Strings(snap.Tenants)

	for _, id := range snap.Tenants {
		sum, err := c.src.QueueSummary(ctx, id, now)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: queue summary for %s", id)
		}
		snap.ReviewBacklog += sum.Total
		if sum.OldestPendingAt != nil && (snap.OldestPendingAt == nil || sum.OldestPendingAt.Before(*snap.OldestPendingAt)) {
			t := *sum.OldestPendingAt
			snap.OldestPendingAt = &t
		}
	}

	return snap, nil
}

// runsSince pages newest-first through runs until one predates cutoff.
func (c *Collector) runsSince(ctx context.Context, cutoff time.Time) ([]model.IngestionRun, error) {
	var out []model.IngestionRun
	for offset := 0; ; offset += runPageSize {
		page, err := c.src.ListRuns(ctx, store.RunFilter{Limit: runPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}
		for _, r := range page {
			if r.CreatedAt.Before(cutoff) {
				return out, nil
			}
			out = append(out, r)
		}
		if len(page) < runPageSize {
			return out, nil
		}
	}
}
