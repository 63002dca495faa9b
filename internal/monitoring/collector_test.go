package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/store"
)

// fakeSource serves runs newest-first the way the stores do.
type fakeSource struct {
	runs       []model.IngestionRun
	summaries  map[string]*model.QueueSummary
	listErr    error
	summaryErr error
	listCalls  int
}

func (f *fakeSource) ListRuns(_ context.Context, filter store.RunFilter) ([]model.IngestionRun, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if filter.Offset >= len(f.runs) {
		return nil, nil
	}
	end := min(filter.Offset+filter.Limit, len(f.runs))
	return f.runs[filter.Offset:end], nil
}

func (f *fakeSource) QueueSummary(_ context.Context, tenantID string, _ time.Time) (*model.QueueSummary, error) {
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	if s, ok := f.summaries[tenantID]; ok {
		return s, nil
	}
	return &model.QueueSummary{TenantID: tenantID}, nil
}

func fixedCollector(src Source, now time.Time) *Collector {
	c := NewCollector(src)
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	oldestAcme := now.Add(-30 * time.Hour)
	oldestGlobex := now.Add(-50 * time.Hour)

	src := &fakeSource{
		runs: []model.IngestionRun{
			{ID: "r1", TenantID: "acme", Status: model.RunStatusComplete, CreatedAt: now.Add(-1 * time.Hour),
				Result: &model.RunResult{CostUSD: 1.25, QueuedCount: 10, DuplicatesRemoved: 2, ChunksPartial: 1}},
			{ID: "r2", TenantID: "globex", Status: model.RunStatusFailed, CreatedAt: now.Add(-2 * time.Hour)},
			{ID: "r3", TenantID: "acme", Status: model.RunStatusExtracting, CreatedAt: now.Add(-3 * time.Hour)},
			{ID: "r4", TenantID: "acme", Status: model.RunStatusComplete, CreatedAt: now.Add(-4 * time.Hour),
				Result: &model.RunResult{CostUSD: 0.75, QueuedCount: 5}},
			// Outside the window.
			{ID: "r5", TenantID: "initech", Status: model.RunStatusFailed, CreatedAt: now.Add(-48 * time.Hour)},
		},
		summaries: map[string]*model.QueueSummary{
			"acme":   {TenantID: "acme", Total: 12, OldestPendingAt: &oldestAcme},
			"globex": {TenantID: "globex", Total: 3, OldestPendingAt: &oldestGlobex},
		},
	}

	snap, err := fixedCollector(src, now).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsInFlight)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 0.001)
	assert.InDelta(t, 2.0, snap.CostUSD, 0.001)
	assert.Equal(t, 15, snap.ItemsQueued)
	assert.Equal(t, 2, snap.DuplicatesRemoved)
	assert.Equal(t, 1, snap.PartialChunks)

	assert.Equal(t, []string{"acme", "globex"}, snap.Tenants)
	assert.Equal(t, 15, snap.ReviewBacklog)
	require.NotNil(t, snap.OldestPendingAt)
	assert.Equal(t, oldestGlobex, *snap.OldestPendingAt)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeSource{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Empty(t, snap.Tenants)
	assert.Nil(t, snap.OldestPendingAt)
}

func TestCollector_Collect_Pages(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	runs := make([]model.IngestionRun, runPageSize+10)
	for i := range runs {
		runs[i] = model.IngestionRun{
			TenantID:  "acme",
			Status:    model.RunStatusComplete,
			CreatedAt: now.Add(-time.Duration(i) * time.Second),
		}
	}
	src := &fakeSource{runs: runs}

	snap, err := fixedCollector(src, now).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, runPageSize+10, snap.RunsTotal)
	assert.Equal(t, 2, src.listCalls)
}

func TestCollector_Collect_ListError(t *testing.T) {
	src := &fakeSource{listErr: errors.New("db down")}

	_, err := NewCollector(src).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}

func TestCollector_Collect_SummaryError(t *testing.T) {
	src := &fakeSource{
		runs:       []model.IngestionRun{{TenantID: "acme", Status: model.RunStatusComplete, CreatedAt: time.Now()}},
		summaryErr: errors.New("db down"),
	}

	_, err := NewCollector(src).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue summary for acme")
}
