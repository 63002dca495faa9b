package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, file_name, status, result, error, created_at, updated_at FROM ingestion_runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingestion_runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "r-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "r-1", model.RunStatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCacheEntry_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM extraction_cache`).
		WithArgs("acme:abc").
		WillReturnError(pgx.ErrNoRows)

	data, err := s.GetCacheEntry(context.Background(), "acme:abc")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCacheEntry_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(cache_key\)`).
		WithArgs("acme:abc", []byte(`[]`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetCacheEntry(context.Background(), "acme:abc", []byte(`[]`), time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEntries_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	entries := []model.ReviewQueueEntry{
		{ID: "e1", TenantID: "acme", Confidence: 0.8, Tier: model.TierQuickReview, Priority: 5, Status: model.StatusPending, CreatedAt: now, UpdatedAt: now, ExpiresAt: now},
		{ID: "e2", TenantID: "acme", Confidence: 0.4, Tier: model.TierFullEdit, Priority: 8, Status: model.StatusPending, CreatedAt: now, UpdatedAt: now, ExpiresAt: now},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"review_queue"}, reviewColumnList).
		WillReturnResult(2)

	require.NoError(t, s.InsertEntries(context.Background(), entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertEntries_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.InsertEntries(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompareAndSetStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	e := &model.ReviewQueueEntry{ID: "e1", Status: model.StatusApproved, Tier: model.TierQuickReview, UpdatedAt: time.Now()}

	mock.ExpectExec(`(?s)UPDATE review_queue\s+SET status = \$1.*WHERE id = \$11 AND status = \$12`).
		WithArgs("approved", pgxmock.AnyArg(), pgxmock.AnyArg(), "quick_review", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"e1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.CompareAndSetStatus(context.Background(), e, model.StatusPending)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPattern_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM learned_patterns WHERE tenant_id = \$1 AND field = \$2 AND signature = \$3`).
		WithArgs("acme", "category", "category=crm|format=|vendor=").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetPattern(context.Background(), "acme", "category", "category=crm|format=|vendor=")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReinforcePattern(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE learned_patterns\s+SET confidence = LEAST`).
		WithArgs(0.9, 0.1, 1, "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.ReinforcePattern(context.Background(), "p1", 0.9, 0.1, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM extraction_cache WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteExpiredCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DailyStats_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM review_statistics WHERE tenant_id = \$1 AND day = \$2::date`).
		WithArgs("acme", "2026-05-04").
		WillReturnError(pgx.ErrNoRows)

	st, err := s.DailyStats(context.Background(), "acme", "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, "2026-05-04", st.Day)
	assert.Zero(t, st.Enqueued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ingestion_runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
