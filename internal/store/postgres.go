package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/db"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the review workflow.
var preparedStatements = map[string]string{
	"get_entry":         `SELECT ` + reviewColumns + ` FROM review_queue WHERE id = $1`,
	"get_cache_entry":   `SELECT value FROM extraction_cache WHERE cache_key = $1 AND expires_at > now()`,
	"set_cache_entry":   pgSetCacheSQL,
	"cas_entry":         pgCASSQL,
	"list_corrections":  pgListCorrectionsSQL,
	"get_pattern":       `SELECT ` + patternColumns + ` FROM learned_patterns WHERE tenant_id = $1 AND field = $2 AND signature = $3`,
	"reinforce_pattern": pgReinforceSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id  TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingestion_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES ingestion_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	cache_key  TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	run_id       TEXT,
	item         JSONB NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	tier         TEXT NOT NULL,
	priority     INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	reviewed_by  TEXT,
	review_notes TEXT,
	edit_history JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	reviewed_at  TIMESTAMPTZ,
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS review_statistics (
	tenant_id      TEXT NOT NULL,
	day            DATE NOT NULL,
	enqueued       INTEGER NOT NULL DEFAULT 0,
	approved       INTEGER NOT NULL DEFAULT 0,
	rejected       INTEGER NOT NULL DEFAULT 0,
	edited         INTEGER NOT NULL DEFAULT 0,
	auto_accepted  INTEGER NOT NULL DEFAULT 0,
	sum_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, day)
);

CREATE OR REPLACE FUNCTION review_queue_stats() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'INSERT' THEN
		INSERT INTO review_statistics (tenant_id, day, enqueued, auto_accepted, sum_confidence)
		VALUES (NEW.tenant_id, (NEW.created_at AT TIME ZONE 'UTC')::date, 1,
		        CASE WHEN NEW.tier = 'auto_accept' THEN 1 ELSE 0 END, NEW.confidence)
		ON CONFLICT (tenant_id, day) DO UPDATE SET
			enqueued = review_statistics.enqueued + 1,
			auto_accepted = review_statistics.auto_accepted + EXCLUDED.auto_accepted,
			sum_confidence = review_statistics.sum_confidence + EXCLUDED.sum_confidence;
	ELSIF OLD.status <> NEW.status AND NEW.status IN ('approved', 'rejected', 'edited') THEN
		INSERT INTO review_statistics (tenant_id, day, approved, rejected, edited)
		VALUES (NEW.tenant_id, (NEW.updated_at AT TIME ZONE 'UTC')::date,
		        CASE WHEN NEW.status = 'approved' THEN 1 ELSE 0 END,
		        CASE WHEN NEW.status = 'rejected' THEN 1 ELSE 0 END,
		        CASE WHEN NEW.status = 'edited' THEN 1 ELSE 0 END)
		ON CONFLICT (tenant_id, day) DO UPDATE SET
			approved = review_statistics.approved + EXCLUDED.approved,
			rejected = review_statistics.rejected + EXCLUDED.rejected,
			edited = review_statistics.edited + EXCLUDED.edited;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_review_queue_stats ON review_queue;
CREATE TRIGGER trg_review_queue_stats
	AFTER INSERT OR UPDATE OF status ON review_queue
	FOR EACH ROW EXECUTE FUNCTION review_queue_stats();

CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	entry_id        TEXT,
	item_id         TEXT NOT NULL,
	field           TEXT NOT NULL,
	original_value  TEXT NOT NULL,
	corrected_value TEXT NOT NULL,
	context         JSONB NOT NULL,
	signature       TEXT NOT NULL,
	reviewer        TEXT,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_patterns (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	field         TEXT NOT NULL,
	signature     TEXT NOT NULL,
	conditions    JSONB NOT NULL,
	adjustment    JSONB NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	support_count INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, field, signature)
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_tenant ON ingestion_runs(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ingestion_phases_run_id ON ingestion_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_extraction_cache_expires_at ON extraction_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_review_queue_listing ON review_queue(tenant_id, status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_corrections_signature ON corrections(tenant_id, field, signature);
`

const (
	pgSetCacheSQL = `INSERT INTO extraction_cache (cache_key, value, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET value = $2, cached_at = $3, expires_at = $4`

	pgCASSQL = `UPDATE review_queue
		 SET status = $1, item = $2, confidence = $3, tier = $4, priority = $5, reviewed_by = $6,
		     review_notes = $7, edit_history = $8, updated_at = $9, reviewed_at = $10
		 WHERE id = $11 AND status = $12`

	pgListCorrectionsSQL = `SELECT id, tenant_id, entry_id, item_id, field, original_value, corrected_value, context, signature, reviewer, created_at
		 FROM corrections WHERE tenant_id = $1 AND field = $2 AND signature = $3
		 ORDER BY created_at ASC, id ASC`

	pgReinforceSQL = `UPDATE learned_patterns
		 SET confidence = LEAST(1.0, GREATEST(0.0, confidence * $1 + $2)), support_count = support_count + $3, updated_at = now()
		 WHERE id = $4`
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, tenantID, fileName string) (*model.IngestionRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, tenant_id, file_name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, tenantID, fileName, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.IngestionRun{
		ID:        id,
		TenantID:  tenantID,
		FileName:  fileName,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, file_name, status, result, error, created_at, updated_at FROM ingestion_runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT id, tenant_id, file_name, status, result, error, created_at, updated_at FROM ingestion_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) FailStaleRuns(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, error = $2, updated_at = now()
		 WHERE status NOT IN ($3, $4) AND updated_at < $5`,
		string(model.RunStatusFailed), "stale: no progress",
		string(model.RunStatusComplete), string(model.RunStatusFailed), olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale runs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "phase %s", phaseID)
	}
	return nil
}

// --- Extraction cache ---

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM extraction_cache WHERE cache_key = $1 AND expires_at > now()`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	return value, nil
}

func (s *PostgresStore) SetCacheEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, pgSetCacheSQL, key, value, now, now.Add(ttl))
	return eris.Wrap(err, "postgres: set cache entry")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extraction_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

// --- Review queue ---

// InsertEntries bulk-loads entries with COPY. Per-row triggers still fire.
func (s *PostgresStore) InsertEntries(ctx context.Context, entries []model.ReviewQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		itemJSON, err := json.Marshal(e.Item)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal item")
		}
		historyJSON, err := json.Marshal(nonNilHistory(e.EditHistory))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal edit history")
		}
		rows = append(rows, []any{
			e.ID, e.TenantID, pgText(e.RunID), itemJSON, e.Confidence, string(e.Tier), e.Priority,
			string(e.Status), pgText(e.ReviewedBy), pgText(e.ReviewNotes), historyJSON,
			e.CreatedAt, e.UpdatedAt, e.ReviewedAt, e.ExpiresAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "review_queue", reviewColumnList, rows)
	return eris.Wrap(err, "postgres: insert entries")
}

var reviewColumnList = []string{
	"id", "tenant_id", "run_id", "item", "confidence", "tier", "priority", "status",
	"reviewed_by", "review_notes", "edit_history", "created_at", "updated_at", "reviewed_at", "expires_at",
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM review_queue WHERE id = $1`, id)
	e, err := scanPostgresEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: entry %s", id)
	}
	return e, err
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, entry *model.ReviewQueueEntry, expected model.ReviewStatus) (bool, error) {
	itemJSON, err := json.Marshal(entry.Item)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal item")
	}
	historyJSON, err := json.Marshal(nonNilHistory(entry.EditHistory))
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal edit history")
	}

	tag, err := s.pool.Exec(ctx, pgCASSQL,
		string(entry.Status), itemJSON, entry.Confidence, string(entry.Tier), entry.Priority,
		pgText(entry.ReviewedBy), pgText(entry.ReviewNotes), historyJSON,
		entry.UpdatedAt, entry.ReviewedAt,
		entry.ID, string(expected),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: compare and set %s", entry.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, filter ReviewFilter) ([]model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE tenant_id = $1`
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.Tier != "" {
		query += fmt.Sprintf(` AND tier = $%d`, argIdx)
		args = append(args, string(filter.Tier))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.IncludeExpired {
		query += fmt.Sprintf(` AND NOT (status = 'pending' AND expires_at <= $%d)`, argIdx)
		args = append(args, nowOr(filter.Now))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY priority DESC, created_at ASC, id ASC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()

	var out []model.ReviewQueueEntry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entries iterate")
}

func (s *PostgresStore) QueueSummary(ctx context.Context, tenantID string, now time.Time) (*model.QueueSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tier, status, (status = 'pending' AND expires_at <= $1) AS expired,
		        COUNT(*), COALESCE(SUM(confidence), 0), MIN(created_at)
		 FROM review_queue WHERE tenant_id = $2
		 GROUP BY tier, status, expired`,
		nowOr(now), tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue summary")
	}
	defer rows.Close()

	var buckets []summaryRow
	for rows.Next() {
		var r summaryRow
		if err := rows.Scan(&r.Tier, &r.Status, &r.Expired, &r.Count, &r.SumConfidence, &r.OldestCreated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		buckets = append(buckets, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: queue summary iterate")
	}
	return foldSummary(tenantID, buckets), nil
}

func (s *PostgresStore) DailyStats(ctx context.Context, tenantID, day string) (*model.ReviewStatistics, error) {
	st := &model.ReviewStatistics{TenantID: tenantID, Day: day}
	var sumConf float64
	err := s.pool.QueryRow(ctx,
		`SELECT enqueued, approved, rejected, edited, auto_accepted, sum_confidence
		 FROM review_statistics WHERE tenant_id = $1 AND day = $2::date`,
		tenantID, day,
	).Scan(&st.Enqueued, &st.Approved, &st.Rejected, &st.Edited, &st.AutoAccepted, &sumConf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return st, nil
		}
		return nil, eris.Wrap(err, "postgres: daily stats")
	}
	if st.Enqueued > 0 {
		st.AvgConfidence = sumConf / float64(st.Enqueued)
	}
	return st, nil
}

// --- Corrections ---

func (s *PostgresStore) InsertCorrection(ctx context.Context, c model.Correction) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal correction context")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO corrections (id, tenant_id, entry_id, item_id, field, original_value, corrected_value, context, signature, reviewer, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.TenantID, pgText(c.EntryID), c.ItemID, c.Field, c.OriginalValue, c.CorrectedValue,
		ctxJSON, c.Signature, pgText(c.Reviewer), c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert correction")
}

func (s *PostgresStore) ListCorrections(ctx context.Context, tenantID, field, signature string) ([]model.Correction, error) {
	rows, err := s.pool.Query(ctx, pgListCorrectionsSQL, tenantID, field, signature)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var entryID, reviewer *string
		var ctxJSON []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &entryID, &c.ItemID, &c.Field, &c.OriginalValue,
			&c.CorrectedValue, &ctxJSON, &c.Signature, &reviewer, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		c.EntryID = deref(entryID)
		c.Reviewer = deref(reviewer)
		if err := json.Unmarshal(ctxJSON, &c.Context); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal correction context")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

// --- Learned patterns ---

func (s *PostgresStore) GetPattern(ctx context.Context, tenantID, field, signature string) (*model.LearnedPattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM learned_patterns WHERE tenant_id = $1 AND field = $2 AND signature = $3`,
		tenantID, field, signature,
	)
	p, err := scanPostgresPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) GetPatternByID(ctx context.Context, id string) (*model.LearnedPattern, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM learned_patterns WHERE id = $1`, id)
	p, err := scanPostgresPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: pattern %s", id)
	}
	return p, err
}

func (s *PostgresStore) UpsertPattern(ctx context.Context, p model.LearnedPattern) error {
	condJSON, err := json.Marshal(p.Conditions)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal conditions")
	}
	adjJSON, err := json.Marshal(p.Adjustment)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal adjustment")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO learned_patterns (`+patternColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (tenant_id, field, signature) DO UPDATE SET
		   conditions = $5, adjustment = $6, confidence = $7, support_count = $8, updated_at = $10`,
		p.ID, p.TenantID, p.Field, p.Signature, condJSON, adjJSON,
		p.Confidence, p.SupportCount, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert pattern")
}

func (s *PostgresStore) ReinforcePattern(ctx context.Context, id string, decay, boost float64, supportDelta int) error {
	tag, err := s.pool.Exec(ctx, pgReinforceSQL, decay, boost, supportDelta, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: reinforce pattern %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "pattern %s", id)
	}
	return nil
}

func (s *PostgresStore) ListPatterns(ctx context.Context, tenantID string) ([]model.LearnedPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patternColumns+` FROM learned_patterns WHERE tenant_id = $1 ORDER BY field, confidence DESC, id`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list patterns")
	}
	defer rows.Close()

	var out []model.LearnedPattern
	for rows.Next() {
		p, err := scanPostgresPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list patterns iterate")
}

// helpers

func scanPostgresRun(row scannable) (*model.IngestionRun, error) {
	var r model.IngestionRun
	var resultNull *[]byte
	var errMsg *string

	err := row.Scan(&r.ID, &r.TenantID, &r.FileName, &r.Status, &resultNull, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Error = deref(errMsg)
	if resultNull != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func scanPostgresEntry(row scannable) (*model.ReviewQueueEntry, error) {
	var e model.ReviewQueueEntry
	var runID, reviewedBy, notes *string
	var itemJSON, historyJSON []byte

	err := row.Scan(&e.ID, &e.TenantID, &runID, &itemJSON, &e.Confidence, &e.Tier, &e.Priority, &e.Status,
		&reviewedBy, &notes, &historyJSON, &e.CreatedAt, &e.UpdatedAt, &e.ReviewedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan entry")
	}
	e.RunID = deref(runID)
	e.ReviewedBy = deref(reviewedBy)
	e.ReviewNotes = deref(notes)
	if err := json.Unmarshal(itemJSON, &e.Item); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal item")
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &e.EditHistory); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal edit history")
		}
	}
	return &e, nil
}

func scanPostgresPattern(row scannable) (*model.LearnedPattern, error) {
	var p model.LearnedPattern
	var condJSON, adjJSON []byte

	err := row.Scan(&p.ID, &p.TenantID, &p.Field, &p.Signature, &condJSON, &adjJSON,
		&p.Confidence, &p.SupportCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan pattern")
	}
	if err := json.Unmarshal(condJSON, &p.Conditions); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal conditions")
	}
	if err := json.Unmarshal(adjJSON, &p.Adjustment); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal adjustment")
	}
	return &p, nil
}

func pgText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
