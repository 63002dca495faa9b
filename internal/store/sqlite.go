package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// sqliteTime is fixed-width so lexical and chronological order agree.
const sqliteTime = "2006-01-02T15:04:05.000000Z"

func fmtTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	error      TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingestion_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES ingestion_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	cache_key  TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	cached_at  TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	run_id       TEXT,
	item         TEXT NOT NULL,
	confidence   REAL NOT NULL,
	tier         TEXT NOT NULL,
	priority     INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	reviewed_by  TEXT,
	review_notes TEXT,
	edit_history TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	reviewed_at  TEXT,
	expires_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_statistics (
	tenant_id      TEXT NOT NULL,
	day            TEXT NOT NULL,
	enqueued       INTEGER NOT NULL DEFAULT 0,
	approved       INTEGER NOT NULL DEFAULT 0,
	rejected       INTEGER NOT NULL DEFAULT 0,
	edited         INTEGER NOT NULL DEFAULT 0,
	auto_accepted  INTEGER NOT NULL DEFAULT 0,
	sum_confidence REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, day)
);

CREATE TRIGGER IF NOT EXISTS trg_review_queue_insert_stats
AFTER INSERT ON review_queue
BEGIN
	INSERT OR IGNORE INTO review_statistics (tenant_id, day) VALUES (NEW.tenant_id, substr(NEW.created_at, 1, 10));
	UPDATE review_statistics
	SET enqueued = enqueued + 1,
	    sum_confidence = sum_confidence + NEW.confidence,
	    auto_accepted = auto_accepted + (CASE WHEN NEW.tier = 'auto_accept' THEN 1 ELSE 0 END)
	WHERE tenant_id = NEW.tenant_id AND day = substr(NEW.created_at, 1, 10);
END;

CREATE TRIGGER IF NOT EXISTS trg_review_queue_status_stats
AFTER UPDATE OF status ON review_queue
WHEN OLD.status <> NEW.status AND NEW.status IN ('approved', 'rejected', 'edited')
BEGIN
	INSERT OR IGNORE INTO review_statistics (tenant_id, day) VALUES (NEW.tenant_id, substr(NEW.updated_at, 1, 10));
	UPDATE review_statistics
	SET approved = approved + (CASE WHEN NEW.status = 'approved' THEN 1 ELSE 0 END),
	    rejected = rejected + (CASE WHEN NEW.status = 'rejected' THEN 1 ELSE 0 END),
	    edited = edited + (CASE WHEN NEW.status = 'edited' THEN 1 ELSE 0 END)
	WHERE tenant_id = NEW.tenant_id AND day = substr(NEW.updated_at, 1, 10);
END;

CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	entry_id        TEXT,
	item_id         TEXT NOT NULL,
	field           TEXT NOT NULL,
	original_value  TEXT NOT NULL,
	corrected_value TEXT NOT NULL,
	context         TEXT NOT NULL,
	signature       TEXT NOT NULL,
	reviewer        TEXT,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS learned_patterns (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	field         TEXT NOT NULL,
	signature     TEXT NOT NULL,
	conditions    TEXT NOT NULL,
	adjustment    TEXT NOT NULL,
	confidence    REAL NOT NULL,
	support_count INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	UNIQUE (tenant_id, field, signature)
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_tenant ON ingestion_runs(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_ingestion_phases_run_id ON ingestion_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_extraction_cache_expires_at ON extraction_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_review_queue_listing ON review_queue(tenant_id, status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_corrections_signature ON corrections(tenant_id, field, signature);
`

// Migrate creates tables, triggers and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, tenantID, fileName string) (*model.IngestionRun, error) {
	id := uuid.New().String()
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, tenant_id, file_name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, tenantID, fileName, string(model.RunStatusQueued), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(s.now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), fmtTime(s.now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), msg, fmtTime(s.now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, file_name, status, result, error, created_at, updated_at FROM ingestion_runs WHERE id = ?`,
		runID,
	)
	return scanSQLiteRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT id, tenant_id, file_name, status, result, error, created_at, updated_at FROM ingestion_runs WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.IngestionRun
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) FailStaleRuns(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, error = ?, updated_at = ?
		 WHERE status NOT IN (?, ?) AND updated_at < ?`,
		string(model.RunStatusFailed), "stale: no progress", fmtTime(s.now()),
		string(model.RunStatusComplete), string(model.RunStatusFailed), fmtTime(olderThan),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// --- Extraction cache ---

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM extraction_cache WHERE cache_key = ? AND expires_at > ?`,
		key, fmtTime(s.now()),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	return []byte(value), nil
}

func (s *SQLiteStore) SetCacheEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (cache_key, value, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, string(value), fmtTime(now), fmtTime(now.Add(ttl)),
	)
	return eris.Wrap(err, "sqlite: set cache entry")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM extraction_cache WHERE expires_at <= ?`, fmtTime(s.now()),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Review queue ---

const reviewColumns = `id, tenant_id, run_id, item, confidence, tier, priority, status, reviewed_by, review_notes, edit_history, created_at, updated_at, reviewed_at, expires_at`

func (s *SQLiteStore) InsertEntries(ctx context.Context, entries []model.ReviewQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert entries")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO review_queue (`+reviewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert entry")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range entries {
		args, err := sqliteEntryArgs(&entries[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert entry %s", entries[i].ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert entries")
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM review_queue WHERE id = ?`, id)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: entry %s", id)
	}
	return e, err
}

func (s *SQLiteStore) CompareAndSetStatus(ctx context.Context, entry *model.ReviewQueueEntry, expected model.ReviewStatus) (bool, error) {
	itemJSON, err := json.Marshal(entry.Item)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal item")
	}
	historyJSON, err := json.Marshal(nonNilHistory(entry.EditHistory))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal edit history")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue
		 SET status = ?, item = ?, confidence = ?, tier = ?, priority = ?, reviewed_by = ?,
		     review_notes = ?, edit_history = ?, updated_at = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		string(entry.Status), string(itemJSON), entry.Confidence, string(entry.Tier), entry.Priority,
		nullString(entry.ReviewedBy), nullString(entry.ReviewNotes), string(historyJSON),
		fmtTime(entry.UpdatedAt), nullTime(entry.ReviewedAt),
		entry.ID, string(expected),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: compare and set %s", entry.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, filter ReviewFilter) ([]model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE tenant_id = ?`
	args := []any{filter.TenantID}

	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.IncludeExpired {
		query += ` AND NOT (status = 'pending' AND expires_at <= ?)`
		args = append(args, fmtTime(nowOr(filter.Now)))
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ReviewQueueEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entries iterate")
}

func (s *SQLiteStore) QueueSummary(ctx context.Context, tenantID string, now time.Time) (*model.QueueSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, status, (status = 'pending' AND expires_at <= ?) AS expired,
		        COUNT(*), SUM(confidence), MIN(created_at)
		 FROM review_queue WHERE tenant_id = ?
		 GROUP BY tier, status, expired`,
		fmtTime(nowOr(now)), tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: queue summary")
	}
	defer rows.Close() //nolint:errcheck

	var buckets []summaryRow
	for rows.Next() {
		var r summaryRow
		var expired int
		var oldest string
		if err := rows.Scan(&r.Tier, &r.Status, &expired, &r.Count, &r.SumConfidence, &oldest); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		r.Expired = expired == 1
		if r.OldestCreated, err = parseTime(oldest); err != nil {
			return nil, err
		}
		buckets = append(buckets, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: queue summary iterate")
	}
	return foldSummary(tenantID, buckets), nil
}

func (s *SQLiteStore) DailyStats(ctx context.Context, tenantID, day string) (*model.ReviewStatistics, error) {
	st := &model.ReviewStatistics{TenantID: tenantID, Day: day}
	var sumConf float64
	err := s.db.QueryRowContext(ctx,
		`SELECT enqueued, approved, rejected, edited, auto_accepted, sum_confidence
		 FROM review_statistics WHERE tenant_id = ? AND day = ?`,
		tenantID, day,
	).Scan(&st.Enqueued, &st.Approved, &st.Rejected, &st.Edited, &st.AutoAccepted, &sumConf)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: daily stats")
	}
	if st.Enqueued > 0 {
		st.AvgConfidence = sumConf / float64(st.Enqueued)
	}
	return st, nil
}

// --- Corrections ---

func (s *SQLiteStore) InsertCorrection(ctx context.Context, c model.Correction) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal correction context")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO corrections (id, tenant_id, entry_id, item_id, field, original_value, corrected_value, context, signature, reviewer, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, nullString(c.EntryID), c.ItemID, c.Field, c.OriginalValue, c.CorrectedValue,
		string(ctxJSON), c.Signature, nullString(c.Reviewer), fmtTime(c.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert correction")
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, tenantID, field, signature string) ([]model.Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, entry_id, item_id, field, original_value, corrected_value, context, signature, reviewer, created_at
		 FROM corrections WHERE tenant_id = ? AND field = ? AND signature = ?
		 ORDER BY created_at ASC, id ASC`,
		tenantID, field, signature,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		var entryID, reviewer sql.NullString
		var ctxJSON, created string
		if err := rows.Scan(&c.ID, &c.TenantID, &entryID, &c.ItemID, &c.Field, &c.OriginalValue,
			&c.CorrectedValue, &ctxJSON, &c.Signature, &reviewer, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		c.EntryID = entryID.String
		c.Reviewer = reviewer.String
		if err := json.Unmarshal([]byte(ctxJSON), &c.Context); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal correction context")
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list corrections iterate")
}

// --- Learned patterns ---

const patternColumns = `id, tenant_id, field, signature, conditions, adjustment, confidence, support_count, created_at, updated_at`

func (s *SQLiteStore) GetPattern(ctx context.Context, tenantID, field, signature string) (*model.LearnedPattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM learned_patterns WHERE tenant_id = ? AND field = ? AND signature = ?`,
		tenantID, field, signature,
	)
	p, err := scanSQLitePattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) GetPatternByID(ctx context.Context, id string) (*model.LearnedPattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM learned_patterns WHERE id = ?`, id)
	p, err := scanSQLitePattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: pattern %s", id)
	}
	return p, err
}

func (s *SQLiteStore) UpsertPattern(ctx context.Context, p model.LearnedPattern) error {
	condJSON, err := json.Marshal(p.Conditions)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal conditions")
	}
	adjJSON, err := json.Marshal(p.Adjustment)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal adjustment")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learned_patterns (`+patternColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, field, signature) DO UPDATE SET
		   conditions = excluded.conditions, adjustment = excluded.adjustment,
		   confidence = excluded.confidence, support_count = excluded.support_count,
		   updated_at = excluded.updated_at`,
		p.ID, p.TenantID, p.Field, p.Signature, string(condJSON), string(adjJSON),
		p.Confidence, p.SupportCount, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	return eris.Wrap(err, "sqlite: upsert pattern")
}

func (s *SQLiteStore) ReinforcePattern(ctx context.Context, id string, decay, boost float64, supportDelta int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE learned_patterns
		 SET confidence = MIN(1.0, MAX(0.0, confidence * ? + ?)), support_count = support_count + ?, updated_at = ?
		 WHERE id = ?`,
		decay, boost, supportDelta, fmtTime(s.now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reinforce pattern %s", id)
	}
	return checkRowsAffected(res, "pattern", id)
}

func (s *SQLiteStore) ListPatterns(ctx context.Context, tenantID string) ([]model.LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM learned_patterns WHERE tenant_id = ? ORDER BY field, confidence DESC, id`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list patterns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LearnedPattern
	for rows.Next() {
		p, err := scanSQLitePattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list patterns iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.IngestionRun, error) {
	var r model.IngestionRun
	var resultJSON, errMsg sql.NullString
	var created, updated string

	err := row.Scan(&r.ID, &r.TenantID, &r.FileName, &r.Status, &resultJSON, &errMsg, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Error = errMsg.String
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func sqliteEntryArgs(e *model.ReviewQueueEntry) ([]any, error) {
	itemJSON, err := json.Marshal(e.Item)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal item")
	}
	historyJSON, err := json.Marshal(nonNilHistory(e.EditHistory))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal edit history")
	}
	return []any{
		e.ID, e.TenantID, nullString(e.RunID), string(itemJSON), e.Confidence, string(e.Tier), e.Priority,
		string(e.Status), nullString(e.ReviewedBy), nullString(e.ReviewNotes), string(historyJSON),
		fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt), nullTime(e.ReviewedAt), fmtTime(e.ExpiresAt),
	}, nil
}

func scanSQLiteEntry(row scannable) (*model.ReviewQueueEntry, error) {
	var e model.ReviewQueueEntry
	var runID, reviewedBy, notes, reviewedAt sql.NullString
	var itemJSON, historyJSON, created, updated, expires string

	err := row.Scan(&e.ID, &e.TenantID, &runID, &itemJSON, &e.Confidence, &e.Tier, &e.Priority, &e.Status,
		&reviewedBy, &notes, &historyJSON, &created, &updated, &reviewedAt, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan entry")
	}

	e.RunID = runID.String
	e.ReviewedBy = reviewedBy.String
	e.ReviewNotes = notes.String
	if err := json.Unmarshal([]byte(itemJSON), &e.Item); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal item")
	}
	if err := json.Unmarshal([]byte(historyJSON), &e.EditHistory); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal edit history")
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if e.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		t, err := parseTime(reviewedAt.String)
		if err != nil {
			return nil, err
		}
		e.ReviewedAt = &t
	}
	return &e, nil
}

func scanSQLitePattern(row scannable) (*model.LearnedPattern, error) {
	var p model.LearnedPattern
	var condJSON, adjJSON, created, updated string

	err := row.Scan(&p.ID, &p.TenantID, &p.Field, &p.Signature, &condJSON, &adjJSON,
		&p.Confidence, &p.SupportCount, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan pattern")
	}
	if err := json.Unmarshal([]byte(condJSON), &p.Conditions); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal conditions")
	}
	if err := json.Unmarshal([]byte(adjJSON), &p.Adjustment); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal adjustment")
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func nonNilHistory(h []model.EditRecord) []model.EditRecord {
	if h == nil {
		return []model.EditRecord{}
	}
	return h
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
