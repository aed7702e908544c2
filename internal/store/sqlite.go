package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/assessment-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS assessment_types (
	id   INTEGER PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS uploads (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	student_user_id TEXT NOT NULL,
	type_id         INTEGER NOT NULL REFERENCES assessment_types(id),
	storage_key     TEXT NOT NULL,
	mime            TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'uploaded',
	submitted_at    DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_id      INTEGER NOT NULL UNIQUE REFERENCES uploads(id),
	type_id        INTEGER NOT NULL,
	results        TEXT NOT NULL DEFAULT '{}',
	confidence_pct INTEGER NOT NULL DEFAULT 0 CHECK (confidence_pct BETWEEN 0 AND 100),
	reviewed_by    TEXT,
	reviewed_at    DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_call_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_id        INTEGER NOT NULL REFERENCES uploads(id),
	provider         TEXT NOT NULL,
	model            TEXT NOT NULL DEFAULT '',
	tokens_in        INTEGER NOT NULL DEFAULT 0,
	tokens_out       INTEGER NOT NULL DEFAULT 0,
	cost_minor_units INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL CHECK (status IN ('succeeded', 'failed')),
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_upload_id ON ai_call_logs(upload_id);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_created_at ON ai_call_logs(created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetAssessmentType(ctx context.Context, id int64) (*model.AssessmentType, error) {
	var t model.AssessmentType
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, name FROM assessment_types WHERE id = ?`, id,
	).Scan(&t.ID, &t.Slug, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assessment type %d", id)
	}
	return &t, nil
}

func (s *SQLiteStore) UpsertAssessmentTypes(ctx context.Context, types []model.AssessmentType) error {
	if len(types) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin seed types")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range types {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assessment_types (id, slug, name) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET slug = excluded.slug, name = excluded.name`,
			t.ID, t.Slug, t.Name,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert assessment type %s", t.Slug)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit seed types")
}

func (s *SQLiteStore) CreateUpload(ctx context.Context, u *model.Upload) (*model.Upload, error) {
	out := *u
	now := time.Now().UTC()
	if out.Status == "" {
		out.Status = model.StatusUploaded
	}
	if out.SubmittedAt.IsZero() {
		out.SubmittedAt = now
	}
	out.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (student_user_id, type_id, storage_key, mime, size_bytes, status, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.StudentUserID, out.TypeID, out.StorageKey, out.MIME, out.SizeBytes,
		string(out.Status), out.SubmittedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert upload")
	}
	if out.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upload id")
	}
	return &out, nil
}

func (s *SQLiteStore) GetUpload(ctx context.Context, id int64) (*model.Upload, error) {
	var u model.Upload
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, student_user_id, type_id, storage_key, mime, size_bytes, status, submitted_at, updated_at
		 FROM uploads WHERE id = ?`, id,
	).Scan(&u.ID, &u.StudentUserID, &u.TypeID, &u.StorageKey, &u.MIME, &u.SizeBytes, &status, &u.SubmittedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get upload %d", id)
	}
	u.Status = model.UploadStatus(status)
	return &u, nil
}

func (s *SQLiteStore) SetUploadStatus(ctx context.Context, id int64, status model.UploadStatus) error {
	if !status.Valid() {
		return eris.Errorf("sqlite: invalid upload status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update upload status %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("upload not found: %d", id)
	}
	return nil
}

func (s *SQLiteStore) UpsertResult(ctx context.Context, r *model.ExtractionResult) (*model.ExtractionResult, error) {
	out := *r
	out.ConfidencePct = model.ClampConfidence(out.ConfidencePct)
	if out.Results == nil {
		out.Results = map[string]any{}
	}
	resultsJSON, err := json.Marshal(out.Results)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal results")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_results (upload_id, type_id, results, confidence_pct, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (upload_id) DO UPDATE SET
			type_id = excluded.type_id,
			results = excluded.results,
			confidence_pct = excluded.confidence_pct,
			updated_at = excluded.updated_at`,
		out.UploadID, out.TypeID, string(resultsJSON), out.ConfidencePct, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert result for upload %d", out.UploadID)
	}
	return s.GetResult(ctx, out.UploadID)
}

func (s *SQLiteStore) GetResult(ctx context.Context, uploadID int64) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var resultsJSON string
	var reviewedBy sql.NullString
	var reviewedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, upload_id, type_id, results, confidence_pct, reviewed_by, reviewed_at, created_at, updated_at
		 FROM extraction_results WHERE upload_id = ?`, uploadID,
	).Scan(&r.ID, &r.UploadID, &r.TypeID, &resultsJSON, &r.ConfidencePct, &reviewedBy, &reviewedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result for upload %d", uploadID)
	}
	if err := json.Unmarshal([]byte(resultsJSON), &r.Results); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal results")
	}
	r.ReviewedBy, r.ReviewedAt = nullable(reviewedBy, reviewedAt)
	return &r, nil
}

func (s *SQLiteStore) InsertCallLog(ctx context.Context, l *model.CallLog) error {
	if err := validateCallLog(l); err != nil {
		return err
	}
	return insertCallLogSQL(ctx, s.db, l)
}

func (s *SQLiteStore) InsertCallLogs(ctx context.Context, logs []*model.CallLog) error {
	for _, l := range logs {
		if err := validateCallLog(l); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin call logs")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, l := range logs {
		if err := insertCallLogSQL(ctx, tx, l); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit call logs")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCallLogSQL(ctx context.Context, db execer, l *model.CallLog) error {
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO ai_call_logs (upload_id, provider, model, tokens_in, tokens_out, cost_minor_units, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UploadID, l.Provider, l.Model, l.TokensIn, l.TokensOut, l.CostMinorUnits, string(l.Status), createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert call log for upload %d", l.UploadID)
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: call log id")
	}
	l.CreatedAt = createdAt
	return nil
}

func (s *SQLiteStore) ListCallLogs(ctx context.Context, uploadID int64) ([]model.CallLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, upload_id, provider, model, tokens_in, tokens_out, cost_minor_units, status, created_at
		 FROM ai_call_logs WHERE upload_id = ? ORDER BY id`, uploadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list call logs")
	}
	defer rows.Close() //nolint:errcheck

	var logs []model.CallLog
	for rows.Next() {
		var l model.CallLog
		var status string
		if err := rows.Scan(&l.ID, &l.UploadID, &l.Provider, &l.Model, &l.TokensIn, &l.TokensOut, &l.CostMinorUnits, &status, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call log")
		}
		l.Status = model.CallStatus(status)
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list call logs iterate")
}

func (s *SQLiteStore) CallStats(ctx context.Context, since time.Time) (*CallStats, error) {
	var st CallStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(cost_minor_units), 0),
			(SELECT COUNT(*) FROM uploads WHERE status = 'needs_review')
		 FROM ai_call_logs WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&st.Total, &st.Failed, &st.CostMinorUnits, &st.NeedsReview)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: call stats")
	}
	return &st, nil
}

func nullable(by sql.NullString, at sql.NullTime) (*string, *time.Time) {
	var pBy *string
	var pAt *time.Time
	if by.Valid {
		v := by.String
		pBy = &v
	}
	if at.Valid {
		v := at.Time
		pAt = &v
	}
	return pBy, pAt
}
