package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-ingest/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS assessment_types (
	id   BIGINT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS uploads (
	id              BIGSERIAL PRIMARY KEY,
	student_user_id TEXT NOT NULL,
	type_id         BIGINT NOT NULL REFERENCES assessment_types(id),
	storage_key     TEXT NOT NULL,
	mime            TEXT NOT NULL,
	size_bytes      BIGINT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'uploaded',
	submitted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id             BIGSERIAL PRIMARY KEY,
	upload_id      BIGINT NOT NULL UNIQUE REFERENCES uploads(id),
	type_id        BIGINT NOT NULL,
	results        JSONB NOT NULL DEFAULT '{}'::jsonb,
	confidence_pct INTEGER NOT NULL DEFAULT 0 CHECK (confidence_pct BETWEEN 0 AND 100),
	reviewed_by    TEXT,
	reviewed_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ai_call_logs (
	id               BIGSERIAL PRIMARY KEY,
	upload_id        BIGINT NOT NULL REFERENCES uploads(id),
	provider         TEXT NOT NULL,
	model            TEXT NOT NULL DEFAULT '',
	tokens_in        BIGINT NOT NULL DEFAULT 0,
	tokens_out       BIGINT NOT NULL DEFAULT 0,
	cost_minor_units BIGINT NOT NULL DEFAULT 0,
	status           TEXT NOT NULL CHECK (status IN ('succeeded', 'failed')),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_upload_id ON ai_call_logs(upload_id);
CREATE INDEX IF NOT EXISTS idx_ai_call_logs_created_at ON ai_call_logs(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
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

func (s *PostgresStore) GetAssessmentType(ctx context.Context, id int64) (*model.AssessmentType, error) {
	var t model.AssessmentType
	err := s.pool.QueryRow(ctx,
		`SELECT id, slug, name FROM assessment_types WHERE id = $1`, id,
	).Scan(&t.ID, &t.Slug, &t.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get assessment type %d", id)
	}
	return &t, nil
}

func (s *PostgresStore) UpsertAssessmentTypes(ctx context.Context, types []model.AssessmentType) error {
	if len(types) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin seed types")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, t := range types {
		if _, err := tx.Exec(ctx,
			`INSERT INTO assessment_types (id, slug, name) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET slug = EXCLUDED.slug, name = EXCLUDED.name`,
			t.ID, t.Slug, t.Name,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert assessment type %s", t.Slug)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit seed types")
}

func (s *PostgresStore) CreateUpload(ctx context.Context, u *model.Upload) (*model.Upload, error) {
	out := *u
	now := time.Now().UTC()
	if out.Status == "" {
		out.Status = model.StatusUploaded
	}
	if out.SubmittedAt.IsZero() {
		out.SubmittedAt = now
	}
	out.UpdatedAt = now

	err := s.pool.QueryRow(ctx,
		`INSERT INTO uploads (student_user_id, type_id, storage_key, mime, size_bytes, status, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		out.StudentUserID, out.TypeID, out.StorageKey, out.MIME, out.SizeBytes,
		string(out.Status), out.SubmittedAt, out.UpdatedAt,
	).Scan(&out.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert upload")
	}
	return &out, nil
}

func (s *PostgresStore) GetUpload(ctx context.Context, id int64) (*model.Upload, error) {
	var u model.Upload
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, student_user_id, type_id, storage_key, mime, size_bytes, status, submitted_at, updated_at
		 FROM uploads WHERE id = $1`, id,
	).Scan(&u.ID, &u.StudentUserID, &u.TypeID, &u.StorageKey, &u.MIME, &u.SizeBytes, &status, &u.SubmittedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get upload %d", id)
	}
	u.Status = model.UploadStatus(status)
	return &u, nil
}

func (s *PostgresStore) SetUploadStatus(ctx context.Context, id int64, status model.UploadStatus) error {
	if !status.Valid() {
		return eris.Errorf("postgres: invalid upload status %q", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE uploads SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update upload status %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("upload not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) UpsertResult(ctx context.Context, r *model.ExtractionResult) (*model.ExtractionResult, error) {
	out := *r
	out.ConfidencePct = model.ClampConfidence(out.ConfidencePct)
	if out.Results == nil {
		out.Results = map[string]any{}
	}
	resultsJSON, err := json.Marshal(out.Results)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal results")
	}
	now := time.Now().UTC()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO extraction_results (upload_id, type_id, results, confidence_pct, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (upload_id) DO UPDATE SET
			type_id = EXCLUDED.type_id,
			results = EXCLUDED.results,
			confidence_pct = EXCLUDED.confidence_pct,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, reviewed_by, reviewed_at, created_at, updated_at`,
		out.UploadID, out.TypeID, resultsJSON, out.ConfidencePct, now,
	).Scan(&out.ID, &out.ReviewedBy, &out.ReviewedAt, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert result for upload %d", out.UploadID)
	}
	return &out, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, uploadID int64) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var resultsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, upload_id, type_id, results, confidence_pct, reviewed_by, reviewed_at, created_at, updated_at
		 FROM extraction_results WHERE upload_id = $1`, uploadID,
	).Scan(&r.ID, &r.UploadID, &r.TypeID, &resultsJSON, &r.ConfidencePct, &r.ReviewedBy, &r.ReviewedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result for upload %d", uploadID)
	}
	if err := json.Unmarshal(resultsJSON, &r.Results); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal results")
	}
	return &r, nil
}

func (s *PostgresStore) InsertCallLog(ctx context.Context, l *model.CallLog) error {
	if err := validateCallLog(l); err != nil {
		return err
	}
	return insertCallLogPG(ctx, s.pool, l)
}

func (s *PostgresStore) InsertCallLogs(ctx context.Context, logs []*model.CallLog) error {
	for _, l := range logs {
		if err := validateCallLog(l); err != nil {
			return err
		}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin call logs")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, l := range logs {
		if err := insertCallLogPG(ctx, tx, l); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit call logs")
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertCallLogPG(ctx context.Context, q rowQuerier, l *model.CallLog) error {
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := q.QueryRow(ctx,
		`INSERT INTO ai_call_logs (upload_id, provider, model, tokens_in, tokens_out, cost_minor_units, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		l.UploadID, l.Provider, l.Model, l.TokensIn, l.TokensOut, l.CostMinorUnits, string(l.Status), createdAt,
	).Scan(&l.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert call log for upload %d", l.UploadID)
	}
	l.CreatedAt = createdAt
	return nil
}

func (s *PostgresStore) ListCallLogs(ctx context.Context, uploadID int64) ([]model.CallLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, upload_id, provider, model, tokens_in, tokens_out, cost_minor_units, status, created_at
		 FROM ai_call_logs WHERE upload_id = $1 ORDER BY id`, uploadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list call logs")
	}
	defer rows.Close()

	var logs []model.CallLog
	for rows.Next() {
		var l model.CallLog
		var status string
		if err := rows.Scan(&l.ID, &l.UploadID, &l.Provider, &l.Model, &l.TokensIn, &l.TokensOut, &l.CostMinorUnits, &status, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call log")
		}
		l.Status = model.CallStatus(status)
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list call logs iterate")
}

func (s *PostgresStore) CallStats(ctx context.Context, since time.Time) (*CallStats, error) {
	var st CallStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM ai_call_logs WHERE created_at >= $1),
			(SELECT COUNT(*) FROM ai_call_logs WHERE created_at >= $1 AND status = 'failed'),
			(SELECT COALESCE(SUM(cost_minor_units), 0)::bigint FROM ai_call_logs WHERE created_at >= $1),
			(SELECT COUNT(*) FROM uploads WHERE status = 'needs_review')`,
		since.UTC(),
	).Scan(&st.Total, &st.Failed, &st.CostMinorUnits, &st.NeedsReview)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: call stats")
	}
	return &st, nil
}
