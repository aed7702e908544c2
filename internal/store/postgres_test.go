package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-ingest/internal/model"
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

func TestPostgresStore_GetUpload_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, student_user_id, type_id .* FROM uploads WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	up, err := s.GetUpload(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, up)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUpload(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM uploads WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "student_user_id", "type_id", "storage_key", "mime", "size_bytes", "status", "submitted_at", "updated_at"}).
			AddRow(int64(5), "student-1", int64(1), "uploads/a.pdf", "application/pdf", int64(2048), "uploaded", now, now))

	up, err := s.GetUpload(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, up)
	assert.Equal(t, "application/pdf", up.MIME)
	assert.Equal(t, model.StatusUploaded, up.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUpload_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM uploads`).
		WithArgs(int64(5)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetUpload(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get upload")
}

func TestPostgresStore_GetAssessmentType_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, slug, name FROM assessment_types`).
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	typ, err := s.GetAssessmentType(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, typ)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetUploadStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE uploads SET status = \$1`).
		WithArgs("needs_review", pgxmock.AnyArg(), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SetUploadStatus(context.Background(), 5, model.StatusNeedsReview))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetUploadStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE uploads SET status`).
		WithArgs("processing", pgxmock.AnyArg(), int64(77)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetUploadStatus(context.Background(), 77, model.StatusProcessing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload not found")
}

func TestPostgresStore_UpsertResult_OnConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	reviewer := "coach-7"

	mock.ExpectQuery(`INSERT INTO extraction_results .* ON CONFLICT \(upload_id\) DO UPDATE`).
		WithArgs(int64(5), int64(1), pgxmock.AnyArg(), 100, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "reviewed_by", "reviewed_at", "created_at", "updated_at"}).
			AddRow(int64(11), &reviewer, &now, now, now))

	res, err := s.UpsertResult(context.Background(), &model.ExtractionResult{
		UploadID:      5,
		TypeID:        1,
		Results:       map[string]any{"type": "INTJ-A"},
		ConfidencePct: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.ID)
	assert.Equal(t, 100, res.ConfidencePct)
	require.NotNil(t, res.ReviewedBy)
	assert.Equal(t, "coach-7", *res.ReviewedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCallLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO ai_call_logs`).
		WithArgs(int64(5), "anthropic", "claude", int64(10), int64(2), int64(1), "succeeded", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	l := &model.CallLog{UploadID: 5, Provider: "anthropic", Model: "claude", TokensIn: 10, TokensOut: 2, CostMinorUnits: 1, Status: model.CallSucceeded}
	require.NoError(t, s.InsertCallLog(context.Background(), l))
	assert.Equal(t, int64(3), l.ID)
	assert.False(t, l.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCallLog_InvalidStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	err := s.InsertCallLog(context.Background(), &model.CallLog{UploadID: 5, Provider: "openai"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCallLogs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO ai_call_logs`).
		WithArgs(int64(5), "anthropic", "", int64(0), int64(0), int64(0), "failed", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO ai_call_logs`).
		WithArgs(int64(5), "google", "", int64(0), int64(0), int64(0), "succeeded", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	logs := []*model.CallLog{
		{UploadID: 5, Provider: "anthropic", Status: model.CallFailed},
		{UploadID: 5, Provider: "google", Status: model.CallSucceeded},
	}
	require.NoError(t, s.InsertCallLogs(context.Background(), logs))
	assert.Equal(t, int64(2), logs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCallLogs_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO ai_call_logs`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO ai_call_logs`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.InsertCallLogs(context.Background(), []*model.CallLog{
		{UploadID: 5, Provider: "anthropic", Status: model.CallFailed},
		{UploadID: 5, Provider: "google", Status: model.CallSucceeded},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAssessmentTypes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO assessment_types .* ON CONFLICT \(id\)`).
		WithArgs(int64(1), "16p", "16 Personalities").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO assessment_types`).
		WithArgs(int64(2), "big5", "Big Five").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.UpsertAssessmentTypes(context.Background(), []model.AssessmentType{
		{ID: 1, Slug: "16p", Name: "16 Personalities"},
		{ID: 2, Slug: "big5", Name: "Big Five"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAssessmentTypes_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO assessment_types`).
		WithArgs(int64(1), "16p", "").
		WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := s.UpsertAssessmentTypes(context.Background(), []model.AssessmentType{{ID: 1, Slug: "16p"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CallStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`FROM ai_call_logs`).
		WithArgs(since.UTC()).
		WillReturnRows(pgxmock.NewRows([]string{"total", "failed", "cost", "needs_review"}).
			AddRow(12, 3, int64(40), 5))

	st, err := s.CallStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, &CallStats{Total: 12, Failed: 3, CostMinorUnits: 40, NeedsReview: 5}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS extraction_results`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
