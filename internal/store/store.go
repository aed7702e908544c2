// Package store persists uploads, extraction results and provider call logs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-ingest/internal/model"
)

// CallStats summarizes provider calls over a window.
type CallStats struct {
	Total          int   `json:"total"`
	Failed         int   `json:"failed"`
	CostMinorUnits int64 `json:"cost_minor_units"`
	// NeedsReview is the current review backlog, independent of the window.
	NeedsReview int `json:"needs_review"`
}

// Store defines the persistence interface for the ingestion pipeline.
// Lookups of missing rows return nil with no error.
type Store interface {
	// Assessment types
	GetAssessmentType(ctx context.Context, id int64) (*model.AssessmentType, error)
	UpsertAssessmentTypes(ctx context.Context, types []model.AssessmentType) error

	// Uploads
	CreateUpload(ctx context.Context, u *model.Upload) (*model.Upload, error)
	GetUpload(ctx context.Context, id int64) (*model.Upload, error)
	SetUploadStatus(ctx context.Context, id int64, status model.UploadStatus) error

	// Extraction results
	UpsertResult(ctx context.Context, r *model.ExtractionResult) (*model.ExtractionResult, error)
	GetResult(ctx context.Context, uploadID int64) (*model.ExtractionResult, error)

	// Call logs
	InsertCallLog(ctx context.Context, l *model.CallLog) error
	// InsertCallLogs writes every entry or none of them.
	InsertCallLogs(ctx context.Context, logs []*model.CallLog) error
	ListCallLogs(ctx context.Context, uploadID int64) ([]model.CallLog, error)
	CallStats(ctx context.Context, since time.Time) (*CallStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store for driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "ingest.db"
		}
		return NewSQLite(dsn)
	case "postgres", "":
		if dsn == "" {
			return nil, eris.New("store: database_url is required for postgres")
		}
		return NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unsupported driver: %s", driver)
	}
}

func validateCallLog(l *model.CallLog) error {
	if l == nil {
		return eris.New("store: nil call log")
	}
	if l.Status != model.CallSucceeded && l.Status != model.CallFailed {
		return eris.Errorf("store: invalid call status %q", l.Status)
	}
	return nil
}
