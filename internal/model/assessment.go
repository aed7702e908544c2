package model

import "time"

// UploadStatus is the lifecycle state of an uploaded assessment document.
type UploadStatus string

const (
	StatusUploaded    UploadStatus = "uploaded"
	StatusProcessing  UploadStatus = "processing"
	StatusNeedsReview UploadStatus = "needs_review"
	StatusApproved    UploadStatus = "approved"
	StatusRejected    UploadStatus = "rejected"
)

// Valid reports whether s is a known upload status.
func (s UploadStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusNeedsReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s can only be reached by human review.
func (s UploadStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// AssessmentType maps a type id to its slug (e.g. "16p", "big5").
type AssessmentType struct {
	ID   int64  `json:"id" yaml:"id"`
	Slug string `json:"slug" yaml:"slug"`
	Name string `json:"name" yaml:"name"`
}

// Upload identifies one submitted document.
type Upload struct {
	ID            int64        `json:"id"`
	StudentUserID string       `json:"student_user_id"`
	TypeID        int64        `json:"type_id"`
	StorageKey    string       `json:"storage_key"`
	MIME          string       `json:"mime"`
	SizeBytes     int64        `json:"size_bytes"`
	Status        UploadStatus `json:"status"`
	SubmittedAt   time.Time    `json:"submitted_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ExtractionResult is the current structured output for one upload.
// There is at most one per upload; re-analysis overwrites Results and
// ConfidencePct but keeps ID and the review fields.
type ExtractionResult struct {
	ID            int64          `json:"id"`
	UploadID      int64          `json:"upload_id"`
	TypeID        int64          `json:"type_id"`
	Results       map[string]any `json:"results"`
	ConfidencePct int            `json:"confidence_pct"`
	ReviewedBy    *string        `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time     `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CallStatus is the outcome recorded for a provider attempt.
type CallStatus string

const (
	CallSucceeded CallStatus = "succeeded"
	CallFailed    CallStatus = "failed"
)

// CallLog is an append-only audit row for one provider attempt.
type CallLog struct {
	ID             int64      `json:"id"`
	UploadID       int64      `json:"upload_id"`
	Provider       string     `json:"provider"`
	Model          string     `json:"model"`
	TokensIn       int64      `json:"tokens_in"`
	TokensOut      int64      `json:"tokens_out"`
	CostMinorUnits int64      `json:"cost_minor_units"`
	Status         CallStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Usage is the token consumption of one or more provider calls.
type Usage struct {
	InputTokens  int64 `json:"tokens_in"`
	OutputTokens int64 `json:"tokens_out"`
}

// Add accumulates other into u. A nil receiver is a no-op.
func (u *Usage) Add(other *Usage) {
	if u == nil || other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// IsZero reports whether no tokens were recorded.
func (u *Usage) IsZero() bool {
	return u == nil || (u.InputTokens == 0 && u.OutputTokens == 0)
}

// ClampConfidence forces a confidence value into [0,100].
func ClampConfidence(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
