package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommitError is a row-scoped commit failure. These are data, not panics;
// they never abort the batch unless the failure is systemic.
type CommitError struct {
	RowNumber int    `json:"row_number"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// RowOutcome records what happened to one staging row during commit.
type RowOutcome struct {
	RowNumber  int          `json:"row_number"`
	Action     RowAction    `json:"action"`
	CustomerID *uuid.UUID   `json:"customer_id,omitempty"`
	Error      *CommitError `json:"error,omitempty"`
}

// ImportCommitResult summarizes one commit pass. Dry runs produce the same
// shape so the preview and the real commit share one code path.
type ImportCommitResult struct {
	BatchID   uuid.UUID    `json:"batch_id"`
	DryRun    bool         `json:"dry_run"`
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Excluded  int          `json:"excluded"`
	Outcomes  []RowOutcome `json:"outcomes"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
}

// RollbackResult summarizes the reversal of a committed batch.
type RollbackResult struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Deleted  int       `json:"deleted"`  // created rows whose customers were removed
	Restored int       `json:"restored"` // updated rows restored from snapshots
	Reverted int       `json:"reverted"` // total rows touched
}

// BatchQualityReport is a derived read over a validated batch; it is never
// persisted as authoritative state.
type BatchQualityReport struct {
	BatchID       uuid.UUID          `json:"batch_id"`
	TotalRows     int                `json:"total_rows"`
	ValidRows     int                `json:"valid_rows"`
	WarningRows   int                `json:"warning_rows"`
	InvalidRows   int                `json:"invalid_rows"`
	OverallScore  float64            `json:"overall_score"` // 0..100
	FieldCoverage map[string]float64 `json:"field_coverage"`
	CommonErrors  []ErrorGroup       `json:"common_errors"`
	Suggestions   []string           `json:"suggestions,omitempty"`
	Truncated     bool               `json:"truncated,omitempty"`
}

// ErrorGroup aggregates violations sharing a code and field.
type ErrorGroup struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Count   int    `json:"count"`
	Example string `json:"example,omitempty"`
}
