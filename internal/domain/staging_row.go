package domain

import (
	"time"

	"github.com/google/uuid"
)

// RowStatus classifies a staging row after validation.
type RowStatus string

const (
	RowStatusPending RowStatus = "pending"
	RowStatusValid   RowStatus = "valid"
	RowStatusInvalid RowStatus = "invalid"
	RowStatusWarning RowStatus = "warning"
)

// RowAction records what the commit engine did with a row.
type RowAction string

const (
	RowActionNone    RowAction = ""
	RowActionCreated RowAction = "created"
	RowActionUpdated RowAction = "updated"
	RowActionSkipped RowAction = "skipped"
	RowActionError   RowAction = "error"
)

// ImportStagingRow is one source row tracked through the pipeline before it
// touches permanent storage. Rows are created in bulk at parse time and
// updated in place by later stages, never reordered.
type ImportStagingRow struct {
	ID         uuid.UUID         `json:"id"`
	BatchID    uuid.UUID         `json:"batch_id"`
	RowNumber  int               `json:"row_number"` // 1-based, stable across stages
	RawData    map[string]string `json:"raw_data"`
	MappedData map[string]any    `json:"mapped_data,omitempty"` // nil until the batch is mapped
	Status     RowStatus         `json:"status"`
	CustomerID *uuid.UUID        `json:"customer_id,omitempty"` // nil until committed
	Action     RowAction         `json:"action,omitempty"`
	// DuplicateOfID points at an already committed customer matched by the
	// configured duplicate detection strategy.
	DuplicateOfID *uuid.UUID `json:"duplicate_of_id,omitempty"`
	// DuplicateOfRow points at an earlier row in the same batch with the same
	// duplicate key. Zero means no in-batch duplicate.
	DuplicateOfRow int       `json:"duplicate_of_row,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewStagingRow creates a pending staging row bound to a batch.
func NewStagingRow(batchID uuid.UUID, rowNumber int, raw map[string]string) ImportStagingRow {
	now := time.Now()
	return ImportStagingRow{
		ID:        uuid.New(),
		BatchID:   batchID,
		RowNumber: rowNumber,
		RawData:   raw,
		Status:    RowStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CommitEligible reports whether the row may be applied by the commit engine.
// Rows with warnings are commit-eligible by policy; invalid rows never are.
func (r ImportStagingRow) CommitEligible() bool {
	return r.Status == RowStatusValid || r.Status == RowStatusWarning
}
