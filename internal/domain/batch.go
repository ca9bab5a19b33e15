package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks an import batch through its lifecycle.
type BatchStatus string

const (
	BatchStatusUploaded   BatchStatus = "uploaded"
	BatchStatusParsing    BatchStatus = "parsing"
	BatchStatusParsed     BatchStatus = "parsed"
	BatchStatusMapping    BatchStatus = "mapping"
	BatchStatusMapped     BatchStatus = "mapped"
	BatchStatusValidating BatchStatus = "validating"
	BatchStatusValidated  BatchStatus = "validated"
	BatchStatusCommitting BatchStatus = "committing"
	BatchStatusCommitted  BatchStatus = "committed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid batch status transition")

	// ErrAlreadyDone signals a stage re-invoked on a batch already past its
	// target status. Callers treat it as success so retried requests are safe.
	ErrAlreadyDone = errors.New("batch already past target status")

	// ErrConflict is returned when a stage is invoked on a batch that is not
	// in the expected predecessor state.
	ErrConflict = errors.New("batch is not in the expected state")
)

// statusOrder positions each forward status so idempotent re-entry can be
// distinguished from out-of-order invocation. Terminal failure states are
// deliberately absent.
var statusOrder = map[BatchStatus]int{
	BatchStatusUploaded:   0,
	BatchStatusParsing:    1,
	BatchStatusParsed:     2,
	BatchStatusMapping:    3,
	BatchStatusMapped:     4,
	BatchStatusValidating: 5,
	BatchStatusValidated:  6,
	BatchStatusCommitting: 7,
	BatchStatusCommitted:  8,
}

var transitions = map[BatchStatus][]BatchStatus{
	BatchStatusUploaded:   {BatchStatusParsing, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusParsing:    {BatchStatusParsed, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusParsed:     {BatchStatusMapping, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusMapping:    {BatchStatusMapped, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusMapped:     {BatchStatusMapping, BatchStatusValidating, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusValidating: {BatchStatusValidated, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusValidated:  {BatchStatusMapping, BatchStatusValidating, BatchStatusCommitting, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusCommitting: {BatchStatusCommitted, BatchStatusFailed, BatchStatusCancelled},
	BatchStatusCommitted:  {},
	BatchStatusFailed:     {},
	BatchStatusCancelled:  {},
}

// IsTerminal reports whether a batch in this status is immutable.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCommitted, BatchStatusFailed, BatchStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AtOrPast reports whether s has already reached target on the forward path.
// Terminal failure states are never "past" anything.
func (s BatchStatus) AtOrPast(target BatchStatus) bool {
	current, ok := statusOrder[s]
	if !ok {
		return false
	}
	want, ok := statusOrder[target]
	if !ok {
		return false
	}
	return current >= want
}

// Transition validates the move to next and returns the resulting status.
// Explicitly allowed moves always apply, including the backward remap and
// re-validate edges. Re-entering a status the batch has already passed
// without such an edge yields ErrAlreadyDone.
func (s BatchStatus) Transition(next BatchStatus) (BatchStatus, error) {
	if s == next {
		return s, ErrAlreadyDone
	}
	if s.CanTransition(next) {
		return next, nil
	}
	if s.AtOrPast(next) {
		return s, ErrAlreadyDone
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

// ImportBatch represents one uploaded file and its import lifecycle.
type ImportBatch struct {
	ID                   uuid.UUID      `json:"id"`
	TenantID             uuid.UUID      `json:"tenant_id"`
	FileName             string         `json:"file_name"`
	FileSize             int64          `json:"file_size"`
	ContentHash          string         `json:"content_hash"`
	ColumnFingerprint    string         `json:"column_fingerprint"`
	Headers              []string       `json:"headers,omitempty"`
	ColumnCount          int            `json:"column_count"`
	RowCount             int            `json:"row_count"`
	Status               BatchStatus    `json:"status"`
	RequiresRemapping    bool           `json:"requires_remapping"`
	FormatChangeDetected bool           `json:"format_change_detected"`
	TemplateID           *uuid.UUID     `json:"template_id,omitempty"`
	Mapping              *MappingConfig `json:"mapping,omitempty"`
	ValidRows            int            `json:"valid_rows"`
	WarningRows          int            `json:"warning_rows"`
	ErrorRows            int            `json:"error_rows"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	CommittedAt          *time.Time     `json:"committed_at,omitempty"`
	CommittedBy          string         `json:"committed_by,omitempty"`
	RolledBackAt         *time.Time     `json:"rolled_back_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewImportBatch creates a batch in the uploaded state.
func NewImportBatch(tenantID uuid.UUID, fileName string, fileSize int64, contentHash string) ImportBatch {
	now := time.Now()
	return ImportBatch{
		ID:          uuid.New(),
		TenantID:    tenantID,
		FileName:    fileName,
		FileSize:    fileSize,
		ContentHash: contentHash,
		Status:      BatchStatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
