package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Machine-readable error codes surfaced to operators. Every terminal or
// row-level error carries one of these plus a human message.
const (
	CodeRequiredMissing     = "REQUIRED_FIELD_MISSING"
	CodeMinLength           = "MIN_LENGTH"
	CodeMaxLength           = "MAX_LENGTH"
	CodePatternMismatch     = "PATTERN_MISMATCH"
	CodeInvalidEmail        = "INVALID_EMAIL"
	CodeInvalidPhone        = "INVALID_PHONE"
	CodeInvalidPostnummer   = "INVALID_POSTNUMMER"
	CodeInvalidDate         = "INVALID_DATE"
	CodeDateOutOfRange      = "DATE_OUT_OF_RANGE"
	CodeInvalidNumber       = "INVALID_NUMBER"
	CodeInvalidInteger      = "INVALID_INTEGER"
	CodeValueOutOfRange     = "VALUE_OUT_OF_RANGE"
	CodeInvalidEnum         = "INVALID_ENUM_VALUE"
	CodeDuplicateInBatch    = "DUPLICATE_IN_BATCH"
	CodeDuplicateEntry      = "DUPLICATE_ENTRY"
	CodeValidationTruncated = "VALIDATION_TRUNCATED"
	CodeCommitFailed        = "COMMIT_FAILED"
	CodeConstraintViolation = "CONSTRAINT_VIOLATION"
)

// ImportValidationError is one violation tied to a staging row. Multiple
// errors may attach to one row; any error-severity entry forces the row
// status to invalid.
type ImportValidationError struct {
	ID           uuid.UUID `json:"id"`
	BatchID      uuid.UUID `json:"batch_id"`
	RowNumber    int       `json:"row_number"`
	Severity     Severity  `json:"severity"`
	Code         string    `json:"code"`
	Field        string    `json:"field,omitempty"`
	SourceColumn string    `json:"source_column,omitempty"`
	Message      string    `json:"message"`
	Suggestion   string    `json:"suggestion,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewValidationError creates a violation bound to a batch row.
func NewValidationError(batchID uuid.UUID, rowNumber int, severity Severity, code, field, message string) ImportValidationError {
	return ImportValidationError{
		ID:        uuid.New(),
		BatchID:   batchID,
		RowNumber: rowNumber,
		Severity:  severity,
		Code:      code,
		Field:     field,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// ResolveRowStatus derives a row status from its attached violations.
func ResolveRowStatus(violations []ImportValidationError) RowStatus {
	status := RowStatusValid
	for _, v := range violations {
		switch v.Severity {
		case SeverityError:
			return RowStatusInvalid
		case SeverityWarning, SeverityInfo:
			status = RowStatusWarning
		}
	}
	return status
}
