package repository

import (
	"context"
	"errors"

	"github.com/kartoteket/kundeimport/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// BatchRepository owns the import batch lifecycle.
type BatchRepository interface {
	// CreateWithRows persists the batch and its staging rows atomically.
	CreateWithRows(ctx context.Context, batch domain.ImportBatch, rows []domain.ImportStagingRow) (domain.ImportBatch, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.ImportBatch, error)
	// Update persists mutable batch attributes (counts, flags, mapping,
	// error message, commit metadata). Status is excluded; use TransitionStatus.
	Update(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error)
	// TransitionStatus performs a compare-and-swap on status so that two
	// racing stage invocations cannot both proceed. A mismatch yields
	// domain.ErrConflict.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.BatchStatus) error
}

// BatchLocker serializes concurrent stage invocations on one batch.
type BatchLocker interface {
	// WithBatchLock runs fn while holding an exclusive per-batch lock.
	WithBatchLock(ctx context.Context, batchID uuid.UUID, fn func(ctx context.Context) error) error
}

// StagingRowRepository owns staging rows and their validation errors.
type StagingRowRepository interface {
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportStagingRow, error)
	UpdateMappedData(ctx context.Context, row domain.ImportStagingRow) error
	UpdateValidation(ctx context.Context, row domain.ImportStagingRow) error
	UpdateOutcome(ctx context.Context, row domain.ImportStagingRow) error
	ReplaceErrors(ctx context.Context, batchID uuid.UUID, errs []domain.ImportValidationError) error
	ListErrors(ctx context.Context, batchID uuid.UUID) ([]domain.ImportValidationError, error)
}

// TemplateRepository stores reusable mapping templates keyed by fingerprint.
type TemplateRepository interface {
	Save(ctx context.Context, tpl domain.ImportMappingTemplate) (domain.ImportMappingTemplate, error)
	FindByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (domain.ImportMappingTemplate, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.ImportMappingTemplate, error)
	TouchUsage(ctx context.Context, id uuid.UUID) error
}

// ColumnHistoryRepository tracks the fingerprints a tenant has uploaded.
type ColumnHistoryRepository interface {
	Upsert(ctx context.Context, entry domain.ColumnHistoryEntry) (domain.ColumnHistoryEntry, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.ColumnHistoryEntry, error)
}

// AuditLogRepository is the append-only audit trail.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.ImportAuditLog) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportAuditLog, error)
}

// CustomerRepository is the permanent entity store. The commit engine is the
// only pipeline component permitted to write through it.
type CustomerRepository interface {
	Create(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Customer, error)
	Update(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	Delete(ctx context.Context, id uuid.UUID) error
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, tenantID uuid.UUID, email string) (domain.Customer, error)
	FindByName(ctx context.Context, tenantID uuid.UUID, navn string) (domain.Customer, error)
	FindByNameAddress(ctx context.Context, tenantID uuid.UUID, navn, adresse string) (domain.Customer, error)
}
