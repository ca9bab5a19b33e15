package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names one recorded state transition or row-level effect.
type AuditAction string

const (
	AuditUploaded       AuditAction = "uploaded"
	AuditParsed         AuditAction = "parsed"
	AuditMappingApplied AuditAction = "mapping_applied"
	AuditTemplateSaved  AuditAction = "template_saved"
	AuditValidated      AuditAction = "validated"
	AuditCommitStarted  AuditAction = "commit_started"
	AuditRowCommitted   AuditAction = "row_committed"
	AuditCommitted      AuditAction = "committed"
	AuditRolledBack     AuditAction = "rolled_back"
	AuditCancelled      AuditAction = "cancelled"
	AuditFailed         AuditAction = "failed"
)

// ImportAuditLog is an append-only record of a pipeline event with
// before/after state snapshots. Commit-time entries carry per-customer
// field snapshots; rollback restores updated customers from them.
type ImportAuditLog struct {
	ID          uuid.UUID      `json:"id"`
	BatchID     uuid.UUID      `json:"batch_id"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Actor       string         `json:"actor"`
	Action      AuditAction    `json:"action"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	AffectedIDs []uuid.UUID    `json:"affected_ids,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewAuditEntry creates an audit record for a batch event.
func NewAuditEntry(batchID, tenantID uuid.UUID, actor string, action AuditAction) ImportAuditLog {
	return ImportAuditLog{
		ID:        uuid.New(),
		BatchID:   batchID,
		TenantID:  tenantID,
		Actor:     actor,
		Action:    action,
		CreatedAt: time.Now(),
	}
}

// WithSnapshots attaches before/after state to the entry.
func (a ImportAuditLog) WithSnapshots(before, after map[string]any) ImportAuditLog {
	a.Before = before
	a.After = after
	return a
}

// WithAffected attaches affected entity ids to the entry.
func (a ImportAuditLog) WithAffected(ids ...uuid.UUID) ImportAuditLog {
	a.AffectedIDs = append(a.AffectedIDs, ids...)
	return a
}
