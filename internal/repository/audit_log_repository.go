package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kartoteket/kundeimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates an audit log repository backed by pgxpool.
// The table is insert-only; no update or delete methods exist.
func NewAuditLogRepository(pool *pgxpool.Pool) AuditLogRepository {
	return &auditLogRepository{pool: pool}
}

// Append records one audit entry.
func (r *auditLogRepository) Append(ctx context.Context, entry domain.ImportAuditLog) error {
	before, err := marshalSnapshot(entry.Before)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(entry.After)
	if err != nil {
		return err
	}

	_, err = q(ctx, r.pool).Exec(ctx,
		`INSERT INTO import_audit_log (id, batch_id, tenant_id, actor, action, before_state, after_state, affected_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.BatchID, entry.TenantID, entry.Actor, entry.Action,
		before, after, entry.AffectedIDs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByBatch retrieves a batch's audit trail in insertion order.
func (r *auditLogRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportAuditLog, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT id, batch_id, tenant_id, actor, action, before_state, after_state, affected_ids, created_at
		 FROM import_audit_log WHERE batch_id = $1 ORDER BY created_at, id`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var result []domain.ImportAuditLog
	for rows.Next() {
		var (
			entry      domain.ImportAuditLog
			beforeJSON []byte
			afterJSON  []byte
		)
		err := rows.Scan(&entry.ID, &entry.BatchID, &entry.TenantID, &entry.Actor,
			&entry.Action, &beforeJSON, &afterJSON, &entry.AffectedIDs, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(beforeJSON) > 0 {
			if err := json.Unmarshal(beforeJSON, &entry.Before); err != nil {
				return nil, fmt.Errorf("failed to unmarshal before state: %w", err)
			}
		}
		if len(afterJSON) > 0 {
			if err := json.Unmarshal(afterJSON, &entry.After); err != nil {
				return nil, fmt.Errorf("failed to unmarshal after state: %w", err)
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func marshalSnapshot(snapshot map[string]any) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}
