package repository

import (
	"context"
	"fmt"

	"github.com/kartoteket/kundeimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type columnHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewColumnHistoryRepository creates a column history repository backed by pgxpool.
func NewColumnHistoryRepository(pool *pgxpool.Pool) ColumnHistoryRepository {
	return &columnHistoryRepository{pool: pool}
}

// Upsert records a fingerprint sighting: first upload inserts, repeats bump
// last_seen and batch_count.
func (r *columnHistoryRepository) Upsert(ctx context.Context, entry domain.ColumnHistoryEntry) (domain.ColumnHistoryEntry, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO import_column_history (id, tenant_id, fingerprint, headers, first_seen, last_seen, batch_count)
		 VALUES ($1, $2, $3, $4, now(), now(), 1)
		 ON CONFLICT (tenant_id, fingerprint) DO UPDATE
			SET last_seen = now(), batch_count = import_column_history.batch_count + 1
		 RETURNING id, first_seen, last_seen, batch_count`,
		entry.ID, entry.TenantID, entry.Fingerprint, entry.Headers)
	if err := row.Scan(&entry.ID, &entry.FirstSeen, &entry.LastSeen, &entry.BatchCount); err != nil {
		return domain.ColumnHistoryEntry{}, fmt.Errorf("failed to upsert column history: %w", err)
	}
	return entry, nil
}

// ListByTenant retrieves the tenant's fingerprint history, most recent first.
func (r *columnHistoryRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.ColumnHistoryEntry, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT id, tenant_id, fingerprint, headers, first_seen, last_seen, batch_count
		 FROM import_column_history WHERE tenant_id = $1 ORDER BY last_seen DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list column history: %w", err)
	}
	defer rows.Close()

	var result []domain.ColumnHistoryEntry
	for rows.Next() {
		var entry domain.ColumnHistoryEntry
		err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Fingerprint, &entry.Headers,
			&entry.FirstSeen, &entry.LastSeen, &entry.BatchCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan column history: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
