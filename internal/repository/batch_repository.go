package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kartoteket/kundeimport/internal/db"
	"github.com/kartoteket/kundeimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// batchRepository implements BatchRepository and BatchLocker over pgxpool.
type batchRepository struct {
	conn *db.Connection
	pool *pgxpool.Pool
}

// NewBatchRepository creates a batch repository backed by the connection's
// pool. The connection itself is kept for transactional batch locking.
func NewBatchRepository(conn *db.Connection) *batchRepository {
	return &batchRepository{conn: conn, pool: conn.Pool}
}

const batchColumns = `id, tenant_id, file_name, file_size, content_hash, column_fingerprint,
	headers, column_count, row_count, status, requires_remapping, format_change_detected,
	template_id, mapping_config, valid_rows, warning_rows, error_rows, error_message,
	committed_at, committed_by, rolled_back_at, created_at, updated_at`

// CreateWithRows persists the batch and bulk-inserts its staging rows in one
// transaction so a failed parse leaves no partial state behind.
func (r *batchRepository) CreateWithRows(ctx context.Context, batch domain.ImportBatch, rows []domain.ImportStagingRow) (domain.ImportBatch, error) {
	mappingJSON, err := marshalMapping(batch.Mapping)
	if err != nil {
		return domain.ImportBatch{}, err
	}
	headersJSON, err := json.Marshal(batch.Headers)
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to marshal headers: %w", err)
	}

	err = r.conn.WithTx(ctx, func(ctx context.Context) error {
		tx := q(ctx, r.pool)
		_, err := tx.Exec(ctx,
			`INSERT INTO import_batches (id, tenant_id, file_name, file_size, content_hash,
				column_fingerprint, headers, column_count, row_count, status, requires_remapping,
				format_change_detected, template_id, mapping_config, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			batch.ID, batch.TenantID, batch.FileName, batch.FileSize, batch.ContentHash,
			batch.ColumnFingerprint, headersJSON, batch.ColumnCount, batch.RowCount, batch.Status,
			batch.RequiresRemapping, batch.FormatChangeDetected, batch.TemplateID,
			mappingJSON, batch.CreatedAt, batch.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"import_staging_rows"},
			[]string{"id", "batch_id", "row_number", "raw_data", "status", "created_at", "updated_at"},
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				raw, err := json.Marshal(rows[i].RawData)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal raw data for row %d: %w", rows[i].RowNumber, err)
				}
				return []any{rows[i].ID, rows[i].BatchID, rows[i].RowNumber, raw, rows[i].Status, rows[i].CreatedAt, rows[i].UpdatedAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert staging rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ImportBatch{}, err
	}
	return batch, nil
}

// GetByID retrieves a batch by id.
func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportBatch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return domain.ImportBatch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

// List retrieves batches for a tenant, newest first.
func (r *batchRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT `+batchColumns+` FROM import_batches
		 WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.ImportBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// Update persists mutable batch attributes. Status is deliberately excluded;
// TransitionStatus is the only status writer.
func (r *batchRepository) Update(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	mappingJSON, err := marshalMapping(batch.Mapping)
	if err != nil {
		return domain.ImportBatch{}, err
	}

	tag, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE import_batches SET
			column_fingerprint = $2, column_count = $3, row_count = $4,
			requires_remapping = $5, format_change_detected = $6, template_id = $7,
			mapping_config = $8, valid_rows = $9, warning_rows = $10, error_rows = $11,
			error_message = $12, committed_at = $13, committed_by = $14,
			rolled_back_at = $15, updated_at = now()
		 WHERE id = $1`,
		batch.ID, batch.ColumnFingerprint, batch.ColumnCount, batch.RowCount,
		batch.RequiresRemapping, batch.FormatChangeDetected, batch.TemplateID,
		mappingJSON, batch.ValidRows, batch.WarningRows, batch.ErrorRows,
		nullIfEmpty(batch.ErrorMessage), batch.CommittedAt, nullIfEmpty(batch.CommittedBy),
		batch.RolledBackAt,
	)
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ImportBatch{}, fmt.Errorf("batch %s: %w", batch.ID, ErrNotFound)
	}
	return r.GetByID(ctx, batch.ID)
}

// TransitionStatus compare-and-swaps the batch status. A zero row count means
// another stage got there first (or the caller's view is stale) and maps to
// domain.ErrConflict.
func (r *batchRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.BatchStatus) error {
	tag, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE import_batches SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("failed to transition batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: expected status %s: %w", id, from, domain.ErrConflict)
	}
	return nil
}

// WithBatchLock serializes stage invocations on one batch with a transaction
// scoped advisory lock. The transaction is carried on the context fn
// receives, so every statement a stage issues under the lock joins it: the
// stage lands whole or not at all, and the lock releases when the
// transaction ends.
func (r *batchRepository) WithBatchLock(ctx context.Context, batchID uuid.UUID, fn func(ctx context.Context) error) error {
	return r.conn.WithTx(ctx, func(ctx context.Context) error {
		if _, err := db.TxFrom(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, batchID.String()); err != nil {
			return fmt.Errorf("failed to acquire batch lock: %w", err)
		}
		return fn(ctx)
	})
}

func marshalMapping(cfg *domain.MappingConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	data, err := cfg.MarshalJSONB()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (domain.ImportBatch, error) {
	var (
		batch        domain.ImportBatch
		headersJSON  []byte
		mappingJSON  []byte
		errorMessage *string
		committedBy  *string
	)
	err := row.Scan(
		&batch.ID, &batch.TenantID, &batch.FileName, &batch.FileSize, &batch.ContentHash,
		&batch.ColumnFingerprint, &headersJSON, &batch.ColumnCount, &batch.RowCount, &batch.Status,
		&batch.RequiresRemapping, &batch.FormatChangeDetected, &batch.TemplateID,
		&mappingJSON, &batch.ValidRows, &batch.WarningRows, &batch.ErrorRows,
		&errorMessage, &batch.CommittedAt, &committedBy, &batch.RolledBackAt,
		&batch.CreatedAt, &batch.UpdatedAt,
	)
	if err != nil {
		return domain.ImportBatch{}, err
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &batch.Headers); err != nil {
			return domain.ImportBatch{}, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if errorMessage != nil {
		batch.ErrorMessage = *errorMessage
	}
	if committedBy != nil {
		batch.CommittedBy = *committedBy
	}
	if len(mappingJSON) > 0 {
		var cfg domain.MappingConfig
		if err := json.Unmarshal(mappingJSON, &cfg); err != nil {
			return domain.ImportBatch{}, fmt.Errorf("failed to unmarshal mapping config: %w", err)
		}
		batch.Mapping = &cfg
	}
	return batch, nil
}
