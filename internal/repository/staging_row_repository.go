package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kartoteket/kundeimport/internal/db"
	"github.com/kartoteket/kundeimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type stagingRowRepository struct {
	pool *pgxpool.Pool
}

// NewStagingRowRepository creates a staging row repository backed by pgxpool.
func NewStagingRowRepository(pool *pgxpool.Pool) StagingRowRepository {
	return &stagingRowRepository{pool: pool}
}

// ListByBatch retrieves all staging rows for a batch in row-number order.
// Row order is stable across stages so reports stay deterministic.
func (r *stagingRowRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportStagingRow, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT id, batch_id, row_number, raw_data, mapped_data, status,
			customer_id, action, duplicate_of_id, duplicate_of_row, created_at, updated_at
		 FROM import_staging_rows WHERE batch_id = $1 ORDER BY row_number`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging rows: %w", err)
	}
	defer rows.Close()

	var result []domain.ImportStagingRow
	for rows.Next() {
		var (
			sr         domain.ImportStagingRow
			rawJSON    []byte
			mappedJSON []byte
			action     *string
		)
		err := rows.Scan(&sr.ID, &sr.BatchID, &sr.RowNumber, &rawJSON, &mappedJSON,
			&sr.Status, &sr.CustomerID, &action, &sr.DuplicateOfID, &sr.DuplicateOfRow,
			&sr.CreatedAt, &sr.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staging row: %w", err)
		}
		if err := json.Unmarshal(rawJSON, &sr.RawData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw data: %w", err)
		}
		if len(mappedJSON) > 0 {
			if err := json.Unmarshal(mappedJSON, &sr.MappedData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal mapped data: %w", err)
			}
		}
		if action != nil {
			sr.Action = domain.RowAction(*action)
		}
		result = append(result, sr)
	}
	return result, rows.Err()
}

// UpdateMappedData writes the mapping output back to the row.
func (r *stagingRowRepository) UpdateMappedData(ctx context.Context, row domain.ImportStagingRow) error {
	mapped, err := json.Marshal(row.MappedData)
	if err != nil {
		return fmt.Errorf("failed to marshal mapped data: %w", err)
	}
	_, err = q(ctx, r.pool).Exec(ctx,
		`UPDATE import_staging_rows SET mapped_data = $2, updated_at = now() WHERE id = $1`,
		row.ID, mapped)
	if err != nil {
		return fmt.Errorf("failed to update mapped data: %w", err)
	}
	return nil
}

// UpdateValidation writes status and duplicate references back to the row.
func (r *stagingRowRepository) UpdateValidation(ctx context.Context, row domain.ImportStagingRow) error {
	_, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE import_staging_rows
		 SET status = $2, duplicate_of_id = $3, duplicate_of_row = $4, updated_at = now()
		 WHERE id = $1`,
		row.ID, row.Status, row.DuplicateOfID, row.DuplicateOfRow)
	if err != nil {
		return fmt.Errorf("failed to update row validation: %w", err)
	}
	return nil
}

// UpdateOutcome records the commit engine's per-row result.
func (r *stagingRowRepository) UpdateOutcome(ctx context.Context, row domain.ImportStagingRow) error {
	_, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE import_staging_rows
		 SET action = $2, customer_id = $3, updated_at = now()
		 WHERE id = $1`,
		row.ID, string(row.Action), row.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to update row outcome: %w", err)
	}
	return nil
}

// ReplaceErrors swaps the batch's validation errors for a fresh set; repeated
// validation runs must not accumulate stale findings.
func (r *stagingRowRepository) ReplaceErrors(ctx context.Context, batchID uuid.UUID, errs []domain.ImportValidationError) error {
	return db.Transact(ctx, r.pool, func(ctx context.Context) error {
		tx := q(ctx, r.pool)
		if _, err := tx.Exec(ctx, `DELETE FROM import_validation_errors WHERE batch_id = $1`, batchID); err != nil {
			return fmt.Errorf("failed to clear validation errors: %w", err)
		}

		if len(errs) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"import_validation_errors"},
			[]string{"id", "batch_id", "row_number", "severity", "code", "field", "source_column", "message", "suggestion", "created_at"},
			pgx.CopyFromSlice(len(errs), func(i int) ([]any, error) {
				e := errs[i]
				return []any{e.ID, e.BatchID, e.RowNumber, e.Severity, e.Code, e.Field, e.SourceColumn, e.Message, e.Suggestion, e.CreatedAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert validation errors: %w", err)
		}
		return nil
	})
}

// ListErrors retrieves validation errors for a batch ordered by row number.
func (r *stagingRowRepository) ListErrors(ctx context.Context, batchID uuid.UUID) ([]domain.ImportValidationError, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT id, batch_id, row_number, severity, code, field, source_column, message, suggestion, created_at
		 FROM import_validation_errors WHERE batch_id = $1 ORDER BY row_number, created_at`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation errors: %w", err)
	}
	defer rows.Close()

	var result []domain.ImportValidationError
	for rows.Next() {
		var e domain.ImportValidationError
		err := rows.Scan(&e.ID, &e.BatchID, &e.RowNumber, &e.Severity, &e.Code,
			&e.Field, &e.SourceColumn, &e.Message, &e.Suggestion, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan validation error: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
