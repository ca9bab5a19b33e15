package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kartoteket/kundeimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type templateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a mapping template repository backed by pgxpool.
func NewTemplateRepository(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepository{pool: pool}
}

// Save upserts a template on (tenant_id, fingerprint). Saving an existing
// fingerprint replaces the config and provenance in place.
func (r *templateRepository) Save(ctx context.Context, tpl domain.ImportMappingTemplate) (domain.ImportMappingTemplate, error) {
	configJSON, err := tpl.Config.MarshalJSONB()
	if err != nil {
		return domain.ImportMappingTemplate{}, err
	}

	row := q(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO import_mapping_templates
			(id, tenant_id, name, fingerprint, config, provenance, use_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
		 ON CONFLICT (tenant_id, fingerprint) DO UPDATE
			SET name = EXCLUDED.name, config = EXCLUDED.config,
			    provenance = EXCLUDED.provenance, updated_at = now()
		 RETURNING id, use_count, last_used_at, created_at, updated_at`,
		tpl.ID, tpl.TenantID, tpl.Name, tpl.Fingerprint, configJSON, tpl.Provenance)

	if err := row.Scan(&tpl.ID, &tpl.UseCount, &tpl.LastUsedAt, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return domain.ImportMappingTemplate{}, fmt.Errorf("failed to save template: %w", err)
	}
	return tpl, nil
}

// FindByFingerprint retrieves the tenant's template for an exact fingerprint.
func (r *templateRepository) FindByFingerprint(ctx context.Context, tenantID uuid.UUID, fingerprint string) (domain.ImportMappingTemplate, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`SELECT id, tenant_id, name, fingerprint, config, provenance, use_count, last_used_at, created_at, updated_at
		 FROM import_mapping_templates WHERE tenant_id = $1 AND fingerprint = $2`,
		tenantID, fingerprint)
	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportMappingTemplate{}, fmt.Errorf("template for fingerprint %s: %w", fingerprint, ErrNotFound)
		}
		return domain.ImportMappingTemplate{}, fmt.Errorf("failed to find template: %w", err)
	}
	return tpl, nil
}

// ListByTenant retrieves all of a tenant's templates, most recently used first.
func (r *templateRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.ImportMappingTemplate, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT id, tenant_id, name, fingerprint, config, provenance, use_count, last_used_at, created_at, updated_at
		 FROM import_mapping_templates WHERE tenant_id = $1
		 ORDER BY last_used_at DESC NULLS LAST, created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var result []domain.ImportMappingTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		result = append(result, tpl)
	}
	return result, rows.Err()
}

// TouchUsage bumps the template's usage statistics after an auto-apply.
func (r *templateRepository) TouchUsage(ctx context.Context, id uuid.UUID) error {
	_, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE import_mapping_templates
		 SET use_count = use_count + 1, last_used_at = now(), updated_at = now()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch template usage: %w", err)
	}
	return nil
}

func scanTemplate(row rowScanner) (domain.ImportMappingTemplate, error) {
	var (
		tpl        domain.ImportMappingTemplate
		configJSON []byte
	)
	err := row.Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &tpl.Fingerprint, &configJSON,
		&tpl.Provenance, &tpl.UseCount, &tpl.LastUsedAt, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return domain.ImportMappingTemplate{}, err
	}
	if err := json.Unmarshal(configJSON, &tpl.Config); err != nil {
		return domain.ImportMappingTemplate{}, fmt.Errorf("failed to unmarshal template config: %w", err)
	}
	return tpl, nil
}
