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

type customerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository creates the permanent customer store backed by pgxpool.
func NewCustomerRepository(pool *pgxpool.Pool) CustomerRepository {
	return &customerRepository{pool: pool}
}

const customerColumns = `id, tenant_id, fields, created_at, updated_at`

// Create inserts a new customer.
func (r *customerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	fieldsJSON, err := customer.FieldsJSONB()
	if err != nil {
		return domain.Customer{}, err
	}
	_, err = q(ctx, r.pool).Exec(ctx,
		`INSERT INTO customers (id, tenant_id, fields, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		customer.ID, customer.TenantID, fieldsJSON, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("failed to create customer: %w", err)
	}
	return customer, nil
}

// GetByID retrieves a customer by id.
func (r *customerRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Customer, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Customer{}, fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		return domain.Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}

// Update replaces a customer's field set.
func (r *customerRepository) Update(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	fieldsJSON, err := customer.FieldsJSONB()
	if err != nil {
		return domain.Customer{}, err
	}
	tag, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE customers SET fields = $2, updated_at = now() WHERE id = $1`,
		customer.ID, fieldsJSON)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("failed to update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Customer{}, fmt.Errorf("customer %s: %w", customer.ID, ErrNotFound)
	}
	return customer, nil
}

// Delete removes a customer; rollback of created rows is the only caller.
func (r *customerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := q(ctx, r.pool).Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	return nil
}

// FindByExternalID looks up a customer by the external system key.
func (r *customerRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (domain.Customer, error) {
	return r.findByField(ctx, tenantID, domain.FieldEksternID, externalID)
}

// FindByEmail looks up a customer by email, case-insensitively.
func (r *customerRepository) FindByEmail(ctx context.Context, tenantID uuid.UUID, email string) (domain.Customer, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers
		 WHERE tenant_id = $1 AND lower(fields->>'epost') = lower($2)
		 LIMIT 1`,
		tenantID, email)
	return wrapCustomerLookup(scanCustomer(row))
}

// FindByName looks up a customer by name, case-insensitively.
func (r *customerRepository) FindByName(ctx context.Context, tenantID uuid.UUID, navn string) (domain.Customer, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers
		 WHERE tenant_id = $1 AND lower(fields->>'navn') = lower($2)
		 LIMIT 1`,
		tenantID, navn)
	return wrapCustomerLookup(scanCustomer(row))
}

// FindByNameAddress looks up a customer by the name+address pair.
func (r *customerRepository) FindByNameAddress(ctx context.Context, tenantID uuid.UUID, navn, adresse string) (domain.Customer, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers
		 WHERE tenant_id = $1 AND lower(fields->>'navn') = lower($2) AND lower(fields->>'adresse') = lower($3)
		 LIMIT 1`,
		tenantID, navn, adresse)
	return wrapCustomerLookup(scanCustomer(row))
}

func (r *customerRepository) findByField(ctx context.Context, tenantID uuid.UUID, field, value string) (domain.Customer, error) {
	row := q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers
		 WHERE tenant_id = $1 AND fields->>$2 = $3
		 LIMIT 1`,
		tenantID, field, value)
	return wrapCustomerLookup(scanCustomer(row))
}

func wrapCustomerLookup(customer domain.Customer, err error) (domain.Customer, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Customer{}, ErrNotFound
		}
		return domain.Customer{}, fmt.Errorf("failed to find customer: %w", err)
	}
	return customer, nil
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var (
		customer   domain.Customer
		fieldsJSON []byte
	)
	err := row.Scan(&customer.ID, &customer.TenantID, &fieldsJSON, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		return domain.Customer{}, err
	}
	if err := json.Unmarshal(fieldsJSON, &customer.Fields); err != nil {
		return domain.Customer{}, fmt.Errorf("failed to unmarshal customer fields: %w", err)
	}
	return customer, nil
}
