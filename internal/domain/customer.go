package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known customer field names. Mapped data and stored customers share
// this vocabulary; anything outside the set is an organization-defined
// custom field.
const (
	FieldNavn       = "navn"
	FieldAdresse    = "adresse"
	FieldPostnummer = "postnummer"
	FieldPoststed   = "poststed"
	FieldEpost      = "epost"
	FieldTelefon    = "telefon"
	FieldOrgnummer  = "orgnummer"
	FieldEksternID  = "ekstern_id"
)

// KnownCustomerFields is the fixed target schema for imports.
var KnownCustomerFields = map[string]bool{
	FieldNavn:       true,
	FieldAdresse:    true,
	FieldPostnummer: true,
	FieldPoststed:   true,
	FieldEpost:      true,
	FieldTelefon:    true,
	FieldOrgnummer:  true,
	FieldEksternID:  true,
}

// Customer is the target business entity imports are committed into. Fields
// holds the fixed schema plus bounded custom fields as JSONB, following the
// property-bag layout used for staged row data.
type Customer struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewCustomer creates a customer with a deep-copied field set.
func NewCustomer(tenantID uuid.UUID, fields map[string]any) Customer {
	now := time.Now()
	return Customer{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Fields:    CopyFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithFields returns a copy of the customer with replaced fields.
func (c Customer) WithFields(fields map[string]any) Customer {
	return Customer{
		ID:        c.ID,
		TenantID:  c.TenantID,
		Fields:    CopyFields(fields),
		CreatedAt: c.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

// FieldString returns a field value as a trimmed string, empty when absent.
func (c Customer) FieldString(name string) string {
	if c.Fields == nil {
		return ""
	}
	value, ok := c.Fields[name]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", value))
}

// Navn returns the customer name.
func (c Customer) Navn() string { return c.FieldString(FieldNavn) }

// Epost returns the customer email.
func (c Customer) Epost() string { return c.FieldString(FieldEpost) }

// EksternID returns the external system key.
func (c Customer) EksternID() string { return c.FieldString(FieldEksternID) }

// FieldsJSONB renders the field set for JSONB storage.
func (c Customer) FieldsJSONB() ([]byte, error) {
	data, err := json.Marshal(c.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal customer fields: %w", err)
	}
	return data, nil
}

// CopyFields deep-copies a field map one level down; nested values are
// JSON-scalar by construction.
func CopyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
