package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransformationType enumerates the closed set of column transformations.
// Keeping this a tagged enum (rather than function-valued config) keeps
// MappingConfig JSON-storable while still dispatched through a typed registry.
type TransformationType string

const (
	TransformNone         TransformationType = "none"
	TransformTrim         TransformationType = "trim"
	TransformUppercase    TransformationType = "uppercase"
	TransformLowercase    TransformationType = "lowercase"
	TransformTitlecase    TransformationType = "titlecase"
	TransformParseNumber  TransformationType = "parse_number"
	TransformParseDate    TransformationType = "parse_date"
	TransformRegexExtract TransformationType = "regex_extract"
	TransformSplit        TransformationType = "split"
	TransformLookup       TransformationType = "lookup"
)

// ValidationType enumerates the closed set of per-field validation rules.
type ValidationType string

const (
	ValidateRequired      ValidationType = "required"
	ValidateMinLength     ValidationType = "minLength"
	ValidateMaxLength     ValidationType = "maxLength"
	ValidatePattern       ValidationType = "pattern"
	ValidateEmail         ValidationType = "email"
	ValidatePhone         ValidationType = "phone"
	ValidatePostnummer    ValidationType = "postnummer"
	ValidateDate          ValidationType = "date"
	ValidateDateRange     ValidationType = "dateRange"
	ValidateNumber        ValidationType = "number"
	ValidateInteger       ValidationType = "integer"
	ValidateRange         ValidationType = "range"
	ValidateEnum          ValidationType = "enum"
	ValidateUnique        ValidationType = "unique"
	ValidateUniqueInBatch ValidationType = "uniqueInBatch"
)

// TransformationRule configures one transformation applied to a source value.
type TransformationRule struct {
	Type       TransformationType `json:"type"`
	Pattern    string             `json:"pattern,omitempty"`    // regex_extract
	Group      int                `json:"group,omitempty"`      // regex_extract capture group
	Separator  string             `json:"separator,omitempty"`  // split
	Index      int                `json:"index,omitempty"`      // split part index
	DateFormat string             `json:"dateFormat,omitempty"` // parse_date named format
	Lookup     map[string]string  `json:"lookup,omitempty"`     // lookup substitution table
}

// ValidationRule configures one validation evaluated against a mapped field.
type ValidationRule struct {
	Type     ValidationType `json:"type"`
	Severity Severity       `json:"severity,omitempty"` // defaults to error
	Min      *float64       `json:"min,omitempty"`
	Max      *float64       `json:"max,omitempty"`
	Pattern  string         `json:"pattern,omitempty"`
	Values   []string       `json:"values,omitempty"`
	MinDate  string         `json:"minDate,omitempty"`
	MaxDate  string         `json:"maxDate,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// EffectiveSeverity returns the configured severity, defaulting to error.
func (r ValidationRule) EffectiveSeverity() Severity {
	if r.Severity == "" {
		return SeverityError
	}
	return r.Severity
}

// ColumnMapping binds one source column to one target field.
type ColumnMapping struct {
	SourceColumn      string              `json:"sourceColumn"`
	TargetField       string              `json:"targetField"`
	Required          bool                `json:"required,omitempty"`
	Transformation    *TransformationRule `json:"transformation,omitempty"`
	Validations       []ValidationRule    `json:"validations,omitempty"`
	DefaultValue      string              `json:"defaultValue,omitempty"`
	UseDefaultIfEmpty bool                `json:"useDefaultIfEmpty,omitempty"`
}

// DuplicateDetection selects the key used to find duplicate customers.
type DuplicateDetection string

const (
	DuplicateDetectNone        DuplicateDetection = "none"
	DuplicateDetectName        DuplicateDetection = "name"
	DuplicateDetectNameAddress DuplicateDetection = "name_address"
	DuplicateDetectExternalID  DuplicateDetection = "external_id"
	DuplicateDetectEmail       DuplicateDetection = "email"
)

// DuplicateAction selects what the commit engine does with a detected duplicate.
type DuplicateAction string

const (
	DuplicateActionSkip   DuplicateAction = "skip"
	DuplicateActionUpdate DuplicateAction = "update"
	DuplicateActionError  DuplicateAction = "error"
)

// MappingOptions carries batch-global mapping and validation policy.
type MappingOptions struct {
	DuplicateDetection DuplicateDetection `json:"duplicateDetection,omitempty"`
	DuplicateAction    DuplicateAction    `json:"duplicateAction,omitempty"`
	StopOnFirstError   bool               `json:"stopOnFirstError,omitempty"`
	MaxErrors          int                `json:"maxErrors,omitempty"`
	DateFormat         string             `json:"dateFormat,omitempty"`
	SkipHeaderRows     int                `json:"skipHeaderRows,omitempty"`
}

// MappingConfig is the versioned, serializable column-to-field configuration
// embedded in batches and templates.
type MappingConfig struct {
	Version int             `json:"version"`
	Columns []ColumnMapping `json:"columns"`
	Options MappingOptions  `json:"options"`
}

// Validate checks structural soundness before a config is applied or saved.
func (c MappingConfig) Validate() error {
	if len(c.Columns) == 0 {
		return fmt.Errorf("mapping config has no column mappings")
	}
	seen := make(map[string]string, len(c.Columns))
	for _, col := range c.Columns {
		if col.SourceColumn == "" {
			return fmt.Errorf("column mapping for target %q has no source column", col.TargetField)
		}
		if col.TargetField == "" {
			return fmt.Errorf("column mapping for source %q has no target field", col.SourceColumn)
		}
		if prev, ok := seen[col.TargetField]; ok {
			return fmt.Errorf("target field %q mapped from both %q and %q", col.TargetField, prev, col.SourceColumn)
		}
		seen[col.TargetField] = col.SourceColumn
	}
	return nil
}

// MarshalJSONB renders the config for JSONB storage.
func (c MappingConfig) MarshalJSONB() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mapping config: %w", err)
	}
	return data, nil
}

// TemplateProvenance records how a template came to exist.
type TemplateProvenance string

const (
	ProvenanceAISuggested    TemplateProvenance = "ai_suggested"
	ProvenanceHumanConfirmed TemplateProvenance = "human_confirmed"
)

// ImportMappingTemplate is a named, reusable mapping keyed by tenant and
// column fingerprint. Looked up on future uploads to skip remapping.
type ImportMappingTemplate struct {
	ID          uuid.UUID          `json:"id"`
	TenantID    uuid.UUID          `json:"tenant_id"`
	Name        string             `json:"name"`
	Fingerprint string             `json:"fingerprint"`
	Config      MappingConfig      `json:"config"`
	Provenance  TemplateProvenance `json:"provenance"`
	UseCount    int                `json:"use_count"`
	LastUsedAt  *time.Time         `json:"last_used_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// MappingSuggestion is one ranked column-to-field candidate. Deterministic
// pattern rules and externally supplied AI suggestions share this shape;
// confidence and reasoning pass through unmodified for auditability.
type MappingSuggestion struct {
	SourceColumn string  `json:"sourceColumn"`
	TargetField  string  `json:"targetField"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning,omitempty"`
	Origin       string  `json:"origin"` // "pattern" or "external"
}
