package domain

import (
	"time"

	"github.com/google/uuid"
)

// FingerprintMatch classifies how the current upload's column structure
// relates to the tenant's fingerprint history.
type FingerprintMatch string

const (
	MatchExact FingerprintMatch = "exact"
	MatchNear  FingerprintMatch = "near"
	MatchNone  FingerprintMatch = "none"
)

// ColumnChangeKind describes one structural difference between header sets.
type ColumnChangeKind string

const (
	ColumnAdded   ColumnChangeKind = "added"
	ColumnRemoved ColumnChangeKind = "removed"
	ColumnRenamed ColumnChangeKind = "renamed"
)

// ColumnChange reports one added, removed, or renamed column with the
// similarity score that supported the classification.
type ColumnChange struct {
	Kind        ColumnChangeKind `json:"kind"`
	Column      string           `json:"column"`
	RenamedFrom string           `json:"renamed_from,omitempty"`
	Similarity  float64          `json:"similarity,omitempty"`
}

// FormatChange is the detector's verdict for one upload.
type FormatChange struct {
	Match                FingerprintMatch `json:"match"`
	Fingerprint          string           `json:"fingerprint"`
	FormatChangeDetected bool             `json:"format_change_detected"`
	Changes              []ColumnChange   `json:"changes,omitempty"`
	Similarity           float64          `json:"similarity,omitempty"`
	// ClosestTemplateID offers the nearest saved template as a starting
	// point; nil when no template exists for the tenant.
	ClosestTemplateID *uuid.UUID `json:"closest_template_id,omitempty"`
}

// ColumnHistoryEntry records one column fingerprint a tenant has uploaded.
type ColumnHistoryEntry struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Fingerprint string    `json:"fingerprint"`
	Headers     []string  `json:"headers"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	BatchCount  int       `json:"batch_count"`
}
