// Package fingerprint derives stable hashes of a file's column structure and
// detects format changes across a tenant's repeated uploads.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/repository"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
)

// nearMatchThreshold is the minimum set similarity for a near match; below it
// the upload requires full manual mapping.
const nearMatchThreshold = 0.6

// renameThreshold is the minimum pairwise header similarity to call a column
// renamed rather than removed-plus-added.
const renameThreshold = 0.6

// Normalize lowercases a header and collapses internal whitespace so that
// cosmetic differences do not change the fingerprint.
func Normalize(header string) string {
	return strings.Join(strings.Fields(strings.ToLower(header)), " ")
}

// Fingerprint hashes the ordered, normalized header list. Order-sensitive:
// reordering columns produces a different fingerprint.
func Fingerprint(headers []string) string {
	return hashHeaders(normalizeAll(headers))
}

// SortedFingerprint hashes the normalized header set irrespective of order.
// Used as the similarity fallback when the exact form does not match.
func SortedFingerprint(headers []string) string {
	normalized := normalizeAll(headers)
	sorted := append([]string(nil), normalized...)
	sort.Strings(sorted)
	return hashHeaders(sorted)
}

func normalizeAll(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = Normalize(h)
	}
	return out
}

func hashHeaders(headers []string) string {
	sum := sha256.Sum256([]byte(strings.Join(headers, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Similarity returns a 0..1 ratio between two headers based on Levenshtein
// distance over the normalized forms.
func Similarity(a, b string) float64 {
	a = Normalize(a)
	b = Normalize(b)
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

// Detector compares uploads against the tenant's fingerprint history.
type Detector struct {
	history   repository.ColumnHistoryRepository
	templates repository.TemplateRepository
}

// NewDetector creates a format-change detector.
func NewDetector(history repository.ColumnHistoryRepository, templates repository.TemplateRepository) *Detector {
	return &Detector{history: history, templates: templates}
}

// Detect classifies the upload's column structure against the tenant's
// history and records the fingerprint sighting regardless of outcome.
func (d *Detector) Detect(ctx context.Context, tenantID uuid.UUID, headers []string) (domain.FormatChange, error) {
	fp := Fingerprint(headers)
	change := domain.FormatChange{
		Match:       domain.MatchNone,
		Fingerprint: fp,
	}

	tpl, err := d.templates.FindByFingerprint(ctx, tenantID, fp)
	switch {
	case err == nil:
		change.Match = domain.MatchExact
		change.Similarity = 1
		id := tpl.ID
		change.ClosestTemplateID = &id
	case errors.Is(err, repository.ErrNotFound):
		// fall through to similarity search
	default:
		return domain.FormatChange{}, fmt.Errorf("failed to look up template: %w", err)
	}

	if change.Match != domain.MatchExact {
		entries, err := d.history.ListByTenant(ctx, tenantID)
		if err != nil {
			return domain.FormatChange{}, fmt.Errorf("failed to load column history: %w", err)
		}

		best, bestScore := d.closestEntry(headers, entries, fp)
		if best != nil && bestScore >= nearMatchThreshold {
			change.Match = domain.MatchNear
			change.FormatChangeDetected = true
			change.Similarity = bestScore
			change.Changes = diffHeaders(best.Headers, headers)

			// Still offer the nearest template as a starting point.
			if nearTpl, err := d.templates.FindByFingerprint(ctx, tenantID, best.Fingerprint); err == nil {
				id := nearTpl.ID
				change.ClosestTemplateID = &id
			} else if !errors.Is(err, repository.ErrNotFound) {
				return domain.FormatChange{}, fmt.Errorf("failed to look up near template: %w", err)
			}
		}
	}

	entry := domain.ColumnHistoryEntry{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Fingerprint: fp,
		Headers:     append([]string(nil), headers...),
	}
	if _, err := d.history.Upsert(ctx, entry); err != nil {
		return domain.FormatChange{}, fmt.Errorf("failed to record fingerprint: %w", err)
	}

	return change, nil
}

func (d *Detector) closestEntry(headers []string, entries []domain.ColumnHistoryEntry, currentFP string) (*domain.ColumnHistoryEntry, float64) {
	var (
		best      *domain.ColumnHistoryEntry
		bestScore float64
	)
	for i := range entries {
		entry := entries[i]
		if entry.Fingerprint == currentFP {
			continue
		}
		score := SetSimilarity(entry.Headers, headers)
		if score > bestScore {
			bestScore = score
			best = &entries[i]
		}
	}
	return best, bestScore
}

// SetSimilarity scores two header sets 0..1: exact normalized matches count
// as 1, renamed pairs contribute their pairwise ratio, the rest count as 0.
func SetSimilarity(previous, current []string) float64 {
	if len(previous) == 0 && len(current) == 0 {
		return 1
	}
	matched, renames := pairHeaders(previous, current)

	total := float64(matched)
	for _, score := range renames {
		total += score
	}

	denominator := len(previous)
	if len(current) > denominator {
		denominator = len(current)
	}
	if denominator == 0 {
		return 0
	}
	return total / float64(denominator)
}

// pairHeaders returns the count of exact normalized matches and the pairwise
// scores of headers classified as renames.
func pairHeaders(previous, current []string) (int, map[string]float64) {
	prevSet := make(map[string]bool, len(previous))
	for _, h := range previous {
		prevSet[Normalize(h)] = true
	}

	matched := 0
	var unmatched []string
	for _, h := range current {
		if prevSet[Normalize(h)] {
			matched++
			delete(prevSet, Normalize(h))
			continue
		}
		unmatched = append(unmatched, h)
	}

	var leftovers []string
	for h := range prevSet {
		leftovers = append(leftovers, h)
	}
	sort.Strings(leftovers)

	renames := make(map[string]float64)
	for _, h := range unmatched {
		bestIdx := -1
		bestScore := 0.0
		for i, old := range leftovers {
			if old == "" {
				continue
			}
			if score := Similarity(old, h); score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx >= 0 && bestScore >= renameThreshold {
			renames[Normalize(h)] = bestScore
			leftovers[bestIdx] = ""
		}
	}
	return matched, renames
}

// diffHeaders lists added, removed, and renamed columns between the previous
// and current header sets with supporting similarity scores.
func diffHeaders(previous, current []string) []domain.ColumnChange {
	prevLeft := make(map[string]string, len(previous)) // normalized -> original
	for _, h := range previous {
		prevLeft[Normalize(h)] = h
	}

	var unmatched []string
	for _, h := range current {
		if _, ok := prevLeft[Normalize(h)]; ok {
			delete(prevLeft, Normalize(h))
			continue
		}
		unmatched = append(unmatched, h)
	}

	type leftover struct {
		normalized string
		original   string
	}
	var leftovers []leftover
	for norm, orig := range prevLeft {
		leftovers = append(leftovers, leftover{normalized: norm, original: orig})
	}
	sort.Slice(leftovers, func(i, j int) bool { return leftovers[i].normalized < leftovers[j].normalized })

	var changes []domain.ColumnChange
	for _, h := range unmatched {
		bestIdx := -1
		bestScore := 0.0
		for i, old := range leftovers {
			if old.normalized == "" {
				continue
			}
			if score := Similarity(old.original, h); score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx >= 0 && bestScore >= renameThreshold {
			changes = append(changes, domain.ColumnChange{
				Kind:        domain.ColumnRenamed,
				Column:      h,
				RenamedFrom: leftovers[bestIdx].original,
				Similarity:  bestScore,
			})
			leftovers[bestIdx].normalized = ""
			continue
		}
		changes = append(changes, domain.ColumnChange{Kind: domain.ColumnAdded, Column: h})
	}
	for _, old := range leftovers {
		if old.normalized == "" {
			continue
		}
		changes = append(changes, domain.ColumnChange{Kind: domain.ColumnRemoved, Column: old.original})
	}
	return changes
}
