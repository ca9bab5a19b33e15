// Package validation classifies mapped staging rows, detects duplicates
// within the batch and against committed customers, and derives batch
// quality reports.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/repository"

	"github.com/google/uuid"
)

// defaultWorkers bounds row-level parallelism so memory and downstream
// connection usage stay bounded on large files.
const defaultWorkers = 8

// CustomerFinder is the subset of the customer store used for duplicate
// detection against committed records.
type CustomerFinder interface {
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, tenantID uuid.UUID, email string) (domain.Customer, error)
	FindByName(ctx context.Context, tenantID uuid.UUID, navn string) (domain.Customer, error)
	FindByNameAddress(ctx context.Context, tenantID uuid.UUID, navn, adresse string) (domain.Customer, error)
}

// Validator runs per-row rules and batch-level duplicate detection.
type Validator struct {
	finder  CustomerFinder
	workers int
}

// NewValidator creates a validator with the default worker pool size.
func NewValidator(finder CustomerFinder) *Validator {
	return &Validator{finder: finder, workers: defaultWorkers}
}

// RowResult carries a row's derived status and duplicate references back to
// the staging store.
type RowResult struct {
	RowNumber      int
	Status         domain.RowStatus
	DuplicateOfID  *uuid.UUID
	DuplicateOfRow int
}

// Result is the outcome of validating one batch. Rows and errors are ordered
// by row number regardless of worker completion order.
type Result struct {
	Rows        []RowResult
	Errors      []domain.ImportValidationError
	ValidRows   int
	WarningRows int
	InvalidRows int
	Truncated   bool
}

// ValidateBatch evaluates every mapped row against the batch's mapping
// config. Row evaluation is parallelized across a bounded worker pool unless
// an error cap is configured, in which case rows run in order so truncation
// is deterministic.
func (v *Validator) ValidateBatch(ctx context.Context, batch domain.ImportBatch, stagingRows []domain.ImportStagingRow) (Result, error) {
	if batch.Mapping == nil {
		return Result{}, fmt.Errorf("batch %s has no mapping config", batch.ID)
	}
	cfg := *batch.Mapping

	rowErrors := make(map[int][]domain.ImportValidationError, len(stagingRows))

	maxErrors := cfg.Options.MaxErrors
	if cfg.Options.StopOnFirstError && (maxErrors == 0 || maxErrors > 1) {
		maxErrors = 1
	}

	truncatedFrom := 0
	if maxErrors > 0 {
		truncatedFrom = v.evaluateSequential(batch, cfg, stagingRows, rowErrors, maxErrors)
	} else {
		v.evaluateParallel(ctx, batch, cfg, stagingRows, rowErrors)
	}

	// Duplicate detection needs a full-batch pass before any row is final.
	dupIDs, dupRows, err := v.detectDuplicates(ctx, batch, cfg, stagingRows, rowErrors, truncatedFrom)
	if err != nil {
		return Result{}, err
	}

	result := Result{}
	for _, row := range stagingRows {
		violations := rowErrors[row.RowNumber]
		status := domain.ResolveRowStatus(violations)

		rr := RowResult{RowNumber: row.RowNumber, Status: status}
		if id, ok := dupIDs[row.RowNumber]; ok {
			rr.DuplicateOfID = id
		}
		if prev, ok := dupRows[row.RowNumber]; ok {
			rr.DuplicateOfRow = prev
		}
		result.Rows = append(result.Rows, rr)

		switch status {
		case domain.RowStatusValid:
			result.ValidRows++
		case domain.RowStatusWarning:
			result.WarningRows++
		case domain.RowStatusInvalid:
			result.InvalidRows++
		}
	}

	for _, row := range stagingRows {
		result.Errors = append(result.Errors, rowErrors[row.RowNumber]...)
	}
	result.Truncated = truncatedFrom > 0
	return result, nil
}

// evaluateParallel fans rows out over the worker pool and merges findings
// keyed by row number, keeping output order independent of scheduling.
func (v *Validator) evaluateParallel(ctx context.Context, batch domain.ImportBatch, cfg domain.MappingConfig, stagingRows []domain.ImportStagingRow, rowErrors map[int][]domain.ImportValidationError) {
	workers := v.workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	type finding struct {
		rowNumber  int
		violations []domain.ImportValidationError
	}

	jobs := make(chan domain.ImportStagingRow)
	findings := make(chan finding, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				findings <- finding{rowNumber: row.RowNumber, violations: evaluateRow(batch, cfg, row)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, row := range stagingRows {
			select {
			case jobs <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(findings)
	}()

	for f := range findings {
		if len(f.violations) > 0 {
			rowErrors[f.rowNumber] = f.violations
		}
	}
}

// evaluateSequential walks rows in order and stops once the error cap is
// reached, attaching a single summarizing error instead of evaluating the
// remainder. Returns the first unevaluated row number, or zero.
func (v *Validator) evaluateSequential(batch domain.ImportBatch, cfg domain.MappingConfig, stagingRows []domain.ImportStagingRow, rowErrors map[int][]domain.ImportValidationError, maxErrors int) int {
	errorCount := 0
	for i, row := range stagingRows {
		violations := evaluateRow(batch, cfg, row)
		if len(violations) > 0 {
			rowErrors[row.RowNumber] = violations
		}
		for _, violation := range violations {
			if violation.Severity == domain.SeverityError {
				errorCount++
			}
		}
		if errorCount >= maxErrors && i+1 < len(stagingRows) {
			firstSkipped := stagingRows[i+1].RowNumber
			lastSkipped := stagingRows[len(stagingRows)-1].RowNumber
			message := fmt.Sprintf("validation stopped after %d errors; rows %d-%d were not evaluated", errorCount, firstSkipped, lastSkipped)
			// Every unevaluated row carries the marker so no invalid row is
			// left without an attached error.
			for _, skipped := range stagingRows[i+1:] {
				marker := domain.NewValidationError(batch.ID, skipped.RowNumber, domain.SeverityError,
					domain.CodeValidationTruncated, "", message)
				rowErrors[skipped.RowNumber] = append(rowErrors[skipped.RowNumber], marker)
			}
			return firstSkipped
		}
	}
	return 0
}

// evaluateRow runs the ordered rule set of every column mapping against one
// row's mapped data.
func evaluateRow(batch domain.ImportBatch, cfg domain.MappingConfig, row domain.ImportStagingRow) []domain.ImportValidationError {
	var violations []domain.ImportValidationError

	for _, col := range cfg.Columns {
		value, present := fieldValue(row.MappedData, col.TargetField)

		ordered := col.Validations
		if col.Required && !hasRule(ordered, domain.ValidateRequired) {
			ordered = append([]domain.ValidationRule{{Type: domain.ValidateRequired}}, ordered...)
		}

		for _, rule := range ordered {
			fn, ok := rules[rule.Type]
			if !ok {
				// unique/uniqueInBatch run in the batch pass.
				continue
			}
			if v := fn(col.TargetField, value, present, rule); v != nil {
				entry := domain.NewValidationError(batch.ID, row.RowNumber, rule.EffectiveSeverity(), v.Code, col.TargetField, v.Message)
				entry.SourceColumn = col.SourceColumn
				entry.Suggestion = v.Suggestion
				if rule.Message != "" {
					entry.Message = rule.Message
				}
				violations = append(violations, entry)
			}
		}
	}
	return violations
}

// detectDuplicates flags in-batch and against-store duplicates per the
// configured strategy. The first occurrence of a key owns it; later rows are
// flagged. Rows past a truncation point are skipped.
func (v *Validator) detectDuplicates(ctx context.Context, batch domain.ImportBatch, cfg domain.MappingConfig, stagingRows []domain.ImportStagingRow, rowErrors map[int][]domain.ImportValidationError, truncatedFrom int) (map[int]*uuid.UUID, map[int]int, error) {
	dupIDs := make(map[int]*uuid.UUID)
	dupRows := make(map[int]int)

	strategy := cfg.Options.DuplicateDetection
	if strategy == "" || strategy == domain.DuplicateDetectNone {
		return dupIDs, dupRows, nil
	}

	seen := make(map[string]int, len(stagingRows))
	for _, row := range stagingRows {
		if truncatedFrom > 0 && row.RowNumber >= truncatedFrom {
			continue
		}
		key := duplicateKey(strategy, row.MappedData)
		if key == "" {
			continue
		}

		if firstRow, ok := seen[key]; ok {
			dupRows[row.RowNumber] = firstRow
			entry := domain.NewValidationError(batch.ID, row.RowNumber, domain.SeverityWarning,
				domain.CodeDuplicateInBatch, strategyField(strategy),
				fmt.Sprintf("row duplicates row %d in this batch", firstRow))
			entry.Suggestion = fmt.Sprintf("row %d has the same %s", firstRow, strategy)
			rowErrors[row.RowNumber] = append(rowErrors[row.RowNumber], entry)
			continue
		}
		seen[key] = row.RowNumber

		existing, err := v.findExisting(ctx, batch.TenantID, strategy, row.MappedData)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, nil, fmt.Errorf("duplicate lookup failed for row %d: %w", row.RowNumber, err)
		}
		id := existing.ID
		dupIDs[row.RowNumber] = &id
		entry := domain.NewValidationError(batch.ID, row.RowNumber, domain.SeverityWarning,
			domain.CodeDuplicateEntry, strategyField(strategy),
			"row matches an existing customer")
		entry.Suggestion = fmt.Sprintf("existing customer %s", id)
		rowErrors[row.RowNumber] = append(rowErrors[row.RowNumber], entry)
	}
	return dupIDs, dupRows, nil
}

func (v *Validator) findExisting(ctx context.Context, tenantID uuid.UUID, strategy domain.DuplicateDetection, mapped map[string]any) (domain.Customer, error) {
	if v.finder == nil {
		return domain.Customer{}, repository.ErrNotFound
	}
	switch strategy {
	case domain.DuplicateDetectName:
		navn, _ := fieldValue(mapped, domain.FieldNavn)
		if navn == "" {
			return domain.Customer{}, repository.ErrNotFound
		}
		return v.finder.FindByName(ctx, tenantID, navn)
	case domain.DuplicateDetectNameAddress:
		navn, _ := fieldValue(mapped, domain.FieldNavn)
		adresse, _ := fieldValue(mapped, domain.FieldAdresse)
		if navn == "" || adresse == "" {
			return domain.Customer{}, repository.ErrNotFound
		}
		return v.finder.FindByNameAddress(ctx, tenantID, navn, adresse)
	case domain.DuplicateDetectExternalID:
		id, _ := fieldValue(mapped, domain.FieldEksternID)
		if id == "" {
			return domain.Customer{}, repository.ErrNotFound
		}
		return v.finder.FindByExternalID(ctx, tenantID, id)
	case domain.DuplicateDetectEmail:
		email, _ := fieldValue(mapped, domain.FieldEpost)
		if email == "" {
			return domain.Customer{}, repository.ErrNotFound
		}
		return v.finder.FindByEmail(ctx, tenantID, email)
	}
	return domain.Customer{}, repository.ErrNotFound
}

func duplicateKey(strategy domain.DuplicateDetection, mapped map[string]any) string {
	switch strategy {
	case domain.DuplicateDetectName:
		navn, _ := fieldValue(mapped, domain.FieldNavn)
		return strings.ToLower(navn)
	case domain.DuplicateDetectNameAddress:
		navn, _ := fieldValue(mapped, domain.FieldNavn)
		adresse, _ := fieldValue(mapped, domain.FieldAdresse)
		if navn == "" && adresse == "" {
			return ""
		}
		return strings.ToLower(navn) + "\x1f" + strings.ToLower(adresse)
	case domain.DuplicateDetectExternalID:
		id, _ := fieldValue(mapped, domain.FieldEksternID)
		return id
	case domain.DuplicateDetectEmail:
		email, _ := fieldValue(mapped, domain.FieldEpost)
		return strings.ToLower(email)
	}
	return ""
}

func strategyField(strategy domain.DuplicateDetection) string {
	switch strategy {
	case domain.DuplicateDetectName, domain.DuplicateDetectNameAddress:
		return domain.FieldNavn
	case domain.DuplicateDetectExternalID:
		return domain.FieldEksternID
	case domain.DuplicateDetectEmail:
		return domain.FieldEpost
	}
	return ""
}

// fieldValue reads a mapped value as a string, reporting presence.
func fieldValue(mapped map[string]any, field string) (string, bool) {
	if mapped == nil {
		return "", false
	}
	value, ok := mapped[field]
	if !ok || value == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", value))
	if s == "" {
		return "", false
	}
	return s, true
}

func hasRule(ordered []domain.ValidationRule, target domain.ValidationType) bool {
	for _, rule := range ordered {
		if rule.Type == target {
			return true
		}
	}
	return false
}

// BuildQualityReport derives an aggregate quality view over a validated
// batch. It is a pure read, never persisted.
func BuildQualityReport(batch domain.ImportBatch, stagingRows []domain.ImportStagingRow, result Result) domain.BatchQualityReport {
	report := domain.BatchQualityReport{
		BatchID:       batch.ID,
		TotalRows:     len(stagingRows),
		ValidRows:     result.ValidRows,
		WarningRows:   result.WarningRows,
		InvalidRows:   result.InvalidRows,
		FieldCoverage: map[string]float64{},
		Truncated:     result.Truncated,
	}
	if report.TotalRows == 0 {
		report.OverallScore = 100
		return report
	}

	// Warnings count half against the score.
	report.OverallScore = 100 * (float64(result.ValidRows) + 0.5*float64(result.WarningRows)) / float64(report.TotalRows)

	if batch.Mapping != nil {
		for _, col := range batch.Mapping.Columns {
			filled := 0
			for _, row := range stagingRows {
				if _, ok := fieldValue(row.MappedData, col.TargetField); ok {
					filled++
				}
			}
			report.FieldCoverage[col.TargetField] = 100 * float64(filled) / float64(report.TotalRows)
		}
	}

	type groupKey struct {
		code  string
		field string
	}
	groups := make(map[groupKey]*domain.ErrorGroup)
	var order []groupKey
	for _, e := range result.Errors {
		key := groupKey{code: e.Code, field: e.Field}
		g, ok := groups[key]
		if !ok {
			g = &domain.ErrorGroup{Code: e.Code, Field: e.Field, Example: e.Message}
			groups[key] = g
			order = append(order, key)
		}
		g.Count++
	}
	sort.Slice(order, func(i, j int) bool {
		if groups[order[i]].Count != groups[order[j]].Count {
			return groups[order[i]].Count > groups[order[j]].Count
		}
		return groups[order[i]].Code < groups[order[j]].Code
	})
	for _, key := range order {
		report.CommonErrors = append(report.CommonErrors, *groups[key])
	}

	for _, g := range report.CommonErrors {
		switch g.Code {
		case domain.CodeInvalidPostnummer:
			report.Suggestions = append(report.Suggestions, "check that postnummer columns kept their leading zeros in the export")
		case domain.CodeRequiredMissing:
			report.Suggestions = append(report.Suggestions, fmt.Sprintf("fill in the %q column or adjust the mapping default", g.Field))
		case domain.CodeDuplicateInBatch:
			report.Suggestions = append(report.Suggestions, "remove repeated rows from the file or choose a duplicate action")
		}
	}
	return report
}
