package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/repository"

	"github.com/google/uuid"
)

type stubFinder struct {
	byNavn  map[string]domain.Customer
	byEpost map[string]domain.Customer
}

func (s *stubFinder) FindByExternalID(_ context.Context, _ uuid.UUID, _ string) (domain.Customer, error) {
	return domain.Customer{}, repository.ErrNotFound
}

func (s *stubFinder) FindByEmail(_ context.Context, _ uuid.UUID, email string) (domain.Customer, error) {
	if c, ok := s.byEpost[strings.ToLower(email)]; ok {
		return c, nil
	}
	return domain.Customer{}, repository.ErrNotFound
}

func (s *stubFinder) FindByName(_ context.Context, _ uuid.UUID, navn string) (domain.Customer, error) {
	if c, ok := s.byNavn[strings.ToLower(navn)]; ok {
		return c, nil
	}
	return domain.Customer{}, repository.ErrNotFound
}

func (s *stubFinder) FindByNameAddress(_ context.Context, _ uuid.UUID, navn, _ string) (domain.Customer, error) {
	return s.FindByName(context.Background(), uuid.Nil, navn)
}

var _ CustomerFinder = (*stubFinder)(nil)

func floatPtr(f float64) *float64 { return &f }

func makeBatch(cfg domain.MappingConfig) domain.ImportBatch {
	batch := domain.NewImportBatch(uuid.New(), "kunder.csv", 1024, "abc123")
	batch.Mapping = &cfg
	return batch
}

func makeRow(batchID uuid.UUID, number int, mapped map[string]any) domain.ImportStagingRow {
	row := domain.NewStagingRow(batchID, number, map[string]string{})
	row.MappedData = mapped
	return row
}

func TestRuleFunctions(t *testing.T) {
	tests := []struct {
		name     string
		ruleType domain.ValidationType
		rule     domain.ValidationRule
		value    string
		present  bool
		wantCode string
	}{
		{"required missing", domain.ValidateRequired, domain.ValidationRule{}, "", false, domain.CodeRequiredMissing},
		{"required present", domain.ValidateRequired, domain.ValidationRule{}, "Kari", true, ""},
		{"minLength short", domain.ValidateMinLength, domain.ValidationRule{Min: floatPtr(3)}, "ab", true, domain.CodeMinLength},
		{"maxLength long", domain.ValidateMaxLength, domain.ValidationRule{Max: floatPtr(3)}, "abcd", true, domain.CodeMaxLength},
		{"pattern mismatch", domain.ValidatePattern, domain.ValidationRule{Pattern: `^\d+$`}, "abc", true, domain.CodePatternMismatch},
		{"email invalid", domain.ValidateEmail, domain.ValidationRule{}, "ikke-en-epost", true, domain.CodeInvalidEmail},
		{"email valid", domain.ValidateEmail, domain.ValidationRule{}, "kari@example.no", true, ""},
		{"phone invalid", domain.ValidatePhone, domain.ValidationRule{}, "123", true, domain.CodeInvalidPhone},
		{"phone valid norwegian", domain.ValidatePhone, domain.ValidationRule{}, "22345678", true, ""},
		{"postnummer short", domain.ValidatePostnummer, domain.ValidationRule{}, "301", true, domain.CodeInvalidPostnummer},
		{"postnummer valid", domain.ValidatePostnummer, domain.ValidationRule{}, "0301", true, ""},
		{"date invalid", domain.ValidateDate, domain.ValidationRule{}, "i går", true, domain.CodeInvalidDate},
		{"date norwegian", domain.ValidateDate, domain.ValidationRule{}, "15.03.1985", true, ""},
		{"dateRange before min", domain.ValidateDateRange, domain.ValidationRule{MinDate: "2000-01-01"}, "1999-12-31", true, domain.CodeDateOutOfRange},
		{"number invalid", domain.ValidateNumber, domain.ValidationRule{}, "tolv", true, domain.CodeInvalidNumber},
		{"integer invalid", domain.ValidateInteger, domain.ValidationRule{}, "12.5", true, domain.CodeInvalidInteger},
		{"range above max", domain.ValidateRange, domain.ValidationRule{Max: floatPtr(100)}, "150", true, domain.CodeValueOutOfRange},
		{"enum miss", domain.ValidateEnum, domain.ValidationRule{Values: []string{"aktiv", "inaktiv"}}, "pause", true, domain.CodeInvalidEnum},
		{"enum case insensitive", domain.ValidateEnum, domain.ValidationRule{Values: []string{"aktiv"}}, "AKTIV", true, ""},
		{"absent optional skipped", domain.ValidateEmail, domain.ValidationRule{}, "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := rules[tt.ruleType]
			if !ok {
				t.Fatalf("no rule registered for %q", tt.ruleType)
			}
			got := fn("felt", tt.value, tt.present, tt.rule)
			if tt.wantCode == "" {
				if got != nil {
					t.Fatalf("expected rule to pass, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected violation %s, rule passed", tt.wantCode)
			}
			if got.Code != tt.wantCode {
				t.Fatalf("expected code %s, got %s", tt.wantCode, got.Code)
			}
		})
	}
}

func TestValidateBatchClassifiesRows(t *testing.T) {
	cfg := domain.MappingConfig{
		Version: 1,
		Columns: []domain.ColumnMapping{
			{SourceColumn: "Navn", TargetField: domain.FieldNavn, Required: true},
			{SourceColumn: "Postnr", TargetField: domain.FieldPostnummer, Validations: []domain.ValidationRule{{Type: domain.ValidatePostnummer}}},
			{SourceColumn: "Epost", TargetField: domain.FieldEpost, Validations: []domain.ValidationRule{{Type: domain.ValidateEmail, Severity: domain.SeverityWarning}}},
		},
	}
	batch := makeBatch(cfg)
	stagingRows := []domain.ImportStagingRow{
		makeRow(batch.ID, 1, map[string]any{domain.FieldNavn: "Kari Nordmann", domain.FieldPostnummer: "0301", domain.FieldEpost: "kari@example.no"}),
		makeRow(batch.ID, 2, map[string]any{domain.FieldNavn: "Ola Hansen", domain.FieldPostnummer: "12"}),
		makeRow(batch.ID, 3, map[string]any{domain.FieldPostnummer: "0010"}),
		makeRow(batch.ID, 4, map[string]any{domain.FieldNavn: "Per Olsen", domain.FieldEpost: "ikke-en-epost"}),
	}

	result, err := NewValidator(nil).ValidateBatch(context.Background(), batch, stagingRows)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	if result.ValidRows != 1 || result.WarningRows != 1 || result.InvalidRows != 2 {
		t.Fatalf("expected 1 valid, 1 warning, 2 invalid, got %d/%d/%d",
			result.ValidRows, result.WarningRows, result.InvalidRows)
	}
	if result.Truncated {
		t.Fatalf("expected untruncated result")
	}

	statuses := map[int]domain.RowStatus{}
	for _, rr := range result.Rows {
		statuses[rr.RowNumber] = rr.Status
	}
	if statuses[1] != domain.RowStatusValid {
		t.Fatalf("expected row 1 valid, got %s", statuses[1])
	}
	if statuses[2] != domain.RowStatusInvalid {
		t.Fatalf("expected row 2 invalid, got %s", statuses[2])
	}
	if statuses[3] != domain.RowStatusInvalid {
		t.Fatalf("expected row 3 invalid, got %s", statuses[3])
	}
	if statuses[4] != domain.RowStatusWarning {
		t.Fatalf("expected row 4 warning from severity override, got %s", statuses[4])
	}

	if !hasError(result.Errors, 2, domain.CodeInvalidPostnummer) {
		t.Fatalf("expected postnummer error on row 2")
	}
	if !hasError(result.Errors, 3, domain.CodeRequiredMissing) {
		t.Fatalf("expected required error on row 3")
	}
}

func TestValidateBatchRejectsUnmappedBatch(t *testing.T) {
	batch := domain.NewImportBatch(uuid.New(), "kunder.csv", 1024, "abc123")
	if _, err := NewValidator(nil).ValidateBatch(context.Background(), batch, nil); err == nil {
		t.Fatalf("expected error for batch without mapping config")
	}
}

func TestStopOnFirstErrorTruncatesValidation(t *testing.T) {
	cfg := domain.MappingConfig{
		Version: 1,
		Columns: []domain.ColumnMapping{
			{SourceColumn: "Navn", TargetField: domain.FieldNavn, Required: true},
		},
		Options: domain.MappingOptions{StopOnFirstError: true},
	}
	batch := makeBatch(cfg)
	stagingRows := []domain.ImportStagingRow{
		makeRow(batch.ID, 1, map[string]any{}),
		makeRow(batch.ID, 2, map[string]any{domain.FieldNavn: "Kari Nordmann"}),
		makeRow(batch.ID, 3, map[string]any{domain.FieldNavn: "Ola Hansen"}),
	}

	result, err := NewValidator(nil).ValidateBatch(context.Background(), batch, stagingRows)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	if !result.Truncated {
		t.Fatalf("expected truncated result")
	}
	if result.InvalidRows != 3 || result.ValidRows != 0 {
		t.Fatalf("expected all rows invalid after truncation, got %d invalid %d valid",
			result.InvalidRows, result.ValidRows)
	}

	// Every unevaluated row must carry an error of its own; an invalid row
	// with no attached error would be unexplainable to the operator.
	for _, skipped := range []int{2, 3} {
		if !hasError(result.Errors, skipped, domain.CodeValidationTruncated) {
			t.Fatalf("expected truncation marker on row %d", skipped)
		}
	}
	for _, rr := range result.Rows {
		if rr.Status != domain.RowStatusInvalid {
			continue
		}
		if !rowHasErrorSeverity(result.Errors, rr.RowNumber) {
			t.Fatalf("invalid row %d has no attached error", rr.RowNumber)
		}
	}
}

func rowHasErrorSeverity(errs []domain.ImportValidationError, rowNumber int) bool {
	for _, e := range errs {
		if e.RowNumber == rowNumber && e.Severity == domain.SeverityError {
			return true
		}
	}
	return false
}

func TestDetectDuplicatesInBatch(t *testing.T) {
	cfg := domain.MappingConfig{
		Version: 1,
		Columns: []domain.ColumnMapping{
			{SourceColumn: "Navn", TargetField: domain.FieldNavn, Required: true},
		},
		Options: domain.MappingOptions{DuplicateDetection: domain.DuplicateDetectName},
	}
	batch := makeBatch(cfg)
	stagingRows := []domain.ImportStagingRow{
		makeRow(batch.ID, 1, map[string]any{domain.FieldNavn: "Kari Nordmann"}),
		makeRow(batch.ID, 2, map[string]any{domain.FieldNavn: "kari nordmann"}),
	}

	result, err := NewValidator(&stubFinder{}).ValidateBatch(context.Background(), batch, stagingRows)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	if result.ValidRows != 1 || result.WarningRows != 1 {
		t.Fatalf("expected 1 valid and 1 warning, got %d/%d", result.ValidRows, result.WarningRows)
	}
	var dup RowResult
	for _, rr := range result.Rows {
		if rr.RowNumber == 2 {
			dup = rr
		}
	}
	if dup.DuplicateOfRow != 1 {
		t.Fatalf("expected row 2 to duplicate row 1, got %d", dup.DuplicateOfRow)
	}
	if !hasError(result.Errors, 2, domain.CodeDuplicateInBatch) {
		t.Fatalf("expected in-batch duplicate warning on row 2")
	}
}

func TestDetectDuplicatesAgainstExistingCustomers(t *testing.T) {
	existing := domain.NewCustomer(uuid.New(), map[string]any{domain.FieldNavn: "Kari Nordmann"})
	finder := &stubFinder{byNavn: map[string]domain.Customer{"kari nordmann": existing}}

	cfg := domain.MappingConfig{
		Version: 1,
		Columns: []domain.ColumnMapping{
			{SourceColumn: "Navn", TargetField: domain.FieldNavn, Required: true},
		},
		Options: domain.MappingOptions{DuplicateDetection: domain.DuplicateDetectName},
	}
	batch := makeBatch(cfg)
	stagingRows := []domain.ImportStagingRow{
		makeRow(batch.ID, 1, map[string]any{domain.FieldNavn: "Kari Nordmann"}),
		makeRow(batch.ID, 2, map[string]any{domain.FieldNavn: "Ola Hansen"}),
	}

	result, err := NewValidator(finder).ValidateBatch(context.Background(), batch, stagingRows)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	var matched RowResult
	for _, rr := range result.Rows {
		if rr.RowNumber == 1 {
			matched = rr
		}
	}
	if matched.DuplicateOfID == nil || *matched.DuplicateOfID != existing.ID {
		t.Fatalf("expected row 1 to reference existing customer %s, got %v", existing.ID, matched.DuplicateOfID)
	}
	if matched.Status != domain.RowStatusWarning {
		t.Fatalf("expected store match to be a warning, got %s", matched.Status)
	}
	if !hasError(result.Errors, 1, domain.CodeDuplicateEntry) {
		t.Fatalf("expected duplicate entry warning on row 1")
	}
}

func TestBuildQualityReport(t *testing.T) {
	cfg := domain.MappingConfig{
		Version: 1,
		Columns: []domain.ColumnMapping{
			{SourceColumn: "Navn", TargetField: domain.FieldNavn, Required: true},
			{SourceColumn: "Postnr", TargetField: domain.FieldPostnummer, Validations: []domain.ValidationRule{{Type: domain.ValidatePostnummer}}},
		},
	}
	batch := makeBatch(cfg)
	stagingRows := []domain.ImportStagingRow{
		makeRow(batch.ID, 1, map[string]any{domain.FieldNavn: "Kari Nordmann", domain.FieldPostnummer: "0301"}),
		makeRow(batch.ID, 2, map[string]any{domain.FieldNavn: "Ola Hansen", domain.FieldPostnummer: "12"}),
		makeRow(batch.ID, 3, map[string]any{domain.FieldNavn: "Per Olsen"}),
		makeRow(batch.ID, 4, map[string]any{}),
	}

	result, err := NewValidator(nil).ValidateBatch(context.Background(), batch, stagingRows)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}

	report := BuildQualityReport(batch, stagingRows, result)

	if report.TotalRows != 4 {
		t.Fatalf("expected 4 total rows, got %d", report.TotalRows)
	}
	// 2 valid rows out of 4, no warnings.
	if report.OverallScore != 50 {
		t.Fatalf("expected score 50, got %v", report.OverallScore)
	}
	if report.FieldCoverage[domain.FieldNavn] != 75 {
		t.Fatalf("expected 75%% navn coverage, got %v", report.FieldCoverage[domain.FieldNavn])
	}
	if report.FieldCoverage[domain.FieldPostnummer] != 50 {
		t.Fatalf("expected 50%% postnummer coverage, got %v", report.FieldCoverage[domain.FieldPostnummer])
	}
	if len(report.CommonErrors) != 2 {
		t.Fatalf("expected 2 error groups, got %d", len(report.CommonErrors))
	}
	if len(report.Suggestions) == 0 {
		t.Fatalf("expected remediation suggestions")
	}
}

func TestBuildQualityReportEmptyBatch(t *testing.T) {
	batch := makeBatch(domain.MappingConfig{Version: 1, Columns: []domain.ColumnMapping{{SourceColumn: "Navn", TargetField: domain.FieldNavn}}})
	report := BuildQualityReport(batch, nil, Result{})
	if report.OverallScore != 100 {
		t.Fatalf("expected perfect score for empty batch, got %v", report.OverallScore)
	}
}

func hasError(errs []domain.ImportValidationError, rowNumber int, code string) bool {
	for _, e := range errs {
		if e.RowNumber == rowNumber && e.Code == code {
			return true
		}
	}
	return false
}
