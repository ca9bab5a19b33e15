package importer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/kartoteket/kundeimport/internal/commit"
	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/fingerprint"
	"github.com/kartoteket/kundeimport/internal/repository"
	"github.com/kartoteket/kundeimport/internal/validation"

	"github.com/google/uuid"
)

type stubBatchRepo struct {
	batches map[uuid.UUID]domain.ImportBatch
	rows    map[uuid.UUID][]domain.ImportStagingRow
}

func newStubBatchRepo() *stubBatchRepo {
	return &stubBatchRepo{
		batches: map[uuid.UUID]domain.ImportBatch{},
		rows:    map[uuid.UUID][]domain.ImportStagingRow{},
	}
}

func (s *stubBatchRepo) CreateWithRows(_ context.Context, batch domain.ImportBatch, rows []domain.ImportStagingRow) (domain.ImportBatch, error) {
	s.batches[batch.ID] = batch
	s.rows[batch.ID] = append([]domain.ImportStagingRow(nil), rows...)
	return batch, nil
}

func (s *stubBatchRepo) GetByID(_ context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	batch, ok := s.batches[id]
	if !ok {
		return domain.ImportBatch{}, repository.ErrNotFound
	}
	return batch, nil
}

func (s *stubBatchRepo) List(_ context.Context, tenantID uuid.UUID, _, _ int) ([]domain.ImportBatch, error) {
	var out []domain.ImportBatch
	for _, b := range s.batches {
		if b.TenantID == tenantID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubBatchRepo) Update(_ context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	existing, ok := s.batches[batch.ID]
	if !ok {
		return domain.ImportBatch{}, repository.ErrNotFound
	}
	batch.Status = existing.Status // status moves only through TransitionStatus
	s.batches[batch.ID] = batch
	return batch, nil
}

func (s *stubBatchRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.BatchStatus) error {
	batch, ok := s.batches[id]
	if !ok {
		return repository.ErrNotFound
	}
	if batch.Status != from {
		return domain.ErrConflict
	}
	batch.Status = to
	s.batches[id] = batch
	return nil
}

func (s *stubBatchRepo) WithBatchLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubRowRepo struct {
	batches *stubBatchRepo
	errs    map[uuid.UUID][]domain.ImportValidationError
}

func newStubRowRepo(batches *stubBatchRepo) *stubRowRepo {
	return &stubRowRepo{batches: batches, errs: map[uuid.UUID][]domain.ImportValidationError{}}
}

func (s *stubRowRepo) ListByBatch(_ context.Context, batchID uuid.UUID) ([]domain.ImportStagingRow, error) {
	return append([]domain.ImportStagingRow(nil), s.batches.rows[batchID]...), nil
}

func (s *stubRowRepo) update(row domain.ImportStagingRow, apply func(dst *domain.ImportStagingRow)) error {
	rows := s.batches.rows[row.BatchID]
	for i := range rows {
		if rows[i].ID == row.ID {
			apply(&rows[i])
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *stubRowRepo) UpdateMappedData(_ context.Context, row domain.ImportStagingRow) error {
	return s.update(row, func(dst *domain.ImportStagingRow) { dst.MappedData = row.MappedData })
}

func (s *stubRowRepo) UpdateValidation(_ context.Context, row domain.ImportStagingRow) error {
	return s.update(row, func(dst *domain.ImportStagingRow) {
		dst.Status = row.Status
		dst.DuplicateOfID = row.DuplicateOfID
		dst.DuplicateOfRow = row.DuplicateOfRow
	})
}

func (s *stubRowRepo) UpdateOutcome(_ context.Context, row domain.ImportStagingRow) error {
	return s.update(row, func(dst *domain.ImportStagingRow) {
		dst.Action = row.Action
		dst.CustomerID = row.CustomerID
	})
}

func (s *stubRowRepo) ReplaceErrors(_ context.Context, batchID uuid.UUID, errs []domain.ImportValidationError) error {
	s.errs[batchID] = append([]domain.ImportValidationError(nil), errs...)
	return nil
}

func (s *stubRowRepo) ListErrors(_ context.Context, batchID uuid.UUID) ([]domain.ImportValidationError, error) {
	return append([]domain.ImportValidationError(nil), s.errs[batchID]...), nil
}

type stubTemplateRepo struct {
	byKey map[string]domain.ImportMappingTemplate
}

func newStubTemplateRepo() *stubTemplateRepo {
	return &stubTemplateRepo{byKey: map[string]domain.ImportMappingTemplate{}}
}

func templateKey(tenantID uuid.UUID, fp string) string {
	return tenantID.String() + "/" + fp
}

func (s *stubTemplateRepo) Save(_ context.Context, tpl domain.ImportMappingTemplate) (domain.ImportMappingTemplate, error) {
	s.byKey[templateKey(tpl.TenantID, tpl.Fingerprint)] = tpl
	return tpl, nil
}

func (s *stubTemplateRepo) FindByFingerprint(_ context.Context, tenantID uuid.UUID, fp string) (domain.ImportMappingTemplate, error) {
	tpl, ok := s.byKey[templateKey(tenantID, fp)]
	if !ok {
		return domain.ImportMappingTemplate{}, repository.ErrNotFound
	}
	return tpl, nil
}

func (s *stubTemplateRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]domain.ImportMappingTemplate, error) {
	var out []domain.ImportMappingTemplate
	for _, tpl := range s.byKey {
		if tpl.TenantID == tenantID {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (s *stubTemplateRepo) TouchUsage(_ context.Context, id uuid.UUID) error {
	for key, tpl := range s.byKey {
		if tpl.ID == id {
			tpl.UseCount++
			s.byKey[key] = tpl
		}
	}
	return nil
}

type stubHistoryRepo struct {
	entries map[string]domain.ColumnHistoryEntry
}

func newStubHistoryRepo() *stubHistoryRepo {
	return &stubHistoryRepo{entries: map[string]domain.ColumnHistoryEntry{}}
}

func (s *stubHistoryRepo) Upsert(_ context.Context, entry domain.ColumnHistoryEntry) (domain.ColumnHistoryEntry, error) {
	key := templateKey(entry.TenantID, entry.Fingerprint)
	if existing, ok := s.entries[key]; ok {
		existing.BatchCount++
		s.entries[key] = existing
		return existing, nil
	}
	entry.BatchCount = 1
	s.entries[key] = entry
	return entry, nil
}

func (s *stubHistoryRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]domain.ColumnHistoryEntry, error) {
	var out []domain.ColumnHistoryEntry
	for _, entry := range s.entries {
		if entry.TenantID == tenantID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type stubAuditRepo struct {
	entries []domain.ImportAuditLog
}

func (s *stubAuditRepo) Append(_ context.Context, entry domain.ImportAuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAuditRepo) ListByBatch(_ context.Context, batchID uuid.UUID) ([]domain.ImportAuditLog, error) {
	var out []domain.ImportAuditLog
	for _, e := range s.entries {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubAuditRepo) actions() []domain.AuditAction {
	out := make([]domain.AuditAction, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

type stubCustomerRepo struct {
	customers  map[uuid.UUID]domain.Customer
	failByNavn map[string]error
}

func newStubCustomerRepo() *stubCustomerRepo {
	return &stubCustomerRepo{
		customers:  map[uuid.UUID]domain.Customer{},
		failByNavn: map[string]error{},
	}
}

func (s *stubCustomerRepo) Create(_ context.Context, c domain.Customer) (domain.Customer, error) {
	if err := s.failByNavn[c.Navn()]; err != nil {
		return domain.Customer{}, err
	}
	s.customers[c.ID] = c
	return c, nil
}

func (s *stubCustomerRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, repository.ErrNotFound
	}
	return c, nil
}

func (s *stubCustomerRepo) Update(_ context.Context, c domain.Customer) (domain.Customer, error) {
	s.customers[c.ID] = c
	return c, nil
}

func (s *stubCustomerRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(s.customers, id)
	return nil
}

func (s *stubCustomerRepo) findBy(match func(domain.Customer) bool) (domain.Customer, error) {
	for _, c := range s.customers {
		if match(c) {
			return c, nil
		}
	}
	return domain.Customer{}, repository.ErrNotFound
}

func (s *stubCustomerRepo) FindByExternalID(_ context.Context, tenantID uuid.UUID, externalID string) (domain.Customer, error) {
	return s.findBy(func(c domain.Customer) bool {
		return c.TenantID == tenantID && c.EksternID() == externalID
	})
}

func (s *stubCustomerRepo) FindByEmail(_ context.Context, tenantID uuid.UUID, email string) (domain.Customer, error) {
	return s.findBy(func(c domain.Customer) bool {
		return c.TenantID == tenantID && strings.EqualFold(c.Epost(), email)
	})
}

func (s *stubCustomerRepo) FindByName(_ context.Context, tenantID uuid.UUID, navn string) (domain.Customer, error) {
	return s.findBy(func(c domain.Customer) bool {
		return c.TenantID == tenantID && strings.EqualFold(c.Navn(), navn)
	})
}

func (s *stubCustomerRepo) FindByNameAddress(_ context.Context, tenantID uuid.UUID, navn, adresse string) (domain.Customer, error) {
	return s.findBy(func(c domain.Customer) bool {
		return c.TenantID == tenantID &&
			strings.EqualFold(c.Navn(), navn) &&
			strings.EqualFold(c.FieldString(domain.FieldAdresse), adresse)
	})
}

type testEnv struct {
	service   *Service
	batches   *stubBatchRepo
	rows      *stubRowRepo
	templates *stubTemplateRepo
	audit     *stubAuditRepo
	customers *stubCustomerRepo
}

func newTestEnv() *testEnv {
	batches := newStubBatchRepo()
	rows := newStubRowRepo(batches)
	templates := newStubTemplateRepo()
	history := newStubHistoryRepo()
	audit := &stubAuditRepo{}
	customers := newStubCustomerRepo()

	detector := fingerprint.NewDetector(history, templates)
	validator := validation.NewValidator(customers)
	engine := commit.NewEngine(customers, rows, audit, nil, nil)

	service := NewService(batches, batches, rows, templates, audit, detector, validator, engine, DefaultOptions())
	return &testEnv{
		service:   service,
		batches:   batches,
		rows:      rows,
		templates: templates,
		audit:     audit,
		customers: customers,
	}
}

func customerMappingConfig() domain.MappingConfig {
	return domain.MappingConfig{
		Version: 1,
		Columns: []domain.ColumnMapping{
			{
				SourceColumn:   "Navn",
				TargetField:    domain.FieldNavn,
				Required:       true,
				Transformation: &domain.TransformationRule{Type: domain.TransformTrim},
			},
			{SourceColumn: "Adresse", TargetField: domain.FieldAdresse},
			{
				SourceColumn: "Postnr",
				TargetField:  domain.FieldPostnummer,
				Validations:  []domain.ValidationRule{{Type: domain.ValidatePostnummer}},
			},
		},
		Options: domain.MappingOptions{
			DuplicateDetection: domain.DuplicateDetectNameAddress,
			DuplicateAction:    domain.DuplicateActionSkip,
		},
	}
}

func uploadCSV(t *testing.T, env *testEnv, tenantID uuid.UUID, name, data string) UploadResult {
	t.Helper()
	result, err := env.service.Upload(context.Background(), UploadRequest{
		TenantID: tenantID,
		FileName: name,
		Data:     strings.NewReader(data),
		Actor:    "test",
	})
	if err != nil {
		t.Fatalf("upload returned error: %v", err)
	}
	return result
}

const customerCSV = `Navn,Adresse,Postnr
Ola Nordmann,Storgata 1,0301
Kari Nordmann,Lillevei 2,12
,Bakken 3,0401
`

func TestUploadRecordsHeaderOrder(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	result := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)

	want := []string{"Navn", "Adresse", "Postnr"}
	if !reflect.DeepEqual(result.Batch.Headers, want) {
		t.Fatalf("batch headers = %v, want %v", result.Batch.Headers, want)
	}

	stored, err := env.service.GetBatch(context.Background(), result.Batch.ID)
	if err != nil {
		t.Fatalf("get batch returned error: %v", err)
	}
	if !reflect.DeepEqual(stored.Headers, want) {
		t.Fatalf("stored headers = %v, want %v", stored.Headers, want)
	}

	suggestions, err := env.service.Suggestions(context.Background(), result.Batch.ID, nil)
	if err != nil {
		t.Fatalf("suggestions returned error: %v", err)
	}
	seen := map[string]bool{}
	for _, s := range suggestions {
		seen[s.SourceColumn] = true
	}
	for _, header := range want {
		if !seen[header] {
			t.Fatalf("no suggestion produced for stored header %q: %+v", header, suggestions)
		}
	}
}

func TestUploadMapValidateFlagsBadRows(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	result := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)

	if result.Batch.Status != domain.BatchStatusParsed {
		t.Fatalf("batch status = %s, want parsed", result.Batch.Status)
	}
	if result.Batch.RowCount != 3 || result.Batch.ColumnCount != 3 {
		t.Fatalf("unexpected counts: rows=%d cols=%d", result.Batch.RowCount, result.Batch.ColumnCount)
	}
	if result.FormatChange.Match != domain.MatchNone {
		t.Fatalf("first upload should have no format match, got %s", result.FormatChange.Match)
	}
	if len(result.Suggestions) == 0 {
		t.Fatalf("expected mapping suggestions for a new format")
	}
	var navnSuggested bool
	for _, sg := range result.Suggestions {
		if sg.SourceColumn == "Navn" && sg.TargetField == domain.FieldNavn {
			navnSuggested = true
		}
	}
	if !navnSuggested {
		t.Fatalf("expected Navn -> navn suggestion, got %+v", result.Suggestions)
	}

	batch, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID:      result.Batch.ID,
		Config:       customerMappingConfig(),
		SaveTemplate: true,
		TemplateName: "Kundeliste",
		Actor:        "test",
	})
	if err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}
	if batch.Status != domain.BatchStatusMapped {
		t.Fatalf("batch status = %s, want mapped", batch.Status)
	}

	rows, _ := env.rows.ListByBatch(context.Background(), batch.ID)
	if got := rows[0].MappedData[domain.FieldPostnummer]; got != "0301" {
		t.Fatalf("row 1 postnummer = %v, want 0301", got)
	}

	out, err := env.service.Validate(context.Background(), batch.ID, "test")
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if out.Batch.Status != domain.BatchStatusValidated {
		t.Fatalf("batch status = %s, want validated", out.Batch.Status)
	}
	if out.Batch.ValidRows != 1 || out.Batch.ErrorRows != 2 {
		t.Fatalf("got valid=%d errors=%d, want 1/2", out.Batch.ValidRows, out.Batch.ErrorRows)
	}

	codesByRow := map[int][]string{}
	for _, e := range out.Errors {
		codesByRow[e.RowNumber] = append(codesByRow[e.RowNumber], e.Code)
	}
	if !containsCode(codesByRow[2], domain.CodeInvalidPostnummer) {
		t.Fatalf("row 2 should flag invalid postnummer, got %v", codesByRow[2])
	}
	if !containsCode(codesByRow[3], domain.CodeRequiredMissing) {
		t.Fatalf("row 3 should flag missing navn, got %v", codesByRow[3])
	}
}

func TestReuploadAppliesSavedTemplate(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	first := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID:      first.Batch.ID,
		Config:       customerMappingConfig(),
		SaveTemplate: true,
		TemplateName: "Kundeliste",
		Actor:        "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}

	second := uploadCSV(t, env, tenantID, "kunder-uke2.csv", customerCSV)

	if second.FormatChange.Match != domain.MatchExact {
		t.Fatalf("re-upload match = %s, want exact", second.FormatChange.Match)
	}
	if second.AppliedTemplate == nil || second.AppliedTemplate.Name != "Kundeliste" {
		t.Fatalf("expected saved template to be applied, got %+v", second.AppliedTemplate)
	}
	if second.Batch.Status != domain.BatchStatusMapped {
		t.Fatalf("batch status = %s, want mapped", second.Batch.Status)
	}
	if second.Batch.RequiresRemapping {
		t.Fatalf("exact match must not require remapping")
	}

	rows, _ := env.rows.ListByBatch(context.Background(), second.Batch.ID)
	if rows[0].MappedData == nil {
		t.Fatalf("template application should have mapped the rows")
	}

	if _, err := env.service.Validate(context.Background(), second.Batch.ID, "test"); err != nil {
		t.Fatalf("validate after auto-mapping returned error: %v", err)
	}
}

func TestReuploadWithRenamedColumnFlagsRemapping(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	first := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: first.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}

	renamed := `Navn,Adressen,Postnr
Ola Nordmann,Storgata 1,0301
`
	second := uploadCSV(t, env, tenantID, "kunder-v2.csv", renamed)

	if second.FormatChange.Match != domain.MatchNear {
		t.Fatalf("renamed column should yield a near match, got %s", second.FormatChange.Match)
	}
	if !second.Batch.FormatChangeDetected || !second.Batch.RequiresRemapping {
		t.Fatalf("near match must flag remapping: %+v", second.Batch)
	}
	var renameSeen bool
	for _, change := range second.FormatChange.Changes {
		if change.Kind == domain.ColumnRenamed && change.RenamedFrom == "Adresse" {
			renameSeen = true
		}
	}
	if !renameSeen {
		t.Fatalf("expected Adresse rename to be reported, got %+v", second.FormatChange.Changes)
	}
}

func TestInBatchDuplicatesSkippedAtCommit(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	data := `Navn,Adresse,Postnr
Ola Nordmann,Storgata 1,0301
Ola Nordmann,Storgata 1,0301
Kari Nordmann,Lillevei 2,0402
`
	result := uploadCSV(t, env, tenantID, "kunder.csv", data)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}

	out, err := env.service.Validate(context.Background(), result.Batch.ID, "test")
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if out.Batch.WarningRows != 1 {
		t.Fatalf("duplicate row should be a warning, got %d warnings", out.Batch.WarningRows)
	}

	rows, _ := env.rows.ListByBatch(context.Background(), result.Batch.ID)
	if rows[1].DuplicateOfRow != 1 {
		t.Fatalf("row 2 should reference row 1 as duplicate, got %d", rows[1].DuplicateOfRow)
	}

	commitResult, err := env.service.Commit(context.Background(), CommitRequest{
		BatchID: result.Batch.ID,
		Actor:   "test",
	})
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}
	if commitResult.Created != 2 || commitResult.Skipped != 1 {
		t.Fatalf("got created=%d skipped=%d, want 2/1", commitResult.Created, commitResult.Skipped)
	}
	if len(env.customers.customers) != 2 {
		t.Fatalf("expected 2 stored customers, got %d", len(env.customers.customers))
	}

	batch, _ := env.service.GetBatch(context.Background(), result.Batch.ID)
	if batch.Status != domain.BatchStatusCommitted {
		t.Fatalf("batch status = %s, want committed", batch.Status)
	}
	if batch.CommittedAt == nil || batch.CommittedBy != "test" {
		t.Fatalf("commit metadata missing: %+v", batch)
	}
}

func TestCommitRowFailureStillCommitsBatch(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	var sb strings.Builder
	sb.WriteString("Navn,Adresse,Postnr\n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&sb, "Kunde %d,Gate %d,0301\n", i, i)
	}
	result := uploadCSV(t, env, tenantID, "kunder.csv", sb.String())

	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}
	if _, err := env.service.Validate(context.Background(), result.Batch.ID, "test"); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	env.customers.failByNavn["Kunde 5"] = errors.New("value violates unique constraint")

	commitResult, err := env.service.Commit(context.Background(), CommitRequest{
		BatchID: result.Batch.ID,
		Actor:   "test",
	})
	if err != nil {
		t.Fatalf("row-level failure must not fail the commit: %v", err)
	}
	if commitResult.Created != 5 || commitResult.Failed != 1 {
		t.Fatalf("got created=%d failed=%d, want 5/1", commitResult.Created, commitResult.Failed)
	}

	batch, _ := env.service.GetBatch(context.Background(), result.Batch.ID)
	if batch.Status != domain.BatchStatusCommitted {
		t.Fatalf("batch status = %s, want committed", batch.Status)
	}

	rows, _ := env.rows.ListByBatch(context.Background(), batch.ID)
	if rows[4].Action != domain.RowActionError {
		t.Fatalf("row 5 action = %q, want error", rows[4].Action)
	}
	if rows[0].Action != domain.RowActionCreated || rows[5].Action != domain.RowActionCreated {
		t.Fatalf("surrounding rows should be created: %q %q", rows[0].Action, rows[5].Action)
	}
}

func TestCommitRetryReportsRecordedOutcome(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	result := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}
	if _, err := env.service.Validate(context.Background(), result.Batch.ID, "test"); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	first, err := env.service.Commit(context.Background(), CommitRequest{
		BatchID: result.Batch.ID,
		Actor:   "test",
	})
	if err != nil {
		t.Fatalf("commit returned error: %v", err)
	}
	stored := len(env.customers.customers)
	if first.Created == 0 || stored != first.Created {
		t.Fatalf("first commit stored %d customers for created=%d", stored, first.Created)
	}

	second, err := env.service.Commit(context.Background(), CommitRequest{
		BatchID: result.Batch.ID,
		Actor:   "test",
	})
	if err != nil {
		t.Fatalf("retried commit returned error: %v", err)
	}
	if second.Created != first.Created || second.Updated != first.Updated || second.Skipped != first.Skipped {
		t.Fatalf("retry reported created=%d updated=%d skipped=%d, want %d/%d/%d",
			second.Created, second.Updated, second.Skipped, first.Created, first.Updated, first.Skipped)
	}
	if len(env.customers.customers) != stored {
		t.Fatalf("retried commit changed the customer store: %d customers, want %d", len(env.customers.customers), stored)
	}
	if len(second.Outcomes) != len(first.Outcomes) {
		t.Fatalf("retry reported %d outcomes, want %d", len(second.Outcomes), len(first.Outcomes))
	}
}

func TestCommitSystemicFailureMarksBatchFailed(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	result := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}
	if _, err := env.service.Validate(context.Background(), result.Batch.ID, "test"); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.service.Commit(cancelled, CommitRequest{BatchID: result.Batch.ID, Actor: "test"}); err == nil {
		t.Fatal("expected commit with cancelled context to fail")
	}

	batch, _ := env.service.GetBatch(context.Background(), result.Batch.ID)
	if batch.Status != domain.BatchStatusFailed {
		t.Fatalf("batch status = %s, want failed", batch.Status)
	}
	if batch.ErrorMessage == "" {
		t.Fatal("expected the failure cause to be recorded on the batch")
	}
	if len(env.customers.customers) != 0 {
		t.Fatalf("failed commit stored %d customers", len(env.customers.customers))
	}
}

func TestDryRunCommitPersistsNothing(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	result := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}
	if _, err := env.service.Validate(context.Background(), result.Batch.ID, "test"); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}

	dry, err := env.service.Commit(context.Background(), CommitRequest{
		BatchID: result.Batch.ID,
		DryRun:  true,
		Actor:   "test",
	})
	if err != nil {
		t.Fatalf("dry run returned error: %v", err)
	}
	if !dry.DryRun || dry.Created != 1 {
		t.Fatalf("dry run should report 1 would-be create, got %+v", dry)
	}
	if len(env.customers.customers) != 0 {
		t.Fatalf("dry run wrote %d customers", len(env.customers.customers))
	}

	batch, _ := env.service.GetBatch(context.Background(), result.Batch.ID)
	if batch.Status != domain.BatchStatusValidated {
		t.Fatalf("dry run must not advance status, got %s", batch.Status)
	}
}

func TestRollbackAfterCommit(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	data := `Navn,Adresse,Postnr
Ola Nordmann,Storgata 1,0301
`
	result := uploadCSV(t, env, tenantID, "kunder.csv", data)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}
	if _, err := env.service.Validate(context.Background(), result.Batch.ID, "test"); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if _, err := env.service.Commit(context.Background(), CommitRequest{BatchID: result.Batch.ID, Actor: "test"}); err != nil {
		t.Fatalf("commit returned error: %v", err)
	}
	if len(env.customers.customers) != 1 {
		t.Fatalf("expected 1 customer after commit")
	}

	rb, err := env.service.Rollback(context.Background(), result.Batch.ID, "test")
	if err != nil {
		t.Fatalf("rollback returned error: %v", err)
	}
	if rb.Deleted != 1 {
		t.Fatalf("rollback deleted = %d, want 1", rb.Deleted)
	}
	if len(env.customers.customers) != 0 {
		t.Fatalf("rollback should have removed the created customer")
	}

	if _, err := env.service.Rollback(context.Background(), result.Batch.ID, "test"); !errors.Is(err, commit.ErrNotRolledBackable) {
		t.Fatalf("second rollback should be rejected, got %v", err)
	}
}

func TestCancelBeforeCommit(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	result := uploadCSV(t, env, tenantID, "kunder.csv", customerCSV)
	if err := env.service.Cancel(context.Background(), result.Batch.ID, "test"); err != nil {
		t.Fatalf("cancel returned error: %v", err)
	}

	batch, _ := env.service.GetBatch(context.Background(), result.Batch.ID)
	if batch.Status != domain.BatchStatusCancelled {
		t.Fatalf("batch status = %s, want cancelled", batch.Status)
	}

	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); !errors.Is(err, ErrBatchTerminal) {
		t.Fatalf("mapping a cancelled batch should fail, got %v", err)
	}
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	env := newTestEnv()
	tenantID := uuid.New()

	data := `Navn,Adresse,Postnr
Ola Nordmann,Storgata 1,0301
`
	result := uploadCSV(t, env, tenantID, "kunder.csv", data)
	if _, err := env.service.ApplyMapping(context.Background(), ApplyMappingRequest{
		BatchID: result.Batch.ID,
		Config:  customerMappingConfig(),
		Actor:   "test",
	}); err != nil {
		t.Fatalf("apply mapping returned error: %v", err)
	}
	if _, err := env.service.Validate(context.Background(), result.Batch.ID, "test"); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if _, err := env.service.Commit(context.Background(), CommitRequest{BatchID: result.Batch.ID, Actor: "test"}); err != nil {
		t.Fatalf("commit returned error: %v", err)
	}

	want := []domain.AuditAction{
		domain.AuditUploaded,
		domain.AuditParsed,
		domain.AuditMappingApplied,
		domain.AuditValidated,
		domain.AuditCommitStarted,
		domain.AuditRowCommitted,
		domain.AuditCommitted,
	}
	got := env.audit.actions()
	if len(got) != len(want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit action %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func containsCode(codes []string, want string) bool {
	for _, code := range codes {
		if code == want {
			return true
		}
	}
	return false
}

var (
	_ repository.BatchRepository         = (*stubBatchRepo)(nil)
	_ repository.BatchLocker             = (*stubBatchRepo)(nil)
	_ repository.StagingRowRepository    = (*stubRowRepo)(nil)
	_ repository.ColumnHistoryRepository = (*stubHistoryRepo)(nil)
	_ repository.TemplateRepository      = (*stubTemplateRepo)(nil)
	_ repository.AuditLogRepository      = (*stubAuditRepo)(nil)
	_ repository.CustomerRepository      = (*stubCustomerRepo)(nil)
)
