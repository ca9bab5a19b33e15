// Package importer orchestrates the import pipeline: upload, parse, clean,
// map, validate, commit. Each stage is an explicit batch status transition
// guarded by a per-batch lock and a compare-and-swap on status, so concurrent
// invocations of the same stage are safe and retried requests are idempotent.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kartoteket/kundeimport/internal/cleaner"
	"github.com/kartoteket/kundeimport/internal/commit"
	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/fingerprint"
	"github.com/kartoteket/kundeimport/internal/mapping"
	"github.com/kartoteket/kundeimport/internal/repository"
	"github.com/kartoteket/kundeimport/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultMaxFileSize = 32 << 20

var (
	// ErrBatchTerminal is returned when a stage is invoked on a batch in a
	// terminal state.
	ErrBatchTerminal = errors.New("batch is in a terminal state")

	// ErrFileTooLarge is returned when an upload exceeds the configured cap.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// Options tunes the pipeline.
type Options struct {
	MaxFileSize int64
	Cleaner     cleaner.Options
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxFileSize: defaultMaxFileSize,
		Cleaner:     cleaner.DefaultOptions(),
	}
}

// Service drives import batches through their lifecycle.
type Service struct {
	batches   repository.BatchRepository
	locker    repository.BatchLocker
	rows      repository.StagingRowRepository
	templates repository.TemplateRepository
	audit     repository.AuditLogRepository
	detector  *fingerprint.Detector
	validator *validation.Validator
	engine    *commit.Engine
	opts      Options
	log       *logrus.Entry
}

// NewService creates the pipeline service.
func NewService(
	batches repository.BatchRepository,
	locker repository.BatchLocker,
	rows repository.StagingRowRepository,
	templates repository.TemplateRepository,
	audit repository.AuditLogRepository,
	detector *fingerprint.Detector,
	validator *validation.Validator,
	engine *commit.Engine,
	opts Options,
) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	return &Service{
		batches:   batches,
		locker:    locker,
		rows:      rows,
		templates: templates,
		audit:     audit,
		detector:  detector,
		validator: validator,
		engine:    engine,
		opts:      opts,
		log:       logrus.WithField("component", "importer"),
	}
}

// UploadRequest describes one file upload.
type UploadRequest struct {
	TenantID       uuid.UUID
	FileName       string
	Data           io.Reader
	HeaderRowIndex *int
	Actor          string
}

// UploadResult returns the created batch plus everything the operator needs
// to decide the next step: the format-change verdict, mapping suggestions
// when no saved template applied, and the cleaning report.
type UploadResult struct {
	Batch           domain.ImportBatch            `json:"batch"`
	FormatChange    domain.FormatChange           `json:"formatChange"`
	Suggestions     []domain.MappingSuggestion    `json:"suggestions,omitempty"`
	AppliedTemplate *domain.ImportMappingTemplate `json:"appliedTemplate,omitempty"`
	CleanReport     cleaner.Report                `json:"cleanReport"`
}

// Upload parses and cleans the file, creates the batch with its staging
// rows, and runs format-change detection. When the column fingerprint
// exactly matches a saved template the template's mapping is applied
// immediately; a near match only flags the batch for remapping.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	var result UploadResult

	if req.TenantID == uuid.Nil {
		return result, errors.New("tenant id is required")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return result, errors.New("file name is required")
	}
	if req.Data == nil {
		return result, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(io.LimitReader(req.Data, s.opts.MaxFileSize+1))
	if err != nil {
		return result, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return result, errors.New("file is empty")
	}
	if int64(len(payload)) > s.opts.MaxFileSize {
		return result, ErrFileTooLarge
	}

	table, err := ParseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return result, err
	}
	if len(table.Headers) == 0 {
		return result, errors.New("no header row detected")
	}

	cleanedRows, report := cleaner.Clean(table.Rows, table.Headers, s.opts.Cleaner)
	result.CleanReport = report

	change, err := s.detector.Detect(ctx, req.TenantID, table.Headers)
	if err != nil {
		return result, fmt.Errorf("format change detection failed: %w", err)
	}
	result.FormatChange = change

	hash := sha256.Sum256(payload)
	batch := domain.NewImportBatch(req.TenantID, req.FileName, int64(len(payload)), hex.EncodeToString(hash[:]))
	batch.ColumnFingerprint = change.Fingerprint
	batch.Headers = table.Headers
	batch.ColumnCount = len(table.Headers)
	batch.RowCount = len(cleanedRows)
	batch.FormatChangeDetected = change.FormatChangeDetected
	batch.RequiresRemapping = change.Match != domain.MatchExact

	stagingRows := make([]domain.ImportStagingRow, 0, len(cleanedRows))
	for idx, row := range cleanedRows {
		stagingRows = append(stagingRows, domain.NewStagingRow(batch.ID, idx+1, rowMap(table.Headers, row)))
	}

	batch, err = s.batches.CreateWithRows(ctx, batch, stagingRows)
	if err != nil {
		return result, fmt.Errorf("failed to persist batch: %w", err)
	}
	s.appendAudit(ctx, batch, req.Actor, domain.AuditUploaded, nil, map[string]any{
		"file_name": batch.FileName,
		"row_count": batch.RowCount,
	})

	if err := s.advance(ctx, &batch, domain.BatchStatusParsing); err != nil {
		return result, err
	}
	if err := s.advance(ctx, &batch, domain.BatchStatusParsed); err != nil {
		return result, err
	}
	s.appendAudit(ctx, batch, req.Actor, domain.AuditParsed, nil, map[string]any{
		"rows_dropped": report.EmptyRowsDropped,
		"anomalies":    len(report.Anomalies),
	})

	if change.Match == domain.MatchExact {
		template, err := s.templates.FindByFingerprint(ctx, req.TenantID, change.Fingerprint)
		switch {
		case err == nil:
			if err := s.applyTemplate(ctx, &batch, stagingRows, template, req.Actor); err != nil {
				return result, err
			}
			result.AppliedTemplate = &template
		case errors.Is(err, repository.ErrNotFound):
			// Known column layout but no saved mapping yet.
			result.Suggestions = mapping.Suggest(table.Headers, nil)
		default:
			return result, fmt.Errorf("template lookup failed: %w", err)
		}
	} else {
		result.Suggestions = mapping.Suggest(table.Headers, nil)
	}

	batch, err = s.batches.Update(ctx, batch)
	if err != nil {
		return result, fmt.Errorf("failed to update batch: %w", err)
	}
	result.Batch = batch
	return result, nil
}

// applyTemplate maps all staging rows with a saved template's config.
func (s *Service) applyTemplate(ctx context.Context, batch *domain.ImportBatch, stagingRows []domain.ImportStagingRow, template domain.ImportMappingTemplate, actor string) error {
	if err := s.advance(ctx, batch, domain.BatchStatusMapping); err != nil {
		return err
	}

	cfg := template.Config
	for i := range stagingRows {
		stagingRows[i].MappedData = mapping.ApplyMapping(stagingRows[i].RawData, cfg)
		if err := s.rows.UpdateMappedData(ctx, stagingRows[i]); err != nil {
			return fmt.Errorf("failed to store mapped row %d: %w", stagingRows[i].RowNumber, err)
		}
	}

	templateID := template.ID
	batch.TemplateID = &templateID
	batch.Mapping = &cfg
	batch.RequiresRemapping = false

	if err := s.advance(ctx, batch, domain.BatchStatusMapped); err != nil {
		return err
	}
	if err := s.templates.TouchUsage(ctx, template.ID); err != nil {
		s.log.WithError(err).Warn("failed to bump template usage")
	}
	s.appendAudit(ctx, *batch, actor, domain.AuditMappingApplied, nil, map[string]any{
		"template_id": template.ID.String(),
		"auto":        true,
	})
	return nil
}

// ApplyMappingRequest carries an operator-confirmed mapping for a batch.
type ApplyMappingRequest struct {
	BatchID      uuid.UUID
	Config       domain.MappingConfig
	SaveTemplate bool
	TemplateName string
	Actor        string
}

// ApplyMapping transforms every staging row's raw data through the config.
// Allowed for parsed batches and, as a remap, for mapped or validated
// batches; remapping invalidates earlier validation results.
func (s *Service) ApplyMapping(ctx context.Context, req ApplyMappingRequest) (domain.ImportBatch, error) {
	var batch domain.ImportBatch

	if err := mapping.ValidateConfig(req.Config); err != nil {
		return batch, err
	}

	err := s.locker.WithBatchLock(ctx, req.BatchID, func(ctx context.Context) error {
		var err error
		batch, err = s.batches.GetByID(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if batch.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrBatchTerminal, batch.Status)
		}
		if err := s.advance(ctx, &batch, domain.BatchStatusMapping); err != nil {
			return err
		}

		stagingRows, err := s.rows.ListByBatch(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("failed to load staging rows: %w", err)
		}
		for i := range stagingRows {
			stagingRows[i].MappedData = mapping.ApplyMapping(stagingRows[i].RawData, req.Config)
			if err := s.rows.UpdateMappedData(ctx, stagingRows[i]); err != nil {
				return fmt.Errorf("failed to store mapped row %d: %w", stagingRows[i].RowNumber, err)
			}
		}

		cfg := req.Config
		batch.Mapping = &cfg
		batch.RequiresRemapping = false
		// A remap resets validation counts until the next validation run.
		batch.ValidRows, batch.WarningRows, batch.ErrorRows = 0, 0, 0
		if batch, err = s.batches.Update(ctx, batch); err != nil {
			return fmt.Errorf("failed to update batch: %w", err)
		}
		if err := s.advance(ctx, &batch, domain.BatchStatusMapped); err != nil {
			return err
		}
		s.appendAudit(ctx, batch, req.Actor, domain.AuditMappingApplied, nil, map[string]any{"auto": false})

		if req.SaveTemplate {
			return s.saveTemplate(ctx, batch, req)
		}
		return nil
	})
	return batch, err
}

func (s *Service) saveTemplate(ctx context.Context, batch domain.ImportBatch, req ApplyMappingRequest) error {
	name := strings.TrimSpace(req.TemplateName)
	if name == "" {
		name = batch.FileName
	}
	template, err := s.templates.Save(ctx, domain.ImportMappingTemplate{
		ID:          uuid.New(),
		TenantID:    batch.TenantID,
		Name:        name,
		Fingerprint: batch.ColumnFingerprint,
		Config:      req.Config,
		Provenance:  domain.ProvenanceHumanConfirmed,
	})
	if err != nil {
		return fmt.Errorf("failed to save mapping template: %w", err)
	}
	s.appendAudit(ctx, batch, req.Actor, domain.AuditTemplateSaved, nil, map[string]any{
		"template_id": template.ID.String(),
		"name":        template.Name,
	})
	return nil
}

// Suggestions returns ranked column-to-field candidates for a batch's
// headers, merging deterministic pattern rules with optional externally
// supplied candidates.
func (s *Service) Suggestions(ctx context.Context, batchID uuid.UUID, external []domain.MappingSuggestion) ([]domain.MappingSuggestion, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	// Headers come from the batch so the file's column order is preserved.
	return mapping.Suggest(batch.Headers, external), nil
}

// ValidateResult pairs the validation outcome with the refreshed batch.
type ValidateResult struct {
	Batch  domain.ImportBatch             `json:"batch"`
	Report domain.BatchQualityReport      `json:"report"`
	Errors []domain.ImportValidationError `json:"errors"`
}

// Validate runs all configured rules over the batch's mapped rows, persists
// per-row statuses and findings, and moves the batch to validated.
// Re-validation replaces earlier findings entirely.
func (s *Service) Validate(ctx context.Context, batchID uuid.UUID, actor string) (ValidateResult, error) {
	var out ValidateResult

	err := s.locker.WithBatchLock(ctx, batchID, func(ctx context.Context) error {
		batch, err := s.batches.GetByID(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrBatchTerminal, batch.Status)
		}
		if err := s.advance(ctx, &batch, domain.BatchStatusValidating); err != nil {
			return err
		}

		stagingRows, err := s.rows.ListByBatch(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("failed to load staging rows: %w", err)
		}

		result, err := s.validator.ValidateBatch(ctx, batch, stagingRows)
		if err != nil {
			return err
		}

		byNumber := make(map[int]*domain.ImportStagingRow, len(stagingRows))
		for i := range stagingRows {
			byNumber[stagingRows[i].RowNumber] = &stagingRows[i]
		}
		for _, rr := range result.Rows {
			row := byNumber[rr.RowNumber]
			if row == nil {
				continue
			}
			row.Status = rr.Status
			row.DuplicateOfID = rr.DuplicateOfID
			row.DuplicateOfRow = rr.DuplicateOfRow
			if err := s.rows.UpdateValidation(ctx, *row); err != nil {
				return fmt.Errorf("failed to store validation for row %d: %w", rr.RowNumber, err)
			}
		}
		if err := s.rows.ReplaceErrors(ctx, batch.ID, result.Errors); err != nil {
			return fmt.Errorf("failed to store validation errors: %w", err)
		}

		batch.ValidRows = result.ValidRows
		batch.WarningRows = result.WarningRows
		batch.ErrorRows = result.InvalidRows
		if batch, err = s.batches.Update(ctx, batch); err != nil {
			return fmt.Errorf("failed to update batch: %w", err)
		}
		if err := s.advance(ctx, &batch, domain.BatchStatusValidated); err != nil {
			return err
		}
		s.appendAudit(ctx, batch, actor, domain.AuditValidated, nil, map[string]any{
			"valid":     result.ValidRows,
			"warnings":  result.WarningRows,
			"invalid":   result.InvalidRows,
			"truncated": result.Truncated,
		})

		out.Batch = batch
		out.Errors = result.Errors
		out.Report = validation.BuildQualityReport(batch, stagingRows, result)
		return nil
	})
	return out, err
}

// CommitRequest triggers a commit pass.
type CommitRequest struct {
	BatchID        uuid.UUID
	DryRun         bool
	ExcludedRowIDs []uuid.UUID
	RowEdits       map[int]map[string]any
	Actor          string
}

// Commit applies the batch to the customer store. A dry run exercises the
// identical resolution path with persistence suppressed and does not change
// batch state. The real pass runs inside the batch lock transaction: each
// row applies in its own savepoint, so row-level failures are recorded and
// the batch still commits, while a systemic failure rolls the whole pass
// back and marks the batch failed.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (domain.ImportCommitResult, error) {
	var result domain.ImportCommitResult

	opts := commit.Options{
		DryRun:         req.DryRun,
		ExcludedRowIDs: req.ExcludedRowIDs,
		RowEdits:       req.RowEdits,
		Actor:          req.Actor,
	}

	if req.DryRun {
		batch, err := s.batches.GetByID(ctx, req.BatchID)
		if err != nil {
			return result, err
		}
		if batch.Status != domain.BatchStatusValidated {
			return result, fmt.Errorf("%w: dry run requires a validated batch, got %s", domain.ErrConflict, batch.Status)
		}
		stagingRows, err := s.rows.ListByBatch(ctx, batch.ID)
		if err != nil {
			return result, err
		}
		return s.engine.Commit(ctx, batch, stagingRows, opts)
	}

	var systemic error
	err := s.locker.WithBatchLock(ctx, req.BatchID, func(ctx context.Context) error {
		batch, err := s.batches.GetByID(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if batch.Status == domain.BatchStatusCommitted {
			// Retried commit: report the recorded outcome, touch nothing.
			stagingRows, err := s.rows.ListByBatch(ctx, batch.ID)
			if err != nil {
				return fmt.Errorf("failed to load staging rows: %w", err)
			}
			result = recordedCommitResult(batch, stagingRows)
			return nil
		}
		if err := s.advance(ctx, &batch, domain.BatchStatusCommitting); err != nil {
			return err
		}
		s.appendAudit(ctx, batch, req.Actor, domain.AuditCommitStarted, nil, nil)

		stagingRows, err := s.rows.ListByBatch(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("failed to load staging rows: %w", err)
		}

		result, err = s.engine.Commit(ctx, batch, stagingRows, opts)
		if err != nil {
			// Returning the error rolls the stage transaction back, which
			// also discards any half-applied rows. The failure bookkeeping
			// happens outside the transaction so it survives the rollback.
			systemic = err
			return err
		}

		now := time.Now()
		batch.CommittedAt = &now
		batch.CommittedBy = req.Actor
		if batch, err = s.batches.Update(ctx, batch); err != nil {
			return fmt.Errorf("failed to update batch: %w", err)
		}
		if err := s.advance(ctx, &batch, domain.BatchStatusCommitted); err != nil {
			return err
		}
		s.appendAudit(ctx, batch, req.Actor, domain.AuditCommitted, nil, map[string]any{
			"created": result.Created,
			"updated": result.Updated,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		})
		return nil
	})
	if systemic != nil {
		if batch, getErr := s.batches.GetByID(ctx, req.BatchID); getErr == nil {
			return result, s.failBatch(ctx, batch, req.Actor, systemic)
		}
		return result, systemic
	}
	return result, err
}

// failBatch records a systemic commit failure and moves the batch to failed.
// The cause is often a cancelled context, so the bookkeeping writes run
// detached from the caller's cancellation.
func (s *Service) failBatch(ctx context.Context, batch domain.ImportBatch, actor string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	batch.ErrorMessage = cause.Error()
	if _, err := s.batches.Update(ctx, batch); err != nil {
		s.log.WithError(err).Error("failed to record batch error message")
	}
	if err := s.batches.TransitionStatus(ctx, batch.ID, batch.Status, domain.BatchStatusFailed); err != nil {
		s.log.WithError(err).Error("failed to mark batch failed")
	}
	batch.Status = domain.BatchStatusFailed
	s.appendAudit(ctx, batch, actor, domain.AuditFailed, nil, map[string]any{"error": cause.Error()})
	return cause
}

// Rollback reverses a committed batch and stamps it rolled back. The batch
// stays in the committed state; the rolled-back timestamp marks it reversed
// and blocks a second rollback.
func (s *Service) Rollback(ctx context.Context, batchID uuid.UUID, actor string) (domain.RollbackResult, error) {
	var result domain.RollbackResult

	err := s.locker.WithBatchLock(ctx, batchID, func(ctx context.Context) error {
		batch, err := s.batches.GetByID(ctx, batchID)
		if err != nil {
			return err
		}
		stagingRows, err := s.rows.ListByBatch(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("failed to load staging rows: %w", err)
		}

		result, err = s.engine.Rollback(ctx, batch, stagingRows, actor)
		if err != nil {
			return err
		}

		now := time.Now()
		batch.RolledBackAt = &now
		if _, err := s.batches.Update(ctx, batch); err != nil {
			return fmt.Errorf("failed to stamp rollback: %w", err)
		}
		return nil
	})
	return result, err
}

// Cancel abandons a batch before commit. Committed and already terminal
// batches cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, batchID uuid.UUID, actor string) error {
	return s.locker.WithBatchLock(ctx, batchID, func(ctx context.Context) error {
		batch, err := s.batches.GetByID(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrBatchTerminal, batch.Status)
		}
		if err := s.batches.TransitionStatus(ctx, batch.ID, batch.Status, domain.BatchStatusCancelled); err != nil {
			return err
		}
		batch.Status = domain.BatchStatusCancelled
		s.appendAudit(ctx, batch, actor, domain.AuditCancelled, nil, nil)
		return nil
	})
}

// GetBatch loads one batch.
func (s *Service) GetBatch(ctx context.Context, batchID uuid.UUID) (domain.ImportBatch, error) {
	return s.batches.GetByID(ctx, batchID)
}

// ListBatches pages a tenant's batches, newest first.
func (s *Service) ListBatches(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.ImportBatch, error) {
	return s.batches.List(ctx, tenantID, limit, offset)
}

// ListRows returns a batch's staging rows in row-number order.
func (s *Service) ListRows(ctx context.Context, batchID uuid.UUID) ([]domain.ImportStagingRow, error) {
	return s.rows.ListByBatch(ctx, batchID)
}

// ListErrors returns a batch's stored validation findings.
func (s *Service) ListErrors(ctx context.Context, batchID uuid.UUID) ([]domain.ImportValidationError, error) {
	return s.rows.ListErrors(ctx, batchID)
}

// AuditTrail returns the batch's audit entries, oldest first.
func (s *Service) AuditTrail(ctx context.Context, batchID uuid.UUID) ([]domain.ImportAuditLog, error) {
	return s.audit.ListByBatch(ctx, batchID)
}

// QualityReport rebuilds the quality report from persisted rows and errors.
func (s *Service) QualityReport(ctx context.Context, batchID uuid.UUID) (domain.BatchQualityReport, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return domain.BatchQualityReport{}, err
	}
	stagingRows, err := s.rows.ListByBatch(ctx, batch.ID)
	if err != nil {
		return domain.BatchQualityReport{}, err
	}
	errs, err := s.rows.ListErrors(ctx, batch.ID)
	if err != nil {
		return domain.BatchQualityReport{}, err
	}

	result := validation.Result{
		Errors:      errs,
		ValidRows:   batch.ValidRows,
		WarningRows: batch.WarningRows,
		InvalidRows: batch.ErrorRows,
	}
	return validation.BuildQualityReport(batch, stagingRows, result), nil
}

// advance moves the batch one step forward with a compare-and-swap.
// Re-entering a stage the batch already passed is treated as success; a
// concurrent move by another invocation surfaces as ErrConflict.
func (s *Service) advance(ctx context.Context, batch *domain.ImportBatch, to domain.BatchStatus) error {
	next, err := batch.Status.Transition(to)
	if errors.Is(err, domain.ErrAlreadyDone) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.batches.TransitionStatus(ctx, batch.ID, batch.Status, next); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			refreshed, getErr := s.batches.GetByID(ctx, batch.ID)
			if getErr == nil && refreshed.Status.AtOrPast(next) {
				batch.Status = refreshed.Status
				return nil
			}
		}
		return err
	}
	batch.Status = next
	return nil
}

func (s *Service) appendAudit(ctx context.Context, batch domain.ImportBatch, actor string, action domain.AuditAction, before, after map[string]any) {
	entry := domain.NewAuditEntry(batch.ID, batch.TenantID, actor, action).WithSnapshots(before, after)
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("failed to append audit entry")
	}
}

// recordedCommitResult rebuilds a commit summary from stored row outcomes so
// a retried commit reports what already happened instead of re-running.
func recordedCommitResult(batch domain.ImportBatch, stagingRows []domain.ImportStagingRow) domain.ImportCommitResult {
	result := domain.ImportCommitResult{BatchID: batch.ID}
	if batch.CommittedAt != nil {
		result.StartedAt = *batch.CommittedAt
		result.EndedAt = *batch.CommittedAt
	}
	for _, row := range stagingRows {
		if row.Action == domain.RowActionNone {
			continue
		}
		result.Outcomes = append(result.Outcomes, domain.RowOutcome{
			RowNumber:  row.RowNumber,
			Action:     row.Action,
			CustomerID: row.CustomerID,
		})
		switch row.Action {
		case domain.RowActionCreated:
			result.Created++
		case domain.RowActionUpdated:
			result.Updated++
		case domain.RowActionSkipped:
			result.Skipped++
		case domain.RowActionError:
			result.Failed++
		}
	}
	return result
}
