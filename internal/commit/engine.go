// Package commit applies validated staging rows to the permanent customer
// store and reverses previously committed batches. Preview (dry run) and the
// real commit share one resolution path so what the operator saw is what
// happens.
package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// enrichTimeout bounds optional per-row enrichment calls; a slow or failing
// hook never blocks row creation.
const enrichTimeout = 3 * time.Second

// ErrNotRolledBackable is returned when rollback is invoked on a batch that
// is not committed or was already rolled back.
var ErrNotRolledBackable = errors.New("batch cannot be rolled back")

// EnrichmentHook augments a customer's fields during commit, e.g. geocoding
// an address. Failures are soft: the row commits with the unenriched fields.
type EnrichmentHook interface {
	Enrich(ctx context.Context, fields map[string]any) (map[string]any, error)
}

// TxRunner scopes a function to its own atomic storage unit. Inside the
// commit pass transaction each row runs through it as a savepoint, so one
// row's constraint violation rolls back alone instead of aborting the whole
// transaction. db.Connection satisfies this with WithTx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options controls one commit pass.
type Options struct {
	DryRun         bool
	ExcludedRowIDs []uuid.UUID
	// RowEdits overrides individual mapped fields per row number before the
	// row is applied, carrying last-minute operator fixes from the preview.
	RowEdits map[int]map[string]any
	Actor    string
}

// Engine is the commit/rollback engine. It is the only component that writes
// to the permanent customer store.
type Engine struct {
	customers repository.CustomerRepository
	rows      repository.StagingRowRepository
	audit     repository.AuditLogRepository
	tx        TxRunner
	enricher  EnrichmentHook
	log       *logrus.Entry
}

// NewEngine creates a commit engine. The runner and enrichment hook may be
// nil; a nil runner applies rows without per-row atomicity.
func NewEngine(customers repository.CustomerRepository, rows repository.StagingRowRepository, audit repository.AuditLogRepository, tx TxRunner, enricher EnrichmentHook) *Engine {
	return &Engine{
		customers: customers,
		rows:      rows,
		audit:     audit,
		tx:        tx,
		enricher:  enricher,
		log:       logrus.WithField("component", "commit"),
	}
}

// atomically runs fn in its own atomic unit when a runner is configured.
func (e *Engine) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.tx == nil {
		return fn(ctx)
	}
	return e.tx.WithTx(ctx, fn)
}

// rowError carries the commit error code for a failed row write out of its
// atomic unit.
type rowError struct {
	code string
	err  error
}

func (e rowError) Error() string { return e.err.Error() }
func (e rowError) Unwrap() error { return e.err }

func commitErrorCode(err error) string {
	var re rowError
	if errors.As(err, &re) {
		return re.code
	}
	return domain.CodeCommitFailed
}

// Commit applies the batch's eligible staging rows in row-number order.
// Row-level storage failures are recorded and the pass continues; systemic
// failures (storage unavailable, context cancelled) abort with an error so
// the caller can mark the batch failed.
func (e *Engine) Commit(ctx context.Context, batch domain.ImportBatch, stagingRows []domain.ImportStagingRow, opts Options) (domain.ImportCommitResult, error) {
	result := domain.ImportCommitResult{
		BatchID:   batch.ID,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}

	duplicateAction := domain.DuplicateActionSkip
	if batch.Mapping != nil && batch.Mapping.Options.DuplicateAction != "" {
		duplicateAction = batch.Mapping.Options.DuplicateAction
	}

	excluded := make(map[uuid.UUID]bool, len(opts.ExcludedRowIDs))
	for _, id := range opts.ExcludedRowIDs {
		excluded[id] = true
	}

	for _, row := range stagingRows {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("commit aborted: %w", err)
		}
		if row.Action != domain.RowActionNone {
			// Resolved by an earlier pass. Report the recorded outcome
			// instead of repeating the write, so a retried or resumed
			// commit never applies a row twice.
			outcome := domain.RowOutcome{RowNumber: row.RowNumber, Action: row.Action, CustomerID: row.CustomerID}
			result.Outcomes = append(result.Outcomes, outcome)
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
			continue
		}
		if excluded[row.ID] {
			result.Excluded++
			result.Outcomes = append(result.Outcomes, domain.RowOutcome{RowNumber: row.RowNumber, Action: domain.RowActionSkipped})
			if !opts.DryRun {
				row.Action = domain.RowActionSkipped
				if err := e.rows.UpdateOutcome(ctx, row); err != nil {
					return result, fmt.Errorf("failed to record outcome for row %d: %w", row.RowNumber, err)
				}
			}
			result.Skipped++
			continue
		}
		if !row.CommitEligible() {
			continue
		}

		outcome := e.applyRow(ctx, batch, row, duplicateAction, opts)
		result.Outcomes = append(result.Outcomes, outcome)

		switch outcome.Action {
		case domain.RowActionCreated:
			result.Created++
		case domain.RowActionUpdated:
			result.Updated++
		case domain.RowActionSkipped:
			result.Skipped++
		case domain.RowActionError:
			result.Failed++
		}

		if !opts.DryRun {
			row.Action = outcome.Action
			row.CustomerID = outcome.CustomerID
			if err := e.rows.UpdateOutcome(ctx, row); err != nil {
				return result, fmt.Errorf("failed to record outcome for row %d: %w", row.RowNumber, err)
			}
		}
	}

	result.EndedAt = time.Now()
	return result, nil
}

// applyRow resolves and, outside dry runs, persists one staging row.
func (e *Engine) applyRow(ctx context.Context, batch domain.ImportBatch, row domain.ImportStagingRow, duplicateAction domain.DuplicateAction, opts Options) domain.RowOutcome {
	outcome := domain.RowOutcome{RowNumber: row.RowNumber}

	fields := domain.CopyFields(row.MappedData)
	for field, value := range opts.RowEdits[row.RowNumber] {
		fields[field] = value
	}

	if row.DuplicateOfID != nil {
		switch duplicateAction {
		case domain.DuplicateActionSkip:
			outcome.Action = domain.RowActionSkipped
			outcome.CustomerID = row.DuplicateOfID
			return outcome
		case domain.DuplicateActionError:
			outcome.Action = domain.RowActionError
			outcome.Error = &domain.CommitError{
				RowNumber: row.RowNumber,
				Code:      domain.CodeDuplicateEntry,
				Message:   fmt.Sprintf("row matches existing customer %s and duplicate policy is error", row.DuplicateOfID),
			}
			return outcome
		case domain.DuplicateActionUpdate:
			return e.updateExisting(ctx, batch, row, *row.DuplicateOfID, fields, opts)
		}
	}

	// In-batch duplicates with a skip policy resolve against the surviving
	// first occurrence; skipping keeps exactly one copy.
	if row.DuplicateOfRow > 0 && duplicateAction == domain.DuplicateActionSkip {
		outcome.Action = domain.RowActionSkipped
		return outcome
	}

	return e.createCustomer(ctx, batch, row, fields, opts)
}

func (e *Engine) createCustomer(ctx context.Context, batch domain.ImportBatch, row domain.ImportStagingRow, fields map[string]any, opts Options) domain.RowOutcome {
	outcome := domain.RowOutcome{RowNumber: row.RowNumber}

	fields = e.enrich(ctx, fields)
	customer := domain.NewCustomer(batch.TenantID, fields)

	if !opts.DryRun {
		// The create and its audit entry land together or not at all; the
		// atomic unit keeps a failed row from aborting the commit pass
		// transaction.
		err := e.atomically(ctx, func(ctx context.Context) error {
			created, err := e.customers.Create(ctx, customer)
			if err != nil {
				return rowError{code: domain.CodeConstraintViolation, err: err}
			}
			customer = created

			entry := domain.NewAuditEntry(batch.ID, batch.TenantID, opts.Actor, domain.AuditRowCommitted).
				WithSnapshots(nil, customer.Fields).
				WithAffected(customer.ID)
			if err := e.audit.Append(ctx, entry); err != nil {
				return rowError{code: domain.CodeCommitFailed, err: err}
			}
			return nil
		})
		if err != nil {
			e.log.WithError(err).WithField("row", row.RowNumber).Warn("row-level create failed")
			outcome.Action = domain.RowActionError
			outcome.Error = &domain.CommitError{RowNumber: row.RowNumber, Code: commitErrorCode(err), Message: err.Error()}
			return outcome
		}
	}

	id := customer.ID
	outcome.Action = domain.RowActionCreated
	outcome.CustomerID = &id
	return outcome
}

func (e *Engine) updateExisting(ctx context.Context, batch domain.ImportBatch, row domain.ImportStagingRow, customerID uuid.UUID, fields map[string]any, opts Options) domain.RowOutcome {
	outcome := domain.RowOutcome{RowNumber: row.RowNumber}

	existing, err := e.customers.GetByID(ctx, customerID)
	if err != nil {
		outcome.Action = domain.RowActionError
		outcome.Error = &domain.CommitError{RowNumber: row.RowNumber, Code: domain.CodeCommitFailed, Message: err.Error()}
		return outcome
	}

	before := domain.CopyFields(existing.Fields)
	merged := domain.CopyFields(existing.Fields)
	for field, value := range fields {
		merged[field] = value
	}
	updated := existing.WithFields(e.enrich(ctx, merged))

	if !opts.DryRun {
		err := e.atomically(ctx, func(ctx context.Context) error {
			if _, err := e.customers.Update(ctx, updated); err != nil {
				return rowError{code: domain.CodeConstraintViolation, err: err}
			}

			// The before snapshot is what makes rollback of updates possible.
			entry := domain.NewAuditEntry(batch.ID, batch.TenantID, opts.Actor, domain.AuditRowCommitted).
				WithSnapshots(before, updated.Fields).
				WithAffected(updated.ID)
			if err := e.audit.Append(ctx, entry); err != nil {
				return rowError{code: domain.CodeCommitFailed, err: err}
			}
			return nil
		})
		if err != nil {
			e.log.WithError(err).WithField("row", row.RowNumber).Warn("row-level update failed")
			outcome.Action = domain.RowActionError
			outcome.Error = &domain.CommitError{RowNumber: row.RowNumber, Code: commitErrorCode(err), Message: err.Error()}
			return outcome
		}
	}

	id := updated.ID
	outcome.Action = domain.RowActionUpdated
	outcome.CustomerID = &id
	return outcome
}

// enrich invokes the optional hook under a timeout; failure returns the
// original fields untouched.
func (e *Engine) enrich(ctx context.Context, fields map[string]any) map[string]any {
	if e.enricher == nil {
		return fields
	}
	enrichCtx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	enriched, err := e.enricher.Enrich(enrichCtx, fields)
	if err != nil {
		e.log.WithError(err).Debug("enrichment failed, continuing without")
		return fields
	}
	return enriched
}

// Rollback reverses a committed batch: created customers are deleted and
// updated customers are restored from the before snapshots captured at
// commit time. It is rejected for batches that are not committed or were
// already rolled back.
func (e *Engine) Rollback(ctx context.Context, batch domain.ImportBatch, stagingRows []domain.ImportStagingRow, actor string) (domain.RollbackResult, error) {
	result := domain.RollbackResult{BatchID: batch.ID}

	if batch.Status != domain.BatchStatusCommitted {
		return result, fmt.Errorf("%w: status is %s", ErrNotRolledBackable, batch.Status)
	}
	if batch.RolledBackAt != nil {
		return result, fmt.Errorf("%w: already rolled back at %s", ErrNotRolledBackable, batch.RolledBackAt.Format(time.RFC3339))
	}

	snapshots, err := e.beforeSnapshots(ctx, batch.ID)
	if err != nil {
		return result, err
	}

	var affected []uuid.UUID
	for _, row := range stagingRows {
		if row.CustomerID == nil {
			continue
		}
		switch row.Action {
		case domain.RowActionCreated:
			if err := e.customers.Delete(ctx, *row.CustomerID); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return result, fmt.Errorf("failed to delete customer for row %d: %w", row.RowNumber, err)
			}
			result.Deleted++
			result.Reverted++
			affected = append(affected, *row.CustomerID)
		case domain.RowActionUpdated:
			before, ok := snapshots[*row.CustomerID]
			if !ok {
				return result, fmt.Errorf("no commit snapshot found for customer %s (row %d)", row.CustomerID, row.RowNumber)
			}
			existing, err := e.customers.GetByID(ctx, *row.CustomerID)
			if err != nil {
				return result, fmt.Errorf("failed to load customer for row %d: %w", row.RowNumber, err)
			}
			if _, err := e.customers.Update(ctx, existing.WithFields(before)); err != nil {
				return result, fmt.Errorf("failed to restore customer for row %d: %w", row.RowNumber, err)
			}
			result.Restored++
			result.Reverted++
			affected = append(affected, *row.CustomerID)
		}
	}

	entry := domain.NewAuditEntry(batch.ID, batch.TenantID, actor, domain.AuditRolledBack).
		WithSnapshots(map[string]any{"deleted": result.Deleted, "restored": result.Restored}, nil).
		WithAffected(affected...)
	if err := e.audit.Append(ctx, entry); err != nil {
		return result, fmt.Errorf("failed to audit rollback: %w", err)
	}

	return result, nil
}

// beforeSnapshots indexes commit-time before states by customer id. For
// updated rows the first commit entry carries the pre-update field set.
func (e *Engine) beforeSnapshots(ctx context.Context, batchID uuid.UUID) (map[uuid.UUID]map[string]any, error) {
	entries, err := e.audit.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	snapshots := make(map[uuid.UUID]map[string]any)
	for _, entry := range entries {
		if entry.Action != domain.AuditRowCommitted || entry.Before == nil {
			continue
		}
		for _, id := range entry.AffectedIDs {
			if _, ok := snapshots[id]; !ok {
				snapshots[id] = entry.Before
			}
		}
	}
	return snapshots, nil
}
