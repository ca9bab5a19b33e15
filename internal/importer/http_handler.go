package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kartoteket/kundeimport/internal/commit"
	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/repository"

	"github.com/google/uuid"
)

// Handler exposes the import pipeline over HTTP.
type Handler struct {
	service *Service
}

// NewRouter registers the pipeline routes on a fresh mux.
func NewRouter(service *Service) http.Handler {
	h := &Handler{service: service}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /import/upload", h.upload)
	mux.HandleFunc("GET /import/batches", h.listBatches)
	mux.HandleFunc("GET /import/batches/{id}", h.getBatch)
	mux.HandleFunc("GET /import/batches/{id}/rows", h.listRows)
	mux.HandleFunc("GET /import/batches/{id}/errors", h.listErrors)
	mux.HandleFunc("GET /import/batches/{id}/report", h.qualityReport)
	mux.HandleFunc("GET /import/batches/{id}/audit", h.auditTrail)
	mux.HandleFunc("GET /import/batches/{id}/suggestions", h.suggestions)
	mux.HandleFunc("POST /import/batches/{id}/mapping", h.applyMapping)
	mux.HandleFunc("POST /import/batches/{id}/validate", h.validate)
	mux.HandleFunc("POST /import/batches/{id}/commit", h.commit)
	mux.HandleFunc("POST /import/batches/{id}/rollback", h.rollback)
	mux.HandleFunc("POST /import/batches/{id}/cancel", h.cancel)

	return mux
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	tenantID, err := uuid.Parse(strings.TrimSpace(r.FormValue("tenantId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenant id: %v", err), http.StatusBadRequest)
		return
	}

	var headerRowIndex *int
	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid header row index: %v", err), http.StatusBadRequest)
			return
		}
		headerRowIndex = &idx
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.service.Upload(r.Context(), UploadRequest{
		TenantID:       tenantID,
		FileName:       header.Filename,
		Data:           bytes.NewReader(data),
		HeaderRowIndex: headerRowIndex,
		Actor:          actor(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("tenantId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenant id: %v", err), http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	batches, err := h.service.ListBatches(r.Context(), tenantID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	batch, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) listRows(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListRows(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) listErrors(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	errs, err := h.service.ListErrors(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errs)
}

func (h *Handler) qualityReport(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	report, err := h.service.QualityReport(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.AuditTrail(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	suggestions, err := h.service.Suggestions(r.Context(), batchID, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

type applyMappingPayload struct {
	Config       domain.MappingConfig `json:"config"`
	SaveTemplate bool                 `json:"saveTemplate"`
	TemplateName string               `json:"templateName"`
}

func (h *Handler) applyMapping(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}

	var payload applyMappingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	batch, err := h.service.ApplyMapping(r.Context(), ApplyMappingRequest{
		BatchID:      batchID,
		Config:       payload.Config,
		SaveTemplate: payload.SaveTemplate,
		TemplateName: payload.TemplateName,
		Actor:        actor(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Validate(r.Context(), batchID, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type commitPayload struct {
	DryRun         bool                   `json:"dryRun"`
	ExcludedRowIDs []uuid.UUID            `json:"excludedRowIds"`
	RowEdits       map[int]map[string]any `json:"rowEdits"`
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}

	var payload commitPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.Commit(r.Context(), CommitRequest{
		BatchID:        batchID,
		DryRun:         payload.DryRun,
		ExcludedRowIDs: payload.ExcludedRowIDs,
		RowEdits:       payload.RowEdits,
		Actor:          actor(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Rollback(r.Context(), batchID, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathBatchID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), batchID, actor(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathBatchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	batchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid batch id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return batchID, true
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return "system"
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, ErrBatchTerminal),
		errors.Is(err, commit.ErrNotRolledBackable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrFileTooLarge):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
