// Package handler exposes the ingestion HTTP API: the batch ingestion
// endpoint plus the operator-facing operations and audit read models.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/internal/ingest/audit"
	"github.com/docpull/ingest/internal/ingest/operation"
	"github.com/docpull/ingest/internal/ingest/validator"
	apperrors "github.com/docpull/ingest/pkg/errors"
	"github.com/docpull/ingest/pkg/logger"
)

// maxBodyBytes caps a batch request body: 100 documents of up to 1 MiB each,
// plus envelope overhead.
const maxBodyBytes = 128 << 20

// Ingestor runs one batch ingestion call.
type Ingestor interface {
	Ingest(ctx context.Context, req *ingest.BatchRequest) (*ingest.BatchResult, error)
}

// OperationReader serves the operations read model.
type OperationReader interface {
	List(ctx context.Context, f operation.Filter) ([]ingest.Operation, error)
	Get(ctx context.Context, operationID string) (*operation.Detail, error)
}

// AuditReader serves the audit log read model.
type AuditReader interface {
	Query(ctx context.Context, f audit.Filter) ([]ingest.AuditRecord, error)
}

// Handler holds the HTTP endpoints of the ingestion service.
type Handler struct {
	ingestor   Ingestor
	operations OperationReader
	auditLog   AuditReader
	logger     *slog.Logger
}

// New creates a Handler.
func New(ingestor Ingestor, operations OperationReader, auditLog AuditReader) *Handler {
	return &Handler{
		ingestor:   ingestor,
		operations: operations,
		auditLog:   auditLog,
		logger:     slog.Default().With("component", "http-handler"),
	}
}

// RegisterRoutes attaches all endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/docs/batch", h.IngestBatch)
	mux.HandleFunc("GET /api/v1/operations", h.ListOperations)
	mux.HandleFunc("GET /api/v1/operations/{id}", h.GetOperation)
	mux.HandleFunc("GET /api/v1/audit", h.QueryAudit)
}

// IngestBatch handles POST /api/v1/docs/batch. The response status reflects
// the aggregate outcome: 200 when every document succeeded, 207 when the
// batch was partial, 400 when every document failed.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req ingest.BatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, apperrors.Newf(apperrors.ErrInvalidRequest, "invalid JSON body: %v", err))
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), &req)
	if err != nil {
		var valErr *validator.ValidationError
		if errors.As(err, &valErr) {
			err = apperrors.New(apperrors.ErrInvalidRequest, valErr.Error())
		}
		log.Warn("batch request rejected", "error", err)
		h.respondError(w, err)
		return
	}

	status := http.StatusOK
	switch {
	case result.Processed == 0:
		status = http.StatusBadRequest
	case result.Failed > 0:
		status = http.StatusMultiStatus
	}
	h.respondJSON(w, status, result)
}

// ListOperations handles GET /api/v1/operations with optional sourceId,
// status, limit, and offset query parameters.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ops, err := h.operations.List(r.Context(), operation.Filter{
		SourceID: q.Get("sourceId"),
		Status:   q.Get("status"),
		Limit:    parseUint(q.Get("limit")),
		Offset:   parseUint(q.Get("offset")),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

// GetOperation handles GET /api/v1/operations/{id}, returning the operation
// with its per-document outcome rows.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	detail, err := h.operations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

// QueryAudit handles GET /api/v1/audit with optional url, contentHash,
// version, operationId, status, limit, and offset query parameters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := h.auditLog.Query(r.Context(), audit.Filter{
		URL:         q.Get("url"),
		Fingerprint: q.Get("contentHash"),
		Version:     q.Get("version"),
		OperationID: q.Get("operationId"),
		Status:      q.Get("status"),
		Limit:       parseUint(q.Get("limit")),
		Offset:      parseUint(q.Get("offset")),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"success": status < http.StatusBadRequest,
		"data":    data,
	}); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatusCode(err))
	if encErr := json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": ingest.ErrorDetail{
			Code:    apperrors.Code(err),
			Message: apperrors.Message(err),
		},
	}); encErr != nil {
		h.logger.Error("encoding error response failed", "error", encErr)
	}
}

func parseUint(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
