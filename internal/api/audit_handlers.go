package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/paygate/internal/audit"
	"github.com/onnwee/paygate/internal/middleware"
)

// Content types per export format.
var exportContentTypes = map[audit.ExportFormat]string{
	audit.ExportFormatJSON: "application/json; charset=utf-8",
	audit.ExportFormatCSV:  "text/csv; charset=utf-8",
	audit.ExportFormatCBOR: "application/cbor",
}

// AuditHandlers holds dependencies for audit trail handlers.
type AuditHandlers struct {
	repo audit.Repository
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(repo audit.Repository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// HandleExport returns a page of audit records ordered by sequence.
// GET /audit?format=json|csv|cbor&after=N&limit=N
func (h *AuditHandlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.ExportFormatJSON
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "format must be json, csv, or cbor")
		return
	}

	after, err := parseUintParam(r, "after")
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "after must be a non-negative integer")
		return
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil || limit < 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
		return
	}

	data, err := audit.ExportRecords(ctx, h.repo, audit.ExportOptions{
		Format:   format,
		AfterSeq: after,
		Limit:    limit,
	})
	if err != nil {
		slog.ErrorContext(ctx, "audit export failed", "format", format, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "audit export failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleVerify recomputes the hash chain over a range and reports the first
// break, if any.
// GET /audit/verify?after=N&count=N
func (h *AuditHandlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	after, err := parseUintParam(r, "after")
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "after must be a non-negative integer")
		return
	}
	count, err := parseIntParam(r, "count")
	if err != nil || count < 0 {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "count must be a non-negative integer")
		return
	}

	result, err := audit.VerifyRange(ctx, h.repo, after, count)
	if err != nil {
		slog.ErrorContext(ctx, "audit verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "audit verification failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseUintParam parses an optional unsigned query parameter, defaulting to 0.
func parseUintParam(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// parseIntParam parses an optional integer query parameter, defaulting to 0.
func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
