package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/auth"
	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// ReportHandler handles report lifecycle requests, including the worker
// callbacks that persist computed results.
type ReportHandler struct {
	reportService *services.ReportService
	logger        *slog.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(reportService *services.ReportService, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		logger:        logger.With("handler", "reports"),
	}
}

// List returns the reports the caller can read, without values.
// GET /api/v1/reports
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	reports, err := h.reportService.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "list reports")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// Create stores a pending report and hands it to the compute worker.
// POST /api/v1/reports
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	token, _ := auth.TokenFromContext(r.Context())

	var req models.ReportPost
	if !decodeBody(w, r, &req) {
		return
	}

	report, err := h.reportService.Create(r.Context(), user.ID, token, &req)
	if err != nil {
		writeError(w, h.logger, err, "create report")
		return
	}
	locationHeader(w, r, report.ID)
	writeJSON(w, http.StatusCreated, report)
}

// Get returns a report with its raw results and stored values.
// GET /api/v1/reports/{report_id}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	reportID, ok := pathID(w, r, "report_id")
	if !ok {
		return
	}

	report, err := h.reportService.Get(r.Context(), user.ID, reportID)
	if err != nil {
		writeError(w, h.logger, err, "get report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Delete removes a report and its values.
// DELETE /api/v1/reports/{report_id}
func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	reportID, ok := pathID(w, r, "report_id")
	if !ok {
		return
	}

	if err := h.reportService.Delete(r.Context(), user.ID, reportID); err != nil {
		writeError(w, h.logger, err, "delete report")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recompute resets a report to pending and re-enqueues it.
// GET /api/v1/reports/{report_id}/recompute
func (h *ReportHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	token, _ := auth.TokenFromContext(r.Context())
	reportID, ok := pathID(w, r, "report_id")
	if !ok {
		return
	}

	if err := h.reportService.Recompute(r.Context(), user.ID, token, reportID); err != nil {
		writeError(w, h.logger, err, "recompute report")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus is the worker callback for status transitions.
// POST /api/v1/reports/{report_id}/status/{status}
func (h *ReportHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	reportID, ok := pathID(w, r, "report_id")
	if !ok {
		return
	}
	status := chi.URLParam(r, "status")

	if err := h.reportService.SetStatus(r.Context(), user.ID, reportID, status); err != nil {
		writeError(w, h.logger, err, "set report status")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StoreRaw is the worker callback that persists the rendered report body.
// POST /api/v1/reports/{report_id}/raw
func (h *ReportHandler) StoreRaw(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	reportID, ok := pathID(w, r, "report_id")
	if !ok {
		return
	}

	var raw models.RawReport
	if !decodeBody(w, r, &raw) {
		return
	}

	if err := h.reportService.StoreRaw(r.Context(), user.ID, reportID, &raw); err != nil {
		writeError(w, h.logger, err, "store raw report")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StoreValue is the worker callback that snapshots one processed series.
// POST /api/v1/reports/{report_id}/values
func (h *ReportHandler) StoreValue(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	reportID, ok := pathID(w, r, "report_id")
	if !ok {
		return
	}

	var req models.ReportValuePost
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.reportService.StoreValue(r.Context(), user.ID, reportID, &req)
	if err != nil {
		writeError(w, h.logger, err, "store report value")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"id": id})
}

// GetValues returns the stored report value snapshots.
// GET /api/v1/reports/{report_id}/values
func (h *ReportHandler) GetValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	reportID, ok := pathID(w, r, "report_id")
	if !ok {
		return
	}

	values, err := h.reportService.GetValues(r.Context(), user.ID, reportID)
	if err != nil {
		writeError(w, h.logger, err, "get report values")
		return
	}
	writeJSON(w, http.StatusOK, values)
}
