package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// AggregateHandler handles aggregate metadata, membership and computed
// value requests.
type AggregateHandler struct {
	aggregateService *services.AggregateService
	valuesService    *services.ValuesService
	logger           *slog.Logger
}

// NewAggregateHandler creates a new aggregate handler.
func NewAggregateHandler(aggregateService *services.AggregateService, valuesService *services.ValuesService, logger *slog.Logger) *AggregateHandler {
	return &AggregateHandler{
		aggregateService: aggregateService,
		valuesService:    valuesService,
		logger:           logger.With("handler", "aggregates"),
	}
}

// List returns the aggregates the caller can read.
// GET /api/v1/aggregates
func (h *AggregateHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	aggregates, err := h.aggregateService.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "list aggregates")
		return
	}
	writeJSON(w, http.StatusOK, aggregates)
}

// Create creates a new aggregate with no members.
// POST /api/v1/aggregates
func (h *AggregateHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.AggregatePost
	if !decodeBody(w, r, &req) {
		return
	}

	aggregate, err := h.aggregateService.Create(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create aggregate")
		return
	}
	locationHeader(w, r, aggregate.ID)
	writeJSON(w, http.StatusCreated, aggregate)
}

// Get returns a single aggregate with its membership history.
// GET /api/v1/aggregates/{aggregate_id}
func (h *AggregateHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	aggregateID, ok := pathID(w, r, "aggregate_id")
	if !ok {
		return
	}

	aggregate, err := h.aggregateService.Get(r.Context(), user.ID, aggregateID)
	if err != nil {
		writeError(w, h.logger, err, "get aggregate")
		return
	}
	writeJSON(w, http.StatusOK, aggregate)
}

// Update applies metadata changes and membership additions or retirements
// in request order.
// POST /api/v1/aggregates/{aggregate_id}
func (h *AggregateHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	aggregateID, ok := pathID(w, r, "aggregate_id")
	if !ok {
		return
	}

	var req models.AggregateUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	aggregate, err := h.aggregateService.Update(r.Context(), user.ID, aggregateID, &req)
	if err != nil {
		writeError(w, h.logger, err, "update aggregate")
		return
	}
	writeJSON(w, http.StatusOK, aggregate)
}

// Delete removes an aggregate. Forecasts bound to the aggregate block the
// delete.
// DELETE /api/v1/aggregates/{aggregate_id}
func (h *AggregateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	aggregateID, ok := pathID(w, r, "aggregate_id")
	if !ok {
		return
	}

	if err := h.aggregateService.Delete(r.Context(), user.ID, aggregateID); err != nil {
		writeError(w, h.logger, err, "delete aggregate")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetValues computes the aggregate series over member observations within
// their effective windows.
// GET /api/v1/aggregates/{aggregate_id}/values?start=&end=
func (h *AggregateHandler) GetValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	aggregateID, ok := pathID(w, r, "aggregate_id")
	if !ok {
		return
	}
	start, end, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	values, err := h.valuesService.GetAggregateValues(r.Context(), user.ID, aggregateID, start, end)
	if err != nil {
		writeError(w, h.logger, err, "get aggregate values")
		return
	}
	writeJSON(w, http.StatusOK, forecastValuesPayload{Values: values})
}
