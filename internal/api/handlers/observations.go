package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// ObservationHandler handles observation metadata and value requests.
type ObservationHandler struct {
	observationService *services.ObservationService
	valuesService      *services.ValuesService
	logger             *slog.Logger
}

// NewObservationHandler creates a new observation handler.
func NewObservationHandler(observationService *services.ObservationService, valuesService *services.ValuesService, logger *slog.Logger) *ObservationHandler {
	return &ObservationHandler{
		observationService: observationService,
		valuesService:      valuesService,
		logger:             logger.With("handler", "observations"),
	}
}

// List returns the observations the caller can read, optionally filtered
// by site.
// GET /api/v1/observations?site_id=
func (h *ObservationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	siteID, ok := querySiteID(w, r)
	if !ok {
		return
	}

	observations, err := h.observationService.List(r.Context(), user.ID, siteID)
	if err != nil {
		writeError(w, h.logger, err, "list observations")
		return
	}
	writeJSON(w, http.StatusOK, observations)
}

// Create creates a new observation.
// POST /api/v1/observations
func (h *ObservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.ObservationPost
	if !decodeBody(w, r, &req) {
		return
	}

	observation, err := h.observationService.Create(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create observation")
		return
	}
	locationHeader(w, r, observation.ID)
	writeJSON(w, http.StatusCreated, observation)
}

// Get returns a single observation.
// GET /api/v1/observations/{observation_id}
func (h *ObservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}

	observation, err := h.observationService.Get(r.Context(), user.ID, observationID)
	if err != nil {
		writeError(w, h.logger, err, "get observation")
		return
	}
	writeJSON(w, http.StatusOK, observation)
}

// Update applies a partial update to an observation.
// POST /api/v1/observations/{observation_id}
func (h *ObservationHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}

	var req models.ObservationUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	observation, err := h.observationService.Update(r.Context(), user.ID, observationID, &req)
	if err != nil {
		writeError(w, h.logger, err, "update observation")
		return
	}
	writeJSON(w, http.StatusOK, observation)
}

// Delete removes an observation. Observations with an active aggregate
// membership cannot be deleted.
// DELETE /api/v1/observations/{observation_id}
func (h *ObservationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}

	if err := h.observationService.Delete(r.Context(), user.ID, observationID); err != nil {
		writeError(w, h.logger, err, "delete observation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type observationValuesPayload struct {
	Values []models.ObservationValue `json:"values"`
}

// StoreValues appends a batch of values to an observation series.
// POST /api/v1/observations/{observation_id}/values
func (h *ObservationHandler) StoreValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}

	var payload observationValuesPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	if err := h.valuesService.StoreObservationValues(r.Context(), user.ID, observationID, payload.Values); err != nil {
		writeError(w, h.logger, err, "store observation values")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetValues returns stored values within an inclusive time window.
// GET /api/v1/observations/{observation_id}/values?start=&end=
func (h *ObservationHandler) GetValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}
	start, end, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	values, err := h.valuesService.GetObservationValues(r.Context(), user.ID, observationID, start, end)
	if err != nil {
		writeError(w, h.logger, err, "get observation values")
		return
	}
	writeJSON(w, http.StatusOK, observationValuesPayload{Values: values})
}

// GetLatest returns the most recent stored value.
// GET /api/v1/observations/{observation_id}/values/latest
func (h *ObservationHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}

	value, err := h.valuesService.GetObservationLatest(r.Context(), user.ID, observationID)
	if err != nil {
		writeError(w, h.logger, err, "get latest observation value")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// GetTimeRange returns the first and last stored timestamps.
// GET /api/v1/observations/{observation_id}/values/timerange
func (h *ObservationHandler) GetTimeRange(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}

	tr, err := h.valuesService.GetObservationTimeRange(r.Context(), user.ID, observationID)
	if err != nil {
		writeError(w, h.logger, err, "get observation time range")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// GetGaps returns interval-sized holes in the stored series.
// GET /api/v1/observations/{observation_id}/values/gaps?start=&end=
func (h *ObservationHandler) GetGaps(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	observationID, ok := pathID(w, r, "observation_id")
	if !ok {
		return
	}
	start, end, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	gaps, err := h.valuesService.GetObservationGaps(r.Context(), user.ID, observationID, start, end)
	if err != nil {
		writeError(w, h.logger, err, "get observation gaps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gaps": gaps})
}
