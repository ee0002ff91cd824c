package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// ForecastHandler handles deterministic forecast metadata and value requests.
type ForecastHandler struct {
	forecastService *services.ForecastService
	valuesService   *services.ValuesService
	logger          *slog.Logger
}

// NewForecastHandler creates a new forecast handler.
func NewForecastHandler(forecastService *services.ForecastService, valuesService *services.ValuesService, logger *slog.Logger) *ForecastHandler {
	return &ForecastHandler{
		forecastService: forecastService,
		valuesService:   valuesService,
		logger:          logger.With("handler", "forecasts"),
	}
}

// List returns the forecasts the caller can read, optionally filtered by site.
// GET /api/v1/forecasts?site_id=
func (h *ForecastHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	siteID, ok := querySiteID(w, r)
	if !ok {
		return
	}

	forecasts, err := h.forecastService.List(r.Context(), user.ID, siteID)
	if err != nil {
		writeError(w, h.logger, err, "list forecasts")
		return
	}
	writeJSON(w, http.StatusOK, forecasts)
}

// Create creates a new forecast bound to a site or an aggregate.
// POST /api/v1/forecasts
func (h *ForecastHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.ForecastPost
	if !decodeBody(w, r, &req) {
		return
	}

	forecast, err := h.forecastService.Create(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create forecast")
		return
	}
	locationHeader(w, r, forecast.ID)
	writeJSON(w, http.StatusCreated, forecast)
}

// Get returns a single forecast.
// GET /api/v1/forecasts/{forecast_id}
func (h *ForecastHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	forecast, err := h.forecastService.Get(r.Context(), user.ID, forecastID)
	if err != nil {
		writeError(w, h.logger, err, "get forecast")
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

// Update applies a partial update to a forecast.
// POST /api/v1/forecasts/{forecast_id}
func (h *ForecastHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	var req models.ForecastUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	forecast, err := h.forecastService.Update(r.Context(), user.ID, forecastID, &req)
	if err != nil {
		writeError(w, h.logger, err, "update forecast")
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

// Delete removes a forecast and its stored values.
// DELETE /api/v1/forecasts/{forecast_id}
func (h *ForecastHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	if err := h.forecastService.Delete(r.Context(), user.ID, forecastID); err != nil {
		writeError(w, h.logger, err, "delete forecast")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type forecastValuesPayload struct {
	Values []models.ForecastValue `json:"values"`
}

// StoreValues appends a batch of values to a forecast series.
// POST /api/v1/forecasts/{forecast_id}/values
func (h *ForecastHandler) StoreValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	var payload forecastValuesPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	if err := h.valuesService.StoreForecastValues(r.Context(), user.ID, forecastID, payload.Values); err != nil {
		writeError(w, h.logger, err, "store forecast values")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetValues returns stored values within an inclusive time window.
// GET /api/v1/forecasts/{forecast_id}/values?start=&end=
func (h *ForecastHandler) GetValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}
	start, end, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	values, err := h.valuesService.GetForecastValues(r.Context(), user.ID, forecastID, start, end)
	if err != nil {
		writeError(w, h.logger, err, "get forecast values")
		return
	}
	writeJSON(w, http.StatusOK, forecastValuesPayload{Values: values})
}

// GetLatest returns the most recent stored value.
// GET /api/v1/forecasts/{forecast_id}/values/latest
func (h *ForecastHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	value, err := h.valuesService.GetForecastLatest(r.Context(), user.ID, forecastID)
	if err != nil {
		writeError(w, h.logger, err, "get latest forecast value")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// GetTimeRange returns the first and last stored timestamps.
// GET /api/v1/forecasts/{forecast_id}/values/timerange
func (h *ForecastHandler) GetTimeRange(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	tr, err := h.valuesService.GetForecastTimeRange(r.Context(), user.ID, forecastID)
	if err != nil {
		writeError(w, h.logger, err, "get forecast time range")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// GetGaps returns interval-sized holes in the stored series.
// GET /api/v1/forecasts/{forecast_id}/values/gaps?start=&end=
func (h *ForecastHandler) GetGaps(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	forecastID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}
	start, end, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	gaps, err := h.valuesService.GetForecastGaps(r.Context(), user.ID, forecastID, start, end)
	if err != nil {
		writeError(w, h.logger, err, "get forecast gaps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gaps": gaps})
}
