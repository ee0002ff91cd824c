package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// CDFForecastHandler handles probabilistic forecast group and single
// distribution requests.
type CDFForecastHandler struct {
	cdfService    *services.CDFForecastService
	valuesService *services.ValuesService
	logger        *slog.Logger
}

// NewCDFForecastHandler creates a new probabilistic forecast handler.
func NewCDFForecastHandler(cdfService *services.CDFForecastService, valuesService *services.ValuesService, logger *slog.Logger) *CDFForecastHandler {
	return &CDFForecastHandler{
		cdfService:    cdfService,
		valuesService: valuesService,
		logger:        logger.With("handler", "cdf_forecasts"),
	}
}

// List returns the probabilistic forecast groups the caller can read.
// GET /api/v1/cdf_forecasts?site_id=
func (h *CDFForecastHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	siteID, ok := querySiteID(w, r)
	if !ok {
		return
	}

	groups, err := h.cdfService.List(r.Context(), user.ID, siteID)
	if err != nil {
		writeError(w, h.logger, err, "list cdf forecast groups")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// Create creates a probabilistic forecast group with one single per
// constant value.
// POST /api/v1/cdf_forecasts
func (h *CDFForecastHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.CDFForecastGroupPost
	if !decodeBody(w, r, &req) {
		return
	}

	group, err := h.cdfService.Create(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create cdf forecast group")
		return
	}
	locationHeader(w, r, group.ID)
	writeJSON(w, http.StatusCreated, group)
}

// Get returns a single group with its constant values.
// GET /api/v1/cdf_forecasts/{forecast_id}
func (h *CDFForecastHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	group, err := h.cdfService.Get(r.Context(), user.ID, groupID)
	if err != nil {
		writeError(w, h.logger, err, "get cdf forecast group")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// Update applies a partial update to a group. The axis and constant value
// set are immutable.
// POST /api/v1/cdf_forecasts/{forecast_id}
func (h *CDFForecastHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	var req models.CDFForecastGroupUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	group, err := h.cdfService.Update(r.Context(), user.ID, groupID, &req)
	if err != nil {
		writeError(w, h.logger, err, "update cdf forecast group")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// Delete removes a group, its singles and their stored values.
// DELETE /api/v1/cdf_forecasts/{forecast_id}
func (h *CDFForecastHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	if err := h.cdfService.Delete(r.Context(), user.ID, groupID); err != nil {
		writeError(w, h.logger, err, "delete cdf forecast group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cdfSinglePayload renders one distribution curve with the metadata it
// inherits from its group.
type cdfSinglePayload struct {
	ID                uuid.UUID  `json:"forecast_id"`
	ParentID          uuid.UUID  `json:"parent"`
	Provider          string     `json:"provider"`
	SiteID            *uuid.UUID `json:"site_id"`
	AggregateID       *uuid.UUID `json:"aggregate_id"`
	Name              string     `json:"name"`
	Variable          string     `json:"variable"`
	IssueTimeOfDay    string     `json:"issue_time_of_day"`
	LeadTimeToStart   int        `json:"lead_time_to_start"`
	IntervalLabel     string     `json:"interval_label"`
	IntervalLength    int        `json:"interval_length"`
	RunLength         int        `json:"run_length"`
	IntervalValueType string     `json:"interval_value_type"`
	ExtraParameters   string     `json:"extra_parameters"`
	Axis              string     `json:"axis"`
	ConstantValue     float64    `json:"constant_value"`
	CreatedAt         time.Time  `json:"created_at"`
}

func singlePayload(group *models.CDFForecastGroup, single *models.CDFForecastSingle) cdfSinglePayload {
	return cdfSinglePayload{
		ID:                single.ID,
		ParentID:          group.ID,
		Provider:          group.Provider,
		SiteID:            group.SiteID,
		AggregateID:       group.AggregateID,
		Name:              group.Name,
		Variable:          group.Variable,
		IssueTimeOfDay:    group.IssueTimeOfDay,
		LeadTimeToStart:   group.LeadTimeToStart,
		IntervalLabel:     group.IntervalLabel,
		IntervalLength:    group.IntervalLength,
		RunLength:         group.RunLength,
		IntervalValueType: group.IntervalValueType,
		ExtraParameters:   group.ExtraParameters,
		Axis:              group.Axis,
		ConstantValue:     single.ConstantValue,
		CreatedAt:         single.CreatedAt,
	}
}

// GetSingle returns one distribution curve.
// GET /api/v1/cdf_forecasts/single/{forecast_id}
func (h *CDFForecastHandler) GetSingle(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	singleID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	group, single, err := h.cdfService.GetSingle(r.Context(), user.ID, singleID)
	if err != nil {
		writeError(w, h.logger, err, "get cdf forecast single")
		return
	}
	writeJSON(w, http.StatusOK, singlePayload(group, single))
}

// StoreSingleValues appends a batch of values to a single's series.
// POST /api/v1/cdf_forecasts/single/{forecast_id}/values
func (h *CDFForecastHandler) StoreSingleValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	singleID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	var payload forecastValuesPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	if err := h.valuesService.StoreCDFSingleValues(r.Context(), user.ID, singleID, payload.Values); err != nil {
		writeError(w, h.logger, err, "store cdf single values")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSingleValues returns stored values within an inclusive time window.
// GET /api/v1/cdf_forecasts/single/{forecast_id}/values?start=&end=
func (h *CDFForecastHandler) GetSingleValues(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	singleID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}
	start, end, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	values, err := h.valuesService.GetCDFSingleValues(r.Context(), user.ID, singleID, start, end)
	if err != nil {
		writeError(w, h.logger, err, "get cdf single values")
		return
	}
	writeJSON(w, http.StatusOK, forecastValuesPayload{Values: values})
}

// GetSingleLatest returns the most recent stored value.
// GET /api/v1/cdf_forecasts/single/{forecast_id}/values/latest
func (h *CDFForecastHandler) GetSingleLatest(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	singleID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	value, err := h.valuesService.GetCDFSingleLatest(r.Context(), user.ID, singleID)
	if err != nil {
		writeError(w, h.logger, err, "get latest cdf single value")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// GetSingleTimeRange returns the first and last stored timestamps.
// GET /api/v1/cdf_forecasts/single/{forecast_id}/values/timerange
func (h *CDFForecastHandler) GetSingleTimeRange(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	singleID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}

	tr, err := h.valuesService.GetCDFSingleTimeRange(r.Context(), user.ID, singleID)
	if err != nil {
		writeError(w, h.logger, err, "get cdf single time range")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// GetSingleGaps returns interval-sized holes in the stored series.
// GET /api/v1/cdf_forecasts/single/{forecast_id}/values/gaps?start=&end=
func (h *CDFForecastHandler) GetSingleGaps(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	singleID, ok := pathID(w, r, "forecast_id")
	if !ok {
		return
	}
	start, end, ok := queryTimeRange(w, r)
	if !ok {
		return
	}

	gaps, err := h.valuesService.GetCDFSingleGaps(r.Context(), user.ID, singleID, start, end)
	if err != nil {
		writeError(w, h.logger, err, "get cdf single gaps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gaps": gaps})
}
