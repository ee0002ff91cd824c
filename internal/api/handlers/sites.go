package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// SiteHandler handles site metadata requests.
type SiteHandler struct {
	siteService *services.SiteService
	logger      *slog.Logger
}

// NewSiteHandler creates a new site handler.
func NewSiteHandler(siteService *services.SiteService, logger *slog.Logger) *SiteHandler {
	return &SiteHandler{
		siteService: siteService,
		logger:      logger.With("handler", "sites"),
	}
}

// List returns the sites the caller can read.
// GET /api/v1/sites
func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	sites, err := h.siteService.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "list sites")
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

// Create creates a new site.
// POST /api/v1/sites
func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.SitePost
	if !decodeBody(w, r, &req) {
		return
	}

	site, err := h.siteService.Create(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create site")
		return
	}
	locationHeader(w, r, site.ID)
	writeJSON(w, http.StatusCreated, site)
}

// Get returns a single site.
// GET /api/v1/sites/{site_id}
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	siteID, ok := pathID(w, r, "site_id")
	if !ok {
		return
	}

	site, err := h.siteService.Get(r.Context(), user.ID, siteID)
	if err != nil {
		writeError(w, h.logger, err, "get site")
		return
	}
	writeJSON(w, http.StatusOK, site)
}

// Update applies a partial update to a site.
// POST /api/v1/sites/{site_id}
func (h *SiteHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	siteID, ok := pathID(w, r, "site_id")
	if !ok {
		return
	}

	var req models.SiteUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	site, err := h.siteService.Update(r.Context(), user.ID, siteID, &req)
	if err != nil {
		writeError(w, h.logger, err, "update site")
		return
	}
	writeJSON(w, http.StatusOK, site)
}

// Delete removes a site.
// DELETE /api/v1/sites/{site_id}
func (h *SiteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	siteID, ok := pathID(w, r, "site_id")
	if !ok {
		return
	}

	if err := h.siteService.Delete(r.Context(), user.ID, siteID); err != nil {
		writeError(w, h.logger, err, "delete site")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
