package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/services"
)

// OrganizationHandler handles organization provisioning requests.
type OrganizationHandler struct {
	organizationService *services.OrganizationService
	logger              *slog.Logger
}

// NewOrganizationHandler creates a new organization handler.
func NewOrganizationHandler(organizationService *services.OrganizationService, logger *slog.Logger) *OrganizationHandler {
	return &OrganizationHandler{
		organizationService: organizationService,
		logger:              logger.With("handler", "organizations"),
	}
}

// List returns all organizations.
// GET /api/v1/organizations
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	organizations, err := h.organizationService.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "list organizations")
		return
	}
	writeJSON(w, http.StatusOK, organizations)
}

// Create provisions a new organization with its admin role and optionally
// moves an initial admin user into it.
// POST /api/v1/organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req services.OrganizationPost
	if !decodeBody(w, r, &req) {
		return
	}

	organization, err := h.organizationService.Create(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create organization")
		return
	}
	locationHeader(w, r, organization.ID)
	writeJSON(w, http.StatusCreated, organization)
}
