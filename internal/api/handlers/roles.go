package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// RoleHandler handles role and role-permission edge requests.
type RoleHandler struct {
	rbacService *services.RBACService
	logger      *slog.Logger
}

// NewRoleHandler creates a new role handler.
func NewRoleHandler(rbacService *services.RBACService, logger *slog.Logger) *RoleHandler {
	return &RoleHandler{
		rbacService: rbacService,
		logger:      logger.With("handler", "roles"),
	}
}

// List returns the roles the caller can read.
// GET /api/v1/roles
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	roles, err := h.rbacService.ListRoles(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "list roles")
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

// Create creates a new role in the caller's organization.
// POST /api/v1/roles
func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.RolePost
	if !decodeBody(w, r, &req) {
		return
	}

	role, err := h.rbacService.CreateRole(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create role")
		return
	}
	locationHeader(w, r, role.ID)
	writeJSON(w, http.StatusCreated, role)
}

// Get returns a single role with its permissions and holders.
// GET /api/v1/roles/{role_id}
func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "role_id")
	if !ok {
		return
	}

	role, err := h.rbacService.GetRole(r.Context(), user.ID, roleID)
	if err != nil {
		writeError(w, h.logger, err, "get role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// Delete removes a role and its edges.
// DELETE /api/v1/roles/{role_id}
func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.rbacService.DeleteRole(r.Context(), user.ID, roleID); err != nil {
		writeError(w, h.logger, err, "delete role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddPermission attaches a permission to a role. Both must belong to the
// same organization.
// POST /api/v1/roles/{role_id}/permissions/{permission_id}
func (h *RoleHandler) AddPermission(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "role_id")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.rbacService.AddPermissionToRole(r.Context(), user.ID, roleID, permissionID); err != nil {
		writeError(w, h.logger, err, "add permission to role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemovePermission detaches a permission from a role. Removing a missing
// edge succeeds silently.
// DELETE /api/v1/roles/{role_id}/permissions/{permission_id}
func (h *RoleHandler) RemovePermission(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "role_id")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.rbacService.RemovePermissionFromRole(r.Context(), user.ID, roleID, permissionID); err != nil {
		writeError(w, h.logger, err, "remove permission from role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
