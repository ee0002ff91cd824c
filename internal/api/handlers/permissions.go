package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// PermissionHandler handles permission and permission-object edge requests.
type PermissionHandler struct {
	rbacService *services.RBACService
	logger      *slog.Logger
}

// NewPermissionHandler creates a new permission handler.
func NewPermissionHandler(rbacService *services.RBACService, logger *slog.Logger) *PermissionHandler {
	return &PermissionHandler{
		rbacService: rbacService,
		logger:      logger.With("handler", "permissions"),
	}
}

// List returns the permissions the caller can read.
// GET /api/v1/permissions
func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	permissions, err := h.rbacService.ListPermissions(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "list permissions")
		return
	}
	writeJSON(w, http.StatusOK, permissions)
}

// Create creates a new permission in the caller's organization.
// POST /api/v1/permissions
func (h *PermissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.PermissionPost
	if !decodeBody(w, r, &req) {
		return
	}

	permission, err := h.rbacService.CreatePermission(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, h.logger, err, "create permission")
		return
	}
	locationHeader(w, r, permission.ID)
	writeJSON(w, http.StatusCreated, permission)
}

// Get returns a single permission with its object list.
// GET /api/v1/permissions/{permission_id}
func (h *PermissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permission_id")
	if !ok {
		return
	}

	permission, err := h.rbacService.GetPermission(r.Context(), user.ID, permissionID)
	if err != nil {
		writeError(w, h.logger, err, "get permission")
		return
	}
	writeJSON(w, http.StatusOK, permission)
}

// Delete removes a permission and its edges.
// DELETE /api/v1/permissions/{permission_id}
func (h *PermissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.rbacService.DeletePermission(r.Context(), user.ID, permissionID); err != nil {
		writeError(w, h.logger, err, "delete permission")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddObject attaches an object to a permission. The object must exist in
// the permission's organization and match its object type.
// POST /api/v1/permissions/{permission_id}/objects/{object_id}
func (h *PermissionHandler) AddObject(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permission_id")
	if !ok {
		return
	}
	objectID, ok := pathID(w, r, "object_id")
	if !ok {
		return
	}

	if err := h.rbacService.AddObjectToPermission(r.Context(), user.ID, permissionID, objectID); err != nil {
		writeError(w, h.logger, err, "add object to permission")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveObject detaches an object from a permission. Removing a missing
// edge succeeds silently; permissions with applies_to_all have no explicit
// edges, so removal is a not-found.
// DELETE /api/v1/permissions/{permission_id}/objects/{object_id}
func (h *PermissionHandler) RemoveObject(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permission_id")
	if !ok {
		return
	}
	objectID, ok := pathID(w, r, "object_id")
	if !ok {
		return
	}

	if err := h.rbacService.RemoveObjectFromPermission(r.Context(), user.ID, permissionID, objectID); err != nil {
		writeError(w, h.logger, err, "remove object from permission")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
