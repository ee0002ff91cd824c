package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gridsight/arbiter-api/internal/services"
)

// UserHandler handles user and role-grant requests.
type UserHandler struct {
	userService *services.UserService
	rbacService *services.RBACService
	logger      *slog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(userService *services.UserService, rbacService *services.RBACService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		rbacService: rbacService,
		logger:      logger.With("handler", "users"),
	}
}

// List returns the users the caller can read.
// GET /api/v1/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	users, err := h.userService.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Current returns the caller's own record, no permission required.
// GET /api/v1/users/current
func (h *UserHandler) Current(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	current, err := h.userService.Current(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err, "get current user")
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// Get returns a single user with their roles.
// GET /api/v1/users/{user_id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}

	target, err := h.userService.Get(r.Context(), user.ID, userID)
	if err != nil {
		writeError(w, h.logger, err, "get user")
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// GrantRole attaches a role to a user.
// POST /api/v1/users/{user_id}/roles/{role_id}
func (h *UserHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.rbacService.GrantRole(r.Context(), user.ID, userID, roleID); err != nil {
		writeError(w, h.logger, err, "grant role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeRole detaches a role from a user. Revoking a role the user does
// not hold succeeds silently.
// DELETE /api/v1/users/{user_id}/roles/{role_id}
func (h *UserHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.rbacService.RevokeRole(r.Context(), user.ID, userID, roleID); err != nil {
		writeError(w, h.logger, err, "revoke role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
