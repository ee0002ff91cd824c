package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization groups users and the objects they own. All permissions are
// scoped to a single organization; nothing crosses that boundary except
// explicitly granted roles.
type Organization struct {
	ID          uuid.UUID `json:"organization_id"`
	Name        string    `json:"name"`
	AcceptedTOU bool      `json:"accepted_tou"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is an authenticated caller. Users are provisioned on first request
// from the identity provider subject and start out in the unaffiliated
// organization with no permissions.
type User struct {
	ID             uuid.UUID            `json:"user_id"`
	AuthID         string               `json:"auth0_id"`
	OrganizationID uuid.UUID            `json:"organization"`
	Roles          map[uuid.UUID]string `json:"roles,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ModifiedAt     time.Time            `json:"modified_at"`
}

// Role is a named bundle of permissions within an organization.
type Role struct {
	ID             uuid.UUID   `json:"role_id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	OrganizationID uuid.UUID   `json:"organization"`
	Permissions    []uuid.UUID `json:"permissions,omitempty"`
	Users          []uuid.UUID `json:"users,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ModifiedAt     time.Time   `json:"modified_at"`
}

// RolePost is the payload for creating a role.
type RolePost struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate checks a creation payload and returns every violation at once.
func (r *RolePost) Validate() error {
	errs := FieldErrors{}
	checkName(errs, "name", r.Name)
	if r.Description == "" {
		errs.Add("description", "Missing data for required field.")
	}
	return errs.OrNil()
}

// Permission grants one action on one object type, either on every present
// and future object of that type in the organization (applies_to_all) or on
// an explicit set of object ids.
type Permission struct {
	ID             uuid.UUID   `json:"permission_id"`
	Description    string      `json:"description"`
	Action         string      `json:"action"`
	ObjectType     string      `json:"object_type"`
	AppliesToAll   bool        `json:"applies_to_all"`
	OrganizationID uuid.UUID   `json:"organization"`
	Objects        []uuid.UUID `json:"objects,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ModifiedAt     time.Time   `json:"modified_at"`
}

// PermissionPost is the payload for creating a permission.
type PermissionPost struct {
	Description  string `json:"description"`
	Action       string `json:"action"`
	ObjectType   string `json:"object_type"`
	AppliesToAll bool   `json:"applies_to_all"`
}

// Validate checks a creation payload and returns every violation at once.
func (r *PermissionPost) Validate() error {
	errs := FieldErrors{}
	checkName(errs, "description", r.Description)
	if !oneOf(r.Action, Actions) {
		errs.Add("action", oneOfMessage(Actions))
	}
	if !oneOf(r.ObjectType, ObjectTypes) {
		errs.Add("object_type", oneOfMessage(ObjectTypes))
	}
	return errs.OrNil()
}

// RBACObjectTypes are the object types whose permissions manage the
// permission system itself. Roles carrying any of these cannot be granted
// across organization boundaries.
var RBACObjectTypes = []string{"users", "roles", "permissions"}
