package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gridsight/arbiter-api/internal/db"
	"github.com/gridsight/arbiter-api/internal/ids"
	"github.com/gridsight/arbiter-api/internal/models"
)

// RBACService manages roles, permissions and the edges between users,
// roles, permissions and objects.
type RBACService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewRBACService creates a new RBAC service.
func NewRBACService(database *db.DB, logger *slog.Logger) *RBACService {
	return &RBACService{
		db:     database,
		logger: logger.With("service", "rbac"),
	}
}

const roleColumns = `r.id, r.name, r.description, r.organization_id, r.created_at, r.modified_at`

func scanRole(row pgx.Row) (*models.Role, error) {
	var r models.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.OrganizationID,
		&r.CreatedAt, &r.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RBACService) loadRoleEdges(ctx context.Context, q Querier, role *models.Role) error {
	rows, err := q.Query(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY created_at`, role.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	role.Permissions = []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		role.Permissions = append(role.Permissions, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	userRows, err := q.Query(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY created_at`, role.ID)
	if err != nil {
		return err
	}
	defer userRows.Close()
	role.Users = []uuid.UUID{}
	for userRows.Next() {
		var id uuid.UUID
		if err := userRows.Scan(&id); err != nil {
			return err
		}
		role.Users = append(role.Users, id)
	}
	return userRows.Err()
}

// CreateRole validates and stores a new role in the caller's organization.
func (s *RBACService) CreateRole(ctx context.Context, userID uuid.UUID, req *models.RolePost) (*models.Role, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "roles")
	if err != nil {
		return nil, err
	}

	id := ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO roles (id, name, description, organization_id)
		VALUES ($1, $2, $3, $4)`,
		id, req.Name, req.Description, orgID)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	created, err := scanRole(tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM roles r WHERE r.id = $1`, roleColumns), id))
	if err != nil {
		return nil, err
	}
	created.Permissions = []uuid.UUID{}
	created.Users = []uuid.UUID{}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "role created", "role_id", id, "user_id", userID)
	return created, nil
}

// GetRole returns one role, with its permission and user edges, that the
// caller may read.
func (s *RBACService) GetRole(ctx context.Context, userID, roleID uuid.UUID) (*models.Role, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM roles r
		WHERE r.id = $2 AND %s`,
		roleColumns, permClause(1, "read", "roles", "r.organization_id", "r.id"))
	role, err := scanRole(s.db.Pool.QueryRow(ctx, sql, userID, roleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRoleEdges(ctx, s.db.Pool, role); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns every role the caller may read.
func (s *RBACService) ListRoles(ctx context.Context, userID uuid.UUID) ([]*models.Role, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM roles r
		WHERE %s
		ORDER BY r.id`,
		roleColumns, permClause(1, "read", "roles", "r.organization_id", "r.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []*models.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, role := range roles {
		if err := s.loadRoleEdges(ctx, s.db.Pool, role); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// DeleteRole removes a role and its edges.
func (s *RBACService) DeleteRole(ctx context.Context, userID, roleID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		DELETE FROM roles r
		WHERE r.id = $2 AND %s`,
		permClause(1, "delete", "roles", "r.organization_id", "r.id"))
	tag, err := tx.Exec(ctx, sql, userID, roleID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "role deleted", "role_id", roleID, "user_id", userID)
	return nil
}

// GrantRole adds a role to a user. The caller needs the grant action on the
// role. Granting across organization boundaries is only allowed when the
// role carries no permission-system permissions and the grantee's
// organization has accepted the terms of use; a violation looks identical
// to a missing role.
func (s *RBACService) GrantRole(ctx context.Context, callerID, granteeID, roleID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, callerID, "grant", "roles", roleID); err != nil {
		return err
	}

	var roleOrg uuid.UUID
	if err := tx.QueryRow(ctx,
		`SELECT organization_id FROM roles WHERE id = $1`, roleID).Scan(&roleOrg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return err
	}

	var granteeOrg uuid.UUID
	var granteeTOU bool
	err = tx.QueryRow(ctx, `
		SELECT u.organization_id, o.accepted_tou
		FROM users u JOIN organizations o ON o.id = u.organization_id
		WHERE u.id = $1`, granteeID).Scan(&granteeOrg, &granteeTOU)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}

	if granteeOrg != roleOrg {
		if !granteeTOU {
			return models.ErrNotFound
		}
		var rbacRole bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM role_permissions rp
				JOIN permissions p ON p.id = rp.permission_id
				WHERE rp.role_id = $1
				  AND (p.object_type = ANY($2) OR p.action IN ('grant', 'revoke')))`,
			roleID, models.RBACObjectTypes).Scan(&rbacRole)
		if err != nil {
			return err
		}
		if rbacRole {
			return models.ErrNotFound
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
		granteeID, roleID); err != nil {
		return db.MapError(err, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "role granted", "role_id", roleID,
		"grantee_id", granteeID, "user_id", callerID)
	return nil
}

// RevokeRole removes a role from a user. Revoking an edge that does not
// exist succeeds silently; the end state is the same.
func (s *RBACService) RevokeRole(ctx context.Context, callerID, granteeID, roleID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, callerID, "revoke", "roles", roleID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		granteeID, roleID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "role revoked", "role_id", roleID,
		"grantee_id", granteeID, "user_id", callerID)
	return nil
}

const permissionColumns = `p.id, p.description, p.action, p.object_type,
	p.applies_to_all, p.organization_id, p.created_at, p.modified_at`

func scanPermission(row pgx.Row) (*models.Permission, error) {
	var p models.Permission
	err := row.Scan(&p.ID, &p.Description, &p.Action, &p.ObjectType,
		&p.AppliesToAll, &p.OrganizationID, &p.CreatedAt, &p.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RBACService) loadPermissionObjects(ctx context.Context, q Querier, perm *models.Permission) error {
	rows, err := q.Query(ctx,
		`SELECT object_id FROM permission_objects WHERE permission_id = $1 ORDER BY created_at`, perm.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	perm.Objects = []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		perm.Objects = append(perm.Objects, id)
	}
	return rows.Err()
}

// CreatePermission validates and stores a new permission in the caller's
// organization.
func (s *RBACService) CreatePermission(ctx context.Context, userID uuid.UUID, req *models.PermissionPost) (*models.Permission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "permissions")
	if err != nil {
		return nil, err
	}

	id := ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO permissions (id, description, action, object_type, applies_to_all, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, req.Description, req.Action, req.ObjectType, req.AppliesToAll, orgID)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	created, err := scanPermission(tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM permissions p WHERE p.id = $1`, permissionColumns), id))
	if err != nil {
		return nil, err
	}
	created.Objects = []uuid.UUID{}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "permission created", "permission_id", id, "user_id", userID)
	return created, nil
}

// GetPermission returns one permission, with its object edges, that the
// caller may read.
func (s *RBACService) GetPermission(ctx context.Context, userID, permissionID uuid.UUID) (*models.Permission, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM permissions p
		WHERE p.id = $2 AND %s`,
		permissionColumns, permClause(1, "read", "permissions", "p.organization_id", "p.id"))
	perm, err := scanPermission(s.db.Pool.QueryRow(ctx, sql, userID, permissionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadPermissionObjects(ctx, s.db.Pool, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// ListPermissions returns every permission the caller may read.
func (s *RBACService) ListPermissions(ctx context.Context, userID uuid.UUID) ([]*models.Permission, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM permissions p
		WHERE %s
		ORDER BY p.id`,
		permissionColumns, permClause(1, "read", "permissions", "p.organization_id", "p.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	permissions := []*models.Permission{}
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		permissions = append(permissions, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, perm := range permissions {
		if err := s.loadPermissionObjects(ctx, s.db.Pool, perm); err != nil {
			return nil, err
		}
	}
	return permissions, nil
}

// DeletePermission removes a permission and its edges.
func (s *RBACService) DeletePermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		DELETE FROM permissions p
		WHERE p.id = $2 AND %s`,
		permClause(1, "delete", "permissions", "p.organization_id", "p.id"))
	tag, err := tx.Exec(ctx, sql, userID, permissionID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "permission deleted", "permission_id", permissionID, "user_id", userID)
	return nil
}

// AddPermissionToRole links a permission into a role. Both must live in the
// same organization; the caller needs update on the role and read on the
// permission. A duplicate edge is a conflict.
func (s *RBACService) AddPermissionToRole(ctx context.Context, userID, roleID, permissionID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, userID, "update", "roles", roleID); err != nil {
		return err
	}
	if err := canUser(ctx, tx, userID, "read", "permissions", permissionID); err != nil {
		return err
	}

	var sameOrg bool
	err = tx.QueryRow(ctx, `
		SELECT r.organization_id = p.organization_id
		FROM roles r, permissions p
		WHERE r.id = $1 AND p.id = $2`, roleID, permissionID).Scan(&sameOrg)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !sameOrg {
		return models.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
		roleID, permissionID); err != nil {
		return db.MapError(err, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "permission added to role",
		"role_id", roleID, "permission_id", permissionID, "user_id", userID)
	return nil
}

// RemovePermissionFromRole unlinks a permission from a role. Removing an
// edge that does not exist succeeds silently.
func (s *RBACService) RemovePermissionFromRole(ctx context.Context, userID, roleID, permissionID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, userID, "update", "roles", roleID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "permission removed from role",
		"role_id", roleID, "permission_id", permissionID, "user_id", userID)
	return nil
}

// AddObjectToPermission attaches one object to a permission's explicit
// grant list. The object must exist in the permission's organization; a
// duplicate edge is a conflict.
func (s *RBACService) AddObjectToPermission(ctx context.Context, userID, permissionID, objectID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, userID, "update", "permissions", permissionID); err != nil {
		return err
	}

	var objectType string
	var orgID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT object_type, organization_id FROM permissions WHERE id = $1`,
		permissionID).Scan(&objectType, &orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}

	table, ok := objectTables[objectType]
	if !ok {
		return models.ErrNotFound
	}
	var exists bool
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND organization_id = $2)`, table),
		objectID, orgID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return models.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO permission_objects (permission_id, object_id) VALUES ($1, $2)`,
		permissionID, objectID); err != nil {
		return db.MapError(err, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "object added to permission",
		"permission_id", permissionID, "object_id", objectID, "user_id", userID)
	return nil
}

// RemoveObjectFromPermission detaches one object from a permission.
// Permissions covering all objects have no per-object edges to remove, so
// the request targets something that does not exist. Removing a missing
// edge from an explicit permission succeeds silently.
func (s *RBACService) RemoveObjectFromPermission(ctx context.Context, userID, permissionID, objectID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, userID, "update", "permissions", permissionID); err != nil {
		return err
	}

	var appliesToAll bool
	err = tx.QueryRow(ctx,
		`SELECT applies_to_all FROM permissions WHERE id = $1`, permissionID).Scan(&appliesToAll)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	if appliesToAll {
		return models.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM permission_objects WHERE permission_id = $1 AND object_id = $2`,
		permissionID, objectID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "object removed from permission",
		"permission_id", permissionID, "object_id", objectID, "user_id", userID)
	return nil
}
