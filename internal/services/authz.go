// Package services implements the resource operations of the API. Every
// mutating call runs its permission check and the guarded statement in one
// transaction, so a permission revoked mid-flight can never leak a write.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gridsight/arbiter-api/internal/models"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so queries can run
// inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// objectTables maps permission object types to the table holding the
// objects, for permission checks that start from an object id alone.
var objectTables = map[string]string{
	"sites":         "sites",
	"aggregates":    "aggregates",
	"forecasts":     "forecasts",
	"observations":  "observations",
	"users":         "users",
	"roles":         "roles",
	"permissions":   "permissions",
	"cdf_forecasts": "cdf_forecast_groups",
	"reports":       "reports",
}

// permClause renders an EXISTS predicate over the permission graph: the
// user holds a role carrying a permission for the action and object type,
// scoped to the organization expression, that either applies to all objects
// or names the object expression explicitly. The action and object type
// must be enum members; they are inlined because they never come from user
// input unvalidated.
func permClause(userParam int, action, objectType, orgExpr, objExpr string) string {
	if !validEnumPair(action, objectType) {
		panic(fmt.Sprintf("invalid permission pair %s/%s", action, objectType))
	}
	return fmt.Sprintf(`EXISTS (
		SELECT 1 FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $%d
		  AND p.action = '%s'
		  AND p.object_type = '%s'
		  AND p.organization_id = %s
		  AND (p.applies_to_all OR EXISTS (
			SELECT 1 FROM permission_objects po
			WHERE po.permission_id = p.id AND po.object_id = %s)))`,
		userParam, action, objectType, orgExpr, objExpr)
}

func validEnumPair(action, objectType string) bool {
	return oneOfStrings(action, models.Actions) && oneOfStrings(objectType, models.ObjectTypes)
}

func oneOfStrings(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// canUser checks whether the user may perform action on the identified
// object. Missing objects and missing permissions both come back as
// ErrNotFound, so a caller can never probe for objects it cannot read.
func canUser(ctx context.Context, q Querier, userID uuid.UUID, action, objectType string, objectID uuid.UUID) error {
	table, ok := objectTables[objectType]
	if !ok {
		return models.ErrNotFound
	}
	sql := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s o WHERE o.id = $2 AND %s)`,
		table, permClause(1, action, objectType, "o.organization_id", "o.id"))
	var allowed bool
	if err := q.QueryRow(ctx, sql, userID, objectID).Scan(&allowed); err != nil {
		return err
	}
	if !allowed {
		return models.ErrNotFound
	}
	return nil
}

// canCreate checks the create permission in the user's own organization and
// returns that organization id for the insert.
func canCreate(ctx context.Context, q Querier, userID uuid.UUID, objectType string) (uuid.UUID, error) {
	if !validEnumPair("create", objectType) {
		return uuid.Nil, models.ErrNotFound
	}
	sql := fmt.Sprintf(`SELECT u.organization_id FROM users u
		WHERE u.id = $1 AND %s`,
		permClause(1, "create", objectType, "u.organization_id", "NULL"))
	var orgID uuid.UUID
	err := q.QueryRow(ctx, sql, userID).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, models.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return orgID, nil
}
