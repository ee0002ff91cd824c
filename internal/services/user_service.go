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

// UserService manages local user records keyed by the identity provider
// subject.
type UserService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewUserService creates a new user service.
func NewUserService(database *db.DB, logger *slog.Logger) *UserService {
	return &UserService{
		db:     database,
		logger: logger.With("service", "users"),
	}
}

const userColumns = `u.id, u.auth0_id, u.organization_id, u.created_at, u.modified_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.AuthID, &u.OrganizationID, &u.CreatedAt, &u.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Bootstrap resolves the local user for an identity provider subject,
// creating one in the unaffiliated organization on first sight. It runs on
// every authenticated request, so the lookup path stays a single query.
func (s *UserService) Bootstrap(ctx context.Context, authID string) (*models.User, error) {
	user, err := scanUser(s.db.Pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM users u WHERE u.auth0_id = $1`, userColumns), authID))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	id := ids.New()
	// Concurrent first requests race to insert; the conflict clause makes
	// whichever loses read the winner's row.
	user, err = scanUser(s.db.Pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO users (id, auth0_id, organization_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (auth0_id) DO UPDATE SET modified_at = users.modified_at
		RETURNING %s`, userColumnsBare), id, authID, db.UnaffiliatedOrgID))
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user provisioned", "user_id", user.ID)
	return user, nil
}

const userColumnsBare = `id, auth0_id, organization_id, created_at, modified_at`

// Get returns one user the caller may read, with its role edges.
func (s *UserService) Get(ctx context.Context, callerID, userID uuid.UUID) (*models.User, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM users u
		WHERE u.id = $2 AND %s`,
		userColumns, permClause(1, "read", "users", "u.organization_id", "u.id"))
	user, err := scanUser(s.db.Pool.QueryRow(ctx, sql, callerID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Current returns the caller's own record. Reading yourself needs no
// permission.
func (s *UserService) Current(ctx context.Context, callerID uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.db.Pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM users u WHERE u.id = $1`, userColumns), callerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// List returns every user the caller may read.
func (s *UserService) List(ctx context.Context, callerID uuid.UUID) ([]*models.User, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM users u
		WHERE %s
		ORDER BY u.id`,
		userColumns, permClause(1, "read", "users", "u.organization_id", "u.id"))
	rows, err := s.db.Pool.Query(ctx, sql, callerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, user := range users {
		if err := s.loadRoles(ctx, user); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *UserService) loadRoles(ctx context.Context, user *models.User) error {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT ur.role_id, r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1`, user.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	user.Roles = map[uuid.UUID]string{}
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		user.Roles[id] = name
	}
	return rows.Err()
}
