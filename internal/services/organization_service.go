package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gridsight/arbiter-api/internal/db"
	"github.com/gridsight/arbiter-api/internal/ids"
	"github.com/gridsight/arbiter-api/internal/models"
)

// OrganizationService provisions organizations. Creation is the bootstrap
// moment of the permission graph: it seeds a full administrator role so the
// organization starts with someone able to manage everything in it.
type OrganizationService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewOrganizationService creates a new organization service.
func NewOrganizationService(database *db.DB, logger *slog.Logger) *OrganizationService {
	return &OrganizationService{
		db:     database,
		logger: logger.With("service", "organizations"),
	}
}

// OrganizationPost is the payload for creating an organization. When
// AdminUserID is set that user is moved into the new organization and
// granted the administrator role.
type OrganizationPost struct {
	Name        string     `json:"name"`
	AcceptedTOU bool       `json:"accepted_tou"`
	AdminUserID *uuid.UUID `json:"admin_user_id"`
}

// Validate checks a creation payload.
func (r *OrganizationPost) Validate() error {
	errs := models.FieldErrors{}
	if r.Name == "" {
		errs.Add("name", "Missing data for required field.")
	} else if len(r.Name) > 64 {
		errs.Add("name", "Longer than maximum length 64.")
	}
	return errs.OrNil()
}

// Create stores a new organization and seeds, in the same transaction, an
// "Organization admin" role holding an applies_to_all permission for every
// action and object type. Because the permissions apply to all objects,
// every object created later in the organization is covered with no
// further grants, which is what makes creation hand its creator full
// control.
func (s *OrganizationService) Create(ctx context.Context, callerID uuid.UUID, req *OrganizationPost) (*models.Organization, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Provisioning new tenants is reserved for callers who already manage
	// users somewhere.
	if _, err := canCreate(ctx, tx, callerID, "users"); err != nil {
		return nil, err
	}

	org := models.Organization{
		ID:          ids.New(),
		Name:        req.Name,
		AcceptedTOU: req.AcceptedTOU,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO organizations (id, name, accepted_tou)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		org.ID, org.Name, org.AcceptedTOU).Scan(&org.CreatedAt)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	roleID, err := s.seedAdminRole(ctx, tx, org.ID)
	if err != nil {
		return nil, err
	}

	if req.AdminUserID != nil {
		if err := s.installAdmin(ctx, tx, *req.AdminUserID, org.ID, roleID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "organization created",
		"organization_id", org.ID, "user_id", callerID)
	return &org, nil
}

// seedAdminRole creates the administrator role and its permission set.
func (s *OrganizationService) seedAdminRole(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) (uuid.UUID, error) {
	roleID := ids.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO roles (id, name, description, organization_id)
		VALUES ($1, 'Organization admin', 'Administer every object in the organization', $2)`,
		roleID, orgID)
	if err != nil {
		return uuid.Nil, db.MapError(err, true)
	}

	batch := &pgx.Batch{}
	for _, action := range models.Actions {
		for _, objectType := range models.ObjectTypes {
			permID := ids.New()
			batch.Queue(`
				INSERT INTO permissions (id, description, action, object_type, applies_to_all, organization_id)
				VALUES ($1, $2, $3, $4, true, $5)`,
				permID, fmt.Sprintf("%s all %s", action, objectType), action, objectType, orgID)
			batch.Queue(`
				INSERT INTO role_permissions (role_id, permission_id)
				VALUES ($1, $2)`, roleID, permID)
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, db.MapError(err, true)
	}
	return roleID, nil
}

// installAdmin moves a user into the organization and grants the
// administrator role.
func (s *OrganizationService) installAdmin(ctx context.Context, tx pgx.Tx, userID, orgID, roleID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users SET organization_id = $2, modified_at = NOW() WHERE id = $1`,
		userID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
		userID, roleID)
	return db.MapError(err, true)
}

// List returns every organization. Reading the tenant list is reserved for
// the same callers who may provision tenants; others get ErrNotFound.
func (s *OrganizationService) List(ctx context.Context, callerID uuid.UUID) ([]*models.Organization, error) {
	if _, err := canCreate(ctx, s.db.Pool, callerID, "users"); err != nil {
		return nil, err
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, name, accepted_tou, created_at FROM organizations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orgs := []*models.Organization{}
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.AcceptedTOU, &org.CreatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, &org)
	}
	return orgs, rows.Err()
}
