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

// ObservationService manages observation metadata.
type ObservationService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewObservationService creates a new observation service.
func NewObservationService(database *db.DB, logger *slog.Logger) *ObservationService {
	return &ObservationService{
		db:     database,
		logger: logger.With("service", "observations"),
	}
}

const observationColumns = `ob.id, o.name, ob.site_id, ob.name, ob.variable,
	ob.interval_label, ob.interval_length, ob.interval_value_type, ob.uncertainty,
	ob.extra_parameters, ob.created_at, ob.modified_at`

func scanObservation(row pgx.Row) (*models.Observation, error) {
	var ob models.Observation
	err := row.Scan(&ob.ID, &ob.Provider, &ob.SiteID, &ob.Name, &ob.Variable,
		&ob.IntervalLabel, &ob.IntervalLength, &ob.IntervalValueType,
		&ob.Uncertainty, &ob.ExtraParameters, &ob.CreatedAt, &ob.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &ob, nil
}

// Create validates and stores a new observation. The caller must hold the
// create permission in its own organization and read access to the site the
// observation is attached to.
func (s *ObservationService) Create(ctx context.Context, userID uuid.UUID, req *models.ObservationPost) (*models.Observation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "observations")
	if err != nil {
		return nil, err
	}
	if err := canUser(ctx, tx, userID, "read", "sites", req.SiteID); err != nil {
		return nil, err
	}

	ob := req.Observation()
	ob.ID = ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO observations (id, organization_id, site_id, name, variable,
			interval_label, interval_length, interval_value_type, uncertainty,
			extra_parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ob.ID, orgID, ob.SiteID, ob.Name, ob.Variable, ob.IntervalLabel,
		ob.IntervalLength, ob.IntervalValueType, ob.Uncertainty, ob.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	created, err := scanObservation(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM observations ob
		JOIN organizations o ON o.id = ob.organization_id
		WHERE ob.id = $1`, observationColumns), ob.ID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "observation created", "observation_id", ob.ID, "user_id", userID)
	return created, nil
}

// Get returns one observation the caller may read.
func (s *ObservationService) Get(ctx context.Context, userID, observationID uuid.UUID) (*models.Observation, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM observations ob
		JOIN organizations o ON o.id = ob.organization_id
		WHERE ob.id = $2 AND %s`,
		observationColumns, permClause(1, "read", "observations", "ob.organization_id", "ob.id"))
	ob, err := scanObservation(s.db.Pool.QueryRow(ctx, sql, userID, observationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ob, nil
}

// List returns every observation the caller may read, optionally filtered
// to one site.
func (s *ObservationService) List(ctx context.Context, userID uuid.UUID, siteID *uuid.UUID) ([]*models.Observation, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM observations ob
		JOIN organizations o ON o.id = ob.organization_id
		WHERE %s AND ($2::uuid IS NULL OR ob.site_id = $2)
		ORDER BY ob.id`,
		observationColumns, permClause(1, "read", "observations", "ob.organization_id", "ob.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations := []*models.Observation{}
	for rows.Next() {
		ob, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, ob)
	}
	return observations, rows.Err()
}

// Update merges a partial update into the stored observation.
func (s *ObservationService) Update(ctx context.Context, userID, observationID uuid.UUID, req *models.ObservationUpdate) (*models.Observation, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		SELECT %s FROM observations ob
		JOIN organizations o ON o.id = ob.organization_id
		WHERE ob.id = $2 AND %s
		FOR UPDATE OF ob`,
		observationColumns, permClause(1, "update", "observations", "ob.organization_id", "ob.id"))
	existing, err := scanObservation(tx.QueryRow(ctx, sql, userID, observationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	merged, err := req.Apply(*existing)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE observations SET name = $2, uncertainty = $3, extra_parameters = $4,
			modified_at = NOW()
		WHERE id = $1`,
		observationID, merged.Name, merged.Uncertainty, merged.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	updated, err := scanObservation(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM observations ob
		JOIN organizations o ON o.id = ob.organization_id
		WHERE ob.id = $1`, observationColumns), observationID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "observation updated", "observation_id", observationID, "user_id", userID)
	return updated, nil
}

// Delete removes an observation and its stored values. Observations still
// referenced by an aggregate membership cannot be removed; the membership
// must be retired first.
func (s *ObservationService) Delete(ctx context.Context, userID, observationID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, userID, "delete", "observations", observationID); err != nil {
		return err
	}

	var member bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM aggregate_observations
			WHERE observation_id = $1 AND effective_until IS NULL
			  AND observation_deleted_at IS NULL)`, observationID).Scan(&member)
	if err != nil {
		return err
	}
	if member {
		return models.ErrDeleteRestricted
	}

	// Retired memberships keep their history; mark the observation gone so
	// aggregate metadata can say why the member no longer contributes.
	if _, err := tx.Exec(ctx, `
		UPDATE aggregate_observations SET observation_deleted_at = NOW()
		WHERE observation_id = $1 AND observation_deleted_at IS NULL`, observationID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM observations WHERE id = $1`, observationID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "observation deleted", "observation_id", observationID, "user_id", userID)
	return nil
}
