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

// AggregateService manages aggregates and their observation memberships.
type AggregateService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewAggregateService creates a new aggregate service.
func NewAggregateService(database *db.DB, logger *slog.Logger) *AggregateService {
	return &AggregateService{
		db:     database,
		logger: logger.With("service", "aggregates"),
	}
}

const aggregateColumns = `a.id, o.name, a.name, a.description, a.variable,
	a.interval_label, a.interval_length, a.interval_value_type, a.aggregate_type,
	a.timezone, a.extra_parameters, a.created_at, a.modified_at`

func scanAggregate(row pgx.Row) (*models.Aggregate, error) {
	var a models.Aggregate
	err := row.Scan(&a.ID, &a.Provider, &a.Name, &a.Description, &a.Variable,
		&a.IntervalLabel, &a.IntervalLength, &a.IntervalValueType,
		&a.AggregateType, &a.Timezone, &a.ExtraParameters, &a.CreatedAt,
		&a.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AggregateService) loadMemberships(ctx context.Context, q Querier, a *models.Aggregate) error {
	rows, err := q.Query(ctx, `
		SELECT observation_id, effective_from, effective_until,
			observation_deleted_at, created_at
		FROM aggregate_observations
		WHERE aggregate_id = $1
		ORDER BY created_at, id`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	a.Observations = []models.AggregateObservation{}
	for rows.Next() {
		var m models.AggregateObservation
		if err := rows.Scan(&m.ObservationID, &m.EffectiveFrom, &m.EffectiveUntil,
			&m.ObservationDeletedAt, &m.CreatedAt); err != nil {
			return err
		}
		a.Observations = append(a.Observations, m)
	}
	return rows.Err()
}

// Create validates and stores a new aggregate with no members.
func (s *AggregateService) Create(ctx context.Context, userID uuid.UUID, req *models.AggregatePost) (*models.Aggregate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "aggregates")
	if err != nil {
		return nil, err
	}

	a := req.Aggregate()
	a.ID = ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO aggregates (id, organization_id, name, description, variable,
			interval_label, interval_length, interval_value_type, aggregate_type,
			timezone, extra_parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, orgID, a.Name, a.Description, a.Variable, a.IntervalLabel,
		a.IntervalLength, a.IntervalValueType, a.AggregateType, a.Timezone,
		a.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	created, err := scanAggregate(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM aggregates a
		JOIN organizations o ON o.id = a.organization_id
		WHERE a.id = $1`, aggregateColumns), a.ID))
	if err != nil {
		return nil, err
	}
	created.Observations = []models.AggregateObservation{}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "aggregate created", "aggregate_id", a.ID, "user_id", userID)
	return created, nil
}

// Get returns one aggregate, with memberships, that the caller may read.
func (s *AggregateService) Get(ctx context.Context, userID, aggregateID uuid.UUID) (*models.Aggregate, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM aggregates a
		JOIN organizations o ON o.id = a.organization_id
		WHERE a.id = $2 AND %s`,
		aggregateColumns, permClause(1, "read", "aggregates", "a.organization_id", "a.id"))
	a, err := scanAggregate(s.db.Pool.QueryRow(ctx, sql, userID, aggregateID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMemberships(ctx, s.db.Pool, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns every aggregate the caller may read.
func (s *AggregateService) List(ctx context.Context, userID uuid.UUID) ([]*models.Aggregate, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM aggregates a
		JOIN organizations o ON o.id = a.organization_id
		WHERE %s
		ORDER BY a.id`,
		aggregateColumns, permClause(1, "read", "aggregates", "a.organization_id", "a.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggregates := []*models.Aggregate{}
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range aggregates {
		if err := s.loadMemberships(ctx, s.db.Pool, a); err != nil {
			return nil, err
		}
	}
	return aggregates, nil
}

// Update merges metadata changes and applies membership mutations in order.
// Adding requires the observation to be readable and not already an active
// member; retiring requires an active membership.
func (s *AggregateService) Update(ctx context.Context, userID, aggregateID uuid.UUID, req *models.AggregateUpdate) (*models.Aggregate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		SELECT %s FROM aggregates a
		JOIN organizations o ON o.id = a.organization_id
		WHERE a.id = $2 AND %s
		FOR UPDATE OF a`,
		aggregateColumns, permClause(1, "update", "aggregates", "a.organization_id", "a.id"))
	existing, err := scanAggregate(tx.QueryRow(ctx, sql, userID, aggregateID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	merged := req.Apply(*existing)
	_, err = tx.Exec(ctx, `
		UPDATE aggregates SET name = $2, description = $3, timezone = $4,
			extra_parameters = $5, modified_at = NOW()
		WHERE id = $1`,
		aggregateID, merged.Name, merged.Description, merged.Timezone,
		merged.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	for _, change := range req.Observations {
		if change.EffectiveFrom != nil {
			err = s.addMember(ctx, tx, userID, aggregateID, change)
		} else {
			err = s.retireMember(ctx, tx, aggregateID, change)
		}
		if err != nil {
			return nil, err
		}
	}

	updated, err := scanAggregate(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM aggregates a
		JOIN organizations o ON o.id = a.organization_id
		WHERE a.id = $1`, aggregateColumns), aggregateID))
	if err != nil {
		return nil, err
	}
	if err := s.loadMemberships(ctx, tx, updated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "aggregate updated", "aggregate_id", aggregateID, "user_id", userID)
	return updated, nil
}

// addMember transitions a (aggregate, observation) pair into active.
// Re-adding an active member is a conflict; a retired member gets a new
// membership record so history stays intact.
func (s *AggregateService) addMember(ctx context.Context, tx pgx.Tx, userID, aggregateID uuid.UUID, change models.AggregateObservationChange) error {
	if err := canUser(ctx, tx, userID, "read", "observations", change.ObservationID); err != nil {
		return err
	}

	var active bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM aggregate_observations
			WHERE aggregate_id = $1 AND observation_id = $2
			  AND effective_until IS NULL AND observation_deleted_at IS NULL)`,
		aggregateID, change.ObservationID).Scan(&active)
	if err != nil {
		return err
	}
	if active {
		return models.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO aggregate_observations (aggregate_id, observation_id, effective_from)
		VALUES ($1, $2, $3)`,
		aggregateID, change.ObservationID, change.EffectiveFrom)
	return db.MapError(err, true)
}

// retireMember transitions an active membership into retired.
func (s *AggregateService) retireMember(ctx context.Context, tx pgx.Tx, aggregateID uuid.UUID, change models.AggregateObservationChange) error {
	tag, err := tx.Exec(ctx, `
		UPDATE aggregate_observations SET effective_until = $3
		WHERE aggregate_id = $1 AND observation_id = $2
		  AND effective_until IS NULL AND observation_deleted_at IS NULL`,
		aggregateID, change.ObservationID, change.EffectiveUntil)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// Delete removes an aggregate and its membership history. Forecasts that
// reference the aggregate block deletion.
func (s *AggregateService) Delete(ctx context.Context, userID, aggregateID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		DELETE FROM aggregates a
		WHERE a.id = $2 AND %s`,
		permClause(1, "delete", "aggregates", "a.organization_id", "a.id"))
	tag, err := tx.Exec(ctx, sql, userID, aggregateID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "aggregate deleted", "aggregate_id", aggregateID, "user_id", userID)
	return nil
}
