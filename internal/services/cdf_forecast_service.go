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

// CDFForecastService manages probabilistic forecast groups and their
// member singles. Permissions attach to the group; singles inherit them.
type CDFForecastService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewCDFForecastService creates a new probabilistic forecast service.
func NewCDFForecastService(database *db.DB, logger *slog.Logger) *CDFForecastService {
	return &CDFForecastService{
		db:     database,
		logger: logger.With("service", "cdf_forecasts"),
	}
}

const cdfGroupColumns = `g.id, o.name, g.site_id, g.aggregate_id, g.name,
	g.variable, g.issue_time_of_day, g.lead_time_to_start, g.interval_label,
	g.interval_length, g.run_length, g.interval_value_type, g.axis,
	g.extra_parameters, g.created_at, g.modified_at`

func scanCDFGroup(row pgx.Row) (*models.CDFForecastGroup, error) {
	var g models.CDFForecastGroup
	err := row.Scan(&g.ID, &g.Provider, &g.SiteID, &g.AggregateID, &g.Name,
		&g.Variable, &g.IssueTimeOfDay, &g.LeadTimeToStart, &g.IntervalLabel,
		&g.IntervalLength, &g.RunLength, &g.IntervalValueType, &g.Axis,
		&g.ExtraParameters, &g.CreatedAt, &g.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *CDFForecastService) loadSingles(ctx context.Context, q Querier, group *models.CDFForecastGroup) error {
	rows, err := q.Query(ctx, `
		SELECT id, constant_value, created_at FROM cdf_forecast_singles
		WHERE group_id = $1
		ORDER BY constant_value`, group.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	group.ConstantValues = []models.CDFForecastSingle{}
	for rows.Next() {
		var single models.CDFForecastSingle
		if err := rows.Scan(&single.ID, &single.ConstantValue, &single.CreatedAt); err != nil {
			return err
		}
		group.ConstantValues = append(group.ConstantValues, single)
	}
	return rows.Err()
}

// Create validates and stores a new probabilistic forecast group together
// with one single per constant value.
func (s *CDFForecastService) Create(ctx context.Context, userID uuid.UUID, req *models.CDFForecastGroupPost) (*models.CDFForecastGroup, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "cdf_forecasts")
	if err != nil {
		return nil, err
	}
	if err := checkForecastTarget(ctx, tx, userID, req.SiteID, req.AggregateID); err != nil {
		return nil, err
	}

	g := req.Group()
	g.ID = ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO cdf_forecast_groups (id, organization_id, site_id, aggregate_id,
			name, variable, issue_time_of_day, lead_time_to_start, interval_label,
			interval_length, run_length, interval_value_type, axis, extra_parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		g.ID, orgID, g.SiteID, g.AggregateID, g.Name, g.Variable,
		g.IssueTimeOfDay, g.LeadTimeToStart, g.IntervalLabel, g.IntervalLength,
		g.RunLength, g.IntervalValueType, g.Axis, g.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	for i := range g.ConstantValues {
		g.ConstantValues[i].ID = ids.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO cdf_forecast_singles (id, group_id, constant_value)
			VALUES ($1, $2, $3)`,
			g.ConstantValues[i].ID, g.ID, g.ConstantValues[i].ConstantValue); err != nil {
			return nil, db.MapError(err, true)
		}
	}

	created, err := scanCDFGroup(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM cdf_forecast_groups g
		JOIN organizations o ON o.id = g.organization_id
		WHERE g.id = $1`, cdfGroupColumns), g.ID))
	if err != nil {
		return nil, err
	}
	if err := s.loadSingles(ctx, tx, created); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cdf forecast group created", "forecast_id", g.ID, "user_id", userID)
	return created, nil
}

// Get returns one group, with its singles, that the caller may read.
func (s *CDFForecastService) Get(ctx context.Context, userID, groupID uuid.UUID) (*models.CDFForecastGroup, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM cdf_forecast_groups g
		JOIN organizations o ON o.id = g.organization_id
		WHERE g.id = $2 AND %s`,
		cdfGroupColumns, permClause(1, "read", "cdf_forecasts", "g.organization_id", "g.id"))
	g, err := scanCDFGroup(s.db.Pool.QueryRow(ctx, sql, userID, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSingles(ctx, s.db.Pool, g); err != nil {
		return nil, err
	}
	return g, nil
}

// GetSingle resolves one member single the caller may read through its
// parent group.
func (s *CDFForecastService) GetSingle(ctx context.Context, userID, singleID uuid.UUID) (*models.CDFForecastGroup, *models.CDFForecastSingle, error) {
	sql := fmt.Sprintf(`
		SELECT %s, cs.id, cs.constant_value, cs.created_at
		FROM cdf_forecast_singles cs
		JOIN cdf_forecast_groups g ON g.id = cs.group_id
		JOIN organizations o ON o.id = g.organization_id
		WHERE cs.id = $2 AND %s`,
		cdfGroupColumns, permClause(1, "read", "cdf_forecasts", "g.organization_id", "g.id"))
	var g models.CDFForecastGroup
	var single models.CDFForecastSingle
	err := s.db.Pool.QueryRow(ctx, sql, userID, singleID).Scan(
		&g.ID, &g.Provider, &g.SiteID, &g.AggregateID, &g.Name, &g.Variable,
		&g.IssueTimeOfDay, &g.LeadTimeToStart, &g.IntervalLabel, &g.IntervalLength,
		&g.RunLength, &g.IntervalValueType, &g.Axis, &g.ExtraParameters,
		&g.CreatedAt, &g.ModifiedAt,
		&single.ID, &single.ConstantValue, &single.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, models.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &g, &single, nil
}

// List returns every group the caller may read, with singles attached.
func (s *CDFForecastService) List(ctx context.Context, userID uuid.UUID, siteID *uuid.UUID) ([]*models.CDFForecastGroup, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM cdf_forecast_groups g
		JOIN organizations o ON o.id = g.organization_id
		WHERE %s AND ($2::uuid IS NULL OR g.site_id = $2)
		ORDER BY g.id`,
		cdfGroupColumns, permClause(1, "read", "cdf_forecasts", "g.organization_id", "g.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []*models.CDFForecastGroup{}
	for rows.Next() {
		g, err := scanCDFGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, g := range groups {
		if err := s.loadSingles(ctx, s.db.Pool, g); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// Update merges a partial update into the stored group metadata.
func (s *CDFForecastService) Update(ctx context.Context, userID, groupID uuid.UUID, req *models.CDFForecastGroupUpdate) (*models.CDFForecastGroup, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		SELECT %s FROM cdf_forecast_groups g
		JOIN organizations o ON o.id = g.organization_id
		WHERE g.id = $2 AND %s
		FOR UPDATE OF g`,
		cdfGroupColumns, permClause(1, "update", "cdf_forecasts", "g.organization_id", "g.id"))
	existing, err := scanCDFGroup(tx.QueryRow(ctx, sql, userID, groupID))
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
		UPDATE cdf_forecast_groups SET name = $2, extra_parameters = $3, modified_at = NOW()
		WHERE id = $1`,
		groupID, merged.Name, merged.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	updated, err := scanCDFGroup(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM cdf_forecast_groups g
		JOIN organizations o ON o.id = g.organization_id
		WHERE g.id = $1`, cdfGroupColumns), groupID))
	if err != nil {
		return nil, err
	}
	if err := s.loadSingles(ctx, tx, updated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cdf forecast group updated", "forecast_id", groupID, "user_id", userID)
	return updated, nil
}

// Delete removes a group, its singles and all their stored values.
func (s *CDFForecastService) Delete(ctx context.Context, userID, groupID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		DELETE FROM cdf_forecast_groups g
		WHERE g.id = $2 AND %s`,
		permClause(1, "delete", "cdf_forecasts", "g.organization_id", "g.id"))
	tag, err := tx.Exec(ctx, sql, userID, groupID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "cdf forecast group deleted", "forecast_id", groupID, "user_id", userID)
	return nil
}
