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

// ForecastService manages deterministic forecast metadata.
type ForecastService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewForecastService creates a new forecast service.
func NewForecastService(database *db.DB, logger *slog.Logger) *ForecastService {
	return &ForecastService{
		db:     database,
		logger: logger.With("service", "forecasts"),
	}
}

const forecastColumns = `f.id, o.name, f.site_id, f.aggregate_id, f.name,
	f.variable, f.issue_time_of_day, f.lead_time_to_start, f.interval_label,
	f.interval_length, f.run_length, f.interval_value_type, f.extra_parameters,
	f.created_at, f.modified_at`

func scanForecast(row pgx.Row) (*models.Forecast, error) {
	var f models.Forecast
	err := row.Scan(&f.ID, &f.Provider, &f.SiteID, &f.AggregateID, &f.Name,
		&f.Variable, &f.IssueTimeOfDay, &f.LeadTimeToStart, &f.IntervalLabel,
		&f.IntervalLength, &f.RunLength, &f.IntervalValueType, &f.ExtraParameters,
		&f.CreatedAt, &f.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// checkForecastTarget verifies read access to whichever of site or
// aggregate the forecast points at.
func checkForecastTarget(ctx context.Context, q Querier, userID uuid.UUID, siteID, aggregateID *uuid.UUID) error {
	if siteID != nil {
		return canUser(ctx, q, userID, "read", "sites", *siteID)
	}
	return canUser(ctx, q, userID, "read", "aggregates", *aggregateID)
}

// Create validates and stores a new forecast.
func (s *ForecastService) Create(ctx context.Context, userID uuid.UUID, req *models.ForecastPost) (*models.Forecast, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "forecasts")
	if err != nil {
		return nil, err
	}
	if err := checkForecastTarget(ctx, tx, userID, req.SiteID, req.AggregateID); err != nil {
		return nil, err
	}

	f := req.Forecast()
	f.ID = ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO forecasts (id, organization_id, site_id, aggregate_id, name,
			variable, issue_time_of_day, lead_time_to_start, interval_label,
			interval_length, run_length, interval_value_type, extra_parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		f.ID, orgID, f.SiteID, f.AggregateID, f.Name, f.Variable,
		f.IssueTimeOfDay, f.LeadTimeToStart, f.IntervalLabel, f.IntervalLength,
		f.RunLength, f.IntervalValueType, f.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	created, err := scanForecast(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM forecasts f
		JOIN organizations o ON o.id = f.organization_id
		WHERE f.id = $1`, forecastColumns), f.ID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "forecast created", "forecast_id", f.ID, "user_id", userID)
	return created, nil
}

// Get returns one forecast the caller may read.
func (s *ForecastService) Get(ctx context.Context, userID, forecastID uuid.UUID) (*models.Forecast, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM forecasts f
		JOIN organizations o ON o.id = f.organization_id
		WHERE f.id = $2 AND %s`,
		forecastColumns, permClause(1, "read", "forecasts", "f.organization_id", "f.id"))
	f, err := scanForecast(s.db.Pool.QueryRow(ctx, sql, userID, forecastID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns every forecast the caller may read, optionally filtered to
// one site.
func (s *ForecastService) List(ctx context.Context, userID uuid.UUID, siteID *uuid.UUID) ([]*models.Forecast, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM forecasts f
		JOIN organizations o ON o.id = f.organization_id
		WHERE %s AND ($2::uuid IS NULL OR f.site_id = $2)
		ORDER BY f.id`,
		forecastColumns, permClause(1, "read", "forecasts", "f.organization_id", "f.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	forecasts := []*models.Forecast{}
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}

// Update merges a partial update into the stored forecast.
func (s *ForecastService) Update(ctx context.Context, userID, forecastID uuid.UUID, req *models.ForecastUpdate) (*models.Forecast, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		SELECT %s FROM forecasts f
		JOIN organizations o ON o.id = f.organization_id
		WHERE f.id = $2 AND %s
		FOR UPDATE OF f`,
		forecastColumns, permClause(1, "update", "forecasts", "f.organization_id", "f.id"))
	existing, err := scanForecast(tx.QueryRow(ctx, sql, userID, forecastID))
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
		UPDATE forecasts SET name = $2, extra_parameters = $3, modified_at = NOW()
		WHERE id = $1`,
		forecastID, merged.Name, merged.ExtraParameters)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	updated, err := scanForecast(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM forecasts f
		JOIN organizations o ON o.id = f.organization_id
		WHERE f.id = $1`, forecastColumns), forecastID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "forecast updated", "forecast_id", forecastID, "user_id", userID)
	return updated, nil
}

// Delete removes a forecast and its stored values.
func (s *ForecastService) Delete(ctx context.Context, userID, forecastID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		DELETE FROM forecasts f
		WHERE f.id = $2 AND %s`,
		permClause(1, "delete", "forecasts", "f.organization_id", "f.id"))
	tag, err := tx.Exec(ctx, sql, userID, forecastID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "forecast deleted", "forecast_id", forecastID, "user_id", userID)
	return nil
}
