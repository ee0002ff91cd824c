package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gridsight/arbiter-api/internal/db"
	"github.com/gridsight/arbiter-api/internal/models"
)

// series describes how one value table relates to the object carrying its
// permissions. For probabilistic singles the permission object is the
// parent group, so the from clause joins it in.
type series struct {
	valuesTable string
	idColumn    string
	from        string
	alias       string
	orgExpr     string
	permExpr    string
	interval    string
	objectType  string
	hasQuality  bool
}

var (
	observationSeries = series{
		valuesTable: "observation_values",
		idColumn:    "observation_id",
		from:        "observations t",
		alias:       "t",
		orgExpr:     "t.organization_id",
		permExpr:    "t.id",
		interval:    "t.interval_length",
		objectType:  "observations",
		hasQuality:  true,
	}
	forecastSeries = series{
		valuesTable: "forecast_values",
		idColumn:    "forecast_id",
		from:        "forecasts t",
		alias:       "t",
		orgExpr:     "t.organization_id",
		permExpr:    "t.id",
		interval:    "t.interval_length",
		objectType:  "forecasts",
	}
	cdfSingleSeries = series{
		valuesTable: "cdf_forecast_values",
		idColumn:    "forecast_id",
		from:        "cdf_forecast_singles t JOIN cdf_forecast_groups g ON g.id = t.group_id",
		alias:       "t",
		orgExpr:     "g.organization_id",
		permExpr:    "g.id",
		interval:    "g.interval_length",
		objectType:  "cdf_forecasts",
	}
)

// ValuesService stores and reads the timestamped series behind
// observations, forecasts and probabilistic forecast singles, and computes
// aggregate series on demand.
type ValuesService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewValuesService creates a new values service.
func NewValuesService(database *db.DB, logger *slog.Logger) *ValuesService {
	return &ValuesService{
		db:     database,
		logger: logger.With("service", "values"),
	}
}

// writeMetadata returns the series interval and the latest stored timestamp
// strictly before the incoming batch, checking the action permission in the
// same query. No row means missing or not permitted.
func (s *ValuesService) writeMetadata(ctx context.Context, q Querier, sp series, userID, objectID uuid.UUID, action string, before time.Time) (time.Duration, *time.Time, error) {
	sql := fmt.Sprintf(`
		SELECT %s, (
			SELECT max(v.timestamp) FROM %s v
			WHERE v.%s = %s.id AND v.timestamp < $3)
		FROM %s
		WHERE %s.id = $2 AND %s`,
		sp.interval, sp.valuesTable, sp.idColumn, sp.alias, sp.from, sp.alias,
		permClause(1, action, sp.objectType, sp.orgExpr, sp.permExpr))
	var intervalMinutes int
	var previous *time.Time
	err := q.QueryRow(ctx, sql, userID, objectID, before).Scan(&intervalMinutes, &previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, models.ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	return time.Duration(intervalMinutes) * time.Minute, previous, nil
}

// StoreObservationValues validates and upserts a batch of observation
// points. Authorization and the insert share one transaction, so a denied
// caller commits nothing.
func (s *ValuesService) StoreObservationValues(ctx context.Context, userID, observationID uuid.UUID, values []models.ObservationValue) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var batchStart time.Time
	if len(values) > 0 {
		batchStart = values[0].Timestamp
	}
	interval, previous, err := s.writeMetadata(ctx, tx, observationSeries, userID, observationID, "write_values", batchStart)
	if err != nil {
		return err
	}
	if err := models.ValidateObservationValues(values, interval, previous); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(`
			INSERT INTO observation_values (observation_id, timestamp, value, quality_flag)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (observation_id, timestamp)
			DO UPDATE SET value = EXCLUDED.value, quality_flag = EXCLUDED.quality_flag`,
			observationID, v.Timestamp, float64(v.Value), v.QualityFlag)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return db.MapError(err, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "observation values stored",
		"observation_id", observationID, "count", len(values), "user_id", userID)
	return nil
}

// GetObservationValues reads the inclusive range [start, end] in ascending
// order. An inaccessible observation is an error; an accessible one with no
// points in range is an empty slice.
func (s *ValuesService) GetObservationValues(ctx context.Context, userID, observationID uuid.UUID, start, end time.Time) ([]models.ObservationValue, error) {
	start, end = clampRange(start, end)
	if err := canUser(ctx, s.db.Pool, userID, "read_values", "observations", observationID); err != nil {
		return nil, err
	}

	rows, err := s.db.Pool.Query(ctx, `
		SELECT timestamp, value, quality_flag FROM observation_values
		WHERE observation_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp`, observationID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []models.ObservationValue{}
	for rows.Next() {
		var v models.ObservationValue
		var raw *float64
		if err := rows.Scan(&v.Timestamp, &raw, &v.QualityFlag); err != nil {
			return nil, err
		}
		v.Value = nullableFloat(raw)
		values = append(values, v)
	}
	return values, rows.Err()
}

// GetObservationLatest returns the newest stored point.
func (s *ValuesService) GetObservationLatest(ctx context.Context, userID, observationID uuid.UUID) (*models.ObservationValue, error) {
	if err := canUser(ctx, s.db.Pool, userID, "read_values", "observations", observationID); err != nil {
		return nil, err
	}
	var v models.ObservationValue
	var raw *float64
	err := s.db.Pool.QueryRow(ctx, `
		SELECT timestamp, value, quality_flag FROM observation_values
		WHERE observation_id = $1
		ORDER BY timestamp DESC LIMIT 1`, observationID).Scan(&v.Timestamp, &raw, &v.QualityFlag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Value = nullableFloat(raw)
	return &v, nil
}

// GetObservationTimeRange returns the first and last stored timestamps.
func (s *ValuesService) GetObservationTimeRange(ctx context.Context, userID, observationID uuid.UUID) (*models.TimeRange, error) {
	return s.timeRange(ctx, observationSeries, userID, observationID)
}

// GetObservationGaps lists adjacent stored points further apart than the
// observation interval within [start, end].
func (s *ValuesService) GetObservationGaps(ctx context.Context, userID, observationID uuid.UUID, start, end time.Time) ([]models.ValueGap, error) {
	return s.gaps(ctx, observationSeries, userID, observationID, start, end)
}

// StoreForecastValues validates and upserts a batch of forecast points.
func (s *ValuesService) StoreForecastValues(ctx context.Context, userID, forecastID uuid.UUID, values []models.ForecastValue) error {
	return s.storeForecastSeries(ctx, forecastSeries, userID, forecastID, values)
}

// GetForecastValues reads the inclusive range [start, end] ascending.
func (s *ValuesService) GetForecastValues(ctx context.Context, userID, forecastID uuid.UUID, start, end time.Time) ([]models.ForecastValue, error) {
	return s.readForecastSeries(ctx, forecastSeries, userID, forecastID, start, end)
}

// GetForecastLatest returns the newest stored point.
func (s *ValuesService) GetForecastLatest(ctx context.Context, userID, forecastID uuid.UUID) (*models.ForecastValue, error) {
	return s.latestForecastSeries(ctx, forecastSeries, userID, forecastID)
}

// GetForecastTimeRange returns the first and last stored timestamps.
func (s *ValuesService) GetForecastTimeRange(ctx context.Context, userID, forecastID uuid.UUID) (*models.TimeRange, error) {
	return s.timeRange(ctx, forecastSeries, userID, forecastID)
}

// GetForecastGaps lists gaps within [start, end].
func (s *ValuesService) GetForecastGaps(ctx context.Context, userID, forecastID uuid.UUID, start, end time.Time) ([]models.ValueGap, error) {
	return s.gaps(ctx, forecastSeries, userID, forecastID, start, end)
}

// StoreCDFSingleValues validates and upserts points for one probabilistic
// forecast single. Permission is evaluated against the parent group.
func (s *ValuesService) StoreCDFSingleValues(ctx context.Context, userID, singleID uuid.UUID, values []models.ForecastValue) error {
	return s.storeForecastSeries(ctx, cdfSingleSeries, userID, singleID, values)
}

// GetCDFSingleValues reads the inclusive range [start, end] ascending.
func (s *ValuesService) GetCDFSingleValues(ctx context.Context, userID, singleID uuid.UUID, start, end time.Time) ([]models.ForecastValue, error) {
	return s.readForecastSeries(ctx, cdfSingleSeries, userID, singleID, start, end)
}

// GetCDFSingleLatest returns the newest stored point.
func (s *ValuesService) GetCDFSingleLatest(ctx context.Context, userID, singleID uuid.UUID) (*models.ForecastValue, error) {
	return s.latestForecastSeries(ctx, cdfSingleSeries, userID, singleID)
}

// GetCDFSingleTimeRange returns the first and last stored timestamps.
func (s *ValuesService) GetCDFSingleTimeRange(ctx context.Context, userID, singleID uuid.UUID) (*models.TimeRange, error) {
	return s.timeRange(ctx, cdfSingleSeries, userID, singleID)
}

// GetCDFSingleGaps lists gaps within [start, end].
func (s *ValuesService) GetCDFSingleGaps(ctx context.Context, userID, singleID uuid.UUID, start, end time.Time) ([]models.ValueGap, error) {
	return s.gaps(ctx, cdfSingleSeries, userID, singleID, start, end)
}

func (s *ValuesService) storeForecastSeries(ctx context.Context, sp series, userID, objectID uuid.UUID, values []models.ForecastValue) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var batchStart time.Time
	if len(values) > 0 {
		batchStart = values[0].Timestamp
	}
	interval, previous, err := s.writeMetadata(ctx, tx, sp, userID, objectID, "write_values", batchStart)
	if err != nil {
		return err
	}
	if err := models.ValidateForecastValues(values, interval, previous); err != nil {
		return err
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, timestamp, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (%s, timestamp) DO UPDATE SET value = EXCLUDED.value`,
		sp.valuesTable, sp.idColumn, sp.idColumn)
	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(insert, objectID, v.Timestamp, float64(v.Value))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return db.MapError(err, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "forecast values stored",
		"object_id", objectID, "count", len(values), "user_id", userID)
	return nil
}

func (s *ValuesService) readForecastSeries(ctx context.Context, sp series, userID, objectID uuid.UUID, start, end time.Time) ([]models.ForecastValue, error) {
	start, end = clampRange(start, end)
	if err := s.checkSeriesAccess(ctx, sp, userID, objectID, "read_values"); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT timestamp, value FROM %s
		WHERE %s = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp`, sp.valuesTable, sp.idColumn)
	rows, err := s.db.Pool.Query(ctx, sql, objectID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []models.ForecastValue{}
	for rows.Next() {
		var v models.ForecastValue
		var raw *float64
		if err := rows.Scan(&v.Timestamp, &raw); err != nil {
			return nil, err
		}
		v.Value = nullableFloat(raw)
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *ValuesService) latestForecastSeries(ctx context.Context, sp series, userID, objectID uuid.UUID) (*models.ForecastValue, error) {
	if err := s.checkSeriesAccess(ctx, sp, userID, objectID, "read_values"); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`
		SELECT timestamp, value FROM %s
		WHERE %s = $1
		ORDER BY timestamp DESC LIMIT 1`, sp.valuesTable, sp.idColumn)
	var v models.ForecastValue
	var raw *float64
	err := s.db.Pool.QueryRow(ctx, sql, objectID).Scan(&v.Timestamp, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Value = nullableFloat(raw)
	return &v, nil
}

func (s *ValuesService) timeRange(ctx context.Context, sp series, userID, objectID uuid.UUID) (*models.TimeRange, error) {
	if err := s.checkSeriesAccess(ctx, sp, userID, objectID, "read_values"); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`
		SELECT min(timestamp), max(timestamp) FROM %s WHERE %s = $1`,
		sp.valuesTable, sp.idColumn)
	var tr models.TimeRange
	if err := s.db.Pool.QueryRow(ctx, sql, objectID).Scan(&tr.MinTimestamp, &tr.MaxTimestamp); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (s *ValuesService) gaps(ctx context.Context, sp series, userID, objectID uuid.UUID, start, end time.Time) ([]models.ValueGap, error) {
	start, end = clampRange(start, end)
	interval, _, err := s.writeMetadata(ctx, s.db.Pool, sp, userID, objectID, "read_values", models.MinTimestamp)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT timestamp FROM %s
		WHERE %s = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp`, sp.valuesTable, sp.idColumn)
	rows, err := s.db.Pool.Query(ctx, sql, objectID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timestamps []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		timestamps = append(timestamps, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models.FindGaps(timestamps, interval), nil
}

// checkSeriesAccess resolves the permission object behind a series row and
// checks the action against it.
func (s *ValuesService) checkSeriesAccess(ctx context.Context, sp series, userID, objectID uuid.UUID, action string) error {
	sql := fmt.Sprintf(`
		SELECT EXISTS (SELECT 1 FROM %s WHERE %s.id = $2 AND %s)`,
		sp.from, sp.alias, permClause(1, action, sp.objectType, sp.orgExpr, sp.permExpr))
	var allowed bool
	if err := s.db.Pool.QueryRow(ctx, sql, userID, objectID).Scan(&allowed); err != nil {
		return err
	}
	if !allowed {
		return models.ErrNotFound
	}
	return nil
}

// aggregateFunctions maps an aggregate type to its SQL expression over the
// member values grouped per timestamp.
var aggregateFunctions = map[string]string{
	"sum":    "sum(v.value)",
	"mean":   "avg(v.value)",
	"median": "percentile_cont(0.5) WITHIN GROUP (ORDER BY v.value)",
	"max":    "max(v.value)",
	"min":    "min(v.value)",
}

// GetAggregateValues computes the aggregate series over [start, end] from
// member observation values. Each membership contributes points in
// [effective_from, effective_until): the retirement instant itself is
// excluded.
func (s *ValuesService) GetAggregateValues(ctx context.Context, userID, aggregateID uuid.UUID, start, end time.Time) ([]models.ForecastValue, error) {
	start, end = clampRange(start, end)
	if err := canUser(ctx, s.db.Pool, userID, "read_values", "aggregates", aggregateID); err != nil {
		return nil, err
	}

	var aggregateType string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT aggregate_type FROM aggregates WHERE id = $1`, aggregateID).Scan(&aggregateType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fn, ok := aggregateFunctions[aggregateType]
	if !ok {
		return nil, models.ErrNotFound
	}

	sql := fmt.Sprintf(`
		SELECT v.timestamp, %s
		FROM aggregate_observations m
		JOIN observation_values v ON v.observation_id = m.observation_id
		WHERE m.aggregate_id = $1
		  AND m.effective_from IS NOT NULL
		  AND v.timestamp >= m.effective_from
		  AND (m.effective_until IS NULL OR v.timestamp < m.effective_until)
		  AND m.observation_deleted_at IS NULL
		  AND v.timestamp >= $2 AND v.timestamp <= $3
		GROUP BY v.timestamp
		ORDER BY v.timestamp`, fn)
	rows, err := s.db.Pool.Query(ctx, sql, aggregateID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []models.ForecastValue{}
	for rows.Next() {
		var v models.ForecastValue
		var raw *float64
		if err := rows.Scan(&v.Timestamp, &raw); err != nil {
			return nil, err
		}
		v.Value = nullableFloat(raw)
		values = append(values, v)
	}
	return values, rows.Err()
}

// clampRange fills omitted bounds with the representable window and clamps
// anything outside it.
func clampRange(start, end time.Time) (time.Time, time.Time) {
	if start.IsZero() || start.Before(models.MinTimestamp) {
		start = models.MinTimestamp
	}
	if end.IsZero() || end.After(models.MaxTimestamp) {
		end = models.MaxTimestamp
	}
	return start, end
}

func nullableFloat(raw *float64) models.Float {
	if raw == nil {
		return models.Float(math.NaN())
	}
	return models.Float(*raw)
}
