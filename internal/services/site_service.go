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

// SiteService manages site metadata.
type SiteService struct {
	db     *db.DB
	logger *slog.Logger
}

// NewSiteService creates a new site service.
func NewSiteService(database *db.DB, logger *slog.Logger) *SiteService {
	return &SiteService{
		db:     database,
		logger: logger.With("service", "sites"),
	}
}

const siteColumns = `s.id, o.name, s.name, s.latitude, s.longitude, s.elevation,
	s.timezone, s.extra_parameters, s.tracking_type, s.ac_capacity, s.dc_capacity,
	s.temperature_coefficient, s.dc_loss_factor, s.ac_loss_factor, s.surface_tilt,
	s.surface_azimuth, s.axis_tilt, s.axis_azimuth, s.ground_coverage_ratio,
	s.backtrack, s.max_rotation_angle, s.created_at, s.modified_at`

func scanSite(row pgx.Row) (*models.Site, error) {
	var s models.Site
	mp := &s.ModelingParameters
	err := row.Scan(&s.ID, &s.Provider, &s.Name, &s.Latitude, &s.Longitude,
		&s.Elevation, &s.Timezone, &s.ExtraParameters, &mp.TrackingType,
		&mp.ACCapacity, &mp.DCCapacity, &mp.TemperatureCoefficient,
		&mp.DCLossFactor, &mp.ACLossFactor, &mp.SurfaceTilt, &mp.SurfaceAzimuth,
		&mp.AxisTilt, &mp.AxisAzimuth, &mp.GroundCoverageRatio, &mp.Backtrack,
		&mp.MaxRotationAngle, &s.CreatedAt, &s.ModifiedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create validates and stores a new site in the caller's organization.
func (s *SiteService) Create(ctx context.Context, userID uuid.UUID, req *models.SitePost) (*models.Site, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "sites")
	if err != nil {
		return nil, err
	}

	site := req.Site()
	site.ID = ids.New()
	mp := site.ModelingParameters
	_, err = tx.Exec(ctx, `
		INSERT INTO sites (id, organization_id, name, latitude, longitude, elevation,
			timezone, extra_parameters, tracking_type, ac_capacity, dc_capacity,
			temperature_coefficient, dc_loss_factor, ac_loss_factor, surface_tilt,
			surface_azimuth, axis_tilt, axis_azimuth, ground_coverage_ratio,
			backtrack, max_rotation_angle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21)`,
		site.ID, orgID, site.Name, site.Latitude, site.Longitude, site.Elevation,
		site.Timezone, site.ExtraParameters, mp.TrackingType, mp.ACCapacity,
		mp.DCCapacity, mp.TemperatureCoefficient, mp.DCLossFactor, mp.ACLossFactor,
		mp.SurfaceTilt, mp.SurfaceAzimuth, mp.AxisTilt, mp.AxisAzimuth,
		mp.GroundCoverageRatio, mp.Backtrack, mp.MaxRotationAngle)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	created, err := scanSite(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM sites s
		JOIN organizations o ON o.id = s.organization_id
		WHERE s.id = $1`, siteColumns), site.ID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "site created", "site_id", site.ID, "user_id", userID)
	return created, nil
}

// Get returns one site the caller may read.
func (s *SiteService) Get(ctx context.Context, userID, siteID uuid.UUID) (*models.Site, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM sites s
		JOIN organizations o ON o.id = s.organization_id
		WHERE s.id = $2 AND %s`,
		siteColumns, permClause(1, "read", "sites", "s.organization_id", "s.id"))
	site, err := scanSite(s.db.Pool.QueryRow(ctx, sql, userID, siteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return site, nil
}

// List returns every site the caller may read. It never fails for
// authorization; a caller with no read access gets an empty list.
func (s *SiteService) List(ctx context.Context, userID uuid.UUID) ([]*models.Site, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM sites s
		JOIN organizations o ON o.id = s.organization_id
		WHERE %s
		ORDER BY s.id`,
		siteColumns, permClause(1, "read", "sites", "s.organization_id", "s.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := []*models.Site{}
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// Update merges a partial update into the stored site, revalidates the
// merged result and stores it.
func (s *SiteService) Update(ctx context.Context, userID, siteID uuid.UUID, req *models.SiteUpdate) (*models.Site, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		SELECT %s FROM sites s
		JOIN organizations o ON o.id = s.organization_id
		WHERE s.id = $2 AND %s
		FOR UPDATE OF s`,
		siteColumns, permClause(1, "update", "sites", "s.organization_id", "s.id"))
	existing, err := scanSite(tx.QueryRow(ctx, sql, userID, siteID))
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

	mp := merged.ModelingParameters
	_, err = tx.Exec(ctx, `
		UPDATE sites SET name = $2, latitude = $3, longitude = $4, elevation = $5,
			timezone = $6, extra_parameters = $7, tracking_type = $8,
			ac_capacity = $9, dc_capacity = $10, temperature_coefficient = $11,
			dc_loss_factor = $12, ac_loss_factor = $13, surface_tilt = $14,
			surface_azimuth = $15, axis_tilt = $16, axis_azimuth = $17,
			ground_coverage_ratio = $18, backtrack = $19, max_rotation_angle = $20,
			modified_at = NOW()
		WHERE id = $1`,
		siteID, merged.Name, merged.Latitude, merged.Longitude, merged.Elevation,
		merged.Timezone, merged.ExtraParameters, mp.TrackingType, mp.ACCapacity,
		mp.DCCapacity, mp.TemperatureCoefficient, mp.DCLossFactor, mp.ACLossFactor,
		mp.SurfaceTilt, mp.SurfaceAzimuth, mp.AxisTilt, mp.AxisAzimuth,
		mp.GroundCoverageRatio, mp.Backtrack, mp.MaxRotationAngle)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	updated, err := scanSite(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM sites s
		JOIN organizations o ON o.id = s.organization_id
		WHERE s.id = $1`, siteColumns), siteID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "site updated", "site_id", siteID, "user_id", userID)
	return updated, nil
}

// Delete removes a site. Sites still referenced by observations or
// forecasts cannot be removed.
func (s *SiteService) Delete(ctx context.Context, userID, siteID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		DELETE FROM sites s
		WHERE s.id = $2 AND %s`,
		permClause(1, "delete", "sites", "s.organization_id", "s.id"))
	tag, err := tx.Exec(ctx, sql, userID, siteID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "site deleted", "site_id", siteID, "user_id", userID)
	return nil
}
