// Package db provides the database access layer for the API server.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridsight/arbiter-api/pkg/config"
)

// UnaffiliatedOrgID is the sentinel organization that newly provisioned
// users land in until an administrator moves them. It carries no
// permissions, so its members can read and write nothing.
const UnaffiliatedOrgID = "97bafa27-ca4b-11eb-9089-0242ac130002"

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	// Configure connection settings
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks the database health.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// BeginTx begins a new transaction.
func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.Pool.Begin(ctx)
}

// RunMigrations runs all database migrations.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		migrationCreateOrganizationsTable,
		migrationCreateUsersTable,
		migrationCreateRBACTables,
		migrationCreateSitesTable,
		migrationCreateAggregatesTable,
		migrationCreateObservationsTable,
		migrationCreateForecastsTable,
		migrationCreateCDFForecastTables,
		migrationCreateAggregateObservationsTable,
		migrationCreateValueTables,
		migrationCreateReportTables,
		migrationCreateIndexes,
		migrationSeedUnaffiliatedOrg,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	return nil
}

const migrationCreateOrganizationsTable = `
CREATE TABLE IF NOT EXISTS organizations (
    id UUID PRIMARY KEY,
    name VARCHAR(64) NOT NULL UNIQUE,
    accepted_tou BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    auth0_id VARCHAR(128) NOT NULL UNIQUE,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateRBACTables = `
CREATE TABLE IF NOT EXISTS roles (
    id UUID PRIMARY KEY,
    name VARCHAR(64) NOT NULL,
    description VARCHAR(255) NOT NULL,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    UNIQUE (organization_id, name)
);

CREATE TABLE IF NOT EXISTS permissions (
    id UUID PRIMARY KEY,
    description VARCHAR(64) NOT NULL,
    action VARCHAR(32) NOT NULL,
    object_type VARCHAR(32) NOT NULL,
    applies_to_all BOOLEAN NOT NULL DEFAULT false,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS permission_objects (
    permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    object_id UUID NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (permission_id, object_id)
);
`

const migrationCreateSitesTable = `
CREATE TABLE IF NOT EXISTS sites (
    id UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    name VARCHAR(64) NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    elevation DOUBLE PRECISION NOT NULL,
    timezone VARCHAR(64) NOT NULL,
    extra_parameters TEXT NOT NULL DEFAULT '',
    tracking_type VARCHAR(16),
    ac_capacity DOUBLE PRECISION,
    dc_capacity DOUBLE PRECISION,
    temperature_coefficient DOUBLE PRECISION,
    dc_loss_factor DOUBLE PRECISION,
    ac_loss_factor DOUBLE PRECISION,
    surface_tilt DOUBLE PRECISION,
    surface_azimuth DOUBLE PRECISION,
    axis_tilt DOUBLE PRECISION,
    axis_azimuth DOUBLE PRECISION,
    ground_coverage_ratio DOUBLE PRECISION,
    backtrack BOOLEAN,
    max_rotation_angle DOUBLE PRECISION,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateAggregatesTable = `
CREATE TABLE IF NOT EXISTS aggregates (
    id UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    name VARCHAR(64) NOT NULL,
    description VARCHAR(255) NOT NULL DEFAULT '',
    variable VARCHAR(32) NOT NULL,
    interval_label VARCHAR(32) NOT NULL,
    interval_length INTEGER NOT NULL,
    interval_value_type VARCHAR(32) NOT NULL DEFAULT 'interval_mean',
    aggregate_type VARCHAR(32) NOT NULL,
    timezone VARCHAR(64) NOT NULL,
    extra_parameters TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateObservationsTable = `
CREATE TABLE IF NOT EXISTS observations (
    id UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    site_id UUID NOT NULL REFERENCES sites(id) ON DELETE RESTRICT,
    name VARCHAR(64) NOT NULL,
    variable VARCHAR(32) NOT NULL,
    interval_label VARCHAR(32) NOT NULL,
    interval_length INTEGER NOT NULL,
    interval_value_type VARCHAR(32) NOT NULL,
    uncertainty DOUBLE PRECISION NOT NULL DEFAULT 0,
    extra_parameters TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateForecastsTable = `
CREATE TABLE IF NOT EXISTS forecasts (
    id UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    site_id UUID REFERENCES sites(id) ON DELETE RESTRICT,
    aggregate_id UUID REFERENCES aggregates(id) ON DELETE RESTRICT,
    name VARCHAR(64) NOT NULL,
    variable VARCHAR(32) NOT NULL,
    issue_time_of_day VARCHAR(5) NOT NULL,
    lead_time_to_start INTEGER NOT NULL,
    interval_label VARCHAR(32) NOT NULL,
    interval_length INTEGER NOT NULL,
    run_length INTEGER NOT NULL,
    interval_value_type VARCHAR(32) NOT NULL,
    extra_parameters TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    CHECK (num_nonnulls(site_id, aggregate_id) = 1)
);
`

const migrationCreateCDFForecastTables = `
CREATE TABLE IF NOT EXISTS cdf_forecast_groups (
    id UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    site_id UUID REFERENCES sites(id) ON DELETE RESTRICT,
    aggregate_id UUID REFERENCES aggregates(id) ON DELETE RESTRICT,
    name VARCHAR(64) NOT NULL,
    variable VARCHAR(32) NOT NULL,
    issue_time_of_day VARCHAR(5) NOT NULL,
    lead_time_to_start INTEGER NOT NULL,
    interval_label VARCHAR(32) NOT NULL,
    interval_length INTEGER NOT NULL,
    run_length INTEGER NOT NULL,
    interval_value_type VARCHAR(32) NOT NULL,
    axis VARCHAR(1) NOT NULL,
    extra_parameters TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    CHECK (num_nonnulls(site_id, aggregate_id) = 1)
);

CREATE TABLE IF NOT EXISTS cdf_forecast_singles (
    id UUID PRIMARY KEY,
    group_id UUID NOT NULL REFERENCES cdf_forecast_groups(id) ON DELETE CASCADE,
    constant_value DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    UNIQUE (group_id, constant_value)
);
`

const migrationCreateAggregateObservationsTable = `
CREATE TABLE IF NOT EXISTS aggregate_observations (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    aggregate_id UUID NOT NULL REFERENCES aggregates(id) ON DELETE CASCADE,
    observation_id UUID NOT NULL,
    effective_from TIMESTAMP WITH TIME ZONE,
    effective_until TIMESTAMP WITH TIME ZONE,
    observation_deleted_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migrationCreateValueTables = `
CREATE TABLE IF NOT EXISTS observation_values (
    observation_id UUID NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
    timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
    value DOUBLE PRECISION,
    quality_flag INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (observation_id, timestamp)
);

CREATE TABLE IF NOT EXISTS forecast_values (
    forecast_id UUID NOT NULL REFERENCES forecasts(id) ON DELETE CASCADE,
    timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
    value DOUBLE PRECISION,
    PRIMARY KEY (forecast_id, timestamp)
);

CREATE TABLE IF NOT EXISTS cdf_forecast_values (
    forecast_id UUID NOT NULL REFERENCES cdf_forecast_singles(id) ON DELETE CASCADE,
    timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
    value DOUBLE PRECISION,
    PRIMARY KEY (forecast_id, timestamp)
);
`

const migrationCreateReportTables = `
CREATE TABLE IF NOT EXISTS reports (
    id UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    name VARCHAR(64) NOT NULL,
    parameters JSONB NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    raw_report JSONB,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS report_values (
    id UUID PRIMARY KEY,
    report_id UUID NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
    object_id UUID NOT NULL,
    processed_values TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    UNIQUE (report_id, object_id)
);
`

const migrationCreateIndexes = `
CREATE INDEX IF NOT EXISTS idx_users_auth0_id ON users(auth0_id);
CREATE INDEX IF NOT EXISTS idx_roles_org ON roles(organization_id);
CREATE INDEX IF NOT EXISTS idx_permissions_org ON permissions(organization_id);
CREATE INDEX IF NOT EXISTS idx_sites_org ON sites(organization_id);
CREATE INDEX IF NOT EXISTS idx_observations_site ON observations(site_id);
CREATE INDEX IF NOT EXISTS idx_forecasts_site ON forecasts(site_id);
CREATE INDEX IF NOT EXISTS idx_forecasts_aggregate ON forecasts(aggregate_id);
CREATE INDEX IF NOT EXISTS idx_cdf_groups_site ON cdf_forecast_groups(site_id);
CREATE INDEX IF NOT EXISTS idx_cdf_singles_group ON cdf_forecast_singles(group_id);
CREATE INDEX IF NOT EXISTS idx_agg_obs_aggregate ON aggregate_observations(aggregate_id);
CREATE INDEX IF NOT EXISTS idx_agg_obs_observation ON aggregate_observations(observation_id);
CREATE INDEX IF NOT EXISTS idx_report_values_report ON report_values(report_id);
`

const migrationSeedUnaffiliatedOrg = `
INSERT INTO organizations (id, name, accepted_tou)
VALUES ('` + UnaffiliatedOrgID + `', 'Unaffiliated', false)
ON CONFLICT (id) DO NOTHING;
`
