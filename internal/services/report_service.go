package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gridsight/arbiter-api/internal/db"
	"github.com/gridsight/arbiter-api/internal/ids"
	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/queue"
)

// ReportService manages report definitions and the worker handoff. Workers
// pull jobs from the queue and call back with status changes, the raw
// report document and processed input series.
type ReportService struct {
	db      *db.DB
	queue   *queue.Queue
	baseURL string
	logger  *slog.Logger
}

// NewReportService creates a new report service.
func NewReportService(database *db.DB, q *queue.Queue, baseURL string, logger *slog.Logger) *ReportService {
	return &ReportService{
		db:      database,
		queue:   q,
		baseURL: baseURL,
		logger:  logger.With("service", "reports"),
	}
}

const reportColumns = `r.id, o.name, r.name, r.parameters, r.status, r.raw_report,
	r.created_at, r.modified_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	var params []byte
	var raw []byte
	err := row.Scan(&r.ID, &r.Provider, &r.ReportParameters.Name, &params,
		&r.Status, &raw, &r.CreatedAt, &r.ModifiedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &r.ReportParameters); err != nil {
		return nil, err
	}
	if raw != nil {
		r.RawReport = &models.RawReport{}
		if err := json.Unmarshal(raw, r.RawReport); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// Create validates and stores a report, then enqueues the compute job
// carrying the caller's token. The job failing to enqueue does not fail
// the request; the report stays pending and can be recomputed.
func (s *ReportService) Create(ctx context.Context, userID uuid.UUID, token string, req *models.ReportPost) (*models.Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	orgID, err := canCreate(ctx, tx, userID, "reports")
	if err != nil {
		return nil, err
	}

	params, err := json.Marshal(req.ReportParameters)
	if err != nil {
		return nil, err
	}
	id := ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO reports (id, organization_id, name, parameters)
		VALUES ($1, $2, $3, $4)`,
		id, orgID, req.ReportParameters.Name, params)
	if err != nil {
		return nil, db.MapError(err, true)
	}

	created, err := scanReport(tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM reports r
		JOIN organizations o ON o.id = r.organization_id
		WHERE r.id = $1`, reportColumns), id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.enqueue(ctx, id, token)
	s.logger.InfoContext(ctx, "report created", "report_id", id, "user_id", userID)
	return created, nil
}

func (s *ReportService) enqueue(ctx context.Context, reportID uuid.UUID, token string) {
	// Best effort; the report row already exists and a stuck pending
	// report is recoverable through recompute.
	_ = s.queue.EnqueueReport(ctx, queue.ReportJob{
		ReportID: reportID,
		Token:    token,
		BaseURL:  s.baseURL,
	})
}

// Get returns one report the caller may read, with its stored values.
func (s *ReportService) Get(ctx context.Context, userID, reportID uuid.UUID) (*models.Report, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM reports r
		JOIN organizations o ON o.id = r.organization_id
		WHERE r.id = $2 AND %s`,
		reportColumns, permClause(1, "read", "reports", "r.organization_id", "r.id"))
	report, err := scanReport(s.db.Pool.QueryRow(ctx, sql, userID, reportID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	values, err := s.GetValues(ctx, userID, reportID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		// Readable report without read_values access still renders, just
		// without the processed series.
		report.Values = []models.ReportValue{}
	case err != nil:
		return nil, err
	default:
		report.Values = values
	}
	return report, nil
}

// List returns every report the caller may read, without values.
func (s *ReportService) List(ctx context.Context, userID uuid.UUID) ([]*models.Report, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM reports r
		JOIN organizations o ON o.id = r.organization_id
		WHERE %s
		ORDER BY r.id`,
		reportColumns, permClause(1, "read", "reports", "r.organization_id", "r.id"))
	rows, err := s.db.Pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []*models.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// Delete removes a report, its raw document and its stored values.
func (s *ReportService) Delete(ctx context.Context, userID, reportID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		DELETE FROM reports r
		WHERE r.id = $2 AND %s`,
		permClause(1, "delete", "reports", "r.organization_id", "r.id"))
	tag, err := tx.Exec(ctx, sql, userID, reportID)
	if err != nil {
		return db.MapError(err, false)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "report deleted", "report_id", reportID, "user_id", userID)
	return nil
}

// Recompute re-enqueues the compute job and resets the report to pending.
// It requires the update permission, since workers will overwrite the raw
// document.
func (s *ReportService) Recompute(ctx context.Context, userID uuid.UUID, token string, reportID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, userID, "update", "reports", reportID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reports SET status = 'pending', modified_at = NOW() WHERE id = $1`,
		reportID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.enqueue(ctx, reportID, token)
	s.logger.InfoContext(ctx, "report recompute requested", "report_id", reportID, "user_id", userID)
	return nil
}

// SetStatus records a worker's status callback.
func (s *ReportService) SetStatus(ctx context.Context, userID, reportID uuid.UUID, status string) error {
	if !oneOfStrings(status, models.ReportStatuses) {
		errs := models.FieldErrors{}
		errs.Add("status", "Must be one of: pending, complete, failed.")
		return errs
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		UPDATE reports r SET status = $3, modified_at = NOW()
		WHERE r.id = $2 AND %s`,
		permClause(1, "update", "reports", "r.organization_id", "r.id"))
	tag, err := tx.Exec(ctx, sql, userID, reportID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "report status updated",
		"report_id", reportID, "status", status, "user_id", userID)
	return nil
}

// StoreRaw records a worker's rendered report document.
func (s *ReportService) StoreRaw(ctx context.Context, userID, reportID uuid.UUID, raw *models.RawReport) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`
		UPDATE reports r SET raw_report = $3, modified_at = NOW()
		WHERE r.id = $2 AND %s`,
		permClause(1, "update", "reports", "r.organization_id", "r.id"))
	tag, err := tx.Exec(ctx, sql, userID, reportID, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "raw report stored", "report_id", reportID, "user_id", userID)
	return nil
}

// StoreValue records one processed input series for a report. Each input
// object gets at most one value row per report; a second write for the
// same object is a conflict.
func (s *ReportService) StoreValue(ctx context.Context, userID, reportID uuid.UUID, req *models.ReportValuePost) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	if err := canUser(ctx, tx, userID, "write_values", "reports", reportID); err != nil {
		return uuid.Nil, err
	}

	id := ids.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO report_values (id, report_id, object_id, processed_values)
		VALUES ($1, $2, $3, $4)`,
		id, reportID, req.ObjectID, req.ProcessedValues)
	if err != nil {
		return uuid.Nil, db.MapError(err, true)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	s.logger.InfoContext(ctx, "report value stored",
		"report_id", reportID, "object_id", req.ObjectID, "user_id", userID)
	return id, nil
}

// GetValues returns the processed series stored for a report.
func (s *ReportService) GetValues(ctx context.Context, userID, reportID uuid.UUID) ([]models.ReportValue, error) {
	if err := canUser(ctx, s.db.Pool, userID, "read_values", "reports", reportID); err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, object_id, processed_values, created_at
		FROM report_values WHERE report_id = $1
		ORDER BY created_at, id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []models.ReportValue{}
	for rows.Next() {
		var v models.ReportValue
		if err := rows.Scan(&v.ID, &v.ObjectID, &v.ProcessedValues, &v.CreatedAt); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
