package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/queue"
	"github.com/gridsight/arbiter-api/internal/services"
	"github.com/gridsight/arbiter-api/pkg/config"
)

// reportFixture builds an org, a fully permitted user and a forecast and
// observation pair to evaluate, plus a miniredis-backed job queue.
func reportFixture(t *testing.T, ctx context.Context) (uuid.UUID, uuid.UUID, *models.ReportPost, *queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	orgID := createTestOrg(t, ctx, true)
	userID := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, userID, orgID, "sites", "create", "read")
	grantAll(t, ctx, userID, orgID, "observations", "create", "read")
	grantAll(t, ctx, userID, orgID, "forecasts", "create", "read")
	grantAll(t, ctx, userID, orgID, "reports",
		"create", "read", "update", "delete", "read_values", "write_values")

	siteSvc := services.NewSiteService(testDB, testLogger())
	obsSvc := services.NewObservationService(testDB, testLogger())
	fcSvc := services.NewForecastService(testDB, testLogger())

	site, err := siteSvc.Create(ctx, userID, validSitePost("Report Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}
	obs, err := obsSvc.Create(ctx, userID, &models.ObservationPost{
		SiteID:            site.ID,
		Name:              "GHI Meter",
		Variable:          "ghi",
		IntervalLabel:     "beginning",
		IntervalLength:    60,
		IntervalValueType: "interval_mean",
		Uncertainty:       floatPtrOf(0.1),
	})
	if err != nil {
		t.Fatalf("failed to create observation: %v", err)
	}
	fc, err := fcSvc.Create(ctx, userID, &models.ForecastPost{
		SiteID:            &site.ID,
		Name:              "GHI Day Ahead",
		Variable:          "ghi",
		IssueTimeOfDay:    "06:00",
		LeadTimeToStart:   60,
		IntervalLabel:     "beginning",
		IntervalLength:    60,
		RunLength:         1440,
		IntervalValueType: "interval_mean",
	})
	if err != nil {
		t.Fatalf("failed to create forecast: %v", err)
	}

	srv := miniredis.RunT(t)
	q := queue.New(&config.QueueConfig{Addr: srv.Addr(), Key: "arbiter:reports"}, testLogger())
	t.Cleanup(func() { q.Close() })

	post := &models.ReportPost{
		ReportParameters: models.ReportParameters{
			Name:  "June GHI Evaluation",
			Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			ObjectPairs: []models.ObjectPair{
				{Forecast: fc.ID, Observation: &obs.ID},
			},
			Metrics: []string{"mae", "rmse"},
		},
	}
	return orgID, userID, post, q, srv
}

func TestReportLifecycle(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, userID, post, q, srv := reportFixture(t, ctx)

	svc := services.NewReportService(testDB, q, "https://api.test", testLogger())
	token := "worker-token"

	report, err := svc.Create(ctx, userID, token, post)
	if err != nil {
		t.Fatalf("failed to create report: %v", err)
	}
	if report.Status != "pending" {
		t.Errorf("new report should be pending, got %q", report.Status)
	}

	t.Run("JobEnqueued", func(t *testing.T) {
		raw, err := srv.Lpop("arbiter:reports")
		if err != nil {
			t.Fatalf("expected one queued job: %v", err)
		}
		var job queue.ReportJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			t.Fatalf("failed to decode job: %v", err)
		}
		if job.ReportID != report.ID {
			t.Errorf("job report ID mismatch: got %v", job.ReportID)
		}
		if job.Token != token {
			t.Errorf("job should carry the caller token, got %q", job.Token)
		}
		if job.BaseURL != "https://api.test" {
			t.Errorf("job base URL mismatch: got %q", job.BaseURL)
		}
	})

	t.Run("WorkerCallbacks", func(t *testing.T) {
		raw := &models.RawReport{
			GeneratedAt: time.Now().UTC(),
			Timezone:    "Etc/UTC",
			Versions:    [][2]string{{"worker", "1.4.0"}},
			Metrics:     json.RawMessage(`[{"name":"mae","value":12.5}]`),
			Messages: []models.ReportMessage{
				{Message: "resampled inputs", StepName: "preprocess", Level: "info", Function: "resample"},
			},
		}
		if err := svc.StoreRaw(ctx, userID, report.ID, raw); err != nil {
			t.Fatalf("failed to store raw report: %v", err)
		}

		valueID, err := svc.StoreValue(ctx, userID, report.ID, &models.ReportValuePost{
			ObjectID:        post.ReportParameters.ObjectPairs[0].Forecast,
			ProcessedValues: "timestamp,value\n2026-06-01T00:00:00Z,42.0\n",
		})
		if err != nil {
			t.Fatalf("failed to store report value: %v", err)
		}
		if valueID == uuid.Nil {
			t.Error("value ID should not be nil")
		}

		if err := svc.SetStatus(ctx, userID, report.ID, "complete"); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}

		got, err := svc.Get(ctx, userID, report.ID)
		if err != nil {
			t.Fatalf("failed to get report: %v", err)
		}
		if got.Status != "complete" {
			t.Errorf("status mismatch: got %q", got.Status)
		}
		if got.RawReport == nil || got.RawReport.Timezone != "Etc/UTC" {
			t.Errorf("raw report not round tripped: %+v", got.RawReport)
		}
		if len(got.Values) != 1 {
			t.Errorf("expected 1 stored value, got %d", len(got.Values))
		}
	})

	t.Run("DuplicateValueObjectConflicts", func(t *testing.T) {
		_, err := svc.StoreValue(ctx, userID, report.ID, &models.ReportValuePost{
			ObjectID:        post.ReportParameters.ObjectPairs[0].Forecast,
			ProcessedValues: "timestamp,value\n",
		})
		if !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("InvalidStatusRejected", func(t *testing.T) {
		err := svc.SetStatus(ctx, userID, report.ID, "running")
		fe, ok := models.AsFieldErrors(err)
		if !ok {
			t.Fatalf("expected field errors, got %v", err)
		}
		if _, ok := fe["status"]; !ok {
			t.Errorf("expected status violation, got %v", fe)
		}
	})

	t.Run("RecomputeResetsAndRequeues", func(t *testing.T) {
		if err := svc.Recompute(ctx, userID, token, report.ID); err != nil {
			t.Fatalf("failed to recompute: %v", err)
		}
		got, err := svc.Get(ctx, userID, report.ID)
		if err != nil {
			t.Fatalf("failed to get report: %v", err)
		}
		if got.Status != "pending" {
			t.Errorf("recompute should reset to pending, got %q", got.Status)
		}
		if _, err := srv.Lpop("arbiter:reports"); err != nil {
			t.Errorf("expected a requeued job: %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := svc.Delete(ctx, userID, report.ID); err != nil {
			t.Fatalf("failed to delete report: %v", err)
		}
		if _, err := svc.Get(ctx, userID, report.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

// TestReportGet_WithoutValueAccess verifies a readable report still renders
// for callers who cannot read the processed series.
func TestReportGet_WithoutValueAccess(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	orgID, userID, post, q, _ := reportFixture(t, ctx)

	reader := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, reader, orgID, "reports", "read")

	svc := services.NewReportService(testDB, q, "https://api.test", testLogger())
	report, err := svc.Create(ctx, userID, "worker-token", post)
	if err != nil {
		t.Fatalf("failed to create report: %v", err)
	}
	if _, err := svc.StoreValue(ctx, userID, report.ID, &models.ReportValuePost{
		ObjectID:        post.ReportParameters.ObjectPairs[0].Forecast,
		ProcessedValues: "timestamp,value\n",
	}); err != nil {
		t.Fatalf("failed to store report value: %v", err)
	}

	got, err := svc.Get(ctx, reader, report.ID)
	if err != nil {
		t.Fatalf("reader should see the report: %v", err)
	}
	if len(got.Values) != 0 {
		t.Errorf("reader without read_values should get no series, got %d", len(got.Values))
	}

	if _, err := svc.GetValues(ctx, reader, report.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound reading values directly, got %v", err)
	}
}
