package services_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

// seriesFixture builds an org, a fully permitted user, a site and a 5-minute
// observation for value tests.
func seriesFixture(t *testing.T, ctx context.Context) (uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	orgID := createTestOrg(t, ctx, true)
	userID := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, userID, orgID, "sites", "create", "read")
	grantAll(t, ctx, userID, orgID, "observations",
		"create", "read", "read_values", "write_values")

	siteSvc := services.NewSiteService(testDB, testLogger())
	obsSvc := services.NewObservationService(testDB, testLogger())

	site, err := siteSvc.Create(ctx, userID, validSitePost("Series Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}
	obs, err := obsSvc.Create(ctx, userID, &models.ObservationPost{
		SiteID:            site.ID,
		Name:              "GHI Meter",
		Variable:          "ghi",
		IntervalLabel:     "beginning",
		IntervalLength:    5,
		IntervalValueType: "interval_mean",
		Uncertainty:       floatPtrOf(0.1),
	})
	if err != nil {
		t.Fatalf("failed to create observation: %v", err)
	}
	return orgID, userID, obs.ID
}

func TestObservationValues_RoundTrip(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, userID, obsID := seriesFixture(t, ctx)

	svc := services.NewValuesService(testDB, testLogger())
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	batch := []models.ObservationValue{
		{Timestamp: base, Value: 101.5, QualityFlag: 0},
		{Timestamp: base.Add(5 * time.Minute), Value: models.Float(math.NaN()), QualityFlag: 1},
		{Timestamp: base.Add(10 * time.Minute), Value: 98.2, QualityFlag: 0},
	}
	if err := svc.StoreObservationValues(ctx, userID, obsID, batch); err != nil {
		t.Fatalf("failed to store values: %v", err)
	}

	t.Run("Read", func(t *testing.T) {
		got, err := svc.GetObservationValues(ctx, userID, obsID, base, base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("failed to read values: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 values, got %d", len(got))
		}
		if float64(got[0].Value) != 101.5 {
			t.Errorf("value mismatch: got %v", got[0].Value)
		}
		if !math.IsNaN(float64(got[1].Value)) {
			t.Errorf("expected NaN to survive the round trip, got %v", got[1].Value)
		}
		if got[1].QualityFlag != 1 {
			t.Errorf("quality flag mismatch: got %d", got[1].QualityFlag)
		}
	})

	t.Run("RangeIsInclusive", func(t *testing.T) {
		got, err := svc.GetObservationValues(ctx, userID, obsID, base.Add(5*time.Minute), base.Add(5*time.Minute))
		if err != nil {
			t.Fatalf("failed to read values: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected exactly the boundary point, got %d values", len(got))
		}
	})

	t.Run("Latest", func(t *testing.T) {
		latest, err := svc.GetObservationLatest(ctx, userID, obsID)
		if err != nil {
			t.Fatalf("failed to read latest: %v", err)
		}
		if !latest.Timestamp.Equal(base.Add(10 * time.Minute)) {
			t.Errorf("latest timestamp mismatch: got %v", latest.Timestamp)
		}
	})

	t.Run("TimeRange", func(t *testing.T) {
		tr, err := svc.GetObservationTimeRange(ctx, userID, obsID)
		if err != nil {
			t.Fatalf("failed to read time range: %v", err)
		}
		if tr.MinTimestamp == nil || !tr.MinTimestamp.Equal(base) {
			t.Errorf("min timestamp mismatch: got %v", tr.MinTimestamp)
		}
		if tr.MaxTimestamp == nil || !tr.MaxTimestamp.Equal(base.Add(10*time.Minute)) {
			t.Errorf("max timestamp mismatch: got %v", tr.MaxTimestamp)
		}
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		err := svc.StoreObservationValues(ctx, userID, obsID, []models.ObservationValue{
			{Timestamp: base.Add(10 * time.Minute), Value: 99.9, QualityFlag: 1},
		})
		if err != nil {
			t.Fatalf("failed to overwrite value: %v", err)
		}
		got, err := svc.GetObservationValues(ctx, userID, obsID, base.Add(10*time.Minute), base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("failed to read value: %v", err)
		}
		if len(got) != 1 || float64(got[0].Value) != 99.9 || got[0].QualityFlag != 1 {
			t.Errorf("overwrite not visible: got %+v", got)
		}
	})
}

func TestObservationValues_Alignment(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, userID, obsID := seriesFixture(t, ctx)

	svc := services.NewValuesService(testDB, testLogger())
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := svc.StoreObservationValues(ctx, userID, obsID, []models.ObservationValue{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(5 * time.Minute), Value: 2},
	}); err != nil {
		t.Fatalf("failed to store first batch: %v", err)
	}

	t.Run("MisalignedBatchRejected", func(t *testing.T) {
		err := svc.StoreObservationValues(ctx, userID, obsID, []models.ObservationValue{
			{Timestamp: base.Add(7 * time.Minute), Value: 3},
		})
		fe, ok := models.AsFieldErrors(err)
		if !ok {
			t.Fatalf("expected field errors, got %v", err)
		}
		if _, ok := fe["values"]; !ok {
			t.Errorf("expected values violation, got %v", fe)
		}
	})

	t.Run("RejectedBatchStoresNothing", func(t *testing.T) {
		got, err := svc.GetObservationValues(ctx, userID, obsID, base, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("failed to read values: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected the original 2 values, got %d", len(got))
		}
	})

	t.Run("WholeIntervalMultipleAccepted", func(t *testing.T) {
		// 25 minutes past the last stored point is 5 intervals; gaps are
		// allowed, misalignment is not.
		err := svc.StoreObservationValues(ctx, userID, obsID, []models.ObservationValue{
			{Timestamp: base.Add(30 * time.Minute), Value: 4},
		})
		if err != nil {
			t.Fatalf("aligned gap batch should store: %v", err)
		}
	})

	t.Run("Gaps", func(t *testing.T) {
		gaps, err := svc.GetObservationGaps(ctx, userID, obsID, base, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("failed to read gaps: %v", err)
		}
		if len(gaps) != 1 {
			t.Fatalf("expected 1 gap, got %d", len(gaps))
		}
		if !gaps[0].Timestamp.Equal(base.Add(5*time.Minute)) ||
			!gaps[0].NextTimestamp.Equal(base.Add(30*time.Minute)) {
			t.Errorf("gap endpoints mismatch: got %+v", gaps[0])
		}
	})
}

func TestAggregateValues_EffectiveWindow(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	orgID, userID, obsID := aggregateFixture(t, ctx)
	grantAll(t, ctx, userID, orgID, "observations", "write_values")
	grantAll(t, ctx, userID, orgID, "aggregates", "read_values")

	aggSvc := services.NewAggregateService(testDB, testLogger())
	svc := services.NewValuesService(testDB, testLogger())

	agg, err := aggSvc.Create(ctx, userID, &models.AggregatePost{
		Name:           "Windowed Fleet",
		Description:    "membership window boundaries",
		Variable:       "ac_power",
		IntervalLabel:  "ending",
		IntervalLength: 60,
		AggregateType:  "sum",
		Timezone:       "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("failed to create aggregate: %v", err)
	}

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	retired := base.Add(30 * time.Minute)

	if err := svc.StoreObservationValues(ctx, userID, obsID, []models.ObservationValue{
		{Timestamp: base, Value: 10},
		{Timestamp: base.Add(15 * time.Minute), Value: 20},
		{Timestamp: retired, Value: 30},
	}); err != nil {
		t.Fatalf("failed to store values: %v", err)
	}

	if _, err := aggSvc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
		Observations: []models.AggregateObservationChange{
			{ObservationID: obsID, EffectiveFrom: timePtrOf(base)},
		},
	}); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	if _, err := aggSvc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
		Observations: []models.AggregateObservationChange{
			{ObservationID: obsID, EffectiveUntil: timePtrOf(retired)},
		},
	}); err != nil {
		t.Fatalf("failed to retire member: %v", err)
	}

	t.Run("RetirementInstantExcluded", func(t *testing.T) {
		got, err := svc.GetAggregateValues(ctx, userID, agg.ID, base, retired)
		if err != nil {
			t.Fatalf("failed to read aggregate values: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 values inside the window, got %d", len(got))
		}
		if !got[1].Timestamp.Equal(base.Add(15 * time.Minute)) {
			t.Errorf("last contributing timestamp mismatch: got %v", got[1].Timestamp)
		}
	})

	t.Run("ReadFromRetirementIsEmpty", func(t *testing.T) {
		got, err := svc.GetAggregateValues(ctx, userID, agg.ID, retired, retired.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("failed to read aggregate values: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no values at or after retirement, got %d", len(got))
		}
	})
}

func TestObservationValues_Denied(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	orgID, userID, obsID := seriesFixture(t, ctx)

	// A second user in the same org with metadata access but no value access.
	peeker := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, peeker, orgID, "observations", "read")

	svc := services.NewValuesService(testDB, testLogger())
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := svc.StoreObservationValues(ctx, userID, obsID, []models.ObservationValue{
		{Timestamp: base, Value: 1},
	}); err != nil {
		t.Fatalf("failed to store values: %v", err)
	}

	if _, err := svc.GetObservationValues(ctx, peeker, obsID, base, base); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound reading values, got %v", err)
	}
	if err := svc.StoreObservationValues(ctx, peeker, obsID, []models.ObservationValue{
		{Timestamp: base.Add(5 * time.Minute), Value: 2},
	}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound writing values, got %v", err)
	}
}
