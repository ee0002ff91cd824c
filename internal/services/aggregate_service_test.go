package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

func timePtrOf(v time.Time) *time.Time { return &v }

// aggregateFixture builds an org, a fully permitted user and one observation
// to enroll.
func aggregateFixture(t *testing.T, ctx context.Context) (uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	orgID := createTestOrg(t, ctx, true)
	userID := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, userID, orgID, "sites", "create", "read")
	grantAll(t, ctx, userID, orgID, "observations", "create", "read")
	grantAll(t, ctx, userID, orgID, "aggregates", "create", "read", "update", "delete")

	siteSvc := services.NewSiteService(testDB, testLogger())
	obsSvc := services.NewObservationService(testDB, testLogger())

	site, err := siteSvc.Create(ctx, userID, validSitePost("Fleet Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}
	obs, err := obsSvc.Create(ctx, userID, &models.ObservationPost{
		SiteID:            site.ID,
		Name:              "AC Power Meter",
		Variable:          "ac_power",
		IntervalLabel:     "ending",
		IntervalLength:    15,
		IntervalValueType: "interval_mean",
		Uncertainty:       floatPtrOf(1),
	})
	if err != nil {
		t.Fatalf("failed to create observation: %v", err)
	}
	return orgID, userID, obs.ID
}

func TestAggregateLifecycle(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, userID, obsID := aggregateFixture(t, ctx)

	svc := services.NewAggregateService(testDB, testLogger())

	agg, err := svc.Create(ctx, userID, &models.AggregatePost{
		Name:           "Fleet Power",
		Description:    "fleet-wide AC power",
		Variable:       "ac_power",
		IntervalLabel:  "ending",
		IntervalLength: 60,
		AggregateType:  "sum",
		Timezone:       "America/Phoenix",
	})
	if err != nil {
		t.Fatalf("failed to create aggregate: %v", err)
	}
	if agg.IntervalValueType != "interval_mean" {
		t.Errorf("expected interval_mean value type, got %q", agg.IntervalValueType)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("AddMember", func(t *testing.T) {
		updated, err := svc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
			Observations: []models.AggregateObservationChange{
				{ObservationID: obsID, EffectiveFrom: timePtrOf(from)},
			},
		})
		if err != nil {
			t.Fatalf("failed to add member: %v", err)
		}
		if len(updated.Observations) != 1 {
			t.Fatalf("expected 1 membership, got %d", len(updated.Observations))
		}
		if !updated.Observations[0].Active() {
			t.Error("new membership should be active")
		}
	})

	t.Run("ReAddingActiveMemberConflicts", func(t *testing.T) {
		_, err := svc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
			Observations: []models.AggregateObservationChange{
				{ObservationID: obsID, EffectiveFrom: timePtrOf(from.Add(time.Hour))},
			},
		})
		if !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("RetireMember", func(t *testing.T) {
		until := from.AddDate(0, 6, 0)
		updated, err := svc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
			Observations: []models.AggregateObservationChange{
				{ObservationID: obsID, EffectiveUntil: timePtrOf(until)},
			},
		})
		if err != nil {
			t.Fatalf("failed to retire member: %v", err)
		}
		if len(updated.Observations) != 1 {
			t.Fatalf("expected 1 membership, got %d", len(updated.Observations))
		}
		if updated.Observations[0].Active() {
			t.Error("retired membership should be inactive")
		}
	})

	t.Run("RetiringInactiveMemberConflicts", func(t *testing.T) {
		_, err := svc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
			Observations: []models.AggregateObservationChange{
				{ObservationID: obsID, EffectiveUntil: timePtrOf(from.AddDate(1, 0, 0))},
			},
		})
		if !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("ReEnrollmentKeepsHistory", func(t *testing.T) {
		updated, err := svc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
			Observations: []models.AggregateObservationChange{
				{ObservationID: obsID, EffectiveFrom: timePtrOf(from.AddDate(1, 0, 0))},
			},
		})
		if err != nil {
			t.Fatalf("failed to re-enroll member: %v", err)
		}
		if len(updated.Observations) != 2 {
			t.Fatalf("expected 2 membership records, got %d", len(updated.Observations))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := svc.Delete(ctx, userID, agg.ID); err != nil {
			t.Fatalf("failed to delete aggregate: %v", err)
		}
		if _, err := svc.Get(ctx, userID, agg.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

// TestObservationDelete_BlockedByActiveMembership verifies an enrolled
// observation cannot be deleted until its membership is retired, and that
// the retired record survives the delete.
func TestObservationDelete_BlockedByActiveMembership(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	orgID, userID, obsID := aggregateFixture(t, ctx)
	grantAll(t, ctx, userID, orgID, "observations", "delete")

	svc := services.NewAggregateService(testDB, testLogger())
	obsSvc := services.NewObservationService(testDB, testLogger())

	agg, err := svc.Create(ctx, userID, &models.AggregatePost{
		Name:           "Guarded Fleet",
		Description:    "aggregate holding the observation",
		Variable:       "ac_power",
		IntervalLabel:  "ending",
		IntervalLength: 60,
		AggregateType:  "sum",
		Timezone:       "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("failed to create aggregate: %v", err)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
		Observations: []models.AggregateObservationChange{
			{ObservationID: obsID, EffectiveFrom: timePtrOf(from)},
		},
	}); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}

	if err := obsSvc.Delete(ctx, userID, obsID); !errors.Is(err, models.ErrDeleteRestricted) {
		t.Fatalf("expected ErrDeleteRestricted while enrolled, got %v", err)
	}

	if _, err := svc.Update(ctx, userID, agg.ID, &models.AggregateUpdate{
		Observations: []models.AggregateObservationChange{
			{ObservationID: obsID, EffectiveUntil: timePtrOf(from.AddDate(0, 1, 0))},
		},
	}); err != nil {
		t.Fatalf("failed to retire member: %v", err)
	}

	if err := obsSvc.Delete(ctx, userID, obsID); err != nil {
		t.Fatalf("failed to delete retired observation: %v", err)
	}

	got, err := svc.Get(ctx, userID, agg.ID)
	if err != nil {
		t.Fatalf("failed to reload aggregate: %v", err)
	}
	if len(got.Observations) != 1 {
		t.Fatalf("expected 1 membership record, got %d", len(got.Observations))
	}
	if got.Observations[0].ObservationDeletedAt == nil {
		t.Error("membership should record the observation deletion")
	}
}

// TestAggregateMembership_RequiresObservationAccess verifies an observation
// the caller cannot read cannot be enrolled, and the refusal looks like a
// missing observation.
func TestAggregateMembership_RequiresObservationAccess(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, _, obsID := aggregateFixture(t, ctx)

	otherOrg := createTestOrg(t, ctx, true)
	outsider := createTestUser(t, ctx, otherOrg)
	grantAll(t, ctx, outsider, otherOrg, "aggregates", "create", "read", "update")

	svc := services.NewAggregateService(testDB, testLogger())
	agg, err := svc.Create(ctx, outsider, &models.AggregatePost{
		Name:           "Foreign Fleet",
		Description:    "aggregate in another org",
		Variable:       "ac_power",
		IntervalLabel:  "ending",
		IntervalLength: 60,
		AggregateType:  "sum",
		Timezone:       "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("failed to create aggregate: %v", err)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.Update(ctx, outsider, agg.ID, &models.AggregateUpdate{
		Observations: []models.AggregateObservationChange{
			{ObservationID: obsID, EffectiveFrom: timePtrOf(from)},
		},
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
