package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

func validForecastPostFor(siteID uuid.UUID, name string) *models.ForecastPost {
	return &models.ForecastPost{
		SiteID:            &siteID,
		Name:              name,
		Variable:          "ghi",
		IssueTimeOfDay:    "06:00",
		LeadTimeToStart:   60,
		IntervalLabel:     "beginning",
		IntervalLength:    60,
		RunLength:         1440,
		IntervalValueType: "interval_mean",
	}
}

// forecastFixture builds an org, a fully permitted user and a site to attach
// forecasts to.
func forecastFixture(t *testing.T, ctx context.Context) (uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	orgID := createTestOrg(t, ctx, true)
	userID := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, userID, orgID, "sites", "create", "read")
	grantAll(t, ctx, userID, orgID, "forecasts", "create", "read", "update", "delete")
	grantAll(t, ctx, userID, orgID, "cdf_forecasts", "create", "read", "update", "delete")

	siteSvc := services.NewSiteService(testDB, testLogger())
	site, err := siteSvc.Create(ctx, userID, validSitePost("Forecast Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}
	return orgID, userID, site.ID
}

func TestForecastLifecycle(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, userID, siteID := forecastFixture(t, ctx)

	svc := services.NewForecastService(testDB, testLogger())

	fc, err := svc.Create(ctx, userID, validForecastPostFor(siteID, "GHI Day Ahead"))
	if err != nil {
		t.Fatalf("failed to create forecast: %v", err)
	}
	if fc.SiteID == nil || *fc.SiteID != siteID {
		t.Errorf("site binding mismatch: got %v", fc.SiteID)
	}

	t.Run("ListFilteredBySite", func(t *testing.T) {
		got, err := svc.List(ctx, userID, &siteID)
		if err != nil {
			t.Fatalf("failed to list forecasts: %v", err)
		}
		if len(got) != 1 || got[0].ID != fc.ID {
			t.Errorf("site filter mismatch: got %d forecasts", len(got))
		}
		other := uuid.New()
		got, err = svc.List(ctx, userID, &other)
		if err != nil {
			t.Fatalf("failed to list forecasts: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("unknown site filter should match nothing, got %d", len(got))
		}
	})

	t.Run("Update", func(t *testing.T) {
		name := "GHI Day Ahead v2"
		updated, err := svc.Update(ctx, userID, fc.ID, &models.ForecastUpdate{Name: &name})
		if err != nil {
			t.Fatalf("failed to update forecast: %v", err)
		}
		if updated.Name != name {
			t.Errorf("name mismatch: got %q", updated.Name)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := svc.Delete(ctx, userID, fc.ID); err != nil {
			t.Fatalf("failed to delete forecast: %v", err)
		}
		if _, err := svc.Get(ctx, userID, fc.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

// TestForecastCreate_TargetInvisible verifies a forecast cannot bind to a
// site the caller cannot read.
func TestForecastCreate_TargetInvisible(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, _, siteID := forecastFixture(t, ctx)

	otherOrg := createTestOrg(t, ctx, true)
	outsider := createTestUser(t, ctx, otherOrg)
	grantAll(t, ctx, outsider, otherOrg, "forecasts", "create", "read")

	svc := services.NewForecastService(testDB, testLogger())
	_, err := svc.Create(ctx, outsider, validForecastPostFor(siteID, "Borrowed Site"))
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCDFForecastGroupLifecycle(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	_, userID, siteID := forecastFixture(t, ctx)

	svc := services.NewCDFForecastService(testDB, testLogger())

	group, err := svc.Create(ctx, userID, &models.CDFForecastGroupPost{
		ForecastPost:   *validForecastPostFor(siteID, "GHI Probabilistic"),
		Axis:           "y",
		ConstantValues: []float64{5, 20, 50, 80, 95},
	})
	if err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	if group.Axis != "y" {
		t.Errorf("axis mismatch: got %q", group.Axis)
	}
	if len(group.ConstantValues) != 5 {
		t.Fatalf("expected 5 singles, got %d", len(group.ConstantValues))
	}

	t.Run("GetSingle", func(t *testing.T) {
		single := group.ConstantValues[2]
		gotGroup, gotSingle, err := svc.GetSingle(ctx, userID, single.ID)
		if err != nil {
			t.Fatalf("failed to get single: %v", err)
		}
		if gotGroup.ID != group.ID {
			t.Errorf("group ID mismatch: got %v", gotGroup.ID)
		}
		if gotSingle.ConstantValue != 50 {
			t.Errorf("constant value mismatch: got %v", gotSingle.ConstantValue)
		}
	})

	t.Run("UpdateTouchesMetadataOnly", func(t *testing.T) {
		name := "GHI Probabilistic v2"
		updated, err := svc.Update(ctx, userID, group.ID, &models.CDFForecastGroupUpdate{Name: &name})
		if err != nil {
			t.Fatalf("failed to update group: %v", err)
		}
		if updated.Name != name {
			t.Errorf("name mismatch: got %q", updated.Name)
		}
		if len(updated.ConstantValues) != 5 {
			t.Errorf("update must not change singles, got %d", len(updated.ConstantValues))
		}
	})

	t.Run("DeleteRemovesSingles", func(t *testing.T) {
		single := group.ConstantValues[0]
		if err := svc.Delete(ctx, userID, group.ID); err != nil {
			t.Fatalf("failed to delete group: %v", err)
		}
		if _, _, err := svc.GetSingle(ctx, userID, single.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for orphaned single, got %v", err)
		}
	})
}
