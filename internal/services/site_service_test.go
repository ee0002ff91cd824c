package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

func validSitePost(name string) *models.SitePost {
	return &models.SitePost{
		Name:      name,
		Latitude:  floatPtrOf(32.22),
		Longitude: floatPtrOf(-110.98),
		Elevation: floatPtrOf(786),
		Timezone:  "America/Phoenix",
	}
}

// TestSiteLifecycle_Create_Get_Update_Delete covers the full lifecycle of a
// site under a user holding every site action.
func TestSiteLifecycle_Create_Get_Update_Delete(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	orgID := createTestOrg(t, ctx, true)
	userID := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, userID, orgID, "sites", "create", "read", "update", "delete")

	svc := services.NewSiteService(testDB, testLogger())

	site, err := svc.Create(ctx, userID, validSitePost("Desert Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}
	if site.ID == uuid.Nil {
		t.Error("site ID should not be nil")
	}
	if site.Name != "Desert Plant" {
		t.Errorf("site name mismatch: got %v", site.Name)
	}
	if site.ModelingParameters.Kind() != "" {
		t.Errorf("plain site should have no modeling parameters, got %q", site.ModelingParameters.Kind())
	}

	t.Run("Get", func(t *testing.T) {
		got, err := svc.Get(ctx, userID, site.ID)
		if err != nil {
			t.Fatalf("failed to get site: %v", err)
		}
		if got.Name != site.Name {
			t.Errorf("site name mismatch: got %v, want %v", got.Name, site.Name)
		}
	})

	t.Run("List", func(t *testing.T) {
		sites, err := svc.List(ctx, userID)
		if err != nil {
			t.Fatalf("failed to list sites: %v", err)
		}
		found := false
		for _, s := range sites {
			if s.ID == site.ID {
				found = true
			}
		}
		if !found {
			t.Error("created site not found in list")
		}
	})

	t.Run("Update", func(t *testing.T) {
		newName := "Desert Plant North"
		mp := json.RawMessage(`{"tracking_type":"fixed","ac_capacity":5,"dc_capacity":6,
			"temperature_coefficient":-0.3,"dc_loss_factor":1,"ac_loss_factor":0,
			"surface_tilt":30,"surface_azimuth":180}`)
		updated, err := svc.Update(ctx, userID, site.ID, &models.SiteUpdate{
			Name:               &newName,
			ModelingParameters: mp,
		})
		if err != nil {
			t.Fatalf("failed to update site: %v", err)
		}
		if updated.Name != newName {
			t.Errorf("updated name mismatch: got %v", updated.Name)
		}
		if updated.ModelingParameters.Kind() != "fixed" {
			t.Errorf("expected fixed tracking, got %q", updated.ModelingParameters.Kind())
		}
	})

	t.Run("UpdateRejectsBrokenParameters", func(t *testing.T) {
		// Clearing surface_tilt while tracking_type stays fixed must fail.
		_, err := svc.Update(ctx, userID, site.ID, &models.SiteUpdate{
			ModelingParameters: json.RawMessage(`{"surface_tilt":null}`),
		})
		fe, ok := models.AsFieldErrors(err)
		if !ok {
			t.Fatalf("expected field errors, got %v", err)
		}
		if _, ok := fe["modeling_parameters.surface_tilt"]; !ok {
			t.Errorf("expected modeling_parameters.surface_tilt violation, got %v", fe)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := svc.Delete(ctx, userID, site.ID); err != nil {
			t.Fatalf("failed to delete site: %v", err)
		}
		if _, err := svc.Get(ctx, userID, site.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

// TestSiteCreate_Denied verifies a user without the create permission cannot
// create and cannot learn why.
func TestSiteCreate_Denied(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	orgID := createTestOrg(t, ctx, true)
	userID := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, userID, orgID, "sites", "read")

	svc := services.NewSiteService(testDB, testLogger())
	_, err := svc.Create(ctx, userID, validSitePost("Denied Plant"))
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestSiteIsolation verifies objects in one organization are invisible to
// users of another, and that denial is indistinguishable from absence.
func TestSiteIsolation(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	org1 := createTestOrg(t, ctx, true)
	org2 := createTestOrg(t, ctx, true)
	owner := createTestUser(t, ctx, org1)
	outsider := createTestUser(t, ctx, org2)
	grantAll(t, ctx, owner, org1, "sites", "create", "read")
	grantAll(t, ctx, outsider, org2, "sites", "create", "read", "update", "delete")

	svc := services.NewSiteService(testDB, testLogger())
	site, err := svc.Create(ctx, owner, validSitePost("Hidden Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}

	t.Run("GetLooksMissing", func(t *testing.T) {
		_, err := svc.Get(ctx, outsider, site.ID)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateLooksMissing", func(t *testing.T) {
		name := "Stolen Plant"
		_, err := svc.Update(ctx, outsider, site.ID, &models.SiteUpdate{Name: &name})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteLooksMissing", func(t *testing.T) {
		if err := svc.Delete(ctx, outsider, site.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListExcludes", func(t *testing.T) {
		sites, err := svc.List(ctx, outsider)
		if err != nil {
			t.Fatalf("failed to list sites: %v", err)
		}
		for _, s := range sites {
			if s.ID == site.ID {
				t.Error("outsider should not see the site in list")
			}
		}
	})
}

// TestSitePermission_CoversFutureObjects verifies that an applies_to_all
// read permission granted before an object exists covers it once created.
func TestSitePermission_CoversFutureObjects(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	orgID := createTestOrg(t, ctx, true)
	creator := createTestUser(t, ctx, orgID)
	reader := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, creator, orgID, "sites", "create", "read")
	grantAll(t, ctx, reader, orgID, "sites", "read")

	svc := services.NewSiteService(testDB, testLogger())
	site, err := svc.Create(ctx, creator, validSitePost("Future Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}

	got, err := svc.Get(ctx, reader, site.ID)
	if err != nil {
		t.Fatalf("reader should see the new site: %v", err)
	}
	if got.ID != site.ID {
		t.Errorf("site ID mismatch: got %v, want %v", got.ID, site.ID)
	}
}

// TestSiteDelete_Restricted verifies a site referenced by an observation
// cannot be removed.
func TestSiteDelete_Restricted(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	orgID := createTestOrg(t, ctx, true)
	userID := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, userID, orgID, "sites", "create", "read", "delete")
	grantAll(t, ctx, userID, orgID, "observations", "create", "read")

	siteSvc := services.NewSiteService(testDB, testLogger())
	obsSvc := services.NewObservationService(testDB, testLogger())

	site, err := siteSvc.Create(ctx, userID, validSitePost("Anchored Plant"))
	if err != nil {
		t.Fatalf("failed to create site: %v", err)
	}
	_, err = obsSvc.Create(ctx, userID, &models.ObservationPost{
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

	if err := siteSvc.Delete(ctx, userID, site.ID); !errors.Is(err, models.ErrDeleteRestricted) {
		t.Errorf("expected ErrDeleteRestricted, got %v", err)
	}
}
