package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/internal/models"
	"github.com/gridsight/arbiter-api/internal/services"
)

func TestGrantRevokeRole(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	orgID := createTestOrg(t, ctx, true)
	admin := createTestUser(t, ctx, orgID)
	grantee := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, admin, orgID, "roles", "grant", "revoke")

	// A plain data role to hand out.
	dataRole := createRole(t, ctx, orgID, "sites", "read")

	svc := services.NewRBACService(testDB, testLogger())

	t.Run("Grant", func(t *testing.T) {
		if err := svc.GrantRole(ctx, admin, grantee, dataRole); err != nil {
			t.Fatalf("failed to grant role: %v", err)
		}
	})

	t.Run("DuplicateGrantConflicts", func(t *testing.T) {
		if err := svc.GrantRole(ctx, admin, grantee, dataRole); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("Revoke", func(t *testing.T) {
		if err := svc.RevokeRole(ctx, admin, grantee, dataRole); err != nil {
			t.Fatalf("failed to revoke role: %v", err)
		}
	})

	t.Run("RevokeMissingEdgeSucceeds", func(t *testing.T) {
		if err := svc.RevokeRole(ctx, admin, grantee, dataRole); err != nil {
			t.Errorf("revoking an absent edge should be silent, got %v", err)
		}
	})

	t.Run("GrantWithoutPermissionLooksMissing", func(t *testing.T) {
		if err := svc.GrantRole(ctx, grantee, admin, dataRole); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GrantUnknownRoleLooksMissing", func(t *testing.T) {
		if err := svc.GrantRole(ctx, admin, grantee, uuid.New()); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestGrantRole_CrossOrganization covers the boundary rules: data roles may
// cross into organizations that accepted the terms of use, permission-system
// roles never cross, and every refusal looks like a missing role.
func TestGrantRole_CrossOrganization(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	homeOrg := createTestOrg(t, ctx, true)
	touOrg := createTestOrg(t, ctx, true)
	noTouOrg := createTestOrg(t, ctx, false)

	admin := createTestUser(t, ctx, homeOrg)
	grantAll(t, ctx, admin, homeOrg, "roles", "grant")

	dataRole := createRole(t, ctx, homeOrg, "sites", "read")
	rbacRole := createRole(t, ctx, homeOrg, "roles", "grant")

	svc := services.NewRBACService(testDB, testLogger())

	t.Run("DataRoleCrossesWithTOU", func(t *testing.T) {
		outsider := createTestUser(t, ctx, touOrg)
		if err := svc.GrantRole(ctx, admin, outsider, dataRole); err != nil {
			t.Fatalf("data role should cross into a TOU org: %v", err)
		}
	})

	t.Run("NoCrossingWithoutTOU", func(t *testing.T) {
		outsider := createTestUser(t, ctx, noTouOrg)
		if err := svc.GrantRole(ctx, admin, outsider, dataRole); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RBACRoleNeverCrosses", func(t *testing.T) {
		outsider := createTestUser(t, ctx, touOrg)
		if err := svc.GrantRole(ctx, admin, outsider, rbacRole); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRolePermissionLifecycle(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()

	orgID := createTestOrg(t, ctx, true)
	admin := createTestUser(t, ctx, orgID)
	grantAll(t, ctx, admin, orgID, "roles", "create", "read", "update", "delete")
	grantAll(t, ctx, admin, orgID, "permissions", "create", "read", "update", "delete")

	svc := services.NewRBACService(testDB, testLogger())

	role, err := svc.CreateRole(ctx, admin, &models.RolePost{
		Name:        "analysts",
		Description: "read-only analysts",
	})
	if err != nil {
		t.Fatalf("failed to create role: %v", err)
	}

	perm, err := svc.CreatePermission(ctx, admin, &models.PermissionPost{
		Description:  "read all sites",
		Action:       "read",
		ObjectType:   "sites",
		AppliesToAll: true,
	})
	if err != nil {
		t.Fatalf("failed to create permission: %v", err)
	}

	t.Run("AttachPermission", func(t *testing.T) {
		if err := svc.AddPermissionToRole(ctx, admin, role.ID, perm.ID); err != nil {
			t.Fatalf("failed to attach permission: %v", err)
		}
		got, err := svc.GetRole(ctx, admin, role.ID)
		if err != nil {
			t.Fatalf("failed to get role: %v", err)
		}
		found := false
		for _, pid := range got.Permissions {
			if pid == perm.ID {
				found = true
			}
		}
		if !found {
			t.Error("attached permission not listed on the role")
		}
	})

	t.Run("DuplicateAttachConflicts", func(t *testing.T) {
		if err := svc.AddPermissionToRole(ctx, admin, role.ID, perm.ID); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("DetachPermission", func(t *testing.T) {
		if err := svc.RemovePermissionFromRole(ctx, admin, role.ID, perm.ID); err != nil {
			t.Fatalf("failed to detach permission: %v", err)
		}
	})

	t.Run("DeleteRole", func(t *testing.T) {
		if err := svc.DeleteRole(ctx, admin, role.ID); err != nil {
			t.Fatalf("failed to delete role: %v", err)
		}
		if _, err := svc.GetRole(ctx, admin, role.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}
