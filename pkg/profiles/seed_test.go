package profiles

import (
	"context"
	"io"
	"testing"

	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
)

func seedTestLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func totalSeedGrants() int {
	total := 0
	for _, tpl := range DefaultProfiles() {
		total += len(tpl.Grants)
	}
	return total
}

func TestSeedDefaultProfiles(t *testing.T) {
	db := setupProfileDB(t)
	store := NewStore(db)
	ctx := context.Background()

	orgID := createTestOrg(t, db, "acme")

	ids, err := SeedDefaultProfiles(ctx, store, orgID, seedTestLogger())
	if err != nil {
		t.Fatalf("SeedDefaultProfiles failed: %v", err)
	}

	for _, name := range []string{ProfileOwner, ProfileManager, ProfileAccountant, ProfileAgent, ProfileViewer} {
		id, ok := ids[name]
		if !ok {
			t.Errorf("Expected seeded profile %s", name)
			continue
		}
		profile, err := store.GetProfile(ctx, id)
		if err != nil {
			t.Fatalf("GetProfile(%s) failed: %v", name, err)
		}
		if !profile.IsSystem {
			t.Errorf("Seeded profile %s should be a system profile", name)
		}
		if profile.OrganizationID == nil || *profile.OrganizationID != orgID {
			t.Errorf("Seeded profile %s should belong to organization %d", name, orgID)
		}
	}

	owner, err := store.GetObjectPermission(ctx, ids[ProfileOwner], objects.TypeProfile)
	if err != nil {
		t.Fatalf("GetObjectPermission failed: %v", err)
	}
	if owner == nil || owner.AccessLevel != AccessAll {
		t.Errorf("Owner should hold all access on profiles, got %+v", owner)
	}

	agent, err := store.GetObjectPermission(ctx, ids[ProfileAgent], objects.TypeTenant)
	if err != nil {
		t.Fatalf("GetObjectPermission failed: %v", err)
	}
	if agent == nil {
		t.Fatal("Agent should hold a tenant permission")
	}
	if agent.CanViewAll {
		t.Error("Agent must not view other agents' tenants")
	}
	if agent.AccessLevel != AccessReadWrite {
		t.Errorf("Expected agent tenant level read_write, got %s", agent.AccessLevel)
	}

	manager, err := store.GetObjectPermission(ctx, ids[ProfileManager], objects.TypeOrganization)
	if err != nil {
		t.Fatalf("GetObjectPermission failed: %v", err)
	}
	if manager != nil {
		t.Error("Manager must not hold an organization permission")
	}

	viewer, err := store.GetObjectPermission(ctx, ids[ProfileViewer], objects.TypePayment)
	if err != nil {
		t.Fatalf("GetObjectPermission failed: %v", err)
	}
	if viewer == nil || viewer.AccessLevel != AccessRead || !viewer.CanViewAll {
		t.Errorf("Viewer should read all payments, got %+v", viewer)
	}
}

func TestSeedDefaultProfiles_Idempotent(t *testing.T) {
	db := setupProfileDB(t)
	store := NewStore(db)
	ctx := context.Background()

	orgID := createTestOrg(t, db, "acme")

	first, err := SeedDefaultProfiles(ctx, store, orgID, seedTestLogger())
	if err != nil {
		t.Fatalf("First seed failed: %v", err)
	}
	second, err := SeedDefaultProfiles(ctx, store, orgID, seedTestLogger())
	if err != nil {
		t.Fatalf("Second seed failed: %v", err)
	}

	for name, id := range first {
		if second[name] != id {
			t.Errorf("Profile %s changed ID across seeds: %d != %d", name, id, second[name])
		}
	}

	var profileCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM profiles`).Scan(&profileCount); err != nil {
		t.Fatalf("Failed to count profiles: %v", err)
	}
	if profileCount != len(DefaultProfiles()) {
		t.Errorf("Expected %d profiles after double seed, got %d", len(DefaultProfiles()), profileCount)
	}

	var grantCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM profile_object_permissions`).Scan(&grantCount); err != nil {
		t.Fatalf("Failed to count grants: %v", err)
	}
	if grantCount != totalSeedGrants() {
		t.Errorf("Expected %d grant rows after double seed, got %d", totalSeedGrants(), grantCount)
	}
}

func TestSeedDefaultProfiles_TwoOrganizations(t *testing.T) {
	db := setupProfileDB(t)
	store := NewStore(db)
	ctx := context.Background()

	acme := createTestOrg(t, db, "acme")
	globex := createTestOrg(t, db, "globex")

	acmeIDs, err := SeedDefaultProfiles(ctx, store, acme, seedTestLogger())
	if err != nil {
		t.Fatalf("Seed for acme failed: %v", err)
	}
	globexIDs, err := SeedDefaultProfiles(ctx, store, globex, seedTestLogger())
	if err != nil {
		t.Fatalf("Seed for globex failed: %v", err)
	}

	if acmeIDs[ProfileOwner] == globexIDs[ProfileOwner] {
		t.Error("Each organization must get its own Owner profile")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM profiles`).Scan(&count); err != nil {
		t.Fatalf("Failed to count profiles: %v", err)
	}
	if count != 2*len(DefaultProfiles()) {
		t.Errorf("Expected %d profiles across two organizations, got %d", 2*len(DefaultProfiles()), count)
	}
}

func TestSeedGlobalTemplates(t *testing.T) {
	db := setupProfileDB(t)
	store := NewStore(db)
	ctx := context.Background()

	if err := SeedGlobalTemplates(ctx, store, seedTestLogger()); err != nil {
		t.Fatalf("SeedGlobalTemplates failed: %v", err)
	}
	if err := SeedGlobalTemplates(ctx, store, seedTestLogger()); err != nil {
		t.Fatalf("Second SeedGlobalTemplates failed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM profiles WHERE organization_id IS NULL`).Scan(&count); err != nil {
		t.Fatalf("Failed to count global templates: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly one global template, got %d", count)
	}

	global, err := store.GetProfileByName(ctx, nil, ProfileOwner)
	if err != nil {
		t.Fatalf("GetProfileByName failed: %v", err)
	}
	if !global.IsSystem || global.OrganizationID != nil {
		t.Errorf("Global template should be a system profile without an organization, got %+v", global)
	}

	// Organization seeding still creates its own Owner next to the template.
	orgID := createTestOrg(t, db, "acme")
	ids, err := SeedDefaultProfiles(ctx, store, orgID, seedTestLogger())
	if err != nil {
		t.Fatalf("SeedDefaultProfiles failed: %v", err)
	}
	if ids[ProfileOwner] == global.ID {
		t.Error("Organization Owner must not reuse the global template row")
	}
}
