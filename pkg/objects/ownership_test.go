package objects

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupDomainDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		);

		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL
		);

		CREATE TABLE profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER,
			name TEXT NOT NULL
		);

		CREATE TABLE properties (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			created_by INTEGER,
			name TEXT NOT NULL
		);

		CREATE TABLE units (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			property_id INTEGER NOT NULL,
			label TEXT NOT NULL
		);

		CREATE TABLE tenants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			created_by INTEGER,
			full_name TEXT NOT NULL
		);

		CREATE TABLE leases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			unit_id INTEGER NOT NULL,
			tenant_id INTEGER
		);

		CREATE TABLE payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			lease_id INTEGER,
			tenant_id INTEGER,
			amount_cents INTEGER NOT NULL
		);

		CREATE TABLE work_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			requested_by INTEGER,
			unit_id INTEGER
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

// seedChain inserts org → user → property → unit → tenant → lease → payment
// and returns the inserted ids.
func seedChain(t *testing.T, db *sql.DB) (orgID, userID, propertyID, unitID, tenantID, leaseID, paymentID int64) {
	t.Helper()
	ctx := context.Background()

	mustInsert := func(query string, args ...interface{}) int64 {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		id, _ := res.LastInsertId()
		return id
	}

	orgID = mustInsert("INSERT INTO organizations (name) VALUES ('Acme Realty')")
	userID = mustInsert("INSERT INTO users (email) VALUES ('agent@acme.test')")
	propertyID = mustInsert("INSERT INTO properties (organization_id, created_by, name) VALUES (?, ?, 'Maple Court')", orgID, userID)
	unitID = mustInsert("INSERT INTO units (organization_id, property_id, label) VALUES (?, ?, '1A')", orgID, propertyID)
	tenantID = mustInsert("INSERT INTO tenants (organization_id, created_by, full_name) VALUES (?, ?, 'Jo Renter')", orgID, userID)
	leaseID = mustInsert("INSERT INTO leases (organization_id, unit_id, tenant_id) VALUES (?, ?, ?)", orgID, unitID, tenantID)
	paymentID = mustInsert("INSERT INTO payments (organization_id, lease_id, tenant_id, amount_cents) VALUES (?, ?, ?, 120000)", orgID, leaseID, tenantID)
	return
}

func TestResolver_DirectOwnership(t *testing.T) {
	db := setupDomainDB(t)
	orgID, userID, propertyID, _, _, _, _ := seedChain(t, db)

	resolver := NewResolver(db, NewRegistry(nil, testLogger(), nil))

	own, err := resolver.Resolve(context.Background(), TypeProperty, propertyID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if own.OrganizationID == nil || *own.OrganizationID != orgID {
		t.Errorf("expected organization %d, got %v", orgID, own.OrganizationID)
	}
	if own.OwnerID == nil || *own.OwnerID != userID {
		t.Errorf("expected owner %d, got %v", userID, own.OwnerID)
	}
}

func TestResolver_TransitiveOwnership(t *testing.T) {
	db := setupDomainDB(t)
	orgID, userID, _, unitID, _, leaseID, paymentID := seedChain(t, db)

	resolver := NewResolver(db, NewRegistry(nil, testLogger(), nil))
	ctx := context.Background()

	tests := []struct {
		name       string
		objectType string
		objectID   int64
	}{
		{"unit resolves owner via property", TypeUnit, unitID},
		{"lease resolves owner via unit and property", TypeLease, leaseID},
		{"payment resolves owner via full chain", TypePayment, paymentID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			own, err := resolver.Resolve(ctx, tt.objectType, tt.objectID)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if own.OrganizationID == nil || *own.OrganizationID != orgID {
				t.Errorf("expected organization %d, got %v", orgID, own.OrganizationID)
			}
			if own.OwnerID == nil || *own.OwnerID != userID {
				t.Errorf("expected owner %d (property creator), got %v", userID, own.OwnerID)
			}
		})
	}
}

func TestResolver_PaymentFallsBackToTenant(t *testing.T) {
	db := setupDomainDB(t)
	orgID, userID, _, _, tenantID, _, _ := seedChain(t, db)
	ctx := context.Background()

	// A payment with no lease resolves through its tenant.
	res, err := db.ExecContext(ctx,
		"INSERT INTO payments (organization_id, lease_id, tenant_id, amount_cents) VALUES (?, NULL, ?, 5000)",
		orgID, tenantID)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	paymentID, _ := res.LastInsertId()

	resolver := NewResolver(db, NewRegistry(nil, testLogger(), nil))
	own, err := resolver.Resolve(ctx, TypePayment, paymentID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if own.OwnerID == nil || *own.OwnerID != userID {
		t.Errorf("expected owner %d (tenant creator), got %v", userID, own.OwnerID)
	}
}

func TestResolver_NotFound(t *testing.T) {
	db := setupDomainDB(t)
	seedChain(t, db)
	ctx := context.Background()

	resolver := NewResolver(db, NewRegistry(nil, testLogger(), nil))

	_, err := resolver.Resolve(ctx, TypeProperty, 99999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing record, got %v", err)
	}

	_, err = resolver.Resolve(ctx, "no_such_type", 1)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestResolver_BrokenLink(t *testing.T) {
	db := setupDomainDB(t)
	orgID, _, _, _, _, _, _ := seedChain(t, db)
	ctx := context.Background()

	// A unit pointing at a property that no longer exists.
	res, err := db.ExecContext(ctx,
		"INSERT INTO units (organization_id, property_id, label) VALUES (?, 424242, 'orphan')", orgID)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	unitID, _ := res.LastInsertId()

	resolver := NewResolver(db, NewRegistry(nil, testLogger(), nil))
	_, err = resolver.Resolve(ctx, TypeUnit, unitID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for broken parent link, got %v", err)
	}
}

func TestResolver_GlobalTypes(t *testing.T) {
	db := setupDomainDB(t)
	orgID, userID, _, _, _, _, _ := seedChain(t, db)
	ctx := context.Background()

	resolver := NewResolver(db, NewRegistry(nil, testLogger(), nil))

	// Users are global: no tenant boundary, owned by themselves.
	own, err := resolver.Resolve(ctx, TypeUser, userID)
	if err != nil {
		t.Fatalf("Resolve(user) failed: %v", err)
	}
	if own.OrganizationID != nil {
		t.Errorf("expected nil organization for a user, got %v", *own.OrganizationID)
	}
	if own.OwnerID == nil || *own.OwnerID != userID {
		t.Errorf("expected user to own their record, got %v", own.OwnerID)
	}

	// An organization belongs to itself.
	own, err = resolver.Resolve(ctx, TypeOrganization, orgID)
	if err != nil {
		t.Fatalf("Resolve(organization) failed: %v", err)
	}
	if own.OrganizationID == nil || *own.OrganizationID != orgID {
		t.Errorf("expected organization %d, got %v", orgID, own.OrganizationID)
	}

	// A system profile has a NULL organization: global, unowned.
	res, err := db.ExecContext(ctx, "INSERT INTO profiles (organization_id, name) VALUES (NULL, 'Owner')")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	profileID, _ := res.LastInsertId()

	own, err = resolver.Resolve(ctx, TypeProfile, profileID)
	if err != nil {
		t.Fatalf("Resolve(profile) failed: %v", err)
	}
	if own.OrganizationID != nil || own.OwnerID != nil {
		t.Errorf("expected global unowned profile, got %+v", own)
	}
}

func TestResolver_DynamicType(t *testing.T) {
	db := setupDomainDB(t)
	orgID, userID, _, unitID, _, _, _ := seedChain(t, db)
	ctx := context.Background()

	registry := NewRegistry(nil, testLogger(), nil)
	err := registry.Register(ctx, Definition{
		Key:                "work_order",
		DisplayName:        "Work Order",
		TableName:          "work_orders",
		OrganizationColumn: "organization_id",
		OwnerColumn:        "requested_by",
		Parents:            []ParentLink{{Type: TypeUnit, FKColumn: "unit_id"}},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	res, err := db.ExecContext(ctx,
		"INSERT INTO work_orders (organization_id, requested_by, unit_id) VALUES (?, ?, ?)",
		orgID, userID, unitID)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	workOrderID, _ := res.LastInsertId()

	resolver := NewResolver(db, registry)
	own, err := resolver.Resolve(ctx, "work_order", workOrderID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if own.OrganizationID == nil || *own.OrganizationID != orgID {
		t.Errorf("expected organization %d, got %v", orgID, own.OrganizationID)
	}
	if own.OwnerID == nil || *own.OwnerID != userID {
		t.Errorf("expected owner %d, got %v", userID, own.OwnerID)
	}

	// Owner column NULL on the row: falls through to the unit's chain.
	res, err = db.ExecContext(ctx,
		"INSERT INTO work_orders (organization_id, requested_by, unit_id) VALUES (?, NULL, ?)",
		orgID, unitID)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	unownedID, _ := res.LastInsertId()

	own, err = resolver.Resolve(ctx, "work_order", unownedID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if own.OwnerID == nil || *own.OwnerID != userID {
		t.Errorf("expected owner via unit chain, got %v", own.OwnerID)
	}
}
