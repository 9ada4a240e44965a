package objects

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/doorwayhq/doorway/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func setupDefinitionsDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE object_definitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			organization_column TEXT NOT NULL DEFAULT 'organization_id',
			owner_column TEXT NOT NULL DEFAULT '',
			parents TEXT NOT NULL DEFAULT '[]',
			is_built_in INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func TestRegistry_BuiltIns(t *testing.T) {
	r := NewRegistry(nil, testLogger(), nil)

	builtIns := []string{
		TypeProperty, TypeUnit, TypeTenant, TypeLease, TypePayment,
		TypeTask, TypeMessage, TypeJournalEntry, TypeUser,
		TypeOrganization, TypeProfile, TypeReport, TypeActivity,
	}
	for _, key := range builtIns {
		def, err := r.Get(key)
		if err != nil {
			t.Errorf("Get(%q) failed: %v", key, err)
			continue
		}
		if !def.IsBuiltIn {
			t.Errorf("expected %q to be built-in", key)
		}
	}

	if len(r.List()) != len(builtIns) {
		t.Errorf("expected %d definitions, got %d", len(builtIns), len(r.List()))
	}

	property, err := r.Get(TypeProperty)
	if err != nil {
		t.Fatalf("Get(property) failed: %v", err)
	}
	if property.TableName != "properties" || property.OwnerColumn != "created_by" {
		t.Errorf("unexpected property definition: %+v", property)
	}

	payment, err := r.Get(TypePayment)
	if err != nil {
		t.Fatalf("Get(payment) failed: %v", err)
	}
	if len(payment.Parents) != 2 || payment.Parents[0].Type != TypeLease || payment.Parents[1].Type != TypeTenant {
		t.Errorf("payment should resolve via lease then tenant, got %+v", payment.Parents)
	}
}

func TestRegistry_Get_UnknownType(t *testing.T) {
	r := NewRegistry(nil, testLogger(), nil)

	_, err := r.Get("no_such_type")
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	db := setupDefinitionsDB(t)
	store := NewPostgresStore(db)
	r := NewRegistry(store, testLogger(), nil)

	def := Definition{
		Key:                "work_order",
		DisplayName:        "Work Order",
		TableName:          "work_orders",
		OrganizationColumn: "organization_id",
		OwnerColumn:        "requested_by",
		Parents:            []ParentLink{{Type: TypeUnit, FKColumn: "unit_id"}},
	}

	if err := r.Register(ctx, def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := r.Get("work_order")
	if err != nil {
		t.Fatalf("Get(work_order) failed: %v", err)
	}
	if got.TableName != "work_orders" || got.IsBuiltIn {
		t.Errorf("unexpected registered definition: %+v", got)
	}

	// Persisted and reloadable into a fresh registry.
	fresh := NewRegistry(store, testLogger(), nil)
	if err := fresh.LoadPersisted(ctx); err != nil {
		t.Fatalf("LoadPersisted failed: %v", err)
	}
	if !fresh.Has("work_order") {
		t.Error("expected work_order to survive a reload from the store")
	}
}

func TestRegistry_Register_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupDefinitionsDB(t)
	store := NewPostgresStore(db)
	r := NewRegistry(store, testLogger(), nil)

	def := Definition{
		Key:                "inspection",
		DisplayName:        "Inspection",
		TableName:          "inspections",
		OrganizationColumn: "organization_id",
	}
	if err := r.Register(ctx, def); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	def.DisplayName = "Site Inspection"
	if err := r.Register(ctx, def); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM object_definitions WHERE key = 'inspection'").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one row after re-register, got %d", count)
	}

	got, _ := r.Get("inspection")
	if got.DisplayName != "Site Inspection" {
		t.Errorf("expected updated display name, got %q", got.DisplayName)
	}
}

func TestRegistry_Register_Validation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, testLogger(), nil)

	tests := []struct {
		name    string
		def     Definition
		wantErr error
	}{
		{
			name:    "reserved built-in key",
			def:     Definition{Key: TypeProperty, DisplayName: "Property", TableName: "properties"},
			wantErr: ErrReservedKey,
		},
		{
			name: "uppercase key",
			def:  Definition{Key: "WorkOrder", DisplayName: "Work Order", TableName: "work_orders"},
		},
		{
			name: "key too short",
			def:  Definition{Key: "w", DisplayName: "W", TableName: "w"},
		},
		{
			name: "missing display name",
			def:  Definition{Key: "work_order", TableName: "work_orders"},
		},
		{
			name: "table name not an identifier",
			def:  Definition{Key: "work_order", DisplayName: "Work Order", TableName: "work_orders; DROP TABLE users"},
		},
		{
			name: "owner column not an identifier",
			def: Definition{
				Key: "work_order", DisplayName: "Work Order", TableName: "work_orders",
				OwnerColumn: "owner id",
			},
		},
		{
			name: "unknown parent type",
			def: Definition{
				Key: "work_order", DisplayName: "Work Order", TableName: "work_orders",
				Parents: []ParentLink{{Type: "no_such_parent", FKColumn: "parent_id"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(ctx, tt.def)
			if err == nil {
				t.Fatal("expected registration to fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegistry_Register_ChainTooDeep(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, testLogger(), nil)

	// payment→lease→unit→property is already 3 hops; hanging another type
	// off payment exceeds the limit.
	err := r.Register(ctx, Definition{
		Key:         "refund",
		DisplayName: "Refund",
		TableName:   "refunds",
		Parents:     []ParentLink{{Type: TypePayment, FKColumn: "payment_id"}},
	})
	if err == nil {
		t.Fatal("expected chain depth validation to fail")
	}

	// One hop off a direct type is fine.
	err = r.Register(ctx, Definition{
		Key:         "inspection",
		DisplayName: "Inspection",
		TableName:   "inspections",
		Parents:     []ParentLink{{Type: TypeProperty, FKColumn: "property_id"}},
	})
	if err != nil {
		t.Fatalf("expected shallow chain to register, got %v", err)
	}
}

func TestRegistry_ApplyFileDefinitions(t *testing.T) {
	r := NewRegistry(nil, testLogger(), nil)

	first := []Definition{
		{Key: "work_order", DisplayName: "Work Order", TableName: "work_orders", OrganizationColumn: "organization_id"},
		{Key: "vendor", DisplayName: "Vendor", TableName: "vendors", OrganizationColumn: "organization_id"},
	}
	if err := r.ApplyFileDefinitions(first); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if !r.Has("work_order") || !r.Has("vendor") {
		t.Fatal("expected file definitions to be registered")
	}

	// A new file replaces the old file set entirely.
	second := []Definition{
		{Key: "vendor", DisplayName: "Vendor", TableName: "vendors", OrganizationColumn: "organization_id"},
	}
	if err := r.ApplyFileDefinitions(second); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if r.Has("work_order") {
		t.Error("expected work_order to be dropped with the old file set")
	}
	if !r.Has("vendor") {
		t.Error("expected vendor to survive")
	}

	// An invalid batch must leave the last good set in effect.
	bad := []Definition{
		{Key: "supplier", DisplayName: "Supplier", TableName: "suppliers", OrganizationColumn: "organization_id"},
		{Key: TypeProperty, DisplayName: "Property", TableName: "properties"},
	}
	if err := r.ApplyFileDefinitions(bad); err == nil {
		t.Fatal("expected reserved key in file to fail the batch")
	}
	if r.Has("supplier") {
		t.Error("rejected batch must not be partially applied")
	}
	if !r.Has("vendor") {
		t.Error("last good set must stay in effect after a rejected batch")
	}
}
