package security

import (
	"testing"

	"github.com/doorwayhq/doorway/pkg/profiles"
)

func TestFilterFields(t *testing.T) {
	record := map[string]interface{}{
		"id":           int64(9),
		"created_at":   "2026-03-01T10:00:00Z",
		"updated_at":   "2026-03-02T10:00:00Z",
		"amount_cents": 125000,
		"bank_account": "DE02 1203 0000 0000 2020 51",
		"memo":         "March rent",
	}
	fieldPerms := []profiles.FieldPermission{
		{FieldName: "bank_account", CanRead: false},
		{FieldName: "amount_cents", CanRead: true},
	}

	filtered := FilterFields(record, fieldPerms)

	if _, ok := filtered["bank_account"]; ok {
		t.Error("expected bank_account to be removed")
	}
	if filtered["amount_cents"] != 125000 {
		t.Errorf("expected amount_cents to survive, got %v", filtered["amount_cents"])
	}
	// No row for memo: default-allow keeps it.
	if filtered["memo"] != "March rent" {
		t.Errorf("expected memo to survive without a permission row, got %v", filtered["memo"])
	}
	if len(filtered) != len(record)-1 {
		t.Errorf("expected %d fields, got %d", len(record)-1, len(filtered))
	}

	// The input record is left untouched.
	if _, ok := record["bank_account"]; !ok {
		t.Error("expected FilterFields to copy rather than mutate")
	}
}

func TestFilterFields_IdentityColumnsAlwaysSurvive(t *testing.T) {
	record := map[string]interface{}{
		"id":         int64(4),
		"created_at": "2026-01-15T09:30:00Z",
		"updated_at": "2026-01-16T09:30:00Z",
		"title":      "Fix unit 4B heater",
	}
	fieldPerms := []profiles.FieldPermission{
		{FieldName: "id", CanRead: false},
		{FieldName: "created_at", CanRead: false},
		{FieldName: "updated_at", CanRead: false},
		{FieldName: "title", CanRead: false},
	}

	filtered := FilterFields(record, fieldPerms)

	for _, name := range []string{"id", "created_at", "updated_at"} {
		if _, ok := filtered[name]; !ok {
			t.Errorf("expected identity column %q to survive an explicit denial", name)
		}
	}
	if _, ok := filtered["title"]; ok {
		t.Error("expected title to be removed")
	}
}

func TestFilterFields_NoPermissionRows(t *testing.T) {
	record := map[string]interface{}{
		"id":    int64(1),
		"label": "4B",
	}

	filtered := FilterFields(record, nil)
	if len(filtered) != len(record) {
		t.Errorf("expected every field to pass with no permission rows, got %d of %d", len(filtered), len(record))
	}
}
