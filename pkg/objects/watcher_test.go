package objects

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validDefinitionsYAML = `
object_types:
  - key: work_order
    display_name: Work Order
    table_name: work_orders
    organization_column: organization_id
    owner_column: requested_by
`

const updatedDefinitionsYAML = `
object_types:
  - key: work_order
    display_name: Work Order
    table_name: work_orders
    organization_column: organization_id
    owner_column: requested_by
  - key: vendor
    display_name: Vendor
    table_name: vendors
    organization_column: organization_id
`

func writeDefinitionsFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write definitions file: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestLoadDefinitionsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objects.yaml")
	writeDefinitionsFile(t, path, validDefinitionsYAML)

	r := NewRegistry(nil, testLogger(), nil)
	if err := LoadDefinitionsFile(r, path); err != nil {
		t.Fatalf("LoadDefinitionsFile failed: %v", err)
	}
	if !r.Has("work_order") {
		t.Error("expected work_order from file")
	}

	// Unreadable path
	if err := LoadDefinitionsFile(r, filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	// Malformed YAML
	badPath := filepath.Join(dir, "bad.yaml")
	writeDefinitionsFile(t, badPath, "object_types: [unclosed")
	if err := LoadDefinitionsFile(r, badPath); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if !r.Has("work_order") {
		t.Error("failed load must not clear the registry")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objects.yaml")
	writeDefinitionsFile(t, path, validDefinitionsYAML)

	r := NewRegistry(nil, testLogger(), nil)
	if err := LoadDefinitionsFile(r, path); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	w, err := NewWatcher(r, path, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	writeDefinitionsFile(t, path, updatedDefinitionsYAML)

	if !waitFor(t, 3*time.Second, func() bool { return r.Has("vendor") }) {
		t.Fatal("expected vendor to appear after file update")
	}
}

func TestWatcher_KeepsLastGoodOnInvalidUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objects.yaml")
	writeDefinitionsFile(t, path, updatedDefinitionsYAML)

	r := NewRegistry(nil, testLogger(), nil)
	if err := LoadDefinitionsFile(r, path); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	w, err := NewWatcher(r, path, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	// Invalid YAML lands on disk; the last good definitions stay in effect.
	writeDefinitionsFile(t, path, "object_types: [unclosed")

	// Give the watcher a moment to observe the event.
	time.Sleep(300 * time.Millisecond)

	if !r.Has("work_order") || !r.Has("vendor") {
		t.Error("invalid update must not drop the last good definitions")
	}

	// A later valid update still applies.
	writeDefinitionsFile(t, path, validDefinitionsYAML)
	if !waitFor(t, 3*time.Second, func() bool { return !r.Has("vendor") && r.Has("work_order") }) {
		t.Fatal("expected recovery after a valid update")
	}
}
