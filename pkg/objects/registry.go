package objects

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/doorwayhq/doorway/pkg/observability"
)

// maxParentDepth bounds ownership chains: payment→lease→unit→property is the
// deepest built-in chain at 3 hops.
const maxParentDepth = 3

var (
	// Dynamic type keys: lowercase, digits, underscores; 2-63 chars.
	keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

	// Table and column names are interpolated into ownership queries, so
	// they are held to strict identifier syntax.
	identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// Store persists tenant-registered definitions across restarts. Built-in and
// file-sourced definitions are never persisted.
type Store interface {
	ListDefinitions(ctx context.Context) ([]Definition, error)
	UpsertDefinition(ctx context.Context, def *Definition) error
}

// Registry holds every known object type. Built-ins are seeded at
// construction; dynamic types arrive from the store and from the optional
// definitions file. Reads vastly outnumber writes, so a RWMutex suffices.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	fileKeys map[string]struct{}
	store    Store
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRegistry creates a registry seeded with the built-in definitions. store
// and metrics may be nil.
func NewRegistry(store Store, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	r := &Registry{
		defs:     make(map[string]Definition),
		fileKeys: make(map[string]struct{}),
		store:    store,
		logger:   logger,
		metrics:  metrics,
	}
	for _, def := range BuiltInDefinitions() {
		r.defs[def.Key] = def
	}
	r.updateGauge()
	return r
}

// LoadPersisted pulls tenant-registered definitions from the store. Called
// once at startup, after which Register keeps store and memory in sync.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	defs, err := r.store.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load object definitions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	loaded := 0
	for _, def := range defs {
		if def.IsBuiltIn {
			continue
		}
		if _, reserved := r.defs[def.Key]; reserved {
			if _, fromFile := r.fileKeys[def.Key]; !fromFile {
				r.logger.WithField("object_type", def.Key).Warnf("Skipping persisted definition shadowing an existing type")
				continue
			}
		}
		r.defs[def.Key] = def
		loaded++
	}
	r.updateGaugeLocked()

	r.logger.WithField("count", loaded).Infof("Loaded persisted object definitions")
	return nil
}

// Register validates and adds a tenant-defined object type, persisting it
// when a store is configured. Built-in keys are reserved.
func (r *Registry) Register(ctx context.Context, def Definition) error {
	def.IsBuiltIn = false

	if isBuiltInKey(def.Key) {
		return fmt.Errorf("%w: %s", ErrReservedKey, def.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := r.snapshotLocked()
	candidate[def.Key] = def
	if err := validateDefinition(def, candidate); err != nil {
		return err
	}

	if r.store != nil {
		if err := r.store.UpsertDefinition(ctx, &def); err != nil {
			return fmt.Errorf("failed to persist object definition: %w", err)
		}
	}

	r.defs[def.Key] = def
	delete(r.fileKeys, def.Key)
	r.updateGaugeLocked()

	r.logger.WithFields(map[string]interface{}{
		"object_type": def.Key,
		"table":       def.TableName,
	}).Infof("Registered object type")
	return nil
}

// ApplyFileDefinitions replaces the file-sourced subset of the registry with
// defs. The whole batch is validated first; any invalid entry rejects the
// batch so the last good set stays in effect.
func (r *Registry) ApplyFileDefinitions(defs []Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Candidate view: current registry minus the old file set, plus the new.
	candidate := r.snapshotLocked()
	for key := range r.fileKeys {
		delete(candidate, key)
	}
	for i := range defs {
		defs[i].IsBuiltIn = false
		if isBuiltInKey(defs[i].Key) {
			return fmt.Errorf("%w: %s", ErrReservedKey, defs[i].Key)
		}
		if _, ok := candidate[defs[i].Key]; ok {
			return &ValidationError{Field: "key", Reason: fmt.Sprintf("%q duplicates an already-registered type", defs[i].Key)}
		}
		candidate[defs[i].Key] = defs[i]
	}
	for _, def := range defs {
		if err := validateDefinition(def, candidate); err != nil {
			return err
		}
	}

	for key := range r.fileKeys {
		delete(r.defs, key)
	}
	r.fileKeys = make(map[string]struct{}, len(defs))
	for _, def := range defs {
		r.defs[def.Key] = def
		r.fileKeys[def.Key] = struct{}{}
	}
	r.updateGaugeLocked()

	r.logger.WithField("count", len(defs)).Infof("Applied object definitions file")
	return nil
}

// Get returns the definition for key.
func (r *Registry) Get(key string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[key]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownType, key)
	}
	return def, nil
}

// Has reports whether key names a registered object type.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[key]
	return ok
}

// List returns all definitions ordered by key.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs
}

func (r *Registry) snapshotLocked() map[string]Definition {
	snapshot := make(map[string]Definition, len(r.defs))
	for key, def := range r.defs {
		snapshot[key] = def
	}
	return snapshot
}

func (r *Registry) updateGauge() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.updateGaugeLocked()
}

func (r *Registry) updateGaugeLocked() {
	if r.metrics != nil {
		r.metrics.ObjectTypesRegistered.Set(float64(len(r.defs)))
	}
}

func isBuiltInKey(key string) bool {
	for _, def := range BuiltInDefinitions() {
		if def.Key == key {
			return true
		}
	}
	return false
}

// validateDefinition checks def against the candidate registry view: key and
// identifier syntax, parent existence, and ownership chain depth.
func validateDefinition(def Definition, candidate map[string]Definition) error {
	if !keyPattern.MatchString(def.Key) {
		return &ValidationError{Field: "key", Reason: fmt.Sprintf("%q must match %s", def.Key, keyPattern.String())}
	}
	if def.DisplayName == "" {
		return &ValidationError{Field: "display_name", Reason: "is required"}
	}
	if !identifierPattern.MatchString(def.TableName) {
		return &ValidationError{Field: "table_name", Reason: fmt.Sprintf("%q is not a valid identifier", def.TableName)}
	}
	if def.OrganizationColumn != "" && !identifierPattern.MatchString(def.OrganizationColumn) {
		return &ValidationError{Field: "organization_column", Reason: fmt.Sprintf("%q is not a valid identifier", def.OrganizationColumn)}
	}
	if def.OwnerColumn != "" && !identifierPattern.MatchString(def.OwnerColumn) {
		return &ValidationError{Field: "owner_column", Reason: fmt.Sprintf("%q is not a valid identifier", def.OwnerColumn)}
	}

	for _, link := range def.Parents {
		if !identifierPattern.MatchString(link.FKColumn) {
			return &ValidationError{Field: "parents", Reason: fmt.Sprintf("fk_column %q is not a valid identifier", link.FKColumn)}
		}
		if _, ok := candidate[link.Type]; !ok {
			return &ValidationError{Field: "parents", Reason: fmt.Sprintf("parent type %q is not registered", link.Type)}
		}
	}

	if depth := chainDepth(def, candidate, 0); depth > maxParentDepth {
		return &ValidationError{Field: "parents", Reason: fmt.Sprintf("ownership chain exceeds %d hops", maxParentDepth)}
	}

	return nil
}

// chainDepth returns the longest parent chain reachable from def, capped one
// past maxParentDepth so cycles terminate.
func chainDepth(def Definition, candidate map[string]Definition, depth int) int {
	if depth > maxParentDepth {
		return depth
	}
	deepest := depth
	for _, link := range def.Parents {
		parent, ok := candidate[link.Type]
		if !ok {
			continue
		}
		if d := chainDepth(parent, candidate, depth+1); d > deepest {
			deepest = d
		}
	}
	return deepest
}
