package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/profiles"
)

// PlanGate answers level 1: whether a feature is enabled for a plan.
type PlanGate interface {
	IsFeatureEnabled(ctx context.Context, planName, featureKey string) (bool, error)
}

// PermissionStore answers levels 2 and 4 from a profile's grant rows. Both
// lookups return nil (not an error) when no row exists.
type PermissionStore interface {
	GetObjectPermission(ctx context.Context, profileID int64, objectType string) (*profiles.ObjectPermission, error)
	GetFieldPermission(ctx context.Context, profileID int64, objectType, fieldName string) (*profiles.FieldPermission, error)
}

// OwnershipResolver answers level 3: which organization and user own a record.
type OwnershipResolver interface {
	Resolve(ctx context.Context, objectType string, objectID int64) (*objects.Ownership, error)
}

// Checker walks the four levels in order and short-circuits on the first
// failure. It holds no state of its own; every decision is a fresh read
// through the injected stores.
type Checker struct {
	plans     PlanGate
	perms     PermissionStore
	ownership OwnershipResolver
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// NewChecker creates a security checker.
func NewChecker(
	plans PlanGate,
	perms PermissionStore,
	ownership OwnershipResolver,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Checker {
	return &Checker{
		plans:     plans,
		perms:     perms,
		ownership: ownership,
		logger:    logger,
		metrics:   metrics,
		tracer:    observability.Tracer(),
	}
}

// The uniform record-level denial text. Deliberately ambiguous between "does
// not exist" and "not yours" so a denial never confirms existence.
const recordDeniedReason = "record does not exist or is not accessible"

// Check evaluates params against the caller's context. It never returns an
// error: store failures are logged, counted, and converted to a denial.
func (c *Checker) Check(ctx context.Context, sc *SecurityContext, params CheckParams) *CheckResult {
	ctx, span := c.tracer.Start(ctx, "security.check", trace.WithAttributes(
		attribute.String("doorway.object_type", params.ObjectType),
		attribute.String("doorway.action", string(params.Action)),
		attribute.String("doorway.feature_key", params.FeatureKey),
	))
	defer span.End()

	start := time.Now()
	result := c.evaluate(ctx, sc, params)
	result.CheckedAt = time.Now()

	span.SetAttributes(
		attribute.Bool("doorway.allowed", result.Allowed),
		attribute.String("doorway.reason_code", result.ReasonCode),
	)
	if c.metrics != nil {
		c.metrics.ObserveCheck(result.Allowed, string(result.FailedLevel), result.ReasonCode, time.Since(start))
	}

	return result
}

// CanAccessFeature answers the plan gate alone.
func (c *Checker) CanAccessFeature(ctx context.Context, sc *SecurityContext, featureKey string) bool {
	return c.Check(ctx, sc, CheckParams{FeatureKey: featureKey}).Allowed
}

// CanPerformAction answers the object (and, when objectID is given, record)
// levels for one action.
func (c *Checker) CanPerformAction(ctx context.Context, sc *SecurityContext, objectType string, objectID *int64, action Action) bool {
	return c.Check(ctx, sc, CheckParams{ObjectType: objectType, ObjectID: objectID, Action: action}).Allowed
}

func (c *Checker) evaluate(ctx context.Context, sc *SecurityContext, params CheckParams) *CheckResult {
	var levels []LevelResult

	if !sc.Authenticated() {
		return deny(levels, LevelPlan, ReasonUnauthenticated, "caller is not authenticated")
	}

	// A caller without a profile holds no grants of any kind. This gate runs
	// before every level, so even a feature-only question fails closed.
	if sc.ProfileID == nil {
		return deny(levels, LevelObject, ReasonProfileMissing, "caller has no permission profile")
	}

	// Level 1: plan feature gate.
	if params.FeatureKey != "" {
		enabled, err := c.plans.IsFeatureEnabled(ctx, sc.PlanName, params.FeatureKey)
		if err != nil {
			return c.storeFailure(levels, LevelPlan, err)
		}
		if !enabled {
			return deny(levels, LevelPlan, ReasonFeatureDisabled,
				fmt.Sprintf("feature %q is not enabled for plan %q", params.FeatureKey, sc.PlanName))
		}
		levels = append(levels, LevelResult{Level: LevelPlan, Passed: true})
	}

	// A feature-only question stops here.
	if params.ObjectType == "" {
		return allow(levels)
	}

	// Level 2: object permission.
	if !params.Action.Valid() {
		return deny(levels, LevelObject, ReasonActionNotPermitted,
			fmt.Sprintf("unknown action %q", params.Action))
	}

	perm, err := c.perms.GetObjectPermission(ctx, *sc.ProfileID, params.ObjectType)
	if err != nil {
		return c.storeFailure(levels, LevelObject, err)
	}
	if perm == nil {
		return deny(levels, LevelObject, ReasonObjectPermissionUndefined,
			fmt.Sprintf("no permission is defined for object type %q", params.ObjectType))
	}
	if !actionPermitted(perm, params.Action) {
		return deny(levels, LevelObject, ReasonActionNotPermitted,
			fmt.Sprintf("action %q is not permitted on %q", params.Action, params.ObjectType))
	}
	levels = append(levels, LevelResult{Level: LevelObject, Passed: true})

	// Level 3: record ownership.
	if params.ObjectID != nil {
		own, err := c.ownership.Resolve(ctx, params.ObjectType, *params.ObjectID)
		switch {
		case errors.Is(err, objects.ErrNotFound) || errors.Is(err, objects.ErrUnknownType):
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"object_type": params.ObjectType,
				"object_id":   *params.ObjectID,
				"user_id":     sc.UserID,
			}).Debugf("Record lookup failed during security check")
			return denyDetail(levels, LevelRecord, ReasonRecordNotAccessible, recordDeniedReason, DetailObjectNotFound)
		case err != nil:
			return c.storeFailure(levels, LevelRecord, err)
		}

		// The tenant boundary is absolute: a record in another organization
		// is denied no matter what the profile grants.
		if own.OrganizationID != nil && *own.OrganizationID != sc.OrganizationID {
			return denyDetail(levels, LevelRecord, ReasonRecordNotAccessible, recordDeniedReason, DetailOwnershipViolation)
		}

		// Owners pass on their own records; everyone else needs viewAll.
		isOwner := own.OwnerID != nil && *own.OwnerID == sc.UserID
		if !isOwner && !perm.CanViewAll {
			return denyDetail(levels, LevelRecord, ReasonRecordNotAccessible, recordDeniedReason, DetailOwnershipViolation)
		}
		levels = append(levels, LevelResult{Level: LevelRecord, Passed: true})
	}

	// Level 4: field permission. An absent row keeps the object-level
	// decision; only an explicit row can narrow it.
	if params.FieldName != "" {
		fieldPerm, err := c.perms.GetFieldPermission(ctx, *sc.ProfileID, params.ObjectType, params.FieldName)
		if err != nil {
			return c.storeFailure(levels, LevelField, err)
		}
		if fieldPerm != nil && !fieldActionPermitted(fieldPerm, params.Action) {
			return deny(levels, LevelField, ReasonFieldNotPermitted,
				fmt.Sprintf("field %q is not permitted for action %q", params.FieldName, params.Action))
		}
		levels = append(levels, LevelResult{Level: LevelField, Passed: true})
	}

	return allow(levels)
}

// storeFailure converts a data-access failure into a denial.
func (c *Checker) storeFailure(levels []LevelResult, level Level, err error) *CheckResult {
	c.logger.WithError(err).WithField("level", string(level)).Errorf("Store failure during security check, denying")
	if c.metrics != nil {
		c.metrics.SecurityStoreErrors.WithLabelValues(string(level)).Inc()
	}
	return deny(levels, level, ReasonStoreError, "security check could not be completed")
}

func actionPermitted(perm *profiles.ObjectPermission, action Action) bool {
	switch action {
	case ActionRead:
		return perm.CanRead
	case ActionCreate:
		return perm.CanCreate
	case ActionEdit:
		return perm.CanEdit
	case ActionDelete:
		return perm.CanDelete
	case ActionViewAll:
		return perm.CanViewAll && perm.CanRead
	default:
		return false
	}
}

// fieldActionPermitted maps actions onto the two field flags: reads need
// can_read, writes need can_edit.
func fieldActionPermitted(perm *profiles.FieldPermission, action Action) bool {
	switch action {
	case ActionRead, ActionViewAll:
		return perm.CanRead
	case ActionCreate, ActionEdit, ActionDelete:
		return perm.CanEdit
	default:
		return false
	}
}

func allow(levels []LevelResult) *CheckResult {
	return &CheckResult{Allowed: true, Levels: levels}
}

func deny(levels []LevelResult, level Level, code, reason string) *CheckResult {
	return denyDetail(levels, level, code, reason, "")
}

func denyDetail(levels []LevelResult, level Level, code, reason, detail string) *CheckResult {
	return &CheckResult{
		Allowed:     false,
		Reason:      reason,
		ReasonCode:  code,
		FailedLevel: level,
		Levels:      append(levels, LevelResult{Level: level, Passed: false, ReasonCode: code}),
		Detail:      detail,
	}
}
