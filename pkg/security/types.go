// Package security implements the four-level access check that gates every
// record operation: plan feature, object permission, record ownership, field
// permission. Levels run strictly in order and the first failure decides the
// result. Missing configuration and store failures deny; nothing here fails
// open.
package security

import (
	"time"
)

// Action names one of the operations a permission row can grant.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionViewAll Action = "view_all"
)

// Valid reports whether the action is one the checker understands.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionEdit, ActionDelete, ActionViewAll:
		return true
	}
	return false
}

// Level identifies one of the four check levels.
type Level string

const (
	LevelPlan   Level = "plan"
	LevelObject Level = "object"
	LevelRecord Level = "record"
	LevelField  Level = "field"
)

// Machine-readable reason codes. The record level exposes only
// ReasonRecordNotAccessible so a denial never reveals whether the record
// exists; the underlying cause is kept on CheckResult.Detail for audit.
const (
	ReasonUnauthenticated           = "unauthenticated"
	ReasonFeatureDisabled           = "feature_disabled"
	ReasonProfileMissing            = "profile_missing"
	ReasonObjectPermissionUndefined = "object_permission_undefined"
	ReasonActionNotPermitted        = "action_not_permitted"
	ReasonRecordNotAccessible       = "record_not_accessible"
	ReasonFieldNotPermitted         = "field_not_permitted"
	ReasonStoreError                = "store_error"
)

// Internal detail codes behind ReasonRecordNotAccessible.
const (
	DetailObjectNotFound     = "object_not_found"
	DetailOwnershipViolation = "ownership_violation"
)

// SecurityContext identifies the caller for one request. It is built by the
// identity middleware and threaded explicitly through every check; the
// checker never reads ambient session state.
type SecurityContext struct {
	UserID         int64  `json:"user_id"`
	OrganizationID int64  `json:"organization_id"`
	ProfileID      *int64 `json:"profile_id,omitempty"`
	PlanName       string `json:"plan_name"`
}

// Authenticated reports whether the context names a real caller.
func (sc *SecurityContext) Authenticated() bool {
	return sc != nil && sc.UserID > 0 && sc.OrganizationID > 0
}

// CheckParams describes one access question. Zero-valued parts skip their
// level: no FeatureKey skips the plan gate, no ObjectID skips the record
// level, no FieldName skips the field level.
type CheckParams struct {
	FeatureKey string `json:"feature_key,omitempty"`
	ObjectType string `json:"object_type,omitempty"`
	ObjectID   *int64 `json:"object_id,omitempty"`
	Action     Action `json:"action,omitempty"`
	FieldName  string `json:"field_name,omitempty"`
}

// LevelResult records the verdict of one evaluated level. Levels that were
// short-circuited or not applicable do not appear.
type LevelResult struct {
	Level      Level  `json:"level"`
	Passed     bool   `json:"passed"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// CheckResult is the outcome of a security check.
type CheckResult struct {
	Allowed     bool          `json:"allowed"`
	Reason      string        `json:"reason,omitempty"`
	ReasonCode  string        `json:"reason_code,omitempty"`
	FailedLevel Level         `json:"failed_level,omitempty"`
	Levels      []LevelResult `json:"levels,omitempty"`
	CheckedAt   time.Time     `json:"checked_at"`

	// Detail carries the internal cause of a record-level denial
	// (object_not_found vs ownership_violation) for audit and logs. It is
	// never serialized to callers.
	Detail string `json:"-"`
}
