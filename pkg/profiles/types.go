// Package profiles manages permission profiles: the per-organization bundles
// of object and field grants that level 2 and level 4 of the security check
// evaluate. Profiles are assigned to organization members; the five shipped
// profiles are system profiles and cannot be edited or deleted.
package profiles

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a profile does not exist.
	ErrNotFound = errors.New("profile not found")

	// ErrSystemProfileProtected is returned on attempts to modify or delete
	// a system profile.
	ErrSystemProfileProtected = errors.New("system profiles cannot be modified or deleted")

	// ErrProfileInUse is returned when deleting a profile that organization
	// members are still assigned to.
	ErrProfileInUse = errors.New("profile is assigned to organization members")

	// ErrDuplicateName is returned when a profile name is already taken
	// within the organization (or among the global templates).
	ErrDuplicateName = errors.New("a profile with that name already exists")
)

// AccessLevel is the stored summary of an object permission row. It is always
// derived server-side from the five grant flags, never taken from a client.
type AccessLevel string

const (
	AccessNone      AccessLevel = "none"
	AccessRead      AccessLevel = "read"
	AccessReadWrite AccessLevel = "read_write"
	AccessAll       AccessLevel = "all"
)

// Rank orders access levels so they can be compared. Higher is broader.
func (l AccessLevel) Rank() int {
	switch l {
	case AccessAll:
		return 3
	case AccessReadWrite:
		return 2
	case AccessRead:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l grants at least what other grants.
func (l AccessLevel) AtLeast(other AccessLevel) bool {
	return l.Rank() >= other.Rank()
}

// Profile represents a named permission bundle. OrganizationID is nil for
// the global system templates. A deactivated profile keeps its grant rows but
// stops conferring them: permission lookups treat it as having none.
type Profile struct {
	ID             int64     `json:"id"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	IsSystem       bool      `json:"is_system"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsGlobal reports whether the profile is a global template rather than an
// organization-scoped one.
func (p *Profile) IsGlobal() bool {
	return p.OrganizationID == nil
}

// ObjectPermission is a profile's grant row for one object type.
type ObjectPermission struct {
	ID          int64       `json:"id"`
	ProfileID   int64       `json:"profile_id"`
	ObjectType  string      `json:"object_type"`
	CanRead     bool        `json:"can_read"`
	CanCreate   bool        `json:"can_create"`
	CanEdit     bool        `json:"can_edit"`
	CanDelete   bool        `json:"can_delete"`
	CanViewAll  bool        `json:"can_view_all"`
	AccessLevel AccessLevel `json:"access_level"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DeriveAccessLevel collapses the grant flags into the summary level. The
// cascade is strict: "all" requires every write flag plus viewAll, anything
// that can write is "read_write", anything that can only look is "read".
func (p *ObjectPermission) DeriveAccessLevel() AccessLevel {
	switch {
	case p.CanCreate && p.CanEdit && p.CanDelete && p.CanViewAll:
		return AccessAll
	case p.CanCreate || p.CanEdit:
		return AccessReadWrite
	case p.CanRead:
		return AccessRead
	default:
		return AccessNone
	}
}

// FieldPermission narrows access to a single column of an object type. A
// missing row means the object-level decision stands. IsSensitive marks the
// field as carrying sensitive data; it does not change the decision, it tags
// the row for administrators reviewing what a profile can see.
type FieldPermission struct {
	ID          int64     `json:"id"`
	ProfileID   int64     `json:"profile_id"`
	ObjectType  string    `json:"object_type"`
	FieldName   string    `json:"field_name"`
	CanRead     bool      `json:"can_read"`
	CanEdit     bool      `json:"can_edit"`
	IsSensitive bool      `json:"is_sensitive"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
