// Package objects maintains the registry of checkable object types and
// resolves which organization and user own a given record. Object types are
// open strings validated against the registry, not a closed enum: a core set
// of built-ins plus tenant-registered dynamic types, optionally sourced from
// a YAML file that is hot-reloaded on change.
package objects

import (
	"errors"
	"fmt"
)

// Built-in object type keys. Reserved: dynamic registrations may not use them.
const (
	TypeProperty     = "property"
	TypeUnit         = "unit"
	TypeTenant       = "tenant"
	TypeLease        = "lease"
	TypePayment      = "payment"
	TypeTask         = "task"
	TypeMessage      = "message"
	TypeJournalEntry = "journal_entry"
	TypeUser         = "user"
	TypeOrganization = "organization"
	TypeProfile      = "profile"
	TypeReport       = "report"
	TypeActivity     = "activity"
)

// Registry and resolver errors.
var (
	// ErrNotFound means the record (or a parent it resolves through) does
	// not exist. Callers decide whether to surface that or fold it into a
	// denial.
	ErrNotFound = errors.New("object not found")

	// ErrUnknownType means the object type key is not registered.
	ErrUnknownType = errors.New("unknown object type")

	// ErrReservedKey means a dynamic registration collides with a built-in.
	ErrReservedKey = errors.New("object type key is reserved")

	// ErrOwnershipChainTooDeep means parent links nest past the resolver's
	// hop limit.
	ErrOwnershipChainTooDeep = errors.New("ownership chain exceeds hop limit")
)

// ValidationError reports why a definition was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid object definition: %s %s", e.Field, e.Reason)
}

// ParentLink points at the parent record a dependent type resolves ownership
// through. Links are tried in order; the first one with a non-NULL foreign
// key wins (payment resolves via lease when linked, via tenant otherwise).
type ParentLink struct {
	Type     string `json:"type" yaml:"type"`
	FKColumn string `json:"fk_column" yaml:"fk_column"`
}

// Definition describes one checkable object type: the table its records live
// in and which columns carry the tenant boundary and the owner. An empty
// OrganizationColumn marks a global type (no tenant boundary of its own); an
// empty OwnerColumn marks an unowned type. Either may instead be resolved
// through Parents.
type Definition struct {
	ID                 int64        `json:"id,omitempty" yaml:"-"`
	Key                string       `json:"key" yaml:"key"`
	DisplayName        string       `json:"display_name" yaml:"display_name"`
	TableName          string       `json:"table_name" yaml:"table_name"`
	OrganizationColumn string       `json:"organization_column,omitempty" yaml:"organization_column,omitempty"`
	OwnerColumn        string       `json:"owner_column,omitempty" yaml:"owner_column,omitempty"`
	Parents            []ParentLink `json:"parents,omitempty" yaml:"parents,omitempty"`
	IsBuiltIn          bool         `json:"is_built_in" yaml:"-"`
}

// Ownership is the resolved tenancy of one record. Nil OrganizationID means
// the record is global (no tenant boundary applies); nil OwnerID means no
// user owns it.
type Ownership struct {
	OrganizationID *int64 `json:"organization_id,omitempty"`
	OwnerID        *int64 `json:"owner_id,omitempty"`
}

// BuiltInDefinitions returns the core object types and their ownership
// wiring. Units, leases and payments resolve owners through their parent
// chain; users and system profiles are global.
func BuiltInDefinitions() []Definition {
	return []Definition{
		{
			Key:                TypeProperty,
			DisplayName:        "Property",
			TableName:          "properties",
			OrganizationColumn: "organization_id",
			OwnerColumn:        "created_by",
			IsBuiltIn:          true,
		},
		{
			Key:                TypeUnit,
			DisplayName:        "Unit",
			TableName:          "units",
			OrganizationColumn: "organization_id",
			Parents:            []ParentLink{{Type: TypeProperty, FKColumn: "property_id"}},
			IsBuiltIn:          true,
		},
		{
			Key:                TypeTenant,
			DisplayName:        "Tenant",
			TableName:          "tenants",
			OrganizationColumn: "organization_id",
			OwnerColumn:        "created_by",
			IsBuiltIn:          true,
		},
		{
			Key:                TypeLease,
			DisplayName:        "Lease",
			TableName:          "leases",
			OrganizationColumn: "organization_id",
			Parents:            []ParentLink{{Type: TypeUnit, FKColumn: "unit_id"}},
			IsBuiltIn:          true,
		},
		{
			Key:                TypePayment,
			DisplayName:        "Payment",
			TableName:          "payments",
			OrganizationColumn: "organization_id",
			Parents: []ParentLink{
				{Type: TypeLease, FKColumn: "lease_id"},
				{Type: TypeTenant, FKColumn: "tenant_id"},
			},
			IsBuiltIn: true,
		},
		{
			Key:                TypeTask,
			DisplayName:        "Task",
			TableName:          "tasks",
			OrganizationColumn: "organization_id",
			OwnerColumn:        "assigned_to",
			IsBuiltIn:          true,
		},
		{
			Key:                TypeMessage,
			DisplayName:        "Message",
			TableName:          "messages",
			OrganizationColumn: "organization_id",
			OwnerColumn:        "sender_id",
			IsBuiltIn:          true,
		},
		{
			Key:                TypeJournalEntry,
			DisplayName:        "Journal Entry",
			TableName:          "journal_entries",
			OrganizationColumn: "organization_id",
			OwnerColumn:        "created_by",
			IsBuiltIn:          true,
		},
		{
			Key:         TypeUser,
			DisplayName: "User",
			TableName:   "users",
			OwnerColumn: "id",
			IsBuiltIn:   true,
		},
		{
			Key:                TypeOrganization,
			DisplayName:        "Organization",
			TableName:          "organizations",
			OrganizationColumn: "id",
			IsBuiltIn:          true,
		},
		{
			Key:                TypeProfile,
			DisplayName:        "Profile",
			TableName:          "profiles",
			OrganizationColumn: "organization_id",
			IsBuiltIn:          true,
		},
		{
			Key:                TypeReport,
			DisplayName:        "Report",
			TableName:          "reports",
			OrganizationColumn: "organization_id",
			OwnerColumn:        "created_by",
			IsBuiltIn:          true,
		},
		{
			Key:                TypeActivity,
			DisplayName:        "Activity",
			TableName:          "activities",
			OrganizationColumn: "organization_id",
			OwnerColumn:        "created_by",
			IsBuiltIn:          true,
		},
	}
}
