// Package orgs manages organizations and their memberships. Every record in
// the system hangs off an organization, and a member's profile assignment is
// what connects a user to the permission model.
package orgs

import (
	"errors"
	"time"

	"github.com/doorwayhq/doorway/pkg/plans"
)

var (
	// ErrNotFound means the organization or member does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSlugTaken means another organization already uses the slug.
	ErrSlugTaken = errors.New("organization slug already taken")

	// ErrAlreadyMember means the user is already enrolled in the organization.
	ErrAlreadyMember = errors.New("user is already a member")

	// ErrUnknownPlan means the plan name is not one the system sells.
	ErrUnknownPlan = errors.New("unknown plan")
)

// Organization is one tenant.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	PlanName  string    `json:"plan_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a user's enrollment in one organization. Email and DisplayName
// are joined from the user row; PlanName from the organization, so one
// lookup carries everything the identity middleware needs. IsActive is
// false when either the membership or the organization is deactivated.
type Member struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	UserID         int64     `json:"user_id"`
	ProfileID      *int64    `json:"profile_id,omitempty"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	IsActive       bool      `json:"is_active"`
	PlanName       string    `json:"plan_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var validPlans = map[string]bool{
	plans.PlanFreemium: true,
	plans.PlanStarter:  true,
	plans.PlanGrowth:   true,
	plans.PlanScale:    true,
}

// ValidPlan reports whether name is a sellable plan.
func ValidPlan(name string) bool {
	return validPlans[name]
}
