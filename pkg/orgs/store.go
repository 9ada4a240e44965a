package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/plans"
	"github.com/doorwayhq/doorway/pkg/profiles"
)

// Store handles organization and membership persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new organization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new organization. An empty plan name defaults to freemium.
func (s *Store) Create(ctx context.Context, org *Organization) error {
	if org.PlanName == "" {
		org.PlanName = plans.PlanFreemium
	}
	if !ValidPlan(org.PlanName) {
		return fmt.Errorf("plan %q: %w", org.PlanName, ErrUnknownPlan)
	}

	query := `
		INSERT INTO organizations (name, slug, plan_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		org.Name,
		org.Slug,
		org.PlanName,
		now,
	).Scan(&org.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("slug %q: %w", org.Slug, ErrSlugTaken)
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	org.IsActive = true
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// GetByID retrieves an organization by ID
func (s *Store) GetByID(ctx context.Context, organizationID int64) (*Organization, error) {
	query := `
		SELECT id, name, slug, plan_name, is_active, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	return s.getOrganization(ctx, query, organizationID)
}

// GetBySlug retrieves an organization by its URL slug
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	query := `
		SELECT id, name, slug, plan_name, is_active, created_at, updated_at
		FROM organizations
		WHERE slug = $1
	`
	return s.getOrganization(ctx, query, slug)
}

func (s *Store) getOrganization(ctx context.Context, query string, arg interface{}) (*Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.PlanName,
		&org.IsActive,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// List returns all organizations ordered by name.
func (s *Store) List(ctx context.Context) ([]Organization, error) {
	query := `
		SELECT id, name, slug, plan_name, is_active, created_at, updated_at
		FROM organizations
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.Slug,
			&org.PlanName,
			&org.IsActive,
			&org.CreatedAt,
			&org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	return orgs, rows.Err()
}

// UpdatePlan moves an organization to a different plan. The plan gate picks
// up the change on the next cache miss.
func (s *Store) UpdatePlan(ctx context.Context, organizationID int64, planName string) error {
	if !ValidPlan(planName) {
		return fmt.Errorf("plan %q: %w", planName, ErrUnknownPlan)
	}

	query := `
		UPDATE organizations
		SET plan_name = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, organizationID, planName, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update organization plan: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update organization plan: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("organization %d: %w", organizationID, ErrNotFound)
	}

	return nil
}

// AddMember enrolls a user in an organization. A nil profileID enrolls the
// user without permissions; every object check for them denies until a
// profile is assigned.
func (s *Store) AddMember(ctx context.Context, organizationID, userID int64, profileID *int64) (*Member, error) {
	query := `
		INSERT INTO organization_members (organization_id, user_id, profile_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		RETURNING id
	`

	var memberID int64
	err := s.db.QueryRowContext(ctx, query, organizationID, userID, profileID, time.Now()).Scan(&memberID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, fmt.Errorf("user %d in organization %d: %w", userID, organizationID, ErrAlreadyMember)
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	return s.GetMember(ctx, organizationID, userID)
}

// GetMember retrieves a membership with the user and organization rows
// joined in, so callers resolving a request identity make one query.
func (s *Store) GetMember(ctx context.Context, organizationID, userID int64) (*Member, error) {
	query := `
		SELECT m.id, m.organization_id, m.user_id, m.profile_id,
		       u.email, u.display_name,
		       m.is_active AND o.is_active,
		       o.plan_name, m.created_at, m.updated_at
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		JOIN organizations o ON o.id = m.organization_id
		WHERE m.organization_id = $1 AND m.user_id = $2
	`

	var member Member
	var profileID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, organizationID, userID).Scan(
		&member.ID,
		&member.OrganizationID,
		&member.UserID,
		&profileID,
		&member.Email,
		&member.DisplayName,
		&member.IsActive,
		&member.PlanName,
		&member.CreatedAt,
		&member.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d in organization %d: %w", userID, organizationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	if profileID.Valid {
		id := profileID.Int64
		member.ProfileID = &id
	}

	return &member, nil
}

// SetMemberProfile assigns or clears a member's permission profile.
func (s *Store) SetMemberProfile(ctx context.Context, organizationID, userID int64, profileID *int64) error {
	query := `
		UPDATE organization_members
		SET profile_id = $3, updated_at = $4
		WHERE organization_id = $1 AND user_id = $2
	`

	result, err := s.db.ExecContext(ctx, query, organizationID, userID, profileID, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("profile %v: %w", profileID, profiles.ErrNotFound)
		}
		return fmt.Errorf("failed to set member profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set member profile: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d in organization %d: %w", userID, organizationID, ErrNotFound)
	}

	return nil
}

// CountMembersUsingProfile reports how many members are assigned a profile,
// across all organizations. Backs the in-use guard on profile deletion.
func (s *Store) CountMembersUsingProfile(ctx context.Context, profileID int64) (int, error) {
	query := `SELECT COUNT(*) FROM organization_members WHERE profile_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, profileID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count members using profile: %w", err)
	}

	return count, nil
}

// Onboard creates an organization, seeds its default permission profiles,
// and enrolls the founding user with the Owner profile.
func Onboard(ctx context.Context, store *Store, profileStore *profiles.Store, org *Organization, founderUserID int64, logger *observability.Logger) (*Member, error) {
	if err := store.Create(ctx, org); err != nil {
		return nil, err
	}

	ids, err := profiles.SeedDefaultProfiles(ctx, profileStore, org.ID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to seed profiles for organization %d: %w", org.ID, err)
	}

	ownerProfileID := ids[profiles.ProfileOwner]
	member, err := store.AddMember(ctx, org.ID, founderUserID, &ownerProfileID)
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"organization_id": org.ID,
		"slug":            org.Slug,
		"owner_user_id":   founderUserID,
	}).Info("Organization onboarded")

	return member, nil
}
