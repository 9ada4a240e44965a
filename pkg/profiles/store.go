package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store handles profile and permission persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new profile store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateProfile creates a new custom profile. New profiles always start
// active; deactivation is an explicit update.
func (s *Store) CreateProfile(ctx context.Context, profile *Profile) error {
	profile.IsActive = true

	query := `
		INSERT INTO profiles (organization_id, name, description, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		profile.OrganizationID,
		profile.Name,
		profile.Description,
		profile.IsSystem,
		now,
	).Scan(&profile.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}

	profile.CreatedAt = now
	profile.UpdatedAt = now
	return nil
}

// GetProfile retrieves a profile by ID
func (s *Store) GetProfile(ctx context.Context, profileID int64) (*Profile, error) {
	query := `
		SELECT id, organization_id, name, description, is_system, is_active, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`

	var profile Profile
	var orgID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, profileID).Scan(
		&profile.ID,
		&orgID,
		&profile.Name,
		&profile.Description,
		&profile.IsSystem,
		&profile.IsActive,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %d: %w", profileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if orgID.Valid {
		id := orgID.Int64
		profile.OrganizationID = &id
	}

	return &profile, nil
}

// GetProfileByName retrieves a profile by name. Organization-scoped profiles
// shadow the global templates of the same name.
func (s *Store) GetProfileByName(ctx context.Context, organizationID *int64, name string) (*Profile, error) {
	query := `
		SELECT id, organization_id, name, description, is_system, is_active, created_at, updated_at
		FROM profiles
		WHERE name = $1 AND (organization_id = $2 OR organization_id IS NULL)
		ORDER BY organization_id DESC NULLS LAST
		LIMIT 1
	`

	var profile Profile
	var orgID sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, name, organizationID).Scan(
		&profile.ID,
		&orgID,
		&profile.Name,
		&profile.Description,
		&profile.IsSystem,
		&profile.IsActive,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if orgID.Valid {
		id := orgID.Int64
		profile.OrganizationID = &id
	}

	return &profile, nil
}

// ListProfiles lists an organization's profiles plus the global templates
func (s *Store) ListProfiles(ctx context.Context, organizationID int64) ([]Profile, error) {
	query := `
		SELECT id, organization_id, name, description, is_system, is_active, created_at, updated_at
		FROM profiles
		WHERE organization_id = $1 OR organization_id IS NULL
		ORDER BY is_system DESC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var profile Profile
		var orgID sql.NullInt64

		if err := rows.Scan(
			&profile.ID,
			&orgID,
			&profile.Name,
			&profile.Description,
			&profile.IsSystem,
			&profile.IsActive,
			&profile.CreatedAt,
			&profile.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}

		if orgID.Valid {
			id := orgID.Int64
			profile.OrganizationID = &id
		}

		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

// UpdateProfile updates a custom profile's name, description, and active flag
func (s *Store) UpdateProfile(ctx context.Context, profile *Profile) error {
	existing, err := s.GetProfile(ctx, profile.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemProfileProtected
	}

	query := `
		UPDATE profiles
		SET name = $2, description = $3, is_active = $4, updated_at = $5
		WHERE id = $1
	`

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, profile.ID, profile.Name, profile.Description, profile.IsActive, now); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}

	profile.UpdatedAt = now
	return nil
}

// DeleteProfile deletes a custom profile. System profiles and profiles still
// assigned to members are protected; permission rows cascade with the profile.
func (s *Store) DeleteProfile(ctx context.Context, profileID int64) error {
	existing, err := s.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemProfileProtected
	}

	var members int
	countQuery := `SELECT COUNT(*) FROM organization_members WHERE profile_id = $1`
	if err := s.db.QueryRowContext(ctx, countQuery, profileID).Scan(&members); err != nil {
		return fmt.Errorf("failed to count profile members: %w", err)
	}
	if members > 0 {
		return ErrProfileInUse
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, profileID); err != nil {
		// The members FK is ON DELETE RESTRICT, so an assignment that raced
		// past the count still surfaces as in-use.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrProfileInUse
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	return nil
}

// ObjectPermissions lists a profile's object permission rows
func (s *Store) ObjectPermissions(ctx context.Context, profileID int64) ([]ObjectPermission, error) {
	query := `
		SELECT id, profile_id, object_type, can_read, can_create, can_edit, can_delete, can_view_all, access_level, created_at, updated_at
		FROM profile_object_permissions
		WHERE profile_id = $1
		ORDER BY object_type ASC
	`

	rows, err := s.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list object permissions: %w", err)
	}
	defer rows.Close()

	var perms []ObjectPermission
	for rows.Next() {
		var perm ObjectPermission
		if err := rows.Scan(
			&perm.ID,
			&perm.ProfileID,
			&perm.ObjectType,
			&perm.CanRead,
			&perm.CanCreate,
			&perm.CanEdit,
			&perm.CanDelete,
			&perm.CanViewAll,
			&perm.AccessLevel,
			&perm.CreatedAt,
			&perm.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan object permission: %w", err)
		}
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

// GetObjectPermission retrieves a profile's permission row for one object
// type. Returns nil when the profile has no row for it, or when the profile
// has been deactivated: both read as an undefined permission, which the
// checker denies.
func (s *Store) GetObjectPermission(ctx context.Context, profileID int64, objectType string) (*ObjectPermission, error) {
	query := `
		SELECT op.id, op.profile_id, op.object_type, op.can_read, op.can_create, op.can_edit, op.can_delete, op.can_view_all, op.access_level, op.created_at, op.updated_at
		FROM profile_object_permissions op
		JOIN profiles p ON p.id = op.profile_id AND p.is_active
		WHERE op.profile_id = $1 AND op.object_type = $2
	`

	var perm ObjectPermission
	err := s.db.QueryRowContext(ctx, query, profileID, objectType).Scan(
		&perm.ID,
		&perm.ProfileID,
		&perm.ObjectType,
		&perm.CanRead,
		&perm.CanCreate,
		&perm.CanEdit,
		&perm.CanDelete,
		&perm.CanViewAll,
		&perm.AccessLevel,
		&perm.CreatedAt,
		&perm.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object permission: %w", err)
	}

	return &perm, nil
}

// SetObjectPermission upserts a profile's permission row for an object type.
// The stored access level is always derived from the flags; any client-set
// value on the struct is overwritten.
func (s *Store) SetObjectPermission(ctx context.Context, perm *ObjectPermission) error {
	perm.AccessLevel = perm.DeriveAccessLevel()

	query := `
		INSERT INTO profile_object_permissions (profile_id, object_type, can_read, can_create, can_edit, can_delete, can_view_all, access_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (profile_id, object_type) DO UPDATE SET
			can_read = EXCLUDED.can_read,
			can_create = EXCLUDED.can_create,
			can_edit = EXCLUDED.can_edit,
			can_delete = EXCLUDED.can_delete,
			can_view_all = EXCLUDED.can_view_all,
			access_level = EXCLUDED.access_level,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		perm.ProfileID,
		perm.ObjectType,
		perm.CanRead,
		perm.CanCreate,
		perm.CanEdit,
		perm.CanDelete,
		perm.CanViewAll,
		string(perm.AccessLevel),
		now,
	).Scan(&perm.ID)

	if err != nil {
		return fmt.Errorf("failed to set object permission: %w", err)
	}

	perm.UpdatedAt = now
	return nil
}

// FieldPermissions lists a profile's field permission rows, optionally
// narrowed to one object type.
func (s *Store) FieldPermissions(ctx context.Context, profileID int64, objectType string) ([]FieldPermission, error) {
	query := `
		SELECT id, profile_id, object_type, field_name, can_read, can_edit, is_sensitive, created_at, updated_at
		FROM profile_field_permissions
		WHERE profile_id = $1
	`
	args := []interface{}{profileID}

	if objectType != "" {
		query += ` AND object_type = $2`
		args = append(args, objectType)
	}
	query += ` ORDER BY object_type ASC, field_name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list field permissions: %w", err)
	}
	defer rows.Close()

	var perms []FieldPermission
	for rows.Next() {
		var perm FieldPermission
		if err := rows.Scan(
			&perm.ID,
			&perm.ProfileID,
			&perm.ObjectType,
			&perm.FieldName,
			&perm.CanRead,
			&perm.CanEdit,
			&perm.IsSensitive,
			&perm.CreatedAt,
			&perm.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan field permission: %w", err)
		}
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

// GetFieldPermission retrieves a profile's permission row for one field.
// Returns nil when no row exists: the object-level decision stands.
func (s *Store) GetFieldPermission(ctx context.Context, profileID int64, objectType, fieldName string) (*FieldPermission, error) {
	query := `
		SELECT id, profile_id, object_type, field_name, can_read, can_edit, is_sensitive, created_at, updated_at
		FROM profile_field_permissions
		WHERE profile_id = $1 AND object_type = $2 AND field_name = $3
	`

	var perm FieldPermission
	err := s.db.QueryRowContext(ctx, query, profileID, objectType, fieldName).Scan(
		&perm.ID,
		&perm.ProfileID,
		&perm.ObjectType,
		&perm.FieldName,
		&perm.CanRead,
		&perm.CanEdit,
		&perm.IsSensitive,
		&perm.CreatedAt,
		&perm.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field permission: %w", err)
	}

	return &perm, nil
}

// SetFieldPermission upserts a profile's permission row for a field
func (s *Store) SetFieldPermission(ctx context.Context, perm *FieldPermission) error {
	query := `
		INSERT INTO profile_field_permissions (profile_id, object_type, field_name, can_read, can_edit, is_sensitive, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (profile_id, object_type, field_name) DO UPDATE SET
			can_read = EXCLUDED.can_read,
			can_edit = EXCLUDED.can_edit,
			is_sensitive = EXCLUDED.is_sensitive,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		perm.ProfileID,
		perm.ObjectType,
		perm.FieldName,
		perm.CanRead,
		perm.CanEdit,
		perm.IsSensitive,
		now,
	).Scan(&perm.ID)

	if err != nil {
		return fmt.Errorf("failed to set field permission: %w", err)
	}

	perm.UpdatedAt = now
	return nil
}
