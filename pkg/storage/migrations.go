package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all migrations in order. Versions are append-only;
// never edit an entry that has shipped.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					plan_name VARCHAR(64) NOT NULL DEFAULT 'freemium',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_organizations_plan_name ON organizations(plan_name);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profiles (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(128) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				-- System profiles carry a NULL organization_id; COALESCE folds them
				-- into one namespace so 'Owner' cannot be defined twice.
				CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_org_name
					ON profiles (COALESCE(organization_id, 0), name);
			`,
		},
		{
			Version:     4,
			Description: "Create organization_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organization_members (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					profile_id BIGINT REFERENCES profiles(id) ON DELETE RESTRICT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(organization_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_org_members_user ON organization_members(user_id);
				CREATE INDEX IF NOT EXISTS idx_org_members_profile ON organization_members(profile_id);
			`,
		},
		{
			Version:     5,
			Description: "Create profile_object_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profile_object_permissions (
					id BIGSERIAL PRIMARY KEY,
					profile_id BIGINT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					object_type VARCHAR(64) NOT NULL,
					can_read BOOLEAN NOT NULL DEFAULT FALSE,
					can_create BOOLEAN NOT NULL DEFAULT FALSE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					can_delete BOOLEAN NOT NULL DEFAULT FALSE,
					can_view_all BOOLEAN NOT NULL DEFAULT FALSE,
					access_level VARCHAR(16) NOT NULL DEFAULT 'none',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(profile_id, object_type)
				);
				CREATE INDEX IF NOT EXISTS idx_object_perms_profile ON profile_object_permissions(profile_id);
			`,
		},
		{
			Version:     6,
			Description: "Create profile_field_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profile_field_permissions (
					id BIGSERIAL PRIMARY KEY,
					profile_id BIGINT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					object_type VARCHAR(64) NOT NULL,
					field_name VARCHAR(128) NOT NULL,
					can_read BOOLEAN NOT NULL DEFAULT FALSE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(profile_id, object_type, field_name)
				);
				CREATE INDEX IF NOT EXISTS idx_field_perms_profile_object
					ON profile_field_permissions(profile_id, object_type);
			`,
		},
		{
			Version:     7,
			Description: "Create plan_features table",
			SQL: `
				CREATE TABLE IF NOT EXISTS plan_features (
					id BIGSERIAL PRIMARY KEY,
					plan_name VARCHAR(64) NOT NULL,
					feature_key VARCHAR(128) NOT NULL,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					limits JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(plan_name, feature_key)
				);
				CREATE INDEX IF NOT EXISTS idx_plan_features_plan ON plan_features(plan_name);
			`,
		},
		{
			Version:     8,
			Description: "Create object_definitions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS object_definitions (
					id BIGSERIAL PRIMARY KEY,
					key VARCHAR(64) NOT NULL UNIQUE,
					display_name VARCHAR(128) NOT NULL,
					table_name VARCHAR(128) NOT NULL,
					organization_column VARCHAR(128) NOT NULL DEFAULT 'organization_id',
					owner_column VARCHAR(128) NOT NULL DEFAULT '',
					parents JSONB NOT NULL DEFAULT '[]',
					is_built_in BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     9,
			Description: "Create property management record tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS properties (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					name VARCHAR(255) NOT NULL,
					address TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_properties_org ON properties(organization_id);

				CREATE TABLE IF NOT EXISTS units (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					property_id BIGINT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
					label VARCHAR(128) NOT NULL,
					monthly_rent_cents BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_units_property ON units(property_id);

				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					full_name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL DEFAULT '',
					phone VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_tenants_org ON tenants(organization_id);

				CREATE TABLE IF NOT EXISTS leases (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					unit_id BIGINT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
					tenant_id BIGINT REFERENCES tenants(id) ON DELETE SET NULL,
					starts_on DATE NOT NULL,
					ends_on DATE,
					rent_cents BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_leases_unit ON leases(unit_id);

				CREATE TABLE IF NOT EXISTS payments (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					lease_id BIGINT REFERENCES leases(id) ON DELETE SET NULL,
					tenant_id BIGINT REFERENCES tenants(id) ON DELETE SET NULL,
					amount_cents BIGINT NOT NULL,
					paid_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_payments_lease ON payments(lease_id);
				CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments(tenant_id);
			`,
		},
		{
			Version:     10,
			Description: "Create collaboration record tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tasks (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					assigned_to BIGINT REFERENCES users(id) ON DELETE SET NULL,
					title VARCHAR(255) NOT NULL,
					status VARCHAR(32) NOT NULL DEFAULT 'open',
					due_on DATE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_tasks_org ON tasks(organization_id);
				CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to);

				CREATE TABLE IF NOT EXISTS messages (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					sender_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					subject VARCHAR(255) NOT NULL DEFAULT '',
					body TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_messages_org ON messages(organization_id);

				CREATE TABLE IF NOT EXISTS journal_entries (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					entry_date DATE NOT NULL,
					memo TEXT NOT NULL DEFAULT '',
					amount_cents BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_journal_entries_org ON journal_entries(organization_id);

				CREATE TABLE IF NOT EXISTS reports (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					name VARCHAR(255) NOT NULL,
					definition JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_reports_org ON reports(organization_id);

				CREATE TABLE IF NOT EXISTS activities (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					kind VARCHAR(64) NOT NULL,
					detail TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_activities_org ON activities(organization_id);
			`,
		},
		{
			Version:     11,
			Description: "Create security_events audit table",
			SQL: `
				CREATE TABLE IF NOT EXISTS security_events (
					id BIGSERIAL PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					request_id VARCHAR(64) NOT NULL DEFAULT '',
					user_id BIGINT NOT NULL,
					organization_id BIGINT NOT NULL,
					profile_id BIGINT,
					plan_name VARCHAR(64) NOT NULL DEFAULT '',
					object_type VARCHAR(64) NOT NULL DEFAULT '',
					object_id BIGINT,
					field_name VARCHAR(128) NOT NULL DEFAULT '',
					action VARCHAR(32) NOT NULL DEFAULT '',
					allowed BOOLEAN NOT NULL,
					reason_code VARCHAR(64) NOT NULL DEFAULT '',
					failed_level VARCHAR(16) NOT NULL DEFAULT '',
					detail TEXT NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS idx_security_events_occurred ON security_events(occurred_at);
				CREATE INDEX IF NOT EXISTS idx_security_events_org_user ON security_events(organization_id, user_id);
				CREATE INDEX IF NOT EXISTS idx_security_events_object ON security_events(object_type, object_id);
			`,
		},
		{
			Version:     12,
			Description: "Add active flags to organizations and organization_members",
			SQL: `
				ALTER TABLE organizations ADD COLUMN IF NOT EXISTS is_active BOOLEAN NOT NULL DEFAULT TRUE;
				ALTER TABLE organization_members ADD COLUMN IF NOT EXISTS is_active BOOLEAN NOT NULL DEFAULT TRUE;
			`,
		},
		{
			Version:     13,
			Description: "Add feature_key to security_events",
			SQL: `
				ALTER TABLE security_events ADD COLUMN IF NOT EXISTS feature_key VARCHAR(128) NOT NULL DEFAULT '';
				CREATE INDEX IF NOT EXISTS idx_security_events_feature ON security_events(feature_key) WHERE feature_key <> '';
			`,
		},
		{
			Version:     14,
			Description: "Add profile active flag and sensitive field marker",
			SQL: `
				ALTER TABLE profiles ADD COLUMN IF NOT EXISTS is_active BOOLEAN NOT NULL DEFAULT TRUE;
				ALTER TABLE profile_field_permissions ADD COLUMN IF NOT EXISTS is_sensitive BOOLEAN NOT NULL DEFAULT FALSE;
			`,
		},
	}
}

// RunMigrations applies all pending migrations inside per-migration
// transactions, recording each applied version in doorway_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS doorway_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM doorway_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO doorway_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
