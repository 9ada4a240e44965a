package objects

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists dynamic object definitions.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a definitions store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListDefinitions returns all persisted definitions.
func (s *PostgresStore) ListDefinitions(ctx context.Context) ([]Definition, error) {
	query := `
		SELECT id, key, display_name, table_name, organization_column, owner_column, parents, is_built_in
		FROM object_definitions
		ORDER BY key ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list object definitions: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var def Definition
		var parentsJSON string

		err := rows.Scan(
			&def.ID,
			&def.Key,
			&def.DisplayName,
			&def.TableName,
			&def.OrganizationColumn,
			&def.OwnerColumn,
			&parentsJSON,
			&def.IsBuiltIn,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan object definition: %w", err)
		}

		if parentsJSON != "" {
			if err := json.Unmarshal([]byte(parentsJSON), &def.Parents); err != nil {
				return nil, fmt.Errorf("failed to unmarshal parents for %s: %w", def.Key, err)
			}
		}

		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// UpsertDefinition inserts or updates a definition by key.
func (s *PostgresStore) UpsertDefinition(ctx context.Context, def *Definition) error {
	parentsJSON, err := json.Marshal(def.Parents)
	if err != nil {
		return fmt.Errorf("failed to marshal parents: %w", err)
	}

	query := `
		INSERT INTO object_definitions (key, display_name, table_name, organization_column, owner_column, parents, is_built_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (key)
		DO UPDATE SET display_name = EXCLUDED.display_name,
		              table_name = EXCLUDED.table_name,
		              organization_column = EXCLUDED.organization_column,
		              owner_column = EXCLUDED.owner_column,
		              parents = EXCLUDED.parents,
		              updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		def.Key,
		def.DisplayName,
		def.TableName,
		def.OrganizationColumn,
		def.OwnerColumn,
		string(parentsJSON),
		def.IsBuiltIn,
		now,
	).Scan(&def.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert object definition: %w", err)
	}

	return nil
}
