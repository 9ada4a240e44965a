package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the read side the security checker depends on.
type Store interface {
	// IsFeatureEnabled reports whether featureKey is on for planName.
	// A plan with no row for the key is disabled, not an error.
	IsFeatureEnabled(ctx context.Context, planName, featureKey string) (bool, error)

	// EnabledFeatures returns every enabled feature key for planName in one
	// query, for callers testing many keys.
	EnabledFeatures(ctx context.Context, planName string) (FeatureSet, error)
}

// PostgresStore reads and writes plan features.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a plan feature store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// IsFeatureEnabled reports whether featureKey is enabled for planName.
func (s *PostgresStore) IsFeatureEnabled(ctx context.Context, planName, featureKey string) (bool, error) {
	query := `
		SELECT enabled
		FROM plan_features
		WHERE plan_name = $1 AND feature_key = $2
	`

	var enabled bool
	err := s.db.QueryRowContext(ctx, query, planName, featureKey).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up plan feature: %w", err)
	}

	return enabled, nil
}

// EnabledFeatures returns the enabled feature keys for planName.
func (s *PostgresStore) EnabledFeatures(ctx context.Context, planName string) (FeatureSet, error) {
	query := `
		SELECT feature_key
		FROM plan_features
		WHERE plan_name = $1 AND enabled = TRUE
	`

	rows, err := s.db.QueryContext(ctx, query, planName)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled features: %w", err)
	}
	defer rows.Close()

	set := make(FeatureSet)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan feature key: %w", err)
		}
		set[key] = true
	}

	return set, rows.Err()
}

// List returns every feature row for planName, limits included.
func (s *PostgresStore) List(ctx context.Context, planName string) ([]PlanFeature, error) {
	query := `
		SELECT id, plan_name, feature_key, enabled, limits, created_at, updated_at
		FROM plan_features
		WHERE plan_name = $1
		ORDER BY feature_key ASC
	`

	rows, err := s.db.QueryContext(ctx, query, planName)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan features: %w", err)
	}
	defer rows.Close()

	var features []PlanFeature
	for rows.Next() {
		var feature PlanFeature
		var limitsJSON sql.NullString

		err := rows.Scan(
			&feature.ID,
			&feature.PlanName,
			&feature.FeatureKey,
			&feature.Enabled,
			&limitsJSON,
			&feature.CreatedAt,
			&feature.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan feature: %w", err)
		}

		if limitsJSON.Valid && limitsJSON.String != "" {
			if err := json.Unmarshal([]byte(limitsJSON.String), &feature.Limits); err != nil {
				return nil, fmt.Errorf("failed to unmarshal limits for %s/%s: %w", feature.PlanName, feature.FeatureKey, err)
			}
		}

		features = append(features, feature)
	}

	return features, rows.Err()
}

// Upsert inserts or updates a feature by (plan_name, feature_key).
func (s *PostgresStore) Upsert(ctx context.Context, feature *PlanFeature) error {
	var limitsJSON interface{}
	if feature.Limits != nil {
		data, err := json.Marshal(feature.Limits)
		if err != nil {
			return fmt.Errorf("failed to marshal limits: %w", err)
		}
		limitsJSON = string(data)
	}

	query := `
		INSERT INTO plan_features (plan_name, feature_key, enabled, limits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (plan_name, feature_key)
		DO UPDATE SET enabled = EXCLUDED.enabled,
		              limits = EXCLUDED.limits,
		              updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		feature.PlanName,
		feature.FeatureKey,
		feature.Enabled,
		limitsJSON,
		now,
	).Scan(&feature.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert plan feature: %w", err)
	}

	feature.UpdatedAt = now
	return nil
}
