package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// Store persists events in the security_events table.
type Store struct {
	db *sql.DB
}

// NewStore creates an event store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one event. A zero OccurredAt is stamped here so callers can
// hand over half-built events.
func (s *Store) Record(ctx context.Context, event *Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO security_events (
			occurred_at, request_id, user_id, organization_id, profile_id,
			plan_name, feature_key, object_type, object_id, field_name, action,
			allowed, reason_code, failed_level, detail
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15
		) RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		event.OccurredAt, event.RequestID, event.UserID, event.OrganizationID, event.ProfileID,
		event.PlanName, event.FeatureKey, event.ObjectType, event.ObjectID, event.FieldName, event.Action,
		event.Allowed, event.ReasonCode, event.FailedLevel, event.Detail,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	return nil
}

// Search returns events matching the filter, newest first.
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT
			id, occurred_at, request_id, user_id, organization_id, profile_id,
			plan_name, feature_key, object_type, object_id, field_name, action,
			allowed, reason_code, failed_level, detail
		FROM security_events
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", argCount)
		args = append(args, *filter.OrganizationID)
		argCount++
	}

	if filter.FeatureKey != "" {
		query += fmt.Sprintf(" AND feature_key = $%d", argCount)
		args = append(args, filter.FeatureKey)
		argCount++
	}

	if filter.ObjectType != "" {
		query += fmt.Sprintf(" AND object_type = $%d", argCount)
		args = append(args, filter.ObjectType)
		argCount++
	}

	if filter.ObjectID != nil {
		query += fmt.Sprintf(" AND object_id = $%d", argCount)
		args = append(args, *filter.ObjectID)
		argCount++
	}

	if filter.Allowed != nil {
		query += fmt.Sprintf(" AND allowed = $%d", argCount)
		args = append(args, *filter.Allowed)
		argCount++
	}

	if filter.ReasonCode != "" {
		query += fmt.Sprintf(" AND reason_code = $%d", argCount)
		args = append(args, filter.ReasonCode)
		argCount++
	}

	if filter.FailedLevel != "" {
		query += fmt.Sprintf(" AND failed_level = $%d", argCount)
		args = append(args, filter.FailedLevel)
		argCount++
	}

	query += " ORDER BY occurred_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search security events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		var profileID, objectID sql.NullInt64

		err := rows.Scan(
			&event.ID, &event.OccurredAt, &event.RequestID, &event.UserID, &event.OrganizationID, &profileID,
			&event.PlanName, &event.FeatureKey, &event.ObjectType, &objectID, &event.FieldName, &event.Action,
			&event.Allowed, &event.ReasonCode, &event.FailedLevel, &event.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		if profileID.Valid {
			v := profileID.Int64
			event.ProfileID = &v
		}
		if objectID.Valid {
			v := objectID.Int64
			event.ObjectID = &v
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security events: %w", err)
	}

	return events, nil
}

// Purge deletes events older than the cutoff and reports how many went.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge security events: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged security events: %w", err)
	}
	return purged, nil
}
