package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorwayhq/doorway/pkg/security"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func setupEventDB(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE security_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		user_id INTEGER NOT NULL,
		organization_id INTEGER NOT NULL,
		profile_id INTEGER,
		plan_name TEXT NOT NULL DEFAULT '',
		feature_key TEXT NOT NULL DEFAULT '',
		object_type TEXT NOT NULL DEFAULT '',
		object_id INTEGER,
		field_name TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		allowed BOOLEAN NOT NULL,
		reason_code TEXT NOT NULL DEFAULT '',
		failed_level TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);`
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return NewStore(db)
}

func TestStore_Record(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)

		profileID := int64(3)
		objectID := int64(41)
		event := &Event{
			OccurredAt:     time.Now().UTC(),
			RequestID:      "req-7f2a",
			UserID:         42,
			OrganizationID: 7,
			ProfileID:      &profileID,
			PlanName:       "growth",
			FeatureKey:     "task_management",
			ObjectType:     "task",
			ObjectID:       &objectID,
			Action:         "read",
			Allowed:        false,
			ReasonCode:     security.ReasonRecordNotAccessible,
			FailedLevel:    string(security.LevelRecord),
			Detail:         security.DetailOwnershipViolation,
		}

		mock.ExpectQuery("INSERT INTO security_events").
			WithArgs(
				event.OccurredAt, event.RequestID, event.UserID, event.OrganizationID, event.ProfileID,
				event.PlanName, event.FeatureKey, event.ObjectType, event.ObjectID, event.FieldName, event.Action,
				event.Allowed, event.ReasonCode, event.FailedLevel, event.Detail,
			).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(91))

		err := store.Record(context.Background(), event)
		require.NoError(t, err)
		assert.Equal(t, int64(91), event.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stamps a missing timestamp", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)

		mock.ExpectQuery("INSERT INTO security_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		event := &Event{UserID: 42, OrganizationID: 7, Allowed: true}
		err := store.Record(context.Background(), event)
		require.NoError(t, err)
		assert.False(t, event.OccurredAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)

		mock.ExpectQuery("INSERT INTO security_events").
			WillReturnError(errors.New("connection refused"))

		err := store.Record(context.Background(), &Event{UserID: 42, OrganizationID: 7})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert security event")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Search(t *testing.T) {
	store := setupEventDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	objectID := int64(41)
	seed := []*Event{
		{OccurredAt: base, UserID: 42, OrganizationID: 7, ObjectType: "task", ObjectID: &objectID, Action: "read", Allowed: true},
		{OccurredAt: base.Add(time.Minute), UserID: 42, OrganizationID: 7, ObjectType: "task", Action: "read", Allowed: false,
			ReasonCode: security.ReasonRecordNotAccessible, FailedLevel: string(security.LevelRecord), Detail: security.DetailOwnershipViolation},
		{OccurredAt: base.Add(2 * time.Minute), UserID: 42, OrganizationID: 7, ObjectType: "task", Action: "read", Allowed: false,
			ReasonCode: security.ReasonRecordNotAccessible, FailedLevel: string(security.LevelRecord), Detail: security.DetailObjectNotFound},
		{OccurredAt: base.Add(3 * time.Minute), UserID: 99, OrganizationID: 8, ObjectType: "payment", Action: "edit", Allowed: false,
			ReasonCode: security.ReasonActionNotPermitted, FailedLevel: string(security.LevelObject)},
		{OccurredAt: base.Add(4 * time.Minute), UserID: 42, OrganizationID: 7, PlanName: "starter", FeatureKey: "advanced_reporting", Allowed: false,
			ReasonCode: security.ReasonFeatureDisabled, FailedLevel: string(security.LevelPlan)},
	}
	for _, event := range seed {
		require.NoError(t, store.Record(ctx, event))
	}

	t.Run("by organization and decision", func(t *testing.T) {
		denied := false
		orgID := int64(7)
		events, err := store.Search(ctx, SearchFilter{OrganizationID: &orgID, Allowed: &denied})
		require.NoError(t, err)
		require.Len(t, events, 2)
		// Newest first.
		assert.Equal(t, security.DetailObjectNotFound, events[0].Detail)
		assert.Equal(t, security.DetailOwnershipViolation, events[1].Detail)
	})

	t.Run("denial causes stay distinguishable", func(t *testing.T) {
		events, err := store.Search(ctx, SearchFilter{ReasonCode: security.ReasonRecordNotAccessible})
		require.NoError(t, err)
		require.Len(t, events, 2)

		details := []string{events[0].Detail, events[1].Detail}
		assert.ElementsMatch(t, []string{security.DetailObjectNotFound, security.DetailOwnershipViolation}, details)
	})

	t.Run("by time window", func(t *testing.T) {
		start := base.Add(30 * time.Second)
		end := base.Add(150 * time.Second)
		events, err := store.Search(ctx, SearchFilter{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		require.Len(t, events, 2)
	})

	t.Run("by feature key", func(t *testing.T) {
		events, err := store.Search(ctx, SearchFilter{FeatureKey: "advanced_reporting"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "advanced_reporting", events[0].FeatureKey)
		assert.Equal(t, security.ReasonFeatureDisabled, events[0].ReasonCode)
	})

	t.Run("by object", func(t *testing.T) {
		events, err := store.Search(ctx, SearchFilter{ObjectType: "task", ObjectID: &objectID})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.True(t, events[0].Allowed)
		require.NotNil(t, events[0].ObjectID)
		assert.Equal(t, objectID, *events[0].ObjectID)
	})

	t.Run("limit and offset", func(t *testing.T) {
		page1, err := store.Search(ctx, SearchFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page1, 2)

		page2, err := store.Search(ctx, SearchFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})

	t.Run("no matches", func(t *testing.T) {
		events, err := store.Search(ctx, SearchFilter{ReasonCode: security.ReasonUnauthenticated})
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestStore_Purge(t *testing.T) {
	store := setupEventDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := &Event{OccurredAt: now.Add(-100 * 24 * time.Hour), UserID: 42, OrganizationID: 7, Allowed: true}
	recent := &Event{OccurredAt: now.Add(-time.Hour), UserID: 42, OrganizationID: 7, Allowed: true}
	require.NoError(t, store.Record(ctx, old))
	require.NoError(t, store.Record(ctx, recent))

	purged, err := store.Purge(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	remaining, err := store.Search(ctx, SearchFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, recent.ID, remaining[0].ID)
}

func TestFromCheck(t *testing.T) {
	profileID := int64(3)
	objectID := int64(41)
	sc := &security.SecurityContext{UserID: 42, OrganizationID: 7, ProfileID: &profileID, PlanName: "growth"}
	params := security.CheckParams{
		FeatureKey: "task_management",
		ObjectType: "task",
		ObjectID:   &objectID,
		Action:     security.ActionRead,
		FieldName:  "budget_cents",
	}
	result := &security.CheckResult{
		Allowed:     false,
		Reason:      "record does not exist or is not accessible",
		ReasonCode:  security.ReasonRecordNotAccessible,
		FailedLevel: security.LevelRecord,
		CheckedAt:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Detail:      security.DetailObjectNotFound,
	}

	event := FromCheck(sc, params, result, "req-7f2a")

	assert.Equal(t, int64(42), event.UserID)
	assert.Equal(t, int64(7), event.OrganizationID)
	assert.Equal(t, &profileID, event.ProfileID)
	assert.Equal(t, "growth", event.PlanName)
	assert.Equal(t, "task_management", event.FeatureKey)
	assert.Equal(t, "task", event.ObjectType)
	assert.Equal(t, &objectID, event.ObjectID)
	assert.Equal(t, "budget_cents", event.FieldName)
	assert.Equal(t, "read", event.Action)
	assert.False(t, event.Allowed)
	assert.Equal(t, security.ReasonRecordNotAccessible, event.ReasonCode)
	assert.Equal(t, string(security.LevelRecord), event.FailedLevel)
	assert.Equal(t, security.DetailObjectNotFound, event.Detail)
	assert.Equal(t, result.CheckedAt, event.OccurredAt)
	assert.Equal(t, "req-7f2a", event.RequestID)

	// An unauthenticated denial still produces a recordable event.
	anon := FromCheck(nil, security.CheckParams{}, &security.CheckResult{
		Allowed:     false,
		ReasonCode:  security.ReasonUnauthenticated,
		FailedLevel: security.LevelPlan,
	}, "")
	assert.Zero(t, anon.UserID)
	assert.Zero(t, anon.OrganizationID)
	assert.Equal(t, security.ReasonUnauthenticated, anon.ReasonCode)
}
