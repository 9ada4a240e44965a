package api

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/doorwayhq/doorway/pkg/httputil"
	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/security"
)

// handleGetRecord fetches one record behind the full four-level check and
// returns only the fields the caller's profile can read. It is the reference
// enforcement path: check first, fetch second, filter third.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	sc := security.FromContext(r.Context())
	if sc == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	objectType, ok := httputil.ParsePathStringOrError(w, r, "objectType")
	if !ok {
		return
	}
	objectID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	def, err := s.deps.Registry.Get(objectType)
	if err != nil {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown object type %q", objectType))
		return
	}

	params := security.CheckParams{
		ObjectType: objectType,
		ObjectID:   &objectID,
		Action:     security.ActionRead,
	}
	result := s.deps.Checker.Check(r.Context(), sc, params)
	s.recordDecision(r.Context(), sc, params, result)
	if !result.Allowed {
		httputil.WriteDenial(w, http.StatusForbidden, result.Reason, result.ReasonCode, string(result.FailedLevel))
		return
	}

	record, err := s.fetchRecord(r, def, objectID)
	if err == sql.ErrNoRows {
		// The record vanished between the ownership check and the fetch.
		// Same uniform denial as the record level, so nothing leaks.
		httputil.WriteDenial(w, http.StatusForbidden,
			"record does not exist or is not accessible",
			security.ReasonRecordNotAccessible, string(security.LevelRecord))
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to fetch record")
		httputil.WriteInternalError(w, fmt.Errorf("failed to fetch record"))
		return
	}

	fieldPerms, err := s.deps.Profiles.FieldPermissions(r.Context(), *sc.ProfileID, objectType)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to load field permissions")
		httputil.WriteInternalError(w, fmt.Errorf("failed to fetch record"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"object_type": objectType,
		"id":          objectID,
		"record":      security.FilterFields(record, fieldPerms),
	})
}

// fetchRecord reads the whole row as a generic column map. The table name
// comes from the registry, which enforced identifier syntax at registration.
func (s *Server) fetchRecord(r *http.Request, def objects.Definition, objectID int64) (map[string]interface{}, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = $1", def.TableName)

	rows, err := s.deps.RecordsDB.QueryContext(r.Context(), query, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", def.TableName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", def.TableName, err)
		}
		return nil, sql.ErrNoRows
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", def.TableName, err)
	}

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan %s row: %w", def.TableName, err)
	}

	record := make(map[string]interface{}, len(columns))
	for i, column := range columns {
		if raw, ok := values[i].([]byte); ok {
			record[column] = string(raw)
			continue
		}
		record[column] = values[i]
	}

	return record, nil
}
