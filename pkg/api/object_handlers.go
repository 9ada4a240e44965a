package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/doorwayhq/doorway/pkg/httputil"
	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
)

// handleListObjects returns every registered object type definition.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"object_types": s.deps.Registry.List(),
	})
}

// handleRegisterObject registers a tenant-defined object type. Built-in keys
// are reserved and validation failures surface as 400s.
func (s *Server) handleRegisterObject(w http.ResponseWriter, r *http.Request) {
	var def objects.Definition
	if !httputil.ParseJSONOrError(w, r, &def) {
		return
	}

	err := s.deps.Registry.Register(r.Context(), def)
	if err != nil {
		var validationErr *objects.ValidationError
		switch {
		case errors.Is(err, objects.ErrReservedKey):
			httputil.WriteBadRequest(w, err.Error())
		case errors.As(err, &validationErr):
			httputil.WriteBadRequest(w, validationErr.Error())
		default:
			observability.FromContext(r.Context()).WithError(err).Errorf("Failed to register object type")
			httputil.WriteInternalError(w, fmt.Errorf("failed to register object type"))
		}
		return
	}

	registered, err := s.deps.Registry.Get(def.Key)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Registered type missing from registry")
		httputil.WriteInternalError(w, fmt.Errorf("failed to register object type"))
		return
	}

	httputil.WriteCreated(w, registered)
}
