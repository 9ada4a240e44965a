// Package api is the HTTP surface over the decision engine: the check
// endpoints callers enforce with, profile and permission administration, the
// object type registry, and a field-filtered record fetch. Every route except
// the check endpoints is itself gated through the checker, so the API eats
// its own enforcement.
package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/doorwayhq/doorway/pkg/audit"
	"github.com/doorwayhq/doorway/pkg/middleware"
	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/plans"
	"github.com/doorwayhq/doorway/pkg/profiles"
	"github.com/doorwayhq/doorway/pkg/security"
)

// Deps carries everything the API serves from. RecordsDB is the read handle
// the record endpoint fetches rows through (a replica where one exists).
type Deps struct {
	Checker   *security.Checker
	Profiles  *profiles.Store
	Plans     plans.Store
	Registry  *objects.Registry
	RecordsDB *sql.DB
	Audit     audit.Recorder
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// Server routes API requests. It expects the identity middleware to have run
// already: every handler reads the SecurityContext from the request context.
type Server struct {
	deps   Deps
	guard  *security.PermissionMiddleware
	router *mux.Router
}

// NewServer creates the API server and mounts its routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:  deps,
		guard: security.NewPermissionMiddleware(deps.Checker),
	}
	s.guard.Observe(s.recordDecision)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	// Check endpoints: the decision itself is the resource, so these return
	// 200 with the result either way. Enforcement (403) happens where the
	// caller acts on it, and on the guarded routes below.
	v1.HandleFunc("/security/check", s.handleSecurityCheck).Methods(http.MethodPost)
	v1.HandleFunc("/security/check/feature", s.handleFeatureCheck).Methods(http.MethodPost)
	v1.HandleFunc("/security/features", s.handleEnabledFeatures).Methods(http.MethodGet)

	// Profile administration rides on the caller's own profile grants.
	v1.Handle("/profiles",
		s.guarded(objects.TypeProfile, security.ActionRead, s.handleListProfiles)).Methods(http.MethodGet)
	v1.Handle("/profiles",
		s.guarded(objects.TypeProfile, security.ActionCreate, s.handleCreateProfile)).Methods(http.MethodPost)
	v1.Handle("/profiles/{id:[0-9]+}",
		s.guarded(objects.TypeProfile, security.ActionEdit, s.handleUpdateProfile)).Methods(http.MethodPatch)
	v1.Handle("/profiles/{id:[0-9]+}",
		s.guarded(objects.TypeProfile, security.ActionDelete, s.handleDeleteProfile)).Methods(http.MethodDelete)
	v1.Handle("/profiles/{id:[0-9]+}/summary",
		s.guarded(objects.TypeProfile, security.ActionRead, s.handleProfileSummary)).Methods(http.MethodGet)
	v1.Handle("/profiles/{id:[0-9]+}/permissions",
		s.guarded(objects.TypeProfile, security.ActionRead, s.handleProfilePermissions)).Methods(http.MethodGet)
	v1.Handle("/profiles/{id:[0-9]+}/objects/{objectType}",
		s.guarded(objects.TypeProfile, security.ActionEdit, s.handleSetObjectPermission)).Methods(http.MethodPut)
	v1.Handle("/profiles/{id:[0-9]+}/objects/{objectType}/fields/{field}",
		s.guarded(objects.TypeProfile, security.ActionEdit, s.handleSetFieldPermission)).Methods(http.MethodPut)

	v1.HandleFunc("/objects", s.handleListObjects).Methods(http.MethodGet)
	v1.Handle("/objects",
		s.guarded(objects.TypeOrganization, security.ActionEdit, s.handleRegisterObject)).Methods(http.MethodPost)

	v1.HandleFunc("/records/{objectType}/{id:[0-9]+}", s.handleGetRecord).Methods(http.MethodGet)

	s.router = r
}

// guarded wraps a handler with a plan+object level permission gate.
func (s *Server) guarded(objectType string, action security.Action, h http.HandlerFunc) http.Handler {
	return s.guard.RequirePermission(objectType, action)(h)
}

// recordDecision writes one audit event per decision. The audit recorder is
// asynchronous (or a no-op); a failure here never affects the response.
func (s *Server) recordDecision(ctx context.Context, sc *security.SecurityContext, params security.CheckParams, result *security.CheckResult) {
	event := audit.FromCheck(sc, params, result, middleware.RequestID(ctx))
	if err := s.deps.Audit.Record(ctx, event); err != nil {
		s.deps.Logger.WithError(err).Warnf("Failed to record security event")
	}
}
