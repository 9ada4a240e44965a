package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/doorwayhq/doorway/pkg/httputil"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/profiles"
	"github.com/doorwayhq/doorway/pkg/security"
)

// profileRequest creates or updates a profile. IsActive is a pointer so an
// update that omits it leaves the flag alone.
type profileRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

type objectPermissionRequest struct {
	CanRead    bool `json:"can_read"`
	CanCreate  bool `json:"can_create"`
	CanEdit    bool `json:"can_edit"`
	CanDelete  bool `json:"can_delete"`
	CanViewAll bool `json:"can_view_all"`
}

type fieldPermissionRequest struct {
	CanRead     bool `json:"can_read"`
	CanEdit     bool `json:"can_edit"`
	IsSensitive bool `json:"is_sensitive"`
}

// handleListProfiles returns the caller's organization profiles plus the
// global templates.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	sc := security.FromContext(r.Context())

	list, err := s.deps.Profiles.ListProfiles(r.Context(), sc.OrganizationID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to list profiles")
		httputil.WriteInternalError(w, fmt.Errorf("failed to list profiles"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"profiles": list})
}

// handleCreateProfile creates a custom profile in the caller's organization.
func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	sc := security.FromContext(r.Context())

	var req profileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	orgID := sc.OrganizationID
	profile := &profiles.Profile{
		OrganizationID: &orgID,
		Name:           req.Name,
		Description:    req.Description,
	}
	if err := s.deps.Profiles.CreateProfile(r.Context(), profile); err != nil {
		s.writeProfileError(w, r, err)
		return
	}

	httputil.WriteCreated(w, profile)
}

// handleUpdateProfile renames a custom profile, and can activate or
// deactivate it. A deactivated profile stops conferring its grants.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadTenantProfile(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	profile.Name = req.Name
	profile.Description = req.Description
	if req.IsActive != nil {
		profile.IsActive = *req.IsActive
	}
	if err := s.deps.Profiles.UpdateProfile(r.Context(), profile); err != nil {
		s.writeProfileError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, profile)
}

// handleDeleteProfile deletes a custom profile. System profiles and profiles
// still assigned to members surface as 403 and 409 respectively.
func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadTenantProfile(w, r)
	if !ok {
		return
	}

	if err := s.deps.Profiles.DeleteProfile(r.Context(), profile.ID); err != nil {
		s.writeProfileError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// handleProfileSummary returns the aggregate access analysis for one profile.
func (s *Server) handleProfileSummary(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadTenantProfile(w, r)
	if !ok {
		return
	}

	perms, err := s.deps.Profiles.ObjectPermissions(r.Context(), profile.ID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to load object permissions")
		httputil.WriteInternalError(w, fmt.Errorf("failed to load permissions"))
		return
	}

	httputil.WriteSuccess(w, security.AnalyzeProfileAccessLevel(profile.ID, perms))
}

// handleProfilePermissions lists a profile's object and field permission
// rows. An object_type query parameter narrows the field rows.
func (s *Server) handleProfilePermissions(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadTenantProfile(w, r)
	if !ok {
		return
	}

	objectPerms, err := s.deps.Profiles.ObjectPermissions(r.Context(), profile.ID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to load object permissions")
		httputil.WriteInternalError(w, fmt.Errorf("failed to load permissions"))
		return
	}

	objectType := httputil.ParseQueryString(r, "object_type", "")
	fieldPerms, err := s.deps.Profiles.FieldPermissions(r.Context(), profile.ID, objectType)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to load field permissions")
		httputil.WriteInternalError(w, fmt.Errorf("failed to load permissions"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"profile":            profile,
		"object_permissions": objectPerms,
		"field_permissions":  fieldPerms,
	})
}

// handleSetObjectPermission upserts a profile's grant row for one object type.
func (s *Server) handleSetObjectPermission(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadMutableTenantProfile(w, r)
	if !ok {
		return
	}

	objectType, ok := httputil.ParsePathStringOrError(w, r, "objectType")
	if !ok {
		return
	}
	if !s.deps.Registry.Has(objectType) {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown object type %q", objectType))
		return
	}

	var req objectPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm := &profiles.ObjectPermission{
		ProfileID:  profile.ID,
		ObjectType: objectType,
		CanRead:    req.CanRead,
		CanCreate:  req.CanCreate,
		CanEdit:    req.CanEdit,
		CanDelete:  req.CanDelete,
		CanViewAll: req.CanViewAll,
	}
	if err := s.deps.Profiles.SetObjectPermission(r.Context(), perm); err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to set object permission")
		httputil.WriteInternalError(w, fmt.Errorf("failed to set permission"))
		return
	}

	httputil.WriteSuccess(w, perm)
}

// handleSetFieldPermission upserts a profile's grant row for one field.
func (s *Server) handleSetFieldPermission(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadMutableTenantProfile(w, r)
	if !ok {
		return
	}

	objectType, ok := httputil.ParsePathStringOrError(w, r, "objectType")
	if !ok {
		return
	}
	if !s.deps.Registry.Has(objectType) {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown object type %q", objectType))
		return
	}
	fieldName, ok := httputil.ParsePathStringOrError(w, r, "field")
	if !ok {
		return
	}

	var req fieldPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm := &profiles.FieldPermission{
		ProfileID:   profile.ID,
		ObjectType:  objectType,
		FieldName:   fieldName,
		CanRead:     req.CanRead,
		CanEdit:     req.CanEdit,
		IsSensitive: req.IsSensitive,
	}
	if err := s.deps.Profiles.SetFieldPermission(r.Context(), perm); err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to set field permission")
		httputil.WriteInternalError(w, fmt.Errorf("failed to set permission"))
		return
	}

	httputil.WriteSuccess(w, perm)
}

// loadTenantProfile fetches the profile named in the path and enforces the
// tenant boundary: the caller sees their own organization's profiles and the
// global templates; anything else reads as not found, never as forbidden.
func (s *Server) loadTenantProfile(w http.ResponseWriter, r *http.Request) (*profiles.Profile, bool) {
	profileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}

	profile, err := s.deps.Profiles.GetProfile(r.Context(), profileID)
	if errors.Is(err, profiles.ErrNotFound) {
		httputil.WriteNotFoundError(w, "profile not found")
		return nil, false
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to load profile")
		httputil.WriteInternalError(w, fmt.Errorf("failed to load profile"))
		return nil, false
	}

	sc := security.FromContext(r.Context())
	if profile.OrganizationID != nil && *profile.OrganizationID != sc.OrganizationID {
		httputil.WriteNotFoundError(w, "profile not found")
		return nil, false
	}

	return profile, true
}

// loadMutableTenantProfile additionally rejects permission edits on system
// profiles; the shipped matrices are converged by the seeder, not tenants.
func (s *Server) loadMutableTenantProfile(w http.ResponseWriter, r *http.Request) (*profiles.Profile, bool) {
	profile, ok := s.loadTenantProfile(w, r)
	if !ok {
		return nil, false
	}
	if profile.IsSystem {
		httputil.WriteForbidden(w, profiles.ErrSystemProfileProtected.Error())
		return nil, false
	}
	return profile, true
}

// writeProfileError maps profile lifecycle errors onto their status codes.
func (s *Server) writeProfileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		httputil.WriteNotFoundError(w, "profile not found")
	case errors.Is(err, profiles.ErrSystemProfileProtected):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, profiles.ErrProfileInUse):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, profiles.ErrDuplicateName):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Errorf("Profile operation failed")
		httputil.WriteInternalError(w, fmt.Errorf("profile operation failed"))
	}
}
