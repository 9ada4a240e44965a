package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/doorwayhq/doorway/pkg/httputil"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/security"
)

// handleSecurityCheck runs the full four-level check and returns the result.
func (s *Server) handleSecurityCheck(w http.ResponseWriter, r *http.Request) {
	sc := security.FromContext(r.Context())
	if sc == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var params security.CheckParams
	if !httputil.ParseJSONOrError(w, r, &params) {
		return
	}
	if params.FeatureKey == "" && params.ObjectType == "" {
		httputil.WriteBadRequest(w, "feature_key or object_type is required")
		return
	}
	if params.ObjectType != "" && !params.Action.Valid() {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown action %q", params.Action))
		return
	}

	result := s.deps.Checker.Check(r.Context(), sc, params)
	s.recordDecision(r.Context(), sc, params, result)

	if !result.Allowed {
		observability.FromContext(r.Context()).WithFields(map[string]interface{}{
			"reason_code":  result.ReasonCode,
			"failed_level": string(result.FailedLevel),
			"object_type":  params.ObjectType,
		}).Debugf("Security check denied")
	}

	httputil.WriteSuccess(w, result)
}

type featureCheckRequest struct {
	FeatureKey string `json:"feature_key"`
}

// handleFeatureCheck answers the plan gate alone.
func (s *Server) handleFeatureCheck(w http.ResponseWriter, r *http.Request) {
	sc := security.FromContext(r.Context())
	if sc == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req featureCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.FeatureKey, "feature_key") {
		return
	}

	params := security.CheckParams{FeatureKey: req.FeatureKey}
	result := s.deps.Checker.Check(r.Context(), sc, params)
	s.recordDecision(r.Context(), sc, params, result)

	httputil.WriteSuccess(w, result)
}

// handleEnabledFeatures returns every enabled feature key for the caller's
// plan, loaded in one query for UI feature gating.
func (s *Server) handleEnabledFeatures(w http.ResponseWriter, r *http.Request) {
	sc := security.FromContext(r.Context())
	if sc == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	set, err := s.deps.Plans.EnabledFeatures(r.Context(), sc.PlanName)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Errorf("Failed to load enabled features")
		httputil.WriteInternalError(w, fmt.Errorf("failed to load enabled features"))
		return
	}

	features := make([]string, 0, len(set))
	for key := range set {
		features = append(features, key)
	}
	sort.Strings(features)

	httputil.WriteSuccess(w, map[string]interface{}{
		"plan":     sc.PlanName,
		"features": features,
	})
}
