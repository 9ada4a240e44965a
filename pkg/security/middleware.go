package security

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/doorwayhq/doorway/pkg/contextkeys"
)

// WithContext returns a context carrying the resolved security context.
func WithContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, contextkeys.SecurityContextKey, sc)
}

// FromContext returns the security context set by the identity middleware,
// or nil when the request never passed through it.
func FromContext(ctx context.Context) *SecurityContext {
	sc, ok := ctx.Value(contextkeys.SecurityContextKey).(*SecurityContext)
	if !ok {
		return nil
	}
	return sc
}

// PermissionMiddleware provides middleware for permission checking
type PermissionMiddleware struct {
	checker *Checker
	observe CheckObserver
}

// CheckObserver is called with every decision a guard makes, allowed or
// denied. The API layer hooks the audit trail in here.
type CheckObserver func(ctx context.Context, sc *SecurityContext, params CheckParams, result *CheckResult)

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker *Checker) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
	}
}

// Observe registers fn to run after every guard check.
func (pm *PermissionMiddleware) Observe(fn CheckObserver) {
	pm.observe = fn
}

// RequirePermission creates middleware that requires an object-level
// permission. Record and field checks need per-request data and stay in the
// handlers; this gate covers the plan and object levels.
func (pm *PermissionMiddleware) RequirePermission(objectType string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := FromContext(r.Context())
			if sc == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			params := CheckParams{
				ObjectType: objectType,
				Action:     action,
			}
			result := pm.checker.Check(r.Context(), sc, params)
			if pm.observe != nil {
				pm.observe(r.Context(), sc, params, result)
			}
			if !result.Allowed {
				writeDenied(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireFeature creates middleware that requires a plan feature. It stops at
// the plan level: profile permissions are not consulted.
func (pm *PermissionMiddleware) RequireFeature(featureKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := FromContext(r.Context())
			if sc == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			params := CheckParams{FeatureKey: featureKey}
			result := pm.checker.Check(r.Context(), sc, params)
			if pm.observe != nil {
				pm.observe(r.Context(), sc, params, result)
			}
			if !result.Allowed {
				writeDenied(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, result *CheckResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":        result.Reason,
		"reason":       result.ReasonCode,
		"failed_level": result.FailedLevel,
	})
}
