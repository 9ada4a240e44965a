// Package middleware provides the HTTP middleware chain in front of the API:
// identity resolution and per-organization rate limiting.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/doorwayhq/doorway/pkg/contextkeys"
	"github.com/doorwayhq/doorway/pkg/httputil"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/orgs"
	"github.com/doorwayhq/doorway/pkg/security"
)

// Identity headers injected by the authenticating gateway. User and
// organization are mandatory; profile and plan are optional hints that save
// a membership lookup when present.
const (
	HeaderUserID         = "X-Doorway-User-Id"
	HeaderOrganizationID = "X-Doorway-Organization-Id"
	HeaderProfileID      = "X-Doorway-Profile-Id"
	HeaderPlan           = "X-Doorway-Plan"
	HeaderRequestID      = "X-Request-Id"
)

// MemberResolver looks up a user's enrollment when the gateway does not
// supply the profile and plan headers.
type MemberResolver interface {
	GetMember(ctx context.Context, organizationID, userID int64) (*orgs.Member, error)
}

// IdentityMiddleware builds the request's SecurityContext from the gateway
// headers. Requests without a resolvable identity never reach a handler.
type IdentityMiddleware struct {
	members MemberResolver
	logger  *observability.Logger
}

// NewIdentityMiddleware creates a new identity middleware
func NewIdentityMiddleware(members MemberResolver, logger *observability.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{
		members: members,
		logger:  logger,
	}
}

// Handler wraps an HTTP handler with identity resolution
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := parseIdentityHeader(w, r, HeaderUserID)
		if !ok {
			return
		}
		organizationID, ok := parseIdentityHeader(w, r, HeaderOrganizationID)
		if !ok {
			return
		}

		sc := &security.SecurityContext{
			UserID:         userID,
			OrganizationID: organizationID,
		}

		profileHeader := r.Header.Get(HeaderProfileID)
		if profileHeader != "" {
			profileID, err := strconv.ParseInt(profileHeader, 10, 64)
			if err != nil {
				httputil.WriteUnauthorized(w, fmt.Sprintf("invalid %s header", HeaderProfileID))
				return
			}
			sc.ProfileID = &profileID
		}
		sc.PlanName = r.Header.Get(HeaderPlan)

		// The gateway usually sends only user and organization; fill in the
		// member's profile and plan from storage when either is missing.
		if profileHeader == "" || sc.PlanName == "" {
			member, err := m.members.GetMember(r.Context(), organizationID, userID)
			if errors.Is(err, orgs.ErrNotFound) {
				httputil.WriteUnauthorized(w, "not a member of this organization")
				return
			}
			if err != nil {
				// An unresolved identity must not pass through half-built.
				m.logger.WithError(err).Error("Failed to resolve member identity")
				httputil.WriteUnauthorized(w, "identity could not be resolved")
				return
			}
			if !member.IsActive {
				httputil.WriteUnauthorized(w, "membership is deactivated")
				return
			}
			if profileHeader == "" {
				sc.ProfileID = member.ProfileID
			}
			if sc.PlanName == "" {
				sc.PlanName = member.PlanName
			}
		}

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := r.Context()
		ctx = context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
		ctx = context.WithValue(ctx, contextkeys.UserIDKey, userID)
		ctx = context.WithValue(ctx, contextkeys.OrganizationIDKey, organizationID)
		ctx = context.WithValue(ctx, contextkeys.ProfileIDKey, sc.ProfileID)
		ctx = context.WithValue(ctx, contextkeys.PlanNameKey, sc.PlanName)
		ctx = security.WithContext(ctx, sc)
		ctx = observability.WithLogger(ctx, m.logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseIdentityHeader(w http.ResponseWriter, r *http.Request, header string) (int64, bool) {
	value := r.Header.Get(header)
	if value == "" {
		httputil.WriteUnauthorized(w, fmt.Sprintf("missing %s header", header))
		return 0, false
	}

	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteUnauthorized(w, fmt.Sprintf("invalid %s header", header))
		return 0, false
	}

	return id, true
}

// RequestID returns the correlation ID assigned by the identity middleware,
// or an empty string outside a request.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok {
		return id
	}
	return ""
}
