// Package contextkeys defines the context keys shared across Doorway
// packages. Keeping them in one place avoids collisions between packages
// that would otherwise each define their own string keys, and avoids
// import cycles between the middleware and the packages that read the
// values it injects.
package contextkeys

// Key is the type used for context keys to avoid collisions with other
// packages storing values in the same context.
type Key string

const (
	// RequestIDKey carries the per-request correlation ID assigned by the
	// identity middleware.
	RequestIDKey Key = "request_id"

	// UserIDKey carries the gateway-resolved user ID (int64).
	UserIDKey Key = "user_id"

	// OrganizationIDKey carries the gateway-resolved organization ID (int64).
	OrganizationIDKey Key = "organization_id"

	// ProfileIDKey carries the caller's profile ID (*int64, nil when the
	// user has no profile assigned).
	ProfileIDKey Key = "profile_id"

	// PlanNameKey carries the organization's subscription plan name.
	PlanNameKey Key = "plan_name"

	// SecurityContextKey carries the fully resolved *security.SecurityContext
	// built by the identity middleware.
	SecurityContextKey Key = "security_context"

	// LoggerKey carries the request-scoped *observability.Logger.
	LoggerKey Key = "logger"
)
