// Package plans answers "is this feature enabled for this plan", the first
// level of the security check. Absence of a row means disabled: lookups fail
// closed.
package plans

import (
	"time"
)

// Subscription plan names.
const (
	PlanFreemium = "freemium"
	PlanStarter  = "starter"
	PlanGrowth   = "growth"
	PlanScale    = "scale"
)

// Feature keys gated by plan.
const (
	FeatureCustomExtranetDomain = "custom_extranet_domain"
	FeatureOnlinePayments       = "online_payments"
	FeatureElectronicSignature  = "electronic_signature"
	FeatureSMSNotifications     = "sms_notifications"
	FeatureAPIAccess            = "api_access"
	FeatureAdvancedReports      = "advanced_reports"
	FeatureDocumentStorage      = "document_storage"
	FeatureAutomatedReminders   = "automated_reminders"
)

// PlanFeature is one (plan, feature) grant. Limits carries optional
// plan-specific quotas as free-form JSON (max counts, storage caps).
type PlanFeature struct {
	ID         int64                  `json:"id"`
	PlanName   string                 `json:"plan_name"`
	FeatureKey string                 `json:"feature_key"`
	Enabled    bool                   `json:"enabled"`
	Limits     map[string]interface{} `json:"limits,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// FeatureSet is the set of enabled feature keys for one plan. Membership
// tests replace per-key queries once the set is loaded.
type FeatureSet map[string]bool

// Enabled reports whether key is in the set.
func (s FeatureSet) Enabled(key string) bool {
	return s[key]
}
