package plans

import (
	"context"
	"fmt"

	"github.com/doorwayhq/doorway/pkg/observability"
)

// DefaultPlanFeatures returns the shipped plan matrix. Only enabled features
// are listed; a key absent for a plan is disabled by definition.
func DefaultPlanFeatures() []PlanFeature {
	return []PlanFeature{
		// freemium: enough to evaluate the product.
		{PlanName: PlanFreemium, FeatureKey: FeatureDocumentStorage, Enabled: true,
			Limits: map[string]interface{}{"max_storage_mb": 100, "max_properties": 5}},

		// starter
		{PlanName: PlanStarter, FeatureKey: FeatureDocumentStorage, Enabled: true,
			Limits: map[string]interface{}{"max_storage_mb": 1024}},
		{PlanName: PlanStarter, FeatureKey: FeatureOnlinePayments, Enabled: true,
			Limits: map[string]interface{}{"monthly_transactions": 100}},
		{PlanName: PlanStarter, FeatureKey: FeatureSMSNotifications, Enabled: true,
			Limits: map[string]interface{}{"messages_per_month": 200}},
		{PlanName: PlanStarter, FeatureKey: FeatureAutomatedReminders, Enabled: true},

		// growth
		{PlanName: PlanGrowth, FeatureKey: FeatureDocumentStorage, Enabled: true,
			Limits: map[string]interface{}{"max_storage_mb": 10240}},
		{PlanName: PlanGrowth, FeatureKey: FeatureOnlinePayments, Enabled: true,
			Limits: map[string]interface{}{"monthly_transactions": 1000}},
		{PlanName: PlanGrowth, FeatureKey: FeatureSMSNotifications, Enabled: true,
			Limits: map[string]interface{}{"messages_per_month": 2000}},
		{PlanName: PlanGrowth, FeatureKey: FeatureAutomatedReminders, Enabled: true},
		{PlanName: PlanGrowth, FeatureKey: FeatureElectronicSignature, Enabled: true,
			Limits: map[string]interface{}{"envelopes_per_month": 25}},
		{PlanName: PlanGrowth, FeatureKey: FeatureAPIAccess, Enabled: true,
			Limits: map[string]interface{}{"requests_per_minute": 60}},
		{PlanName: PlanGrowth, FeatureKey: FeatureAdvancedReports, Enabled: true},
		{PlanName: PlanGrowth, FeatureKey: FeatureCustomExtranetDomain, Enabled: true},

		// scale
		{PlanName: PlanScale, FeatureKey: FeatureDocumentStorage, Enabled: true},
		{PlanName: PlanScale, FeatureKey: FeatureOnlinePayments, Enabled: true},
		{PlanName: PlanScale, FeatureKey: FeatureSMSNotifications, Enabled: true},
		{PlanName: PlanScale, FeatureKey: FeatureAutomatedReminders, Enabled: true},
		{PlanName: PlanScale, FeatureKey: FeatureElectronicSignature, Enabled: true},
		{PlanName: PlanScale, FeatureKey: FeatureAPIAccess, Enabled: true,
			Limits: map[string]interface{}{"requests_per_minute": 600}},
		{PlanName: PlanScale, FeatureKey: FeatureAdvancedReports, Enabled: true},
		{PlanName: PlanScale, FeatureKey: FeatureCustomExtranetDomain, Enabled: true},
	}
}

// SeedPlanFeatures upserts the shipped plan matrix. Safe to run on every
// startup: rows are keyed by (plan, feature) and re-seeding never duplicates.
func SeedPlanFeatures(ctx context.Context, store *PostgresStore, logger *observability.Logger) error {
	features := DefaultPlanFeatures()
	for i := range features {
		if err := store.Upsert(ctx, &features[i]); err != nil {
			return fmt.Errorf("failed to seed %s/%s: %w", features[i].PlanName, features[i].FeatureKey, err)
		}
	}

	logger.WithField("count", len(features)).Infof("Seeded plan features")
	return nil
}
