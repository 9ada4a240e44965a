package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/doorwayhq/doorway/pkg/objects"
	"github.com/doorwayhq/doorway/pkg/observability"
)

// Default profile names
const (
	ProfileOwner      = "Owner"
	ProfileManager    = "Manager"
	ProfileAccountant = "Accountant"
	ProfileAgent      = "Agent"
	ProfileViewer     = "Viewer"
)

// ObjectGrant is one object-type entry in a profile template.
type ObjectGrant struct {
	ObjectType string
	Read       bool
	Create     bool
	Edit       bool
	Delete     bool
	ViewAll    bool
}

// ProfileTemplate describes one of the shipped profiles.
type ProfileTemplate struct {
	Name        string
	Description string
	Grants      []ObjectGrant
}

// domainTypes are the tenant-facing record types; administration types
// (user, organization, profile) are granted separately.
func domainTypes() []string {
	return []string{
		objects.TypeProperty,
		objects.TypeUnit,
		objects.TypeTenant,
		objects.TypeLease,
		objects.TypePayment,
		objects.TypeTask,
		objects.TypeMessage,
		objects.TypeJournalEntry,
		objects.TypeReport,
		objects.TypeActivity,
	}
}

func grantAll(types ...string) []ObjectGrant {
	grants := make([]ObjectGrant, 0, len(types))
	for _, t := range types {
		grants = append(grants, ObjectGrant{
			ObjectType: t,
			Read:       true, Create: true, Edit: true, Delete: true, ViewAll: true,
		})
	}
	return grants
}

func grantReadWrite(viewAll bool, types ...string) []ObjectGrant {
	grants := make([]ObjectGrant, 0, len(types))
	for _, t := range types {
		grants = append(grants, ObjectGrant{
			ObjectType: t,
			Read:       true, Create: true, Edit: true, ViewAll: viewAll,
		})
	}
	return grants
}

func grantRead(viewAll bool, types ...string) []ObjectGrant {
	grants := make([]ObjectGrant, 0, len(types))
	for _, t := range types {
		grants = append(grants, ObjectGrant{ObjectType: t, Read: true, ViewAll: viewAll})
	}
	return grants
}

// DefaultProfiles returns the five shipped profile templates. An object type
// absent from a template stays undefined for that profile, which the checker
// denies.
func DefaultProfiles() []ProfileTemplate {
	all := append(domainTypes(),
		objects.TypeUser,
		objects.TypeOrganization,
		objects.TypeProfile,
	)

	return []ProfileTemplate{
		{
			Name:        ProfileOwner,
			Description: "Full access to every object type, including administration",
			Grants:      grantAll(all...),
		},
		{
			Name:        ProfileManager,
			Description: "Manages the portfolio day to day; no profile or organization administration",
			Grants: append(
				grantReadWrite(true, domainTypes()...),
				grantRead(true, objects.TypeUser)...,
			),
		},
		{
			Name:        ProfileAccountant,
			Description: "Works payments and the ledger, reads the portfolio",
			Grants: append(
				grantReadWrite(true, objects.TypePayment, objects.TypeJournalEntry),
				grantRead(true,
					objects.TypeProperty,
					objects.TypeUnit,
					objects.TypeLease,
					objects.TypeTenant,
				)...,
			),
		},
		{
			Name:        ProfileAgent,
			Description: "Handles own tenants and leases; browses the portfolio read-only",
			Grants: append(
				// Agents see only records they own: no viewAll on workload types.
				grantReadWrite(false,
					objects.TypeTenant,
					objects.TypeLease,
					objects.TypeTask,
					objects.TypeMessage,
					objects.TypeActivity,
				),
				grantRead(true, objects.TypeProperty, objects.TypeUnit)...,
			),
		},
		{
			Name:        ProfileViewer,
			Description: "Read-only access to the whole portfolio",
			Grants:      grantRead(true, domainTypes()...),
		},
	}
}

// SeedDefaultProfiles creates the shipped profiles for one organization and
// converges their permission matrices. Safe to run repeatedly: profiles are
// matched by name and grants are upserts. Returns profile IDs by name so the
// caller can assign Owner to the founding member.
func SeedDefaultProfiles(ctx context.Context, store *Store, organizationID int64, logger *observability.Logger) (map[string]int64, error) {
	ids := make(map[string]int64)

	for _, tpl := range DefaultProfiles() {
		profile, err := seedProfile(ctx, store, &organizationID, tpl)
		if err != nil {
			return nil, err
		}
		ids[tpl.Name] = profile.ID
	}

	logger.WithFields(map[string]interface{}{
		"organization_id": organizationID,
		"profiles":        len(ids),
	}).Infof("Seeded default profiles")

	return ids, nil
}

// SeedGlobalTemplates creates the organization-independent Owner template
// used as the fallback for operators outside any tenant. Idempotent.
func SeedGlobalTemplates(ctx context.Context, store *Store, logger *observability.Logger) error {
	for _, tpl := range DefaultProfiles() {
		if tpl.Name != ProfileOwner {
			continue
		}
		if _, err := seedProfile(ctx, store, nil, tpl); err != nil {
			return err
		}
	}

	logger.Debugf("Seeded global profile templates")
	return nil
}

func seedProfile(ctx context.Context, store *Store, organizationID *int64, tpl ProfileTemplate) (*Profile, error) {
	profile, err := store.GetProfileByName(ctx, organizationID, tpl.Name)
	switch {
	case err == nil && matchesScope(profile, organizationID):
		// Already seeded; grants below still converge to the template.
	case err == nil || errors.Is(err, ErrNotFound):
		profile = &Profile{
			OrganizationID: organizationID,
			Name:           tpl.Name,
			Description:    tpl.Description,
			IsSystem:       true,
		}
		if err := store.CreateProfile(ctx, profile); err != nil {
			return nil, fmt.Errorf("failed to seed profile %s: %w", tpl.Name, err)
		}
	default:
		return nil, err
	}

	for _, grant := range tpl.Grants {
		perm := &ObjectPermission{
			ProfileID:  profile.ID,
			ObjectType: grant.ObjectType,
			CanRead:    grant.Read,
			CanCreate:  grant.Create,
			CanEdit:    grant.Edit,
			CanDelete:  grant.Delete,
			CanViewAll: grant.ViewAll,
		}
		if err := store.SetObjectPermission(ctx, perm); err != nil {
			return nil, fmt.Errorf("failed to seed %s grant on %s: %w", tpl.Name, grant.ObjectType, err)
		}
	}

	return profile, nil
}

// matchesScope guards against GetProfileByName falling back to a global
// template when the organization-scoped profile does not exist yet.
func matchesScope(profile *Profile, organizationID *int64) bool {
	if organizationID == nil {
		return profile.OrganizationID == nil
	}
	return profile.OrganizationID != nil && *profile.OrganizationID == *organizationID
}
