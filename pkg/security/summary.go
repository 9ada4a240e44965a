package security

import (
	"github.com/doorwayhq/doorway/pkg/profiles"
)

// ProfileAccessSummary aggregates a profile's object permissions into one
// view: the broadest level it holds anywhere and how many object types it
// can access at all.
type ProfileAccessSummary struct {
	ProfileID          int64                           `json:"profile_id"`
	OverallAccessLevel profiles.AccessLevel            `json:"overall_access_level"`
	AccessibleObjects  int                             `json:"accessible_objects"`
	ObjectLevels       map[string]profiles.AccessLevel `json:"object_levels"`
}

// AnalyzeProfileAccessLevel summarizes a profile's permission rows. Levels
// are re-derived from the grant flags rather than trusting the stored
// column. Rows that grant nothing count as inaccessible.
func AnalyzeProfileAccessLevel(profileID int64, perms []profiles.ObjectPermission) ProfileAccessSummary {
	summary := ProfileAccessSummary{
		ProfileID:          profileID,
		OverallAccessLevel: profiles.AccessNone,
		ObjectLevels:       make(map[string]profiles.AccessLevel, len(perms)),
	}

	for i := range perms {
		level := perms[i].DeriveAccessLevel()
		summary.ObjectLevels[perms[i].ObjectType] = level

		if level != profiles.AccessNone {
			summary.AccessibleObjects++
		}
		if level.Rank() > summary.OverallAccessLevel.Rank() {
			summary.OverallAccessLevel = level
		}
	}

	return summary
}

// HasAccessLevelOrHigher reports whether level grants at least required.
// The levels form a total order: none < read < read_write < all.
func HasAccessLevelOrHigher(level, required profiles.AccessLevel) bool {
	return level.AtLeast(required)
}
