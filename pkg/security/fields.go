package security

import (
	"github.com/doorwayhq/doorway/pkg/profiles"
)

// identityColumns always survive field filtering. A record without its ID
// and timestamps is useless to every caller, including ones whose profile
// hides most of the row.
var identityColumns = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
}

// FilterFields returns a copy of record with every field the profile
// explicitly cannot read removed. The filter is default-allow: a field with
// no permission row passes through, and only a row with can_read=false hides
// one. Narrowing unknown fields is the checker's job (field level), not the
// filter's.
func FilterFields(record map[string]interface{}, fieldPerms []profiles.FieldPermission) map[string]interface{} {
	denied := make(map[string]struct{})
	for i := range fieldPerms {
		if !fieldPerms[i].CanRead {
			denied[fieldPerms[i].FieldName] = struct{}{}
		}
	}

	filtered := make(map[string]interface{}, len(record))
	for name, value := range record {
		if _, always := identityColumns[name]; always {
			filtered[name] = value
			continue
		}
		if _, drop := denied[name]; drop {
			continue
		}
		filtered[name] = value
	}

	return filtered
}
