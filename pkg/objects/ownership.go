package objects

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Resolver maps a record to its owning organization and user, walking parent
// links (unit→property, lease→unit, payment→lease|tenant) for whatever the
// record's own row does not carry.
type Resolver struct {
	db       *sql.DB
	registry *Registry
}

// NewResolver creates an ownership resolver reading through db.
func NewResolver(db *sql.DB, registry *Registry) *Resolver {
	return &Resolver{db: db, registry: registry}
}

// Resolve returns the ownership of (objectType, objectID). A missing record,
// or a broken link anywhere in the parent chain, returns ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, objectType string, objectID int64) (*Ownership, error) {
	return r.resolve(ctx, objectType, objectID, 0)
}

func (r *Resolver) resolve(ctx context.Context, objectType string, objectID int64, depth int) (*Ownership, error) {
	if depth > maxParentDepth {
		return nil, fmt.Errorf("%w: %s", ErrOwnershipChainTooDeep, objectType)
	}

	def, err := r.registry.Get(objectType)
	if err != nil {
		return nil, err
	}

	// Identifier syntax was enforced at registration, so interpolating the
	// definition's table and columns is safe here.
	var (
		columns    []string
		dests      []interface{}
		orgVal     sql.NullInt64
		ownerVal   sql.NullInt64
		parentVals = make([]sql.NullInt64, len(def.Parents))
		existsVal  int64
	)

	if def.OrganizationColumn != "" {
		columns = append(columns, def.OrganizationColumn)
		dests = append(dests, &orgVal)
	}
	if def.OwnerColumn != "" {
		columns = append(columns, def.OwnerColumn)
		dests = append(dests, &ownerVal)
	}
	for i, link := range def.Parents {
		columns = append(columns, link.FKColumn)
		dests = append(dests, &parentVals[i])
	}
	if len(columns) == 0 {
		columns = append(columns, "id")
		dests = append(dests, &existsVal)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		strings.Join(columns, ", "), def.TableName)

	err = r.db.QueryRowContext(ctx, query, objectID).Scan(dests...)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %d: %w", objectType, objectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s %d: %w", objectType, objectID, err)
	}

	own := &Ownership{}
	if orgVal.Valid {
		v := orgVal.Int64
		own.OrganizationID = &v
	}
	if ownerVal.Valid {
		v := ownerVal.Int64
		own.OwnerID = &v
	}

	if own.OrganizationID != nil && own.OwnerID != nil {
		return own, nil
	}

	// First linked parent wins; a payment resolves via its lease when one is
	// attached, via its tenant otherwise.
	for i, link := range def.Parents {
		if !parentVals[i].Valid {
			continue
		}
		parent, err := r.resolve(ctx, link.Type, parentVals[i].Int64, depth+1)
		if err != nil {
			return nil, err
		}
		if own.OrganizationID == nil {
			own.OrganizationID = parent.OrganizationID
		}
		if own.OwnerID == nil {
			own.OwnerID = parent.OwnerID
		}
		break
	}

	return own, nil
}
