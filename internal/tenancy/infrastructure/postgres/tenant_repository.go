package postgres

import (
	"context"
	"database/sql"
	"errors"

	tenancy "factory-telemetry/internal/tenancy/domain"
)

const defaultTenantsTable = "tenants"

// TenantRepository is a Postgres repository for tenants.
type TenantRepository struct {
	db    *sql.DB
	table string
}

// NewTenantRepository constructs a repository.
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db, table: defaultTenantsTable}
}

// GetBySlug loads a tenant by slug.
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*tenancy.Tenant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tenant repo: nil db")
	}
	if slug == "" {
		return nil, errors.New("tenant repo: empty slug")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, slug, name, timezone
FROM tenants
WHERE slug = $1
LIMIT 1`, slug)
	var tenant tenancy.Tenant
	if err := row.Scan(&tenant.ID, &tenant.Slug, &tenant.Name, &tenant.Timezone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}
