package tenancy

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTenantNotFound indicates an unknown tenant slug.
var ErrTenantNotFound = errors.New("tenancy: tenant not found")

// Tenant is an isolation boundary for devices, metrics and rules.
type Tenant struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

// Location resolves the tenant timezone. An empty timezone is UTC.
func (t Tenant) Location() (*time.Location, error) {
	name := strings.TrimSpace(t.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// TenantRepository loads tenants. GetBySlug returns (nil, nil) when absent.
type TenantRepository interface {
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
}
