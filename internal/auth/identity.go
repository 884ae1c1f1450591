package auth

import (
	"context"
	"errors"
)

// ErrTenantMismatch indicates the request targets a tenant other than the caller's.
var ErrTenantMismatch = errors.New("tenant mismatch")

// Identity is the verified caller attached to a request.
type Identity struct {
	Tenant  string
	Role    Role
	Subject string
}

type identityKey struct{}

// WithIdentity stores the caller's tenant slug, role and subject in ctx.
func WithIdentity(ctx context.Context, tenant string, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Tenant: tenant, Role: role, Subject: subject})
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// TenantFromContext returns the caller's tenant slug, or "" when unauthenticated.
func TenantFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Tenant
}

// RoleFromContext returns the caller's role, or "" when unauthenticated.
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// EnsureTenant verifies the authenticated tenant in ctx is slug.
func EnsureTenant(ctx context.Context, slug string) error {
	tenant := TenantFromContext(ctx)
	if tenant == "" || slug == "" || tenant != slug {
		return ErrTenantMismatch
	}
	return nil
}
