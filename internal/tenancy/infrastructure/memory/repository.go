package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	tenancy "factory-telemetry/internal/tenancy/domain"
)

// Repository is an in-memory tenant and device store for local runs and tests.
// It implements both tenancy.TenantRepository and tenancy.DeviceRepository.
type Repository struct {
	mu           sync.RWMutex
	tenants      map[string]tenancy.Tenant
	devices      map[deviceKey]*tenancy.Device
	byID         map[int64]*tenancy.Device
	nextTenantID int64
	nextDeviceID int64
}

type deviceKey struct {
	tenantID int64
	key      string
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{
		tenants: make(map[string]tenancy.Tenant),
		devices: make(map[deviceKey]*tenancy.Device),
		byID:    make(map[int64]*tenancy.Device),
	}
}

// AddTenant stores a tenant, assigning an id when none is set.
func (r *Repository) AddTenant(tenant tenancy.Tenant) tenancy.Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenant.ID == 0 {
		r.nextTenantID++
		tenant.ID = r.nextTenantID
	} else if tenant.ID > r.nextTenantID {
		r.nextTenantID = tenant.ID
	}
	r.tenants[tenant.Slug] = tenant
	return tenant
}

// GetBySlug loads a tenant by slug.
func (r *Repository) GetBySlug(_ context.Context, slug string) (*tenancy.Tenant, error) {
	if slug == "" {
		return nil, errors.New("tenant repo: empty slug")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenant, ok := r.tenants[slug]
	if !ok {
		return nil, nil
	}
	return &tenant, nil
}

// GetByKey loads a device by tenant and key.
func (r *Repository) GetByKey(_ context.Context, tenantID int64, key string) (*tenancy.Device, error) {
	if tenantID == 0 || key == "" {
		return nil, errors.New("device repo: invalid query")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	device := r.devices[deviceKey{tenantID: tenantID, key: key}]
	if device == nil {
		return nil, nil
	}
	return cloneDevice(device), nil
}

// CreateOrGet inserts a device with defaults or returns the existing one.
func (r *Repository) CreateOrGet(_ context.Context, tenantID int64, key string, at time.Time) (*tenancy.Device, bool, error) {
	if tenantID == 0 || key == "" {
		return nil, false, errors.New("device repo: invalid device")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := deviceKey{tenantID: tenantID, key: key}
	if existing := r.devices[k]; existing != nil {
		return cloneDevice(existing), false, nil
	}
	r.nextDeviceID++
	device := &tenancy.Device{
		ID:        r.nextDeviceID,
		TenantID:  tenantID,
		DeviceKey: key,
		IsActive:  true,
		CreatedAt: at.UTC(),
	}
	r.devices[k] = device
	r.byID[device.ID] = device
	return cloneDevice(device), true, nil
}

// TouchLastSeen advances last_seen_at monotonically.
func (r *Repository) TouchLastSeen(_ context.Context, deviceID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device := r.byID[deviceID]
	if device == nil {
		return errors.New("device repo: unknown device")
	}
	at = at.UTC()
	if device.LastSeenAt == nil || at.After(*device.LastSeenAt) {
		device.LastSeenAt = &at
	}
	return nil
}

// DeviceCount returns the number of stored devices.
func (r *Repository) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func cloneDevice(device *tenancy.Device) *tenancy.Device {
	clone := *device
	if device.LastSeenAt != nil {
		seen := *device.LastSeenAt
		clone.LastSeenAt = &seen
	}
	return &clone
}
