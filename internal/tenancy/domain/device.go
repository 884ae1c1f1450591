package tenancy

import (
	"context"
	"time"
)

// Device is a telemetry source owned by a tenant.
type Device struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	DeviceKey   string     `json:"device_key"`
	DisplayName string     `json:"display_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DeviceRepository persists devices.
type DeviceRepository interface {
	// GetByKey returns (nil, nil) when the device does not exist.
	GetByKey(ctx context.Context, tenantID int64, deviceKey string) (*Device, error)
	// CreateOrGet inserts a device with defaults or returns the existing row.
	// created reports whether this call inserted it.
	CreateOrGet(ctx context.Context, tenantID int64, deviceKey string, at time.Time) (device *Device, created bool, err error)
	// TouchLastSeen advances last_seen_at; it never moves backwards.
	TouchLastSeen(ctx context.Context, deviceID int64, at time.Time) error
}
