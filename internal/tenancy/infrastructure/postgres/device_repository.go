package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	tenancy "factory-telemetry/internal/tenancy/domain"
)

const defaultDevicesTable = "devices"

const deviceColumns = `id, tenant_id, device_key, display_name, is_active, last_seen_at, created_at`

// DeviceRepository is a Postgres repository for devices.
type DeviceRepository struct {
	db    *sql.DB
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db, table: defaultDevicesTable}
}

// GetByKey loads a device by tenant and key.
func (r *DeviceRepository) GetByKey(ctx context.Context, tenantID int64, deviceKey string) (*tenancy.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if tenantID == 0 || deviceKey == "" {
		return nil, errors.New("device repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE tenant_id = $1 AND device_key = $2
LIMIT 1`, tenantID, deviceKey)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return device, nil
}

// CreateOrGet inserts a device with defaults. A concurrent insert of the same key
// loses on the unique constraint and reads the winner instead.
func (r *DeviceRepository) CreateOrGet(ctx context.Context, tenantID int64, deviceKey string, at time.Time) (*tenancy.Device, bool, error) {
	if r == nil || r.db == nil {
		return nil, false, errors.New("device repo: nil db")
	}
	if tenantID == 0 || deviceKey == "" {
		return nil, false, errors.New("device repo: invalid device")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
INSERT INTO devices (tenant_id, device_key, is_active, created_at)
VALUES ($1, $2, TRUE, $3)
ON CONFLICT (tenant_id, device_key) DO NOTHING
RETURNING `+deviceColumns, tenantID, deviceKey, at.UTC())
	device, err := scanDevice(row)
	if err == nil {
		return device, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.GetByKey(ctx, tenantID, deviceKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("device repo: device %q vanished after conflict", deviceKey)
	}
	return existing, false, nil
}

// TouchLastSeen advances last_seen_at monotonically.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, deviceID int64, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if deviceID == 0 {
		return errors.New("device repo: invalid device id")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE devices
SET last_seen_at = GREATEST(last_seen_at, $2)
WHERE id = $1`, deviceID, at.UTC())
	return err
}

func scanDevice(row *sql.Row) (*tenancy.Device, error) {
	var device tenancy.Device
	var displayName sql.NullString
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.TenantID,
		&device.DeviceKey,
		&displayName,
		&device.IsActive,
		&lastSeen,
		&device.CreatedAt,
	); err != nil {
		return nil, err
	}
	if displayName.Valid {
		device.DisplayName = displayName.String
	}
	if lastSeen.Valid {
		seen := lastSeen.Time.UTC()
		device.LastSeenAt = &seen
	}
	device.CreatedAt = device.CreatedAt.UTC()
	return &device, nil
}
