package tenancy

import "time"

// OnlineWindow is how recently a device must have reported to count as online.
const OnlineWindow = 10 * time.Minute

// Health values.
const (
	HealthOnline    = "online"
	HealthStale     = "stale"
	HealthNeverSeen = "never_seen"
	HealthDisabled  = "disabled"
)

// DeviceStatus is a read-side projection over Device.
type DeviceStatus struct {
	DeviceKey  string     `json:"device_key"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Health     string     `json:"health"`
}

// StatusOf derives the status of a device at now.
func StatusOf(device Device, now time.Time) DeviceStatus {
	status := DeviceStatus{DeviceKey: device.DeviceKey, LastSeenAt: device.LastSeenAt}
	switch {
	case !device.IsActive:
		status.Health = HealthDisabled
	case device.LastSeenAt == nil:
		status.Health = HealthNeverSeen
	case now.Sub(*device.LastSeenAt) <= OnlineWindow:
		status.IsOnline = true
		status.Health = HealthOnline
	default:
		status.Health = HealthStale
	}
	return status
}
