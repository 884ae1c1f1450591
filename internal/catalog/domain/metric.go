package catalog

import (
	"context"
	"time"
)

// ValueKind describes the observed type of a metric.
type ValueKind string

const (
	KindFloat  ValueKind = "float"
	KindInt    ValueKind = "int"
	KindString ValueKind = "string"
)

// Metric is discovered metadata for a key reported by a device.
type Metric struct {
	ID           int64
	TenantID     int64
	DeviceID     int64
	Key          string
	DisplayName  string
	Unit         string
	ValueKind    ValueKind
	IsSelected   bool
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// Repository persists metric metadata.
type Repository interface {
	// Upsert inserts the metric or refreshes updated_at when it already exists.
	// Concurrent callers never observe a duplicate-key error.
	Upsert(ctx context.Context, tenantID, deviceID int64, key string, kind ValueKind, at time.Time) (*Metric, error)
	ListByDevice(ctx context.Context, deviceID int64) ([]Metric, error)
}
