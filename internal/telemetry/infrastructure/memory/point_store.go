package memory

import (
	"context"
	"sync"
	"time"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

// PointStore keeps telemetry points in memory.
type PointStore struct {
	mu     sync.RWMutex
	points []telemetry.Point
	seen   map[pointKey]struct{}
}

type pointKey struct {
	tenantID int64
	deviceID int64
	metric   string
	at       int64
}

// NewPointStore constructs a PointStore.
func NewPointStore() *PointStore {
	return &PointStore{seen: make(map[pointKey]struct{})}
}

// WritePoints appends points, ignoring exact redeliveries.
func (s *PointStore) WritePoints(_ context.Context, points []telemetry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, point := range points {
		key := pointKey{tenantID: point.TenantID, deviceID: point.DeviceID, metric: point.MetricKey, at: point.ObservedAt.UnixNano()}
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		point.ObservedAt = point.ObservedAt.UTC()
		s.points = append(s.points, point)
	}
	return nil
}

// Points returns stored points for a device in [from, to).
func (s *PointStore) Points(deviceID int64, from, to time.Time) []telemetry.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []telemetry.Point
	for _, point := range s.points {
		if point.DeviceID != deviceID {
			continue
		}
		if !from.IsZero() && point.ObservedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !point.ObservedAt.Before(to) {
			continue
		}
		result = append(result, point)
	}
	return result
}

// Len returns the number of stored points.
func (s *PointStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}
