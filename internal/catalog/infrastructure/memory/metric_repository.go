package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	catalog "factory-telemetry/internal/catalog/domain"
)

// MetricRepository is an in-memory metric catalog.
type MetricRepository struct {
	mu     sync.Mutex
	data   map[metricKey]*catalog.Metric
	nextID int64
}

type metricKey struct {
	deviceID int64
	key      string
}

// NewMetricRepository constructs a repository.
func NewMetricRepository() *MetricRepository {
	return &MetricRepository{data: make(map[metricKey]*catalog.Metric)}
}

// Upsert inserts a metric or advances updated_at.
func (r *MetricRepository) Upsert(_ context.Context, tenantID, deviceID int64, key string, kind catalog.ValueKind, at time.Time) (*catalog.Metric, error) {
	if tenantID == 0 || deviceID == 0 || key == "" {
		return nil, errors.New("metric repo: invalid metric")
	}
	if kind == "" {
		kind = catalog.KindFloat
	}
	at = at.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	k := metricKey{deviceID: deviceID, key: key}
	if existing := r.data[k]; existing != nil {
		if at.After(existing.UpdatedAt) {
			existing.UpdatedAt = at
		}
		clone := *existing
		return &clone, nil
	}
	r.nextID++
	metric := &catalog.Metric{
		ID:           r.nextID,
		TenantID:     tenantID,
		DeviceID:     deviceID,
		Key:          key,
		ValueKind:    kind,
		IsSelected:   true,
		DiscoveredAt: at,
		UpdatedAt:    at,
	}
	r.data[k] = metric
	clone := *metric
	return &clone, nil
}

// ListByDevice returns the metrics discovered for a device ordered by key.
func (r *MetricRepository) ListByDevice(_ context.Context, deviceID int64) ([]catalog.Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []catalog.Metric
	for k, metric := range r.data {
		if k.deviceID == deviceID {
			result = append(result, *metric)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}
