package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	catalog "factory-telemetry/internal/catalog/domain"
	"factory-telemetry/internal/observability/metrics"
)

// Discoverer records the metric keys devices report.
type Discoverer struct {
	repo   catalog.Repository
	logger *zap.Logger
}

// NewDiscoverer constructs a Discoverer.
func NewDiscoverer(repo catalog.Repository, logger *zap.Logger) (*Discoverer, error) {
	if repo == nil {
		return nil, errors.New("metric discovery: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{repo: repo, logger: logger}, nil
}

// Discover ensures exactly one metric row exists for (device, key).
func (d *Discoverer) Discover(ctx context.Context, tenantID, deviceID int64, key string, kind catalog.ValueKind, at time.Time) (*catalog.Metric, error) {
	metric, err := d.repo.Upsert(ctx, tenantID, deviceID, key, kind, at)
	if err != nil {
		metrics.ObserveDiscovery(metrics.ResultError)
		return nil, fmt.Errorf("metric discovery: upsert %q: %w", key, err)
	}
	metrics.ObserveDiscovery(metrics.ResultSuccess)
	return metric, nil
}

// DiscoverAll discovers every key once. A failed key does not stop the others;
// the returned error joins all failures.
func (d *Discoverer) DiscoverAll(ctx context.Context, tenantID, deviceID int64, keys map[string]catalog.ValueKind, at time.Time) (int, error) {
	names := make([]string, 0, len(keys))
	for key := range keys {
		names = append(names, key)
	}
	sort.Strings(names)

	var errs []error
	discovered := 0
	for _, key := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := d.Discover(ctx, tenantID, deviceID, key, keys[key], at); err != nil {
			d.logger.Warn("metric discovery failed",
				zap.Int64("device_id", deviceID),
				zap.String("metric", key),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		discovered++
	}
	return discovered, errors.Join(errs...)
}
