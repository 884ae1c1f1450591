package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	catalog "factory-telemetry/internal/catalog/domain"
)

const defaultMetricsTable = "metrics"

const metricColumns = `id, tenant_id, device_id, key, display_name, unit, value_kind, is_selected, discovered_at, updated_at`

// MetricRepository is a Postgres repository for discovered metrics.
type MetricRepository struct {
	db    *sql.DB
	table string
}

// NewMetricRepository constructs a repository.
func NewMetricRepository(db *sql.DB) *MetricRepository {
	return &MetricRepository{db: db, table: defaultMetricsTable}
}

// Upsert inserts a metric or advances updated_at. discovered_at, display_name and
// unit are never touched on conflict.
func (r *MetricRepository) Upsert(ctx context.Context, tenantID, deviceID int64, key string, kind catalog.ValueKind, at time.Time) (*catalog.Metric, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("metric repo: nil db")
	}
	if tenantID == 0 || deviceID == 0 || key == "" {
		return nil, errors.New("metric repo: invalid metric")
	}
	if kind == "" {
		kind = catalog.KindFloat
	}
	at = at.UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO metrics (tenant_id, device_id, key, value_kind, is_selected, discovered_at, updated_at)
VALUES ($1, $2, $3, $4, TRUE, $5, $5)
ON CONFLICT (device_id, key) DO UPDATE SET
	updated_at = GREATEST(metrics.updated_at, EXCLUDED.updated_at)
RETURNING `+metricColumns, tenantID, deviceID, key, string(kind), at)
	return scanMetric(row)
}

// ListByDevice returns the metrics discovered for a device.
func (r *MetricRepository) ListByDevice(ctx context.Context, deviceID int64) ([]catalog.Metric, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("metric repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+metricColumns+`
FROM metrics
WHERE device_id = $1
ORDER BY key ASC`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.Metric
	for rows.Next() {
		metric, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *metric)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetric(row scanner) (*catalog.Metric, error) {
	var metric catalog.Metric
	var displayName, unit sql.NullString
	var kind string
	if err := row.Scan(
		&metric.ID,
		&metric.TenantID,
		&metric.DeviceID,
		&metric.Key,
		&displayName,
		&unit,
		&kind,
		&metric.IsSelected,
		&metric.DiscoveredAt,
		&metric.UpdatedAt,
	); err != nil {
		return nil, err
	}
	metric.DisplayName = displayName.String
	metric.Unit = unit.String
	metric.ValueKind = catalog.ValueKind(kind)
	metric.DiscoveredAt = metric.DiscoveredAt.UTC()
	metric.UpdatedAt = metric.UpdatedAt.UTC()
	return &metric, nil
}
