package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

const defaultPointsTable = "telemetry_points"

// PointWriter writes telemetry points to Postgres.
type PointWriter struct {
	db    *sql.DB
	table string
}

// NewPointWriter constructs a writer.
func NewPointWriter(db *sql.DB) *PointWriter {
	return &PointWriter{db: db, table: defaultPointsTable}
}

// WritePoints inserts points in one transaction. Redelivered points are ignored.
func (w *PointWriter) WritePoints(ctx context.Context, points []telemetry.Point) error {
	if w == nil || w.db == nil {
		return errors.New("point writer: nil db")
	}
	if len(points) == 0 {
		return nil
	}
	fail := func(err error) error {
		return &telemetry.PartialFailure{Failed: len(points), Total: len(points), Err: err}
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(fmt.Errorf("begin: %w", err))
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO telemetry_points (tenant_id, device_id, metric_key, value, observed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return fail(fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, point := range points {
		if _, err := stmt.ExecContext(ctx, point.TenantID, point.DeviceID, point.MetricKey, point.Value, point.ObservedAt.UTC()); err != nil {
			_ = tx.Rollback()
			return fail(fmt.Errorf("insert %s: %w", point.MetricKey, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	return nil
}
