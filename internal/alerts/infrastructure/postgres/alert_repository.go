package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	alerts "factory-telemetry/internal/alerts/domain"
)

const defaultAlertsTable = "alerts"

// AlertRepository stores alerts in Postgres.
type AlertRepository struct {
	db    *sql.DB
	table string
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, table: defaultAlertsTable}
}

// Save inserts an alert.
func (r *AlertRepository) Save(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repository: nil db")
	}
	if alert == nil || alert.ID == "" {
		return errors.New("alert repository: alert id is required")
	}
	snapshot := alert.MetricSnapshot
	if len(snapshot) == 0 {
		snapshot = []byte(`{}`)
	}
	var resolved interface{}
	if alert.ResolvedAt != nil {
		resolved = alert.ResolvedAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, tenant_id, rule_id, device_id, triggered_at, resolved_at, severity, message, metric_snapshot, notified
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.ID,
		alert.TenantID,
		alert.RuleID,
		alert.DeviceID,
		alert.TriggeredAt.UTC(),
		resolved,
		alert.Severity,
		alert.Message,
		[]byte(snapshot),
		alert.Notified,
	)
	if err != nil {
		return fmt.Errorf("alert repository: save %s: %w", alert.ID, err)
	}
	return nil
}

// MarkNotified flags the alert as delivered on at least one channel.
func (r *AlertRepository) MarkNotified(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("alert repository: nil db")
	}
	if id == "" {
		return errors.New("alert repository: alert id is required")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET notified = TRUE
WHERE id = $1 AND notified = FALSE`, id)
	if err != nil {
		return fmt.Errorf("alert repository: mark notified %s: %w", id, err)
	}
	return nil
}
