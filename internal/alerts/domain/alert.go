package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity levels carried from the rule.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Alert records one rule firing for one device.
type Alert struct {
	ID             string          `json:"id"`
	TenantID       int64           `json:"tenant_id"`
	RuleID         int64           `json:"rule_id"`
	DeviceID       int64           `json:"device_id"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	Severity       string          `json:"severity"`
	Message        string          `json:"message"`
	MetricSnapshot json.RawMessage `json:"metric_snapshot"`
	Notified       bool            `json:"notified"`

	// Display fields filled by the coordinator; not persisted.
	TenantSlug string `json:"tenant,omitempty"`
	DeviceKey  string `json:"device,omitempty"`
	RuleName   string `json:"rule,omitempty"`
}

// NewAlert builds an alert with a fresh id.
func NewAlert(tenantID, ruleID, deviceID int64, severity, message string, snapshot json.RawMessage, at time.Time) (*Alert, error) {
	if tenantID == 0 || ruleID == 0 || deviceID == 0 {
		return nil, errors.New("alert: tenant, rule and device are required")
	}
	if at.IsZero() {
		return nil, errors.New("alert: triggered_at is required")
	}
	if len(snapshot) == 0 {
		snapshot = json.RawMessage(`{}`)
	}
	severity = strings.ToLower(strings.TrimSpace(severity))
	if severity == "" {
		severity = SeverityMedium
	}
	return &Alert{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		RuleID:         ruleID,
		DeviceID:       deviceID,
		TriggeredAt:    at.UTC(),
		Severity:       severity,
		Message:        message,
		MetricSnapshot: snapshot,
	}, nil
}

// Repository persists alerts.
type Repository interface {
	Save(ctx context.Context, alert *Alert) error
	MarkNotified(ctx context.Context, id string) error
}
