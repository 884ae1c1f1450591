package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"text/template"
	"time"

	alerts "factory-telemetry/internal/alerts/domain"
)

const DefaultTemplate = `[Alert {{.SeverityLabel}}]
Tenant: {{.Tenant}}
Device: {{.Device}}
Rule: {{.Rule}}
Message: {{.Message}}
Metrics: {{.Metrics}}
Triggered At: {{.TriggeredAt}}
Suggestion: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	AlertID       string
	Tenant        string
	Device        string
	Rule          string
	RuleID        int64
	Severity      string
	SeverityLabel string
	Message       string
	Metrics       string
	TriggeredAt   string
	Suggestion    string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Option("missingkey=zero").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildTemplateData(alert alerts.Alert) TemplateData {
	tenant := alert.TenantSlug
	if tenant == "" {
		tenant = formatID(alert.TenantID)
	}
	device := alert.DeviceKey
	if device == "" {
		device = formatID(alert.DeviceID)
	}
	rule := alert.RuleName
	if rule == "" {
		rule = formatID(alert.RuleID)
	}
	return TemplateData{
		AlertID:       alert.ID,
		Tenant:        tenant,
		Device:        device,
		Rule:          rule,
		RuleID:        alert.RuleID,
		Severity:      alert.Severity,
		SeverityLabel: strings.ToUpper(alert.Severity),
		Message:       alert.Message,
		Metrics:       compactSnapshot(alert.MetricSnapshot),
		TriggeredAt:   alert.TriggeredAt.UTC().Format(time.RFC3339),
		Suggestion:    suggestionFor(alert.Severity),
	}
}

func compactSnapshot(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func suggestionFor(severity string) string {
	switch strings.TrimSpace(strings.ToLower(severity)) {
	case alerts.SeverityCritical, alerts.SeverityHigh:
		return "Investigate immediately and mitigate risk."
	case alerts.SeverityMedium:
		return "Verify the condition and take action if needed."
	case alerts.SeverityLow:
		return "Monitor the device condition."
	default:
		return "Inspect the device and confirm the alert condition."
	}
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return "#" + strconv.FormatInt(id, 10)
}
