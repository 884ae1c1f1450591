package rules

import (
	"context"
	"encoding/json"
	"time"

	"factory-telemetry/internal/rules/condition"
	"factory-telemetry/internal/rules/schedule"
)

// Scope selects which devices a rule applies to.
type Scope string

const (
	ScopeDevice Scope = "device"
	ScopeGlobal Scope = "global"
)

// Channels selects notification channels for a rule.
type Channels struct {
	Email   bool `json:"email"`
	SMS     bool `json:"sms"`
	Webhook bool `json:"webhook"`
	Stream  bool `json:"stream"`
}

// Any reports whether at least one channel is enabled.
func (c Channels) Any() bool {
	return c.Email || c.SMS || c.Webhook || c.Stream
}

// Rule is an alerting rule owned by the rule-management subsystem. The engine only reads it.
type Rule struct {
	ID             int64
	TenantID       int64
	Name           string
	Scope          Scope
	DeviceIDs      []int64
	ConditionTree  json.RawMessage
	Cooldown       time.Duration
	IsActive       bool
	ScheduleKind   schedule.Kind
	ScheduleConfig json.RawMessage
	Severity       string
	Channels       Channels
	// LoadErr is set when the stored row could not be decoded; such a rule never fires.
	LoadErr error
}

// Targets reports whether the rule applies to deviceID.
func (r Rule) Targets(deviceID int64) bool {
	if r.Scope == ScopeGlobal {
		return true
	}
	for _, id := range r.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// Condition decodes the rule's condition tree.
func (r Rule) Condition() (condition.Node, error) {
	return condition.Decode(r.ConditionTree)
}

// Repository reads rules.
type Repository interface {
	// ListActiveForDevice returns active rules of the tenant that are global or
	// device-scoped and target deviceID.
	ListActiveForDevice(ctx context.Context, tenantID, deviceID int64) ([]Rule, error)
}

// CooldownStore persists the last trigger time per (rule, device).
type CooldownStore interface {
	// TryRecord sets last_triggered_at to now when no record exists or the existing
	// one is at or before now-cooldown. It reports whether the write happened.
	TryRecord(ctx context.Context, ruleID, deviceID int64, cooldown time.Duration, now time.Time) (bool, error)
}
