package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rules "factory-telemetry/internal/rules/domain"
	"factory-telemetry/internal/rules/schedule"
)

const defaultRulesTable = "rules"

// RuleRepository reads alert rules from Postgres.
type RuleRepository struct {
	db    *sql.DB
	table string
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db, table: defaultRulesTable}
}

// ListActiveForDevice returns active global rules and device rules targeting deviceID.
func (r *RuleRepository) ListActiveForDevice(ctx context.Context, tenantID, deviceID int64) ([]rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if tenantID == 0 || deviceID == 0 {
		return nil, errors.New("rule repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, name, scope, device_ids, condition_tree, cooldown_seconds,
	is_active, schedule_kind, schedule_config, severity, channels
FROM rules
WHERE tenant_id = $1 AND is_active = TRUE
	AND (scope = 'global' OR device_ids @> jsonb_build_array($2::bigint))
ORDER BY id ASC`, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Rule
	for rows.Next() {
		var (
			rule            rules.Rule
			scope, kind     string
			deviceIDs       []byte
			conditionTree   []byte
			scheduleConfig  []byte
			channels        []byte
			cooldownSeconds int64
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.TenantID,
			&rule.Name,
			&scope,
			&deviceIDs,
			&conditionTree,
			&cooldownSeconds,
			&rule.IsActive,
			&kind,
			&scheduleConfig,
			&rule.Severity,
			&channels,
		); err != nil {
			return nil, err
		}
		rule.Scope = rules.Scope(scope)
		rule.ScheduleKind = schedule.Kind(kind)
		rule.Cooldown = time.Duration(cooldownSeconds) * time.Second
		rule.ConditionTree = append(json.RawMessage(nil), conditionTree...)
		rule.ScheduleConfig = append(json.RawMessage(nil), scheduleConfig...)
		// A row that fails to decode is returned flagged so the rest of the list still evaluates.
		if len(deviceIDs) > 0 {
			if err := json.Unmarshal(deviceIDs, &rule.DeviceIDs); err != nil {
				rule.DeviceIDs = nil
				rule.LoadErr = fmt.Errorf("rule repo: rule %d device_ids: %w", rule.ID, err)
			}
		}
		if len(channels) > 0 && rule.LoadErr == nil {
			if err := json.Unmarshal(channels, &rule.Channels); err != nil {
				rule.Channels = rules.Channels{}
				rule.LoadErr = fmt.Errorf("rule repo: rule %d channels: %w", rule.ID, err)
			}
		}
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
