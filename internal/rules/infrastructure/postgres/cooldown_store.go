package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const defaultCooldownsTable = "rule_cooldowns"

// CooldownStore arbitrates rule triggers with a single conditional upsert.
type CooldownStore struct {
	db    *sql.DB
	table string
}

// NewCooldownStore constructs a store.
func NewCooldownStore(db *sql.DB) *CooldownStore {
	return &CooldownStore{db: db, table: defaultCooldownsTable}
}

// TryRecord records now as the last trigger when the cooldown has elapsed. The
// affected row count is the decision, so concurrent callers across processes get
// exactly one winner per window.
func (s *CooldownStore) TryRecord(ctx context.Context, ruleID, deviceID int64, cooldown time.Duration, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("cooldown store: nil db")
	}
	now = now.UTC()
	if cooldown <= 0 {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO rule_cooldowns (rule_id, device_id, last_triggered_at)
VALUES ($1, $2, $3)
ON CONFLICT (rule_id, device_id) DO UPDATE SET
	last_triggered_at = EXCLUDED.last_triggered_at`, ruleID, deviceID, now)
		if err != nil {
			return false, err
		}
		return true, nil
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO rule_cooldowns (rule_id, device_id, last_triggered_at)
VALUES ($1, $2, $3)
ON CONFLICT (rule_id, device_id) DO UPDATE SET
	last_triggered_at = EXCLUDED.last_triggered_at
WHERE rule_cooldowns.last_triggered_at <= $4`, ruleID, deviceID, now, now.Add(-cooldown))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
