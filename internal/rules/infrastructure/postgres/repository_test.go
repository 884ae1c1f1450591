package postgres

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "factory-telemetry/internal/rules/domain"
	"factory-telemetry/internal/rules/schedule"
)

func TestListActiveForDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	columns := []string{"id", "tenant_id", "name", "scope", "device_ids", "condition_tree", "cooldown_seconds",
		"is_active", "schedule_kind", "schedule_config", "severity", "channels"}
	mock.ExpectQuery(regexp.QuoteMeta("device_ids @> jsonb_build_array($2::bigint)")).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(3), int64(1), "Over voltage", "device", []byte(`[5, 6]`),
				[]byte(`{"metric":"voltage","operator":">","threshold":240}`), int64(900),
				true, "always", []byte(`{}`), "critical", []byte(`{"email":true,"stream":true}`)).
			AddRow(int64(4), int64(1), "Night watch", "global", []byte(`[]`),
				[]byte(`{"combinator":"AND","children":[]}`), int64(0),
				true, "time_window", []byte(`{"start_time":"22:00","end_time":"06:00"}`), "low", []byte(`{}`)))

	list, err := NewRuleRepository(db).ListActiveForDevice(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, list, 2)

	first := list[0]
	assert.Equal(t, rules.ScopeDevice, first.Scope)
	assert.Equal(t, []int64{5, 6}, first.DeviceIDs)
	assert.Equal(t, 15*time.Minute, first.Cooldown)
	assert.Equal(t, rules.Channels{Email: true, Stream: true}, first.Channels)
	_, err = first.Condition()
	assert.NoError(t, err)

	second := list[1]
	assert.Equal(t, rules.ScopeGlobal, second.Scope)
	assert.Equal(t, schedule.KindTimeWindow, second.ScheduleKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveForDeviceFlagsUndecodableRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	columns := []string{"id", "tenant_id", "name", "scope", "device_ids", "condition_tree", "cooldown_seconds",
		"is_active", "schedule_kind", "schedule_config", "severity", "channels"}
	mock.ExpectQuery(regexp.QuoteMeta("device_ids @> jsonb_build_array($2::bigint)")).
		WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(3), int64(1), "Over voltage", "global", []byte(`[]`),
				[]byte(`{"metric":"voltage","operator":">","threshold":240}`), int64(900),
				true, "always", []byte(`{}`), "critical", []byte(`{"email":true}`)).
			AddRow(int64(4), int64(1), "Bad channels", "global", []byte(`[]`),
				[]byte(`{"metric":"voltage","operator":">","threshold":0}`), int64(0),
				true, "always", []byte(`{}`), "low", []byte(`{"email":"yes"}`)))

	list, err := NewRuleRepository(db).ListActiveForDevice(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.NoError(t, list[0].LoadErr)
	assert.Equal(t, rules.Channels{Email: true}, list[0].Channels)
	assert.ErrorContains(t, list[1].LoadErr, "rule 4 channels")
	assert.False(t, list[1].Channels.Any())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryRecordUsesRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cooldown := 15 * time.Minute
	query := regexp.QuoteMeta("WHERE rule_cooldowns.last_triggered_at <= $4")

	mock.ExpectExec(query).WithArgs(int64(3), int64(5), now, now.Add(-cooldown)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs(int64(3), int64(5), now, now.Add(-cooldown)).WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewCooldownStore(db)
	ok, err := store.TryRecord(context.Background(), 3, 5, cooldown, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.TryRecord(context.Background(), 3, 5, cooldown, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryRecordZeroCooldownAlwaysRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rule_cooldowns")).
		WithArgs(int64(3), int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := NewCooldownStore(db).TryRecord(context.Background(), 3, 5, 0, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryRecordPostgresExclusivity(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS rule_cooldowns (
	rule_id BIGINT NOT NULL,
	device_id BIGINT NOT NULL,
	last_triggered_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (rule_id, device_id)
)`)
	require.NoError(t, err)

	ruleID := time.Now().UnixNano()
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM rule_cooldowns WHERE rule_id = $1`, ruleID)
	})

	store := NewCooldownStore(db)
	base := time.Now().UTC().Truncate(time.Second)
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryRecord(ctx, ruleID, 5, 15*time.Minute, base)
			if err != nil {
				t.Errorf("try record: %v", err)
				return
			}
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load())

	ok, err := store.TryRecord(ctx, ruleID, 5, 15*time.Minute, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.TryRecord(ctx, ruleID, 5, 15*time.Minute, base.Add(16*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}
