package schedule

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-03-02 is a Monday.
func at(loc *time.Location, day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, loc)
}

func inScope(t *testing.T, kind Kind, config string, now time.Time, loc *time.Location) bool {
	t.Helper()
	ok, err := InScope(kind, json.RawMessage(config), now, loc)
	require.NoError(t, err)
	return ok
}

func TestAlways(t *testing.T) {
	assert.True(t, inScope(t, KindAlways, `{}`, time.Now(), nil))
	assert.True(t, inScope(t, "", ``, time.Now(), nil))
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	config := `{"start_time": "22:00", "end_time": "06:00", "days_of_week": ["Mon"]}`
	utc := time.UTC

	assert.True(t, inScope(t, KindTimeWindow, config, at(utc, 2, 23, 0), utc), "Monday 23:00")
	assert.True(t, inScope(t, KindTimeWindow, config, at(utc, 3, 5, 0), utc), "Tuesday 05:00")
	assert.False(t, inScope(t, KindTimeWindow, config, at(utc, 2, 12, 0), utc), "Monday 12:00")
	assert.False(t, inScope(t, KindTimeWindow, config, at(utc, 2, 5, 0), utc), "Monday 05:00 belongs to Sunday")
	assert.False(t, inScope(t, KindTimeWindow, config, at(utc, 3, 6, 0), utc), "end is exclusive")
	assert.False(t, inScope(t, KindTimeWindow, config, at(utc, 3, 23, 0), utc), "Tuesday 23:00")
}

func TestTimeWindowUsesTenantTimezone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	config := `{"start_time": "08:00", "end_time": "17:00", "days_of_week": [1, 2, 3, 4, 5]}`

	// 07:30 UTC is 08:30 in Berlin (CET, UTC+1) on a Monday.
	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	assert.True(t, inScope(t, KindTimeWindow, config, now, berlin))
	assert.False(t, inScope(t, KindTimeWindow, config, now, time.UTC))
}

func TestTimeWindowDays(t *testing.T) {
	utc := time.UTC
	sunday := at(utc, 1, 12, 0)
	assert.True(t, inScope(t, KindTimeWindow, `{"start_time": "00:00", "end_time": "23:59:59", "days_of_week": [7]}`, sunday, utc))
	assert.True(t, inScope(t, KindTimeWindow, `{"start_time": "00:00", "end_time": "23:59", "days_of_week": [0]}`, sunday, utc))
	assert.True(t, inScope(t, KindTimeWindow, `{"start_time": "00:00", "end_time": "23:59", "days_of_week": ["sunday"]}`, sunday, utc))
	assert.True(t, inScope(t, KindTimeWindow, `{"start_time": "00:00", "end_time": "23:59", "days_of_week": []}`, sunday, utc))
	assert.False(t, inScope(t, KindTimeWindow, `{"start_time": "00:00", "end_time": "23:59", "days_of_week": ["sat"]}`, sunday, utc))
}

func TestTimeWindowEqualBoundsIsWholeDay(t *testing.T) {
	utc := time.UTC
	config := `{"start_time": "09:00", "end_time": "09:00", "days_of_week": ["mon"]}`
	assert.True(t, inScope(t, KindTimeWindow, config, at(utc, 2, 3, 0), utc))
	assert.False(t, inScope(t, KindTimeWindow, config, at(utc, 3, 3, 0), utc))
}

func TestDateRangeInclusive(t *testing.T) {
	utc := time.UTC
	config := `{"start_date": "2026-03-02", "end_date": "2026-03-04"}`
	assert.False(t, inScope(t, KindDateRange, config, at(utc, 1, 23, 59), utc))
	assert.True(t, inScope(t, KindDateRange, config, at(utc, 2, 0, 0), utc))
	assert.True(t, inScope(t, KindDateRange, config, at(utc, 4, 23, 59), utc))
	assert.False(t, inScope(t, KindDateRange, config, at(utc, 5, 0, 0), utc))
}

func TestInvalidConfigFailsClosed(t *testing.T) {
	cases := []struct {
		kind   Kind
		config string
	}{
		{"weekly", `{}`},
		{KindTimeWindow, ``},
		{KindTimeWindow, `not json`},
		{KindTimeWindow, `{"start_time": "25:00", "end_time": "06:00"}`},
		{KindTimeWindow, `{"start_time": "22:00"}`},
		{KindTimeWindow, `{"start_time": "22:00", "end_time": "06:00", "days_of_week": ["someday"]}`},
		{KindTimeWindow, `{"start_time": "22:00", "end_time": "06:00", "days_of_week": [8]}`},
		{KindDateRange, `{"start_date": "2026-03-05", "end_date": "2026-03-01"}`},
		{KindDateRange, `{"start_date": "03/01/2026", "end_date": "2026-03-05"}`},
	}
	for _, tc := range cases {
		ok, err := InScope(tc.kind, json.RawMessage(tc.config), time.Now(), time.UTC)
		assert.False(t, ok, "%s %s", tc.kind, tc.config)
		assert.True(t, errors.Is(err, ErrInvalidScheduleConfig), "%s %s: %v", tc.kind, tc.config, err)
	}
}

func TestLintFlagsBroadWindows(t *testing.T) {
	assert.Equal(t,
		[]string{"days_of_week empty, window applies every day"},
		Lint(KindTimeWindow, json.RawMessage(`{"start_time": "22:00", "end_time": "06:00"}`)))
	assert.Equal(t,
		[]string{"start_time equals end_time, window covers the whole day"},
		Lint(KindTimeWindow, json.RawMessage(`{"start_time": "09:00", "end_time": "09:00", "days_of_week": ["mon"]}`)))
	assert.Len(t, Lint(KindTimeWindow, json.RawMessage(`{"start_time": "09:00", "end_time": "09:00", "days_of_week": []}`)), 2)

	assert.Empty(t, Lint(KindTimeWindow, json.RawMessage(`{"start_time": "08:00", "end_time": "17:00", "days_of_week": ["mon"]}`)))
	assert.Empty(t, Lint(KindTimeWindow, json.RawMessage(`not json`)))
	assert.Empty(t, Lint(KindAlways, nil))
	assert.Empty(t, Lint(KindDateRange, json.RawMessage(`{"start_date": "2026-03-02", "end_date": "2026-03-02"}`)))
}
