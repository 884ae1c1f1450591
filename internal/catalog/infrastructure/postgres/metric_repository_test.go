package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "factory-telemetry/internal/catalog/domain"
)

var metricRowColumns = []string{"id", "tenant_id", "device_id", "key", "display_name", "unit", "value_kind", "is_selected", "discovered_at", "updated_at"}

func TestUpsertKeepsDiscoveredAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	discovered := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	at := discovered.Add(24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (device_id, key) DO UPDATE SET")).
		WithArgs(int64(1), int64(10), "voltage", "float", at).
		WillReturnRows(sqlmock.NewRows(metricRowColumns).
			AddRow(int64(5), int64(1), int64(10), "voltage", "Line Voltage", "V", "float", true, discovered, at))

	metric, err := NewMetricRepository(db).Upsert(context.Background(), 1, 10, "voltage", catalog.KindFloat, at)
	require.NoError(t, err)
	assert.Equal(t, int64(5), metric.ID)
	assert.Equal(t, "Line Voltage", metric.DisplayName)
	assert.Equal(t, "V", metric.Unit)
	assert.True(t, metric.DiscoveredAt.Equal(discovered))
	assert.True(t, metric.UpdatedAt.Equal(at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM metrics")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(metricRowColumns).
			AddRow(int64(5), int64(1), int64(10), "current", nil, nil, "int", true, at, at).
			AddRow(int64(6), int64(1), int64(10), "voltage", nil, nil, "float", true, at, at))

	list, err := NewMetricRepository(db).ListByDevice(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, catalog.KindInt, list[0].ValueKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}
