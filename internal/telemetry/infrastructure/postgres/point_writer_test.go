package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

const insertPoint = "INSERT INTO telemetry_points"

func TestWritePointsCommitsBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(insertPoint))
	prep.ExpectExec().WithArgs(int64(1), int64(10), "voltage", 231.5, at).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(1), int64(10), "current", 4.0, at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewPointWriter(db).WritePoints(context.Background(), []telemetry.Point{
		{TenantID: 1, DeviceID: 10, MetricKey: "voltage", Value: 231.5, ObservedAt: at},
		{TenantID: 1, DeviceID: 10, MetricKey: "current", Value: 4, ObservedAt: at},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWritePointsRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(insertPoint))
	prep.ExpectExec().WithArgs(int64(1), int64(10), "voltage", 231.5, at).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewPointWriter(db).WritePoints(context.Background(), []telemetry.Point{
		{TenantID: 1, DeviceID: 10, MetricKey: "voltage", Value: 231.5, ObservedAt: at},
		{TenantID: 1, DeviceID: 10, MetricKey: "current", Value: 4, ObservedAt: at},
	})
	var partial *telemetry.PartialFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 2, partial.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
