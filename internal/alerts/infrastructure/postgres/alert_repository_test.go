package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "factory-telemetry/internal/alerts/domain"
)

func TestSaveAlert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	alert, err := alerts.NewAlert(1, 7, 9, "critical", "M01 voltage high", json.RawMessage(`{"voltage":250}`), at)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).
		WithArgs(alert.ID, int64(1), int64(7), int64(9), at, nil, "critical", "M01 voltage high",
			[]byte(`{"voltage":250}`), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewAlertRepository(db).Save(context.Background(), alert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAlertWrapsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).WillReturnError(boom)

	alert, err := alerts.NewAlert(1, 7, 9, "low", "", nil, time.Now())
	require.NoError(t, err)
	err = NewAlertRepository(db).Save(context.Background(), alert)
	assert.ErrorIs(t, err, boom)
}

func TestMarkNotified(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET notified = TRUE")).
		WithArgs("alert-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewAlertRepository(db).MarkNotified(context.Background(), "alert-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilRepository(t *testing.T) {
	var repo *AlertRepository
	assert.Error(t, repo.Save(context.Background(), &alerts.Alert{ID: "x"}))
	assert.Error(t, NewAlertRepository(nil).MarkNotified(context.Background(), "x"))
}
