package audit

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryLogFillsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	meta := json.RawMessage(`{"device_key":"M01"}`)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "vpc", "ingest", ActionDeviceAutoCreate, "device", "42",
			`{"device_key":"M01"}`, DigestJSON(meta), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewRepository(db).Log(context.Background(), Entry{
		TenantID:     "vpc",
		Actor:        "ingest",
		Action:       ActionDeviceAutoCreate,
		ResourceType: "device",
		ResourceID:   "42",
		Metadata:     meta,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryLoggerAssignsIDs(t *testing.T) {
	logger := NewMemoryLogger()
	require.NoError(t, logger.Log(context.Background(), Entry{Action: ActionDeviceAutoCreate}))
	entries := logger.Entries()
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].ID, "audit-"))
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestNilRepository(t *testing.T) {
	assert.Nil(t, NewRepository(nil))
	var repo *Repository
	assert.Error(t, repo.Log(context.Background(), Entry{}))
}
