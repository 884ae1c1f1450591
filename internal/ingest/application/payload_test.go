package application

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "factory-telemetry/internal/catalog/domain"
)

func TestParsePayload(t *testing.T) {
	payload, err := ParsePayload([]byte(`{"metrics":{"voltage":245.2,"count":7,"mode":"AUTO","big":1e3}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"voltage": 245.2, "count": 7, "big": 1000}, payload.Values)
	assert.Equal(t, catalog.KindFloat, payload.Kinds["voltage"])
	assert.Equal(t, catalog.KindInt, payload.Kinds["count"])
	assert.Equal(t, catalog.KindString, payload.Kinds["mode"])
	assert.Equal(t, catalog.KindFloat, payload.Kinds["big"])
	assert.Equal(t, `{"voltage":245.2,"count":7,"mode":"AUTO","big":1e3}`, string(payload.Snapshot))
	assert.False(t, payload.HasTimestamp())
}

func TestParsePayloadTimestamps(t *testing.T) {
	want := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"rfc3339":        `"2025-06-02T16:00:00+08:00"`,
		"epoch seconds":  `1748851200`,
		"epoch millis":   `1748851200000`,
		"fractional sec": `1748851200.0`,
	}
	for name, ts := range cases {
		t.Run(name, func(t *testing.T) {
			payload, err := ParsePayload([]byte(`{"metrics":{"v":1},"timestamp":` + ts + `}`))
			require.NoError(t, err)
			assert.True(t, payload.Timestamp.Equal(want), payload.Timestamp)
			assert.Equal(t, time.UTC, payload.Timestamp.Location())
		})
	}

	payload, err := ParsePayload([]byte(`{"metrics":{"v":1},"timestamp":null}`))
	require.NoError(t, err)
	assert.False(t, payload.HasTimestamp())
}

func TestParsePayloadRejects(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"metrics":`,
		"array":          `[1,2]`,
		"no metrics":     `{"values":{"v":1}}`,
		"metrics array":  `{"metrics":[1]}`,
		"empty metrics":  `{"metrics":{}}`,
		"bool value":     `{"metrics":{"on":true}}`,
		"null value":     `{"metrics":{"v":null}}`,
		"nested value":   `{"metrics":{"v":{"x":1}}}`,
		"empty key":      `{"metrics":{"":1}}`,
		"overflow":       `{"metrics":{"v":1e400}}`,
		"bad timestamp":  `{"metrics":{"v":1},"timestamp":"yesterday"}`,
		"negative epoch": `{"metrics":{"v":1},"timestamp":-5}`,
		"bool timestamp": `{"metrics":{"v":1},"timestamp":true}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(body))
			assert.True(t, errors.Is(err, ErrMalformedPayload), "got %v", err)
		})
	}
}
