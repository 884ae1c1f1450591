package http

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "factory-telemetry/internal/alerts/domain"
	"factory-telemetry/internal/alerts/notify"
	"factory-telemetry/internal/auth"
)

func TestStreamHandlerDeliversAlerts(t *testing.T) {
	broker := notify.NewBroker()
	handler := NewStreamHandler(broker)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithIdentity(r.Context(), "vpc", auth.RoleViewer, "u")
		handler.ServeHTTP(w, r.WithContext(ctx))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)

	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.ErrorIs(t, broker.Send(ctx, notify.Message{Alert: alerts.Alert{ID: "x", TenantSlug: "acme"}}), notify.ErrNoSubscribers)
	alert := alerts.Alert{ID: "a-1", TenantSlug: "vpc", DeviceKey: "M01", Severity: "high"}
	require.NoError(t, broker.Send(ctx, notify.Message{Alert: alert, Content: "voltage high"}))

	var event, data string
	for event == "" || data == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: alert"):
			event = line
		case event != "" && strings.HasPrefix(line, "data: "):
			data = line
		}
	}
	assert.Contains(t, data, `"id":"a-1"`)
	assert.Contains(t, data, `"content":"voltage high"`)
}

func TestStreamHandlerRejectsOtherMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStreamHandler(notify.NewBroker()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	NewStreamHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamHandlerClosedBroker(t *testing.T) {
	broker := notify.NewBroker()
	broker.Close()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "vpc", auth.RoleViewer, "u"))
	rec := httptest.NewRecorder()
	NewStreamHandler(broker).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	NewStreamHandler(broker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
