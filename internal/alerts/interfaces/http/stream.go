package http

import (
	"net/http"
	"time"

	"factory-telemetry/internal/alerts/notify"
	"factory-telemetry/internal/auth"
)

const keepAliveInterval = 30 * time.Second

// StreamHandler serves the alert stream as server-sent events.
type StreamHandler struct {
	broker    *notify.Broker
	keepAlive time.Duration
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *notify.Broker) *StreamHandler {
	return &StreamHandler{broker: broker, keepAlive: keepAliveInterval}
}

// ServeHTTP handles GET /api/v1/alerts/stream. Clients only see alerts of the
// tenant in their token.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	tenant := auth.TenantFromContext(r.Context())
	if tenant == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ch := h.broker.Subscribe(tenant)
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	done := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alert\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
