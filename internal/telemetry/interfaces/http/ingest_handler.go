package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"factory-telemetry/internal/auth"
)

const (
	ingestPrefix        = "/ingest/"
	defaultMaxBodyBytes = 1 << 20
)

// Submitter queues a message for the ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, topic string, payload []byte) error
}

// TopicBuilder formats the topic a device would have published on.
type TopicBuilder func(tenantSlug, deviceKey string) string

// IngestHandler accepts telemetry over HTTP and feeds it to the same pipeline as the
// broker subscription.
type IngestHandler struct {
	submit   Submitter
	topic    TopicBuilder
	maxBytes int64
	logger   *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(submit Submitter, topic TopicBuilder, logger *zap.Logger) (*IngestHandler, error) {
	if submit == nil {
		return nil, errors.New("ingest handler: nil submitter")
	}
	if topic == nil {
		return nil, errors.New("ingest handler: nil topic builder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{submit: submit, topic: topic, maxBytes: defaultMaxBodyBytes, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/{tenant}/{device}. The tenant must match the token.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.submit == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	tenant, device, ok := parseIngestPath(r.URL.Path)
	if !ok {
		http.Error(w, "path must be /ingest/{tenant}/{device}", http.StatusNotFound)
		return
	}
	if err := auth.EnsureTenant(r.Context(), tenant); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		http.Error(w, "invalid body", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	if err := h.submit.Submit(r.Context(), h.topic(tenant, device), body); err != nil {
		h.logger.Warn("http ingest rejected",
			zap.String("tenant", tenant),
			zap.String("device", device),
			zap.Error(err),
		)
		http.Error(w, "ingest unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseIngestPath(path string) (string, string, bool) {
	rest := strings.TrimPrefix(path, ingestPrefix)
	if rest == path {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if strings.ContainsAny(rest, "+#") {
		return "", "", false
	}
	return parts[0], parts[1], true
}
