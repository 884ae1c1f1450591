package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"factory-telemetry/internal/auth"
	catalog "factory-telemetry/internal/catalog/domain"
	tenancy "factory-telemetry/internal/tenancy/domain"
)

const (
	timeLayout    = time.RFC3339
	devicesPrefix = "/api/v1/devices/"
)

// DeviceReader resolves tenants and reads devices without going through the cache.
type DeviceReader interface {
	ResolveTenant(ctx context.Context, slug string) (*tenancy.Tenant, error)
	Device(ctx context.Context, tenantID int64, deviceKey string) (*tenancy.Device, error)
}

// MetricLister lists discovered metrics of a device.
type MetricLister interface {
	ListByDevice(ctx context.Context, deviceID int64) ([]catalog.Metric, error)
}

// DeviceHandler serves device read endpoints scoped to the caller's tenant.
type DeviceHandler struct {
	devices DeviceReader
	metrics MetricLister
	now     func() time.Time
}

// NewDeviceHandler constructs a DeviceHandler.
func NewDeviceHandler(devices DeviceReader, metrics MetricLister) *DeviceHandler {
	return &DeviceHandler{devices: devices, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

type metricResponse struct {
	Key          string `json:"key"`
	DisplayName  string `json:"display_name,omitempty"`
	Unit         string `json:"unit,omitempty"`
	ValueKind    string `json:"value_kind"`
	IsSelected   bool   `json:"is_selected"`
	DiscoveredAt string `json:"discovered_at"`
	UpdatedAt    string `json:"updated_at"`
}

// ServeHTTP handles GET /api/v1/devices/{device}/status and /api/v1/devices/{device}/metrics.
func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.devices == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	deviceKey, action, ok := parseDevicePath(r.URL.Path)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	slug := auth.TenantFromContext(r.Context())
	if slug == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	tenant, err := h.devices.ResolveTenant(r.Context(), slug)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			http.Error(w, "tenant not found", http.StatusNotFound)
			return
		}
		http.Error(w, "query device error", http.StatusInternalServerError)
		return
	}
	device, err := h.devices.Device(r.Context(), tenant.ID, deviceKey)
	if err != nil {
		http.Error(w, "query device error", http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	switch action {
	case "status":
		writeJSON(w, tenancy.StatusOf(*device, h.now()))
	case "metrics":
		h.serveMetrics(w, r, device)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *DeviceHandler) serveMetrics(w http.ResponseWriter, r *http.Request, device *tenancy.Device) {
	if h.metrics == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	list, err := h.metrics.ListByDevice(r.Context(), device.ID)
	if err != nil {
		http.Error(w, "query metrics error", http.StatusInternalServerError)
		return
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	out := make([]metricResponse, 0, len(list))
	for _, metric := range list {
		out = append(out, metricResponse{
			Key:          metric.Key,
			DisplayName:  metric.DisplayName,
			Unit:         metric.Unit,
			ValueKind:    string(metric.ValueKind),
			IsSelected:   metric.IsSelected,
			DiscoveredAt: formatTime(metric.DiscoveredAt),
			UpdatedAt:    formatTime(metric.UpdatedAt),
		})
	}
	writeJSON(w, out)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves /healthz.
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// ServeHTTP handles GET /healthz.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{}
	if h != nil {
		for name, check := range h.checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				result[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": http.StatusText(status),
		"checks": result,
	})
}

func parseDevicePath(path string) (string, string, bool) {
	rest := strings.TrimPrefix(path, devicesPrefix)
	if rest == path {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
