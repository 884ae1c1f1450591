package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	alerts "factory-telemetry/internal/alerts/domain"
)

// AlertRepository keeps alerts in memory.
type AlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]alerts.Alert
}

// NewAlertRepository constructs a repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[string]alerts.Alert)}
}

// Save stores a copy of the alert.
func (r *AlertRepository) Save(_ context.Context, alert *alerts.Alert) error {
	if alert == nil || alert.ID == "" {
		return errors.New("alert repository: alert id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; ok {
		return errors.New("alert repository: duplicate id")
	}
	r.alerts[alert.ID] = *alert
	return nil
}

// MarkNotified flags the alert as delivered.
func (r *AlertRepository) MarkNotified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil
	}
	alert.Notified = true
	r.alerts[id] = alert
	return nil
}

// Get returns a stored alert.
func (r *AlertRepository) Get(id string) (alerts.Alert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[id]
	return alert, ok
}

// List returns alerts ordered by trigger time.
func (r *AlertRepository) List() []alerts.Alert {
	r.mu.RLock()
	out := make([]alerts.Alert, 0, len(r.alerts))
	for _, alert := range r.alerts {
		out = append(out, alert)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out
}
