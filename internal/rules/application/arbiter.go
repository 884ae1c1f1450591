package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	rules "factory-telemetry/internal/rules/domain"
)

// Decision is the outcome of a trigger attempt.
type Decision int

const (
	// Suppressed is the zero value so an unset decision never fires an alert.
	Suppressed Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "suppressed"
}

// Arbiter decides whether a rule may fire for a device given its cooldown.
type Arbiter struct {
	store rules.CooldownStore
}

// NewArbiter constructs an Arbiter.
func NewArbiter(store rules.CooldownStore) (*Arbiter, error) {
	if store == nil {
		return nil, errors.New("cooldown arbiter: nil store")
	}
	return &Arbiter{store: store}, nil
}

// TryTrigger records a trigger at now when the cooldown window has elapsed.
// A store failure yields Suppressed with the error: no alert without a recorded trigger.
func (a *Arbiter) TryTrigger(ctx context.Context, ruleID, deviceID int64, cooldown time.Duration, now time.Time) (Decision, error) {
	ok, err := a.store.TryRecord(ctx, ruleID, deviceID, cooldown, now)
	if err != nil {
		return Suppressed, fmt.Errorf("cooldown arbiter: rule %d device %d: %w", ruleID, deviceID, err)
	}
	if !ok {
		return Suppressed, nil
	}
	return Allowed, nil
}
