package memory

import (
	"context"
	"sync"
	"time"
)

// CooldownStore implements the conditional trigger write under a mutex.
type CooldownStore struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

type cooldownKey struct {
	ruleID   int64
	deviceID int64
}

// NewCooldownStore constructs a store.
func NewCooldownStore() *CooldownStore {
	return &CooldownStore{last: make(map[cooldownKey]time.Time)}
}

// TryRecord records now when no trigger exists or the last one is at or before now-cooldown.
func (s *CooldownStore) TryRecord(_ context.Context, ruleID, deviceID int64, cooldown time.Duration, now time.Time) (bool, error) {
	key := cooldownKey{ruleID: ruleID, deviceID: deviceID}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[key]
	if ok && cooldown > 0 && last.After(now.Add(-cooldown)) {
		return false, nil
	}
	s.last[key] = now
	return true, nil
}

// LastTriggered returns the recorded trigger time.
func (s *CooldownStore) LastTriggered(ruleID, deviceID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[cooldownKey{ruleID: ruleID, deviceID: deviceID}]
	return last, ok
}
