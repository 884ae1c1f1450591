package memory

import (
	"context"
	"sort"
	"sync"

	rules "factory-telemetry/internal/rules/domain"
)

// RuleRepository is an in-memory rule source.
type RuleRepository struct {
	mu    sync.RWMutex
	rules map[int64]rules.Rule
	next  int64
}

// NewRuleRepository constructs a repository.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{rules: make(map[int64]rules.Rule)}
}

// Put stores a rule, assigning an id when none is set.
func (r *RuleRepository) Put(rule rules.Rule) rules.Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule.ID == 0 {
		r.next++
		rule.ID = r.next
	} else if rule.ID > r.next {
		r.next = rule.ID
	}
	r.rules[rule.ID] = rule
	return rule
}

// ListActiveForDevice returns active rules targeting deviceID ordered by id.
func (r *RuleRepository) ListActiveForDevice(_ context.Context, tenantID, deviceID int64) ([]rules.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []rules.Rule
	for _, rule := range r.rules {
		if rule.TenantID != tenantID || !rule.IsActive || !rule.Targets(deviceID) {
			continue
		}
		result = append(result, rule)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
