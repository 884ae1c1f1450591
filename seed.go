package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	rules "factory-telemetry/internal/rules/domain"
	rulememory "factory-telemetry/internal/rules/infrastructure/memory"
	"factory-telemetry/internal/rules/schedule"
	tenancy "factory-telemetry/internal/tenancy/domain"
	tenancymemory "factory-telemetry/internal/tenancy/infrastructure/memory"
)

// seedFile is the fixture format accepted by the memory driver.
type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	Slug     string     `yaml:"slug"`
	Name     string     `yaml:"name"`
	Timezone string     `yaml:"timezone"`
	Rules    []seedRule `yaml:"rules"`
}

type seedRule struct {
	Name      string         `yaml:"name"`
	Severity  string         `yaml:"severity"`
	Cooldown  time.Duration  `yaml:"cooldown"`
	Inactive  bool           `yaml:"inactive"`
	Condition map[string]any `yaml:"condition"`
	Schedule  struct {
		Kind   string         `yaml:"kind"`
		Config map[string]any `yaml:"config"`
	} `yaml:"schedule"`
	Channels rules.Channels `yaml:"channels"`
}

type seedCounts struct {
	tenants int
	rules   int
}

// loadSeed registers the fixture's tenants and global rules in the memory stores.
func loadSeed(path string, identity *tenancymemory.Repository, ruleRepo *rulememory.RuleRepository) (seedCounts, error) {
	var counts seedCounts
	data, err := os.ReadFile(path)
	if err != nil {
		return counts, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return counts, fmt.Errorf("seed: parse %s: %w", path, err)
	}

	for _, t := range file.Tenants {
		if t.Slug == "" {
			return counts, fmt.Errorf("seed: tenant without slug")
		}
		tenant := identity.AddTenant(tenancy.Tenant{Slug: t.Slug, Name: t.Name, Timezone: t.Timezone})
		counts.tenants++

		for _, r := range t.Rules {
			tree, err := json.Marshal(r.Condition)
			if err != nil {
				return counts, fmt.Errorf("seed: rule %q condition: %w", r.Name, err)
			}
			var scheduleConfig json.RawMessage
			if len(r.Schedule.Config) > 0 {
				if scheduleConfig, err = json.Marshal(r.Schedule.Config); err != nil {
					return counts, fmt.Errorf("seed: rule %q schedule: %w", r.Name, err)
				}
			}
			ruleRepo.Put(rules.Rule{
				TenantID:       tenant.ID,
				Name:           r.Name,
				Scope:          rules.ScopeGlobal,
				ConditionTree:  tree,
				Cooldown:       r.Cooldown,
				IsActive:       !r.Inactive,
				ScheduleKind:   schedule.Kind(r.Schedule.Kind),
				ScheduleConfig: scheduleConfig,
				Severity:       r.Severity,
				Channels:       r.Channels,
			})
			counts.rules++
		}
	}
	return counts, nil
}
