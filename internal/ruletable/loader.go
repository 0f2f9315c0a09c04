// Package ruletable loads versioned scoring rule tables from YAML files.
// The engine works without one; a table only overrides the compiled
// defaults for the rules it names.
package ruletable

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/opsgrade/kestrel/internal/domain"
)

// knownRules is the set of rule ids the scoring engine consults.
var knownRules = map[string]bool{
	domain.RuleIntegrityPackage:    true,
	domain.RuleInfrastructure:      true,
	domain.RuleStandardization:     true,
	domain.RuleDocumentation:       true,
	domain.RuleOpsLeads:            true,
	domain.RuleDataAlertRecipients: true,
	domain.RuleResponse:            true,
	domain.RuleRectification:       true,
}

// Load reads and validates a rule table from a YAML file.
func Load(path string) (*domain.RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	var table domain.RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if err := Validate(&table); err != nil {
		return nil, err
	}
	return &table, nil
}

// Validate checks a rule table for ids the engine does not know, malformed
// tier thresholds and negative parameters. Versions are mandatory so that
// score records always carry a meaningful provenance string.
func Validate(table *domain.RuleTable) error {
	if table == nil {
		return nil
	}
	if table.Version == "" {
		return fmt.Errorf("rule table has no version")
	}

	ids := make([]string, 0, len(table.Rules))
	for id := range table.Rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !knownRules[id] {
			return fmt.Errorf("rule table %s: unknown rule %q", table.Version, id)
		}
		rule := table.Rules[id]
		if rule.BasePoints != nil && *rule.BasePoints < 0 {
			return fmt.Errorf("rule table %s: rule %q: negative base points", table.Version, id)
		}
		if rule.PerItem != nil && *rule.PerItem < 0 {
			return fmt.Errorf("rule table %s: rule %q: negative per-item deduction", table.Version, id)
		}
		if rule.Cap != nil && *rule.Cap < 0 {
			return fmt.Errorf("rule table %s: rule %q: negative cap", table.Version, id)
		}
		for i, tier := range rule.Tiers {
			if tier.Threshold < 0 || tier.Threshold > 1 {
				return fmt.Errorf("rule table %s: rule %q: tier %d threshold %v outside [0,1]", table.Version, id, i, tier.Threshold)
			}
			if tier.Deduction < 0 {
				return fmt.Errorf("rule table %s: rule %q: tier %d negative deduction", table.Version, id, i)
			}
			if i > 0 && tier.Threshold >= rule.Tiers[i-1].Threshold {
				return fmt.Errorf("rule table %s: rule %q: tier thresholds must strictly descend", table.Version, id)
			}
		}
	}
	return nil
}
