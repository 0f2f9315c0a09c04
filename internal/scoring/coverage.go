// Package scoring implements the deterministic monitoring-coverage scoring
// engine: a pure function from (system configuration, tool catalog, rule
// table) to a bounded, multi-dimensional score. The engine holds no state,
// performs no I/O and is safe to call concurrently; identical inputs always
// produce identical results.
package scoring

import (
	"github.com/opsgrade/kestrel/internal/domain"
)

// CapabilityPair is one (selected tool, enabled capability) pair that
// participates in the standardization average. Pairs with zero relevant
// scenarios are never emitted.
type CapabilityPair struct {
	ToolID     string            `json:"toolId"`
	Capability domain.Capability `json:"capability"`
	Relevant   int               `json:"relevant"`
	Checked    int               `json:"checked"`
}

// Fraction returns the checked share of the pair's relevant scenarios.
func (p CapabilityPair) Fraction() float64 {
	if p.Relevant <= 0 {
		return 0
	}
	return float64(p.Checked) / float64(p.Relevant)
}

// CoverageFacts is the Coverage Aggregator output consumed by the composer.
type CoverageFacts struct {
	// Missing lists the mandatory capabilities no selected tool covers,
	// in the fixed mandatory order.
	Missing []domain.Capability

	// Pairs lists every (tool, capability) pair with at least one
	// relevant scenario, in selection order.
	Pairs []CapabilityPair
}

// CoveredCount returns how many of the five mandatory capabilities are covered.
func (f CoverageFacts) CoveredCount() int {
	return len(domain.MandatoryCapabilities()) - len(f.Missing)
}

// Aggregate computes capability coverage and per-pair scenario
// standardization for a system against the tool catalog.
//
// Selected tool ids that do not resolve in the catalog, and capability
// grants for tools granted zero capabilities, contribute nothing: a
// configuration holding stale references scores exactly like one that
// never held them.
func Aggregate(sys *domain.SystemConfig, catalog []*domain.MonitorTool) CoverageFacts {
	var facts CoverageFacts
	if sys == nil {
		facts.Missing = domain.MandatoryCapabilities()
		return facts
	}

	byID := make(map[string]*domain.MonitorTool, len(catalog))
	for _, t := range catalog {
		if t != nil {
			byID[t.ID] = t
		}
	}

	checked := make(map[string]bool, len(sys.CheckedScenarioIDs))
	for _, id := range sys.CheckedScenarioIDs {
		checked[id] = true
	}

	covered := make(map[domain.Capability]bool)
	seenTool := make(map[string]bool, len(sys.SelectedToolIDs))

	for _, toolID := range sys.SelectedToolIDs {
		if seenTool[toolID] {
			continue
		}
		seenTool[toolID] = true

		tool, ok := byID[toolID]
		if !ok {
			continue // stale reference, excluded from aggregation
		}

		caps := sys.ToolCapabilities[toolID]
		if len(caps) == 0 {
			continue // selected but granted nothing
		}

		seenCap := make(map[domain.Capability]bool, len(caps))
		for _, cap := range caps {
			if seenCap[cap] {
				continue
			}
			seenCap[cap] = true
			covered[cap] = true

			relevant := tool.ScenariosFor(cap)
			if len(relevant) == 0 {
				continue // no scenarios: the pair does not participate
			}

			pair := CapabilityPair{
				ToolID:     toolID,
				Capability: cap,
				Relevant:   len(relevant),
			}
			for _, sc := range relevant {
				if checked[sc.ID] {
					pair.Checked++
				}
			}
			facts.Pairs = append(facts.Pairs, pair)
		}
	}

	for _, cap := range domain.MandatoryCapabilities() {
		if !covered[cap] {
			facts.Missing = append(facts.Missing, cap)
		}
	}

	return facts
}
