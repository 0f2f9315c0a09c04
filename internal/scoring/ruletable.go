package scoring

import (
	"github.com/opsgrade/kestrel/internal/domain"
)

// fallbackDeduction applies when a fraction matches no tier at all.
// Conservative: maximal deduction, never an error.
const fallbackDeduction = 10

// ruleParams is a fully-resolved parameter set for one rule: the compiled
// defaults overlaid with whatever the supplied rule table provides.
type ruleParams struct {
	base    float64
	tiers   []domain.DeductionTier
	perItem float64
	cap     float64
	flat    float64
}

// defaultParams returns the compiled defaults for a rule id. Every id the
// composer consults has an entry here, so a nil or sparse rule table still
// yields a complete parameter set.
func defaultParams(id string) ruleParams {
	switch id {
	case domain.RuleIntegrityPackage:
		return ruleParams{
			perItem: 10, // per missing mandatory capability, on top of the tier
			tiers: []domain.DeductionTier{
				{Threshold: 1.0, Deduction: 0},
				{Threshold: 0.7, Deduction: 3},
				{Threshold: 0.5, Deduction: 7},
				{Threshold: 0, Deduction: 10},
			},
		}
	case domain.RuleInfrastructure:
		return ruleParams{
			tiers: []domain.DeductionTier{
				{Threshold: 0.95, Deduction: 0},
				{Threshold: 0.7, Deduction: 3},
				{Threshold: 0.5, Deduction: 7},
				{Threshold: 0, Deduction: 10},
			},
		}
	case domain.RuleStandardization:
		return ruleParams{
			base: 10,
			tiers: []domain.DeductionTier{
				{Threshold: 1.0, Deduction: 0},
				{Threshold: 0.7, Deduction: 3},
				{Threshold: 0.5, Deduction: 5},
				{Threshold: 0.3, Deduction: 7},
				{Threshold: 0, Deduction: 10},
			},
		}
	case domain.RuleDocumentation:
		return ruleParams{perItem: 1, cap: 5}
	case domain.RuleOpsLeads:
		return ruleParams{base: 5}
	case domain.RuleDataAlertRecipients:
		return ruleParams{base: 5, perItem: 1, cap: 5, flat: 0}
	case domain.RuleResponse:
		return ruleParams{base: 5, perItem: 2.5, cap: 5}
	case domain.RuleRectification:
		return ruleParams{base: 5, perItem: 1, cap: 5}
	default:
		return ruleParams{}
	}
}

// resolve merges the rule table entry for id over the compiled defaults.
// Absent rules and absent fields fall through to defaults; lookups never fail.
func resolve(table *domain.RuleTable, id string) ruleParams {
	p := defaultParams(id)
	rule, ok := table.Rule(id)
	if !ok {
		return p
	}
	if rule.BasePoints != nil {
		p.base = *rule.BasePoints
	}
	if len(rule.Tiers) > 0 {
		p.tiers = rule.Tiers
	}
	if rule.PerItem != nil {
		p.perItem = *rule.PerItem
	}
	if rule.Cap != nil {
		p.cap = *rule.Cap
	}
	if rule.Flat != nil {
		p.flat = *rule.Flat
	}
	return p
}

// tierDeduction picks the deduction for a fraction: first tier in order
// whose threshold the fraction meets. No match means the maximal default.
func tierDeduction(tiers []domain.DeductionTier, fraction float64) float64 {
	for _, t := range tiers {
		if fraction >= t.Threshold {
			return t.Deduction
		}
	}
	return fallbackDeduction
}
