package scoring

import (
	"math"

	"github.com/opsgrade/kestrel/internal/domain"
)

// Sub-score bounds.
const (
	part1Base = 45.0
	part1Max  = 60.0
)

// Qualitative level fallbacks when neither counters nor a precomputed rate
// are supplied.
var accuracyLevels = map[domain.QualLevel]float64{
	domain.LevelPerfect: 0.995,
	domain.LevelHigh:    0.96,
	domain.LevelMedium:  0.92,
	domain.LevelLow:     0.89,
}

var discoveryLevels = map[domain.QualLevel]float64{
	domain.LevelPerfect: 0.995,
	domain.LevelHigh:    0.96,
	domain.LevelMedium:  0.90,
	domain.LevelLow:     0.80,
}

// Score runs the full pipeline: coverage aggregation then composition.
// It is pure and total: no input, however sparse or stale, makes it fail.
func Score(sys *domain.SystemConfig, catalog []*domain.MonitorTool, table *domain.RuleTable) *domain.ScoreResult {
	facts := Aggregate(sys, catalog)
	return Compose(sys, facts, table)
}

// Compose combines coverage facts, the system's operational counters and
// the rule table into the four sub-scores and the total. Every sub-score
// is independently clamped to be non-negative; part1 is additionally
// capped at 60 and the total is floored at 0 after rounding.
func Compose(sys *domain.SystemConfig, facts CoverageFacts, table *domain.RuleTable) *domain.ScoreResult {
	if sys == nil {
		sys = &domain.SystemConfig{}
	}

	res := &domain.ScoreResult{
		SystemID:            sys.ID,
		MissingCapabilities: facts.Missing,
	}
	if res.MissingCapabilities == nil {
		res.MissingCapabilities = []domain.Capability{}
	}
	if table != nil {
		res.RuleVersion = table.Version
	}

	mandatory := len(domain.MandatoryCapabilities())
	coveragePct := float64(mandatory-len(facts.Missing)) / float64(mandatory)
	res.PackageLevel = packageLevel(coveragePct)

	// Part 1: configuration completeness & standardization.
	pkg := resolve(table, domain.RuleIntegrityPackage)
	infra := resolve(table, domain.RuleInfrastructure)

	score1 := part1Base
	score1 -= tierDeduction(pkg.tiers, coveragePct)
	score1 -= pkg.perItem * float64(len(facts.Missing))
	score1 -= infraDeduction(infra.tiers, sys.ServerCovered, sys.ServerTotal)
	score1 -= infraDeduction(infra.tiers, sys.AppCovered, sys.AppTotal)
	if sys.SelfBuiltMonitoring {
		score1 += 5
	}

	std := resolve(table, domain.RuleStandardization)
	score12 := 0.0
	if len(facts.Pairs) > 0 {
		var sum float64
		for _, pair := range facts.Pairs {
			v := std.base - tierDeduction(std.tiers, pair.Fraction())
			if v < 0 {
				v = 0
			}
			sum += v
		}
		score12 = sum / float64(len(facts.Pairs))
	}
	res.Standardization = round1(score12)

	doc := resolve(table, domain.RuleDocumentation)
	score13 := float64(sys.DocumentedItems) * doc.perItem
	if score13 > doc.cap {
		score13 = doc.cap
	}
	if score13 < 0 {
		score13 = 0
	}

	res.Part1 = clamp(round1(score1+score12+score13), 0, part1Max)

	// Part 2: detection capability.
	res.AccuracyRate = accuracyRate(sys)
	res.AccuracyPoints = ratePoints(res.AccuracyRate)
	res.DiscoveryRate = discoveryRate(sys)
	res.DiscoveryPoints = ratePoints(res.DiscoveryRate)
	res.Part2 = clamp(res.AccuracyPoints+res.DiscoveryPoints, 0, 20)

	// Part 3: alerting & notification configuration.
	ops := resolve(table, domain.RuleOpsLeads)
	part3 := ops.flat
	if sys.OpsLeadConfigured {
		part3 = ops.base
	}
	dm := resolve(table, domain.RuleDataAlertRecipients)
	switch sys.DataMonitor {
	case domain.DataMonitorFull, domain.DataMonitorMissing:
		ded := dm.perItem * float64(max(sys.MissingMonitorItems, 0))
		if ded > dm.cap {
			ded = dm.cap
		}
		v := dm.base - ded
		if v < 0 {
			v = 0
		}
		part3 += v
	default: // na or unset
		part3 += dm.flat
	}
	if part3 < 0 {
		part3 = 0
	}
	res.Part3 = round1(part3)

	// Part 4: operations team capability.
	resp := resolve(table, domain.RuleResponse)
	rect := resolve(table, domain.RuleRectification)
	res.Part4 = round1(deductedComponent(resp, sys.LateResponses) + deductedComponent(rect, sys.OverdueRectifications))

	total := round1(res.Part1 + res.Part2 + res.Part3 + res.Part4)
	if total < 0 {
		total = 0
	}
	res.Total = total

	return res
}

// deductedComponent computes base − min(cap, count×perItem), floored at 0.
func deductedComponent(p ruleParams, count int) float64 {
	ded := float64(max(count, 0)) * p.perItem
	if ded > p.cap {
		ded = p.cap
	}
	v := p.base - ded
	if v < 0 {
		v = 0
	}
	return v
}

// infraDeduction applies the infrastructure coverage tiers to a
// covered/total pair. A zero or absent total lands in the lowest tier.
func infraDeduction(tiers []domain.DeductionTier, covered, total int) float64 {
	ratio := 0.0
	if total > 0 {
		ratio = clampRate(float64(covered) / float64(total))
	}
	return tierDeduction(tiers, ratio)
}

// accuracyRate derives the alert accuracy rate in priority order:
// explicit precomputed rate, raw counters, qualitative level. A measured
// alert total of zero is defined as rate 0, not full credit.
func accuracyRate(sys *domain.SystemConfig) float64 {
	if sys.AccuracyRate != nil {
		return clampRate(*sys.AccuracyRate)
	}
	if sys.AlertTotal != nil {
		total := *sys.AlertTotal
		if total <= 0 {
			return 0
		}
		return clampRate(float64(total-sys.FalseAlertTotal) / float64(total))
	}
	return accuracyLevels[sys.AccuracyLevel]
}

// discoveryRate mirrors accuracyRate for fault detection. A fault total of
// exactly zero is defined as rate 1.0: nothing happened, nothing was missed.
func discoveryRate(sys *domain.SystemConfig) float64 {
	if sys.DiscoveryRate != nil {
		return clampRate(*sys.DiscoveryRate)
	}
	if sys.FaultTotal != nil {
		total := *sys.FaultTotal
		if total <= 0 {
			return 1.0
		}
		return clampRate(float64(sys.FaultDetected) / float64(total))
	}
	return discoveryLevels[sys.DiscoveryLevel]
}

// ratePoints maps an accuracy/discovery rate to points.
func ratePoints(rate float64) float64 {
	switch {
	case rate >= 0.95:
		return 10
	case rate >= 0.85:
		return 7
	case rate >= 0.70:
		return 3
	default:
		return 0
	}
}

func packageLevel(coveragePct float64) string {
	switch {
	case coveragePct >= 1.0:
		return domain.PackageFull
	case coveragePct >= 0.7:
		return domain.PackageHigh
	case coveragePct >= 0.5:
		return domain.PackageMedium
	default:
		return domain.PackageLow
	}
}

// round1 rounds to one decimal place, half up on the value ×10.
func round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRate(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
