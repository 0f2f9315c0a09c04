package domain

import "time"

// PackageLevel is the coarse package-completeness classification derived
// from mandatory-capability coverage.
const (
	PackageFull   = "full"
	PackageHigh   = "high"
	PackageMedium = "medium"
	PackageLow    = "low"
)

// ScoreResult is the output of one scoring run: four bounded sub-scores,
// their total, and the diagnostic facts that explain them. Produced fresh
// on every invocation; never mutated in place.
type ScoreResult struct {
	SystemID string `json:"systemId"`

	Part1 float64 `json:"part1"` // configuration completeness & standardization, [0,60]
	Part2 float64 `json:"part2"` // detection capability, [0,20]
	Part3 float64 `json:"part3"` // alerting & notification configuration, [0,10]
	Part4 float64 `json:"part4"` // operations team capability, [0,10]
	Total float64 `json:"total"`

	MissingCapabilities []Capability `json:"missingCapabilities"`
	PackageLevel        string       `json:"packageLevel"`
	Standardization     float64      `json:"standardization"`

	AccuracyRate    float64 `json:"accuracyRate"`
	AccuracyPoints  float64 `json:"accuracyPoints"`
	DiscoveryRate   float64 `json:"discoveryRate"`
	DiscoveryPoints float64 `json:"discoveryPoints"`

	RuleVersion string `json:"ruleVersion"`
}

// ScoreRecord is the immutable audit record persisted for every computed
// score: the result, the raw inputs that produced it and the rule-table
// version in effect, keyed by (system, evaluation round).
type ScoreRecord struct {
	ID          string       `json:"id"`
	TaskID      string       `json:"taskId"`
	SystemID    string       `json:"systemId"`
	Round       int64        `json:"round"`
	Result      ScoreResult  `json:"result"`
	Inputs      SystemConfig `json:"inputs"`
	RuleVersion string       `json:"ruleVersion"`
	TraceID     string       `json:"traceId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}
