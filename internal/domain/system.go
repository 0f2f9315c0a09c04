package domain

import "time"

// ImportanceTier is the informational A/B/C importance classification.
type ImportanceTier string

const (
	TierA ImportanceTier = "A"
	TierB ImportanceTier = "B"
	TierC ImportanceTier = "C"
)

// QualLevel is a coarse qualitative level used when raw counters are not
// available for the accuracy/discovery rates.
type QualLevel string

const (
	LevelPerfect QualLevel = "perfect"
	LevelHigh    QualLevel = "high"
	LevelMedium  QualLevel = "medium"
	LevelLow     QualLevel = "low"
)

// DataMonitorState is the tri-state data-monitor configuration flag.
type DataMonitorState string

const (
	DataMonitorFull    DataMonitorState = "full"
	DataMonitorMissing DataMonitorState = "missing"
	DataMonitorNA      DataMonitorState = "na"
)

// SystemConfig is the entity being scored: an application or service whose
// monitoring posture is evaluated against the tool catalog and rule table.
type SystemConfig struct {
	ID     string         `json:"id" yaml:"id"`
	TaskID string         `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	Name   string         `json:"name" yaml:"name"`
	Tier   ImportanceTier `json:"tier,omitempty" yaml:"tier,omitempty"`

	// Bonus eligibility: the team built its own monitoring.
	SelfBuiltMonitoring bool `json:"selfBuiltMonitoring" yaml:"selfBuiltMonitoring"`

	// Per-infrastructure-class coverage counts.
	ServerTotal   int `json:"serverTotal" yaml:"serverTotal"`
	ServerCovered int `json:"serverCovered" yaml:"serverCovered"`
	AppTotal      int `json:"appTotal" yaml:"appTotal"`
	AppCovered    int `json:"appCovered" yaml:"appCovered"`

	// Tool selections. ToolCapabilities holds, per selected tool, the
	// capabilities the evaluator attests are actually enabled; it may be a
	// subset or a superset of the tool's default capability set.
	SelectedToolIDs    []string                `json:"selectedToolIds" yaml:"selectedToolIds"`
	ToolCapabilities   map[string][]Capability `json:"toolCapabilities" yaml:"toolCapabilities"`
	CheckedScenarioIDs []string                `json:"checkedScenarioIds" yaml:"checkedScenarioIds"`

	// Documentation bonus input.
	DocumentedItems int `json:"documentedItems" yaml:"documentedItems"`

	// Alert accuracy: either raw counters, a precomputed rate, or a
	// qualitative level, in that priority order.
	AlertTotal      *int      `json:"alertTotal,omitempty" yaml:"alertTotal,omitempty"`
	FalseAlertTotal int       `json:"falseAlertTotal" yaml:"falseAlertTotal"`
	AccuracyRate    *float64  `json:"accuracyRate,omitempty" yaml:"accuracyRate,omitempty"`
	AccuracyLevel   QualLevel `json:"accuracyLevel,omitempty" yaml:"accuracyLevel,omitempty"`

	// Fault discovery: same shape as accuracy.
	FaultTotal     *int      `json:"faultTotal,omitempty" yaml:"faultTotal,omitempty"`
	FaultDetected  int       `json:"faultDetected" yaml:"faultDetected"`
	DiscoveryRate  *float64  `json:"discoveryRate,omitempty" yaml:"discoveryRate,omitempty"`
	DiscoveryLevel QualLevel `json:"discoveryLevel,omitempty" yaml:"discoveryLevel,omitempty"`

	// Alerting and notification configuration.
	OpsLeadConfigured   bool             `json:"opsLeadConfigured" yaml:"opsLeadConfigured"`
	DataMonitor         DataMonitorState `json:"dataMonitor,omitempty" yaml:"dataMonitor,omitempty"`
	MissingMonitorItems int              `json:"missingMonitorItems" yaml:"missingMonitorItems"`

	// Operations team timeliness counters.
	LateResponses         int `json:"lateResponses" yaml:"lateResponses"`
	OverdueRectifications int `json:"overdueRectifications" yaml:"overdueRectifications"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// SanitizeSystem normalizes a configuration at the system boundary so the
// scoring engine only ever sees well-typed, defaulted values: negative
// counters become 0, rates are clamped into [0,1], id lists are
// deduplicated and capability grants for unselected tools are dropped.
func SanitizeSystem(s *SystemConfig) {
	if s == nil {
		return
	}

	clampNonNeg(&s.ServerTotal)
	clampNonNeg(&s.ServerCovered)
	clampNonNeg(&s.AppTotal)
	clampNonNeg(&s.AppCovered)
	clampNonNeg(&s.DocumentedItems)
	clampNonNeg(&s.FalseAlertTotal)
	clampNonNeg(&s.FaultDetected)
	clampNonNeg(&s.MissingMonitorItems)
	clampNonNeg(&s.LateResponses)
	clampNonNeg(&s.OverdueRectifications)

	if s.AlertTotal != nil && *s.AlertTotal < 0 {
		zero := 0
		s.AlertTotal = &zero
	}
	if s.FaultTotal != nil && *s.FaultTotal < 0 {
		zero := 0
		s.FaultTotal = &zero
	}
	if s.AccuracyRate != nil {
		r := clamp01(*s.AccuracyRate)
		s.AccuracyRate = &r
	}
	if s.DiscoveryRate != nil {
		r := clamp01(*s.DiscoveryRate)
		s.DiscoveryRate = &r
	}

	s.SelectedToolIDs = dedup(s.SelectedToolIDs)
	s.CheckedScenarioIDs = dedup(s.CheckedScenarioIDs)

	if s.ToolCapabilities != nil {
		selected := make(map[string]bool, len(s.SelectedToolIDs))
		for _, id := range s.SelectedToolIDs {
			selected[id] = true
		}
		for toolID, caps := range s.ToolCapabilities {
			if !selected[toolID] {
				delete(s.ToolCapabilities, toolID)
				continue
			}
			seen := make(map[Capability]bool, len(caps))
			kept := caps[:0]
			for _, c := range caps {
				if c.Valid() && !seen[c] {
					seen[c] = true
					kept = append(kept, c)
				}
			}
			s.ToolCapabilities[toolID] = kept
		}
	}

	switch s.DataMonitor {
	case DataMonitorFull, DataMonitorMissing, DataMonitorNA:
	default:
		s.DataMonitor = DataMonitorNA
	}
}

func clampNonNeg(v *int) {
	if *v < 0 {
		*v = 0
	}
}

func clamp01(v float64) float64 {
	if v != v || v < 0 { // NaN coerces to 0
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func dedup(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
