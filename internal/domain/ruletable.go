package domain

// Rule ids recognized by the scoring engine. A rule table may omit any of
// them; the engine substitutes compiled defaults for whatever is missing.
const (
	RuleIntegrityPackage    = "integrity_package"
	RuleInfrastructure      = "infrastructure"
	RuleStandardization     = "standardization"
	RuleDocumentation       = "documentation"
	RuleOpsLeads            = "ops_leads"
	RuleDataAlertRecipients = "data_alert_recipients"
	RuleResponse            = "response"
	RuleRectification       = "rectification"
)

// DeductionTier maps a coverage fraction threshold to a deduction amount.
// Tiers are ordered; the first tier whose threshold the fraction meets wins.
type DeductionTier struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Deduction float64 `json:"deduction" yaml:"deduction"`
}

// ScoreRule holds the externally supplied parameters for one scoring rule.
// Nil fields mean "use the engine default".
type ScoreRule struct {
	BasePoints *float64        `json:"basePoints,omitempty" yaml:"basePoints,omitempty"`
	Tiers      []DeductionTier `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	PerItem    *float64        `json:"perItem,omitempty" yaml:"perItem,omitempty"`
	Cap        *float64        `json:"cap,omitempty" yaml:"cap,omitempty"`
	Flat       *float64        `json:"flat,omitempty" yaml:"flat,omitempty"`
}

// RuleTable is a versioned, immutable-per-version set of scoring
// parameters keyed by rule id. It is loaded once at process start and is
// read-only during scoring.
type RuleTable struct {
	Version string               `json:"version" yaml:"version"`
	Rules   map[string]ScoreRule `json:"rules" yaml:"rules"`
}

// Rule returns the table entry for id. Safe to call on a nil table.
func (t *RuleTable) Rule(id string) (ScoreRule, bool) {
	if t == nil || t.Rules == nil {
		return ScoreRule{}, false
	}
	r, ok := t.Rules[id]
	return r, ok
}
