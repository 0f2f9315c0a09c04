package domain

// AdvisoryConfig defines a post-scoring advisory rule: a CEL expression
// evaluated over a computed ScoreResult, with bands mapping its value to
// an outcome. Advisories surface findings; they never feed back into the
// score itself.
type AdvisoryConfig struct {
	ID          string `json:"id"`
	TaskID      string `json:"taskId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the score result variables.
	Expression string `json:"expression"`

	// Outcome bands for value-to-finding mapping.
	Bands []AdvisoryBand `json:"bands"`

	// Whether the advisory is active.
	Enabled bool `json:"enabled"`
}

// AdvisoryBand maps a value range to an outcome.
type AdvisoryBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // e.g. ".ok", ".attention", ".breach"
	Reason     string   `json:"reason"`
}

// AdvisoryFinding is the output of evaluating one advisory against a
// score result.
type AdvisoryFinding struct {
	AdvisoryID string  `json:"advisoryId"`
	TaskID     string  `json:"taskId"`
	SystemID   string  `json:"systemId"`
	Outcome    string  `json:"outcome"`
	Value      float64 `json:"value"`
	Reason     string  `json:"reason"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined advisory outcomes
const (
	AdvisoryOK        = ".ok"
	AdvisoryAttention = ".attention"
	AdvisoryBreach    = ".breach"
	AdvisoryError     = ".err"
)
