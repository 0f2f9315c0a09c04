// Package domain defines the core interfaces and types for Kestrel.
package domain

import "time"

// Capability is a category of monitoring coverage a tool can provide.
type Capability string

const (
	CapHost    Capability = "host"
	CapProcess Capability = "process"
	CapNetwork Capability = "network"
	CapDB      Capability = "db"
	CapTrans   Capability = "trans"
	CapLink    Capability = "link"
	CapData    Capability = "data"
	CapClient  Capability = "client"
)

// mandatoryCaps is the fixed reporting order for missing-capability output.
var mandatoryCaps = []Capability{CapHost, CapProcess, CapNetwork, CapDB, CapTrans}

var allCaps = []Capability{
	CapHost, CapProcess, CapNetwork, CapDB, CapTrans, CapLink, CapData, CapClient,
}

// MandatoryCapabilities returns the five capabilities every system is
// expected to cover, in fixed order.
func MandatoryCapabilities() []Capability {
	out := make([]Capability, len(mandatoryCaps))
	copy(out, mandatoryCaps)
	return out
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, k := range allCaps {
		if c == k {
			return true
		}
	}
	return false
}

// Mandatory reports whether c is one of the five mandatory capabilities.
func (c Capability) Mandatory() bool {
	for _, k := range mandatoryCaps {
		if c == k {
			return true
		}
	}
	return false
}

// Severity is the informational alert level of a scenario. It does not
// affect scoring.
type Severity string

const (
	SeverityRed    Severity = "red"
	SeverityOrange Severity = "orange"
	SeverityYellow Severity = "yellow"
	SeverityGray   Severity = "gray"
)

// Scenario is a single standardized metric check belonging to a tool.
type Scenario struct {
	ID         string     `json:"id" yaml:"id"`
	Capability Capability `json:"capability" yaml:"capability"`
	Metric     string     `json:"metric" yaml:"metric"`
	Severity   Severity   `json:"severity,omitempty" yaml:"severity,omitempty"`
	Threshold  string     `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// MonitorTool is a catalog entry: a monitoring product that can be attached
// to systems, with its default capabilities and standardized scenarios.
type MonitorTool struct {
	ID           string       `json:"id" yaml:"id"`
	TaskID       string       `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	Name         string       `json:"name" yaml:"name"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`
	Scenarios    []Scenario   `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	CreatedAt    time.Time    `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// ScenariosFor returns the tool's scenarios belonging to the given capability.
func (t *MonitorTool) ScenariosFor(cap Capability) []Scenario {
	var out []Scenario
	for _, s := range t.Scenarios {
		if s.Capability == cap {
			out = append(out, s)
		}
	}
	return out
}

// ScenarioIDs returns the ids of every scenario the tool defines.
func (t *MonitorTool) ScenarioIDs() []string {
	ids := make([]string, 0, len(t.Scenarios))
	for _, s := range t.Scenarios {
		ids = append(ids, s.ID)
	}
	return ids
}
