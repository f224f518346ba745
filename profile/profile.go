// Package profile loads and validates instrument profiles: the typed model
// of a YAML profile (identity, channels, accuracy table, simulation rules,
// safety schema) that the rest of pytestlab interprets rather than hard-codes
// per vendor model.
package profile

import "github.com/labiium/pytestlab/internal/labsim"

// DeviceType enumerates the instrument kinds a profile may describe.
type DeviceType string

const (
	DeviceOscilloscope DeviceType = "oscilloscope"
	DevicePSU          DeviceType = "psu"
	DeviceDMM          DeviceType = "dmm"
	DeviceAWG          DeviceType = "awg"
	DeviceLoad         DeviceType = "load"
	DeviceSA           DeviceType = "sa"
	DeviceVNA          DeviceType = "vna"
	DevicePowerMeter   DeviceType = "power_meter"
)

func (d DeviceType) valid() bool {
	switch d {
	case DeviceOscilloscope, DevicePSU, DeviceDMM, DeviceAWG, DeviceLoad, DeviceSA, DeviceVNA, DevicePowerMeter:
		return true
	default:
		return false
	}
}

// Channel describes one channel entry in a profile: index, role, and a free
// -form capability bag consumed by the owning device-type driver.
type Channel struct {
	Index        int            `yaml:"index"`
	Role         string         `yaml:"role"`
	Capabilities map[string]any `yaml:"capabilities,omitempty"`
}

// AccuracySpec is one entry of a profile's accuracy table: the uncertainty
// attached to a measurement taken in the mode/range the key names.
type AccuracySpec struct {
	PercentReading float64 `yaml:"percent_reading"`
	OffsetValue    float64 `yaml:"offset_value"`
	Unit           string  `yaml:"unit"`
}

// SafetyBound is a per-channel, per-quantity max/min pair. Bench safety
// overlays may only tighten these, never widen them.
type SafetyBound struct {
	Max *float64 `yaml:"max,omitempty"`
	Min *float64 `yaml:"min,omitempty"`
}

// SafetySchema maps channel index to a quantity-name → bound map.
type SafetySchema map[int]map[string]SafetyBound

// Rule is one compiled simulation.scpi entry. Compiled holds the command
// pattern in one of two shapes, chosen at parse time by IsRegex (literal string compared exactly, or a
// compiled regexp); Action is empty for a pure-response rule.
//
// A response value starting with "=" is a state-reading expression,
// compiled into ResponseExpr; anything else is a literal string, carried
// verbatim in ResponseLiteral. This mirrors spec.md §6's
// `response: "<literal>" | "<expr>"` shape, disambiguated the way a
// spreadsheet formula is: a leading sigil marks evaluation.
type Rule struct {
	Raw               RawRule
	IsRegex           bool
	Compiled          *compiledPattern
	ResponseLiteral   string      // set when the rule has a literal response
	HasResponse       bool
	ResponseExpr      labsim.Expr // non-nil when the response is "=<expr>"
	Action            string      // "" or "set"
	Target            string
	ValueExpr         labsim.Expr // nil unless Action == "set"
	ResponseEvalOrder string      // "pre" | "post", default "post"
}

// RawRule is the direct YAML decode of one simulation.scpi entry, in either
// of spec.md §6's two shapes.
type RawRule struct {
	Command  string `yaml:"command"`
	Response string `yaml:"response,omitempty"`
	Action   string `yaml:"action,omitempty"`
	Target   string `yaml:"target,omitempty"`
	Value    string `yaml:"value,omitempty"`
	// ResponseEvalOrder is a v2-only field; its absence on a rule that sets
	// Action is one signal (not the only one) that a rule predates the v2
	// shape — see compileRule.
	ResponseEvalOrder string `yaml:"response_eval_order,omitempty"`
}

// Simulation is the simulation.state / simulation.scpi section of a profile.
type Simulation struct {
	State map[string]string `yaml:"state"`
	SCPI  []RawRule         `yaml:"scpi"`
}

// rawProfile is the direct YAML decode of a profile file, matching the
// schema 1-to-1 before cross-field validation and rule compilation.
type rawProfile struct {
	SchemaVersion string         `yaml:"schema_version"`
	ModelID       string         `yaml:"model_id"`
	DeviceType    string         `yaml:"device_type"`
	Channels      []Channel      `yaml:"channels"`
	AccuracyTable map[string]AccuracySpec `yaml:"accuracy_table"`
	SafetySchema  map[string]map[string]SafetyBound `yaml:"safety_schema"`
	Simulation    Simulation     `yaml:"simulation"`
}

// Spec is the fully loaded and validated profile: a typed model of a YAML
// instrument profile plus compiled simulation rules.
type Spec struct {
	SchemaVersion string
	ModelID       string
	DeviceType    DeviceType
	Channels      []Channel
	AccuracyTable map[string]AccuracySpec
	SafetySchema  SafetySchema
	SimState      map[string]string
	SimRules      []Rule

	channelByIndex map[int]*Channel
}

// Channel returns the channel descriptor at index i, or nil if no such
// channel exists in the profile.
func (s *Spec) Channel(i int) *Channel {
	return s.channelByIndex[i]
}

// Accuracy returns the accuracy-table entry for modeKey, or nil if the
// profile declares no entry for that key.
func (s *Spec) Accuracy(modeKey string) *AccuracySpec {
	if a, ok := s.AccuracyTable[modeKey]; ok {
		return &a
	}
	return nil
}

// SimRulesList returns the compiled simulation rules in declared order.
func (s *Spec) SimRulesList() []Rule {
	return s.SimRules
}

// Match reports whether cmd matches this rule's compiled command pattern,
// returning the captured groups (index 0 is the full match, following
// conventional regex group numbering) when it does. A literal pattern
// matches only cmd itself, with groups set to []string{cmd}.
func (r Rule) Match(cmd string) (bool, []string) {
	return r.Compiled.match(cmd)
}
