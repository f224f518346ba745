package profile

import "github.com/google/go-cmp/cmp"

// Diff renders a human-readable difference between two profile specs,
// comparing every exported field except SimRules, which is compared by
// rule count only (rule contents are not compared). This backs the non-dispatched
// `sim-profile diff` CLI behavioral contract (the CLI surface itself is out
// of scope; the comparison logic it would call is implemented and tested
// here regardless).
func Diff(a, b *Spec) string {
	return cmp.Diff(exportedView(a), exportedView(b))
}

// Equal reports whether a and b are identical in every field Diff compares.
func Equal(a, b *Spec) bool {
	return cmp.Equal(exportedView(a), exportedView(b))
}

// exportedView strips the unexported index cache so cmp doesn't need an
// Exporter option to reach into the struct.
type diffView struct {
	SchemaVersion string
	ModelID       string
	DeviceType    DeviceType
	Channels      []Channel
	AccuracyTable map[string]AccuracySpec
	SafetySchema  SafetySchema
	SimState      map[string]string
	RuleCount     int
}

func exportedView(s *Spec) diffView {
	if s == nil {
		return diffView{}
	}
	return diffView{
		SchemaVersion: s.SchemaVersion,
		ModelID:       s.ModelID,
		DeviceType:    s.DeviceType,
		Channels:      s.Channels,
		AccuracyTable: s.AccuracyTable,
		SafetySchema:  s.SafetySchema,
		SimState:      s.SimState,
		RuleCount:     len(s.SimRules),
	}
}
