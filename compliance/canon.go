// Package compliance implements deterministic hashing, signing, and
// verification of measurement artifacts, plus an append-only audit log of
// who produced what envelope and when (spec.md §4.7).
package compliance

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"

	"github.com/mitchellh/hashstructure/v2"
)

// canonicalProvenance is the fixed-order JSON shape of a Provenance record
// inside a canonical envelope body.
type canonicalProvenance struct {
	Actor              string `json:"actor"`
	InstrumentIdentity string `json:"instrument_identity"`
	ProfileHash        string `json:"profile_hash"`
}

// canonicalBody is the fixed field order spec.md §4.7 requires for
// canonicalization: kind, values, units, timestamp, provenance, trace
// fingerprint. Using a struct rather than a map gives compile-time fixed
// field order, which is all the determinism Go's encoding/json needs here
// — no canonical-JSON library appears anywhere in the retrieved pack, so
// there is no ecosystem alternative to reach for.
type canonicalBody struct {
	Kind             string              `json:"kind"`
	Values           []string            `json:"values"`
	Units            string              `json:"units"`
	Timestamp        string              `json:"timestamp"`
	Provenance       canonicalProvenance `json:"provenance"`
	TraceFingerprint string              `json:"trace_fingerprint"`
}

// formatFloat renders v in the single canonical representation every
// canonicalized value uses, so the same float always serializes to the
// same bytes.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// TraceFingerprint hashes the sorted set of SCPI commands executed since
// the previous envelope. Sorting first means command ordering never
// changes the fingerprint, only the command set does.
func TraceFingerprint(trace []string) string {
	sorted := append([]string(nil), trace...)
	sort.Strings(sorted)
	sum := blake2b.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

func canonicalValues(r instrument.Result) []string {
	switch r.Kind {
	case instrument.KindScalar:
		if r.Scalar == nil {
			return nil
		}
		out := []string{formatFloat(r.Scalar.Value)}
		if r.Scalar.HasSigma {
			out = append(out, formatFloat(r.Scalar.Sigma))
		}
		return out
	case instrument.KindWaveform:
		if r.Waveform == nil {
			return nil
		}
		return flattenColumns(r.Waveform.ColumnOrder, r.Waveform.Columns)
	case instrument.KindTabular:
		if r.Tabular == nil {
			return nil
		}
		return flattenColumns(r.Tabular.ColumnOrder, r.Tabular.Columns)
	default:
		return nil
	}
}

func flattenColumns(order []string, cols map[string][]float64) []string {
	var out []string
	for _, name := range order {
		for _, v := range cols[name] {
			out = append(out, formatFloat(v))
		}
	}
	return out
}

// Canonicalize serializes result, using trace as the set of commands
// executed since the previous envelope, into the stable byte sequence an
// Envelope hashes and signs.
func Canonicalize(result instrument.Result, trace []string) ([]byte, error) {
	body := canonicalBody{
		Kind:      string(result.Kind),
		Values:    canonicalValues(result),
		Units:     result.Units,
		Timestamp: result.WallClock.UTC().Format(time.RFC3339Nano),
		Provenance: canonicalProvenance{
			Actor:              result.Provenance.Actor,
			InstrumentIdentity: result.Provenance.InstrumentIdentity,
			ProfileHash:        result.Provenance.ProfileHash,
		},
		TraceFingerprint: TraceFingerprint(trace),
	}
	return json.Marshal(body)
}

// ConfigSnapshot is an instrument's enumerated queryable settings at a
// point in time, canonicalized the same way a MeasurementResult is
// (spec.md §4.7: "instrument-state signatures use the same
// canonicalization over the instrument's current configuration
// snapshot").
type ConfigSnapshot struct {
	InstrumentIdentity string
	ProfileHash        string
	Settings           map[string]string
	CapturedAt         time.Time
}

type canonicalConfigBody struct {
	Kind               string      `json:"kind"`
	InstrumentIdentity string      `json:"instrument_identity"`
	ProfileHash        string      `json:"profile_hash"`
	Settings           []settingKV `json:"settings"`
	Timestamp          string      `json:"timestamp"`
}

type settingKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CanonicalizeConfig serializes snap with the same fixed-field-order
// discipline Canonicalize applies to measurement results. Settings are
// sorted by key so the byte sequence doesn't depend on map iteration
// order.
func CanonicalizeConfig(snap ConfigSnapshot) ([]byte, error) {
	keys := make([]string, 0, len(snap.Settings))
	for k := range snap.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	settings := make([]settingKV, len(keys))
	for i, k := range keys {
		settings[i] = settingKV{Key: k, Value: snap.Settings[k]}
	}

	body := canonicalConfigBody{
		Kind:               "config_snapshot",
		InstrumentIdentity: snap.InstrumentIdentity,
		ProfileHash:        snap.ProfileHash,
		Settings:           settings,
		Timestamp:          snap.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(body)
}

// profileFingerprintInput is the subset of profile.Spec that determines a
// profile's compliance fingerprint: plain declarative data only, so
// hashstructure never has to traverse compiled regexes or AST closures
// living on the Spec's unexported fields.
type profileFingerprintInput struct {
	SchemaVersion string
	ModelID       string
	DeviceType    string
	Channels      []profile.Channel
	AccuracyTable map[string]profile.AccuracySpec
	SafetySchema  profile.SafetySchema
	SimState      map[string]string
	RawRules      []profile.RawRule
}

// ProfileFingerprint computes a stable fingerprint of spec, used for the
// provenance.profile_hash field — distinct from (and cheaper than) hashing
// a full canonical envelope, since it only needs to change when the
// profile itself changes.
func ProfileFingerprint(spec *profile.Spec) (string, error) {
	rawRules := make([]profile.RawRule, len(spec.SimRulesList()))
	for i, r := range spec.SimRulesList() {
		rawRules[i] = r.Raw
	}
	input := profileFingerprintInput{
		SchemaVersion: spec.SchemaVersion,
		ModelID:       spec.ModelID,
		DeviceType:    string(spec.DeviceType),
		Channels:      spec.Channels,
		AccuracyTable: spec.AccuracyTable,
		SafetySchema:  spec.SafetySchema,
		SimState:      spec.SimState,
		RawRules:      rawRules,
	}
	h, err := hashstructure.Hash(input, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(h, 16), nil
}
