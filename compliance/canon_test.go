package compliance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/compliance"
	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
)

func sampleResult() instrument.Result {
	r := instrument.ScalarResult(3.3, "V", 0.01, true, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	r.Provenance = instrument.Provenance{
		Actor:              "alice",
		InstrumentIdentity: "SIM,PSU,0001,1.0",
		ProfileHash:        "deadbeef",
	}
	return r
}

func TestCanonicalizeIsDeterministicAcrossCalls(t *testing.T) {
	result := sampleResult()
	trace := []string{"VOLT 3.3", "OUTP ON", "MEAS:VOLT?"}

	a, err := compliance.Canonicalize(result, trace)
	require.NoError(t, err)
	b, err := compliance.Canonicalize(result, trace)
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestCanonicalizeTraceFingerprintIgnoresCommandOrder(t *testing.T) {
	result := sampleResult()

	forward, err := compliance.Canonicalize(result, []string{"VOLT 3.3", "OUTP ON", "MEAS:VOLT?"})
	require.NoError(t, err)
	reversed, err := compliance.Canonicalize(result, []string{"MEAS:VOLT?", "OUTP ON", "VOLT 3.3"})
	require.NoError(t, err)

	require.Equal(t, forward, reversed)
}

func TestCanonicalizeDiffersWhenTraceSetDiffers(t *testing.T) {
	result := sampleResult()

	a, err := compliance.Canonicalize(result, []string{"VOLT 3.3", "OUTP ON"})
	require.NoError(t, err)
	b, err := compliance.Canonicalize(result, []string{"VOLT 3.3", "OUTP ON", "MEAS:VOLT?"})
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestCanonicalizeConfigSortsSettingsByKey(t *testing.T) {
	snap := compliance.ConfigSnapshot{
		InstrumentIdentity: "SIM,PSU,0001,1.0",
		ProfileHash:        "deadbeef",
		Settings: map[string]string{
			"voltage": "3.3",
			"current": "1.0",
		},
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	a, err := compliance.CanonicalizeConfig(snap)
	require.NoError(t, err)

	swapped := compliance.ConfigSnapshot{
		InstrumentIdentity: snap.InstrumentIdentity,
		ProfileHash:        snap.ProfileHash,
		Settings: map[string]string{
			"current": "1.0",
			"voltage": "3.3",
		},
		CapturedAt: snap.CapturedAt,
	}
	b, err := compliance.CanonicalizeConfig(swapped)
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestProfileFingerprintStableForSameProfile(t *testing.T) {
	spec := &profile.Spec{
		SchemaVersion: "1.0.0",
		ModelID:       "SIM-PSU-1",
		DeviceType:    profile.DevicePSU,
		SafetySchema:  profile.SafetySchema{},
		SimState:      map[string]string{"voltage": "0"},
	}

	a, err := compliance.ProfileFingerprint(spec)
	require.NoError(t, err)
	b, err := compliance.ProfileFingerprint(spec)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEmpty(t, a)
}

func TestProfileFingerprintChangesWithSimState(t *testing.T) {
	base := &profile.Spec{
		SchemaVersion: "1.0.0",
		ModelID:       "SIM-PSU-1",
		DeviceType:    profile.DevicePSU,
		SafetySchema:  profile.SafetySchema{},
		SimState:      map[string]string{"voltage": "0"},
	}
	changed := &profile.Spec{
		SchemaVersion: base.SchemaVersion,
		ModelID:       base.ModelID,
		DeviceType:    base.DeviceType,
		SafetySchema:  base.SafetySchema,
		SimState:      map[string]string{"voltage": "5"},
	}

	a, err := compliance.ProfileFingerprint(base)
	require.NoError(t, err)
	b, err := compliance.ProfileFingerprint(changed)
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}
