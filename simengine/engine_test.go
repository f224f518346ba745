package simengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/profile"
)

const scopeProfileYAML = `
schema_version: "1.0.0"
model_id: keysight/DSOX1204G
device_type: oscilloscope
channels:
  - index: 1
    role: analog
accuracy_table: {}
safety_schema: {}
simulation:
  state:
    ch1_scale: "1.0"
  scpi:
    - command: "*IDN?"
      response: "KEYSIGHT,DSOX1204G,SIM,1.0"
    - command: "^:CHAN1:SCAL (.+)$"
      action: set
      target: ch1_scale
      value: "groups[1]"
    - command: "^:CHAN1:SCAL\\?$"
      response: "=state[\"ch1_scale\"]"
`

func loadScopeProfile(t *testing.T) *profile.Spec {
	t.Helper()
	spec, err := profile.Load(strings.NewReader(scopeProfileYAML), "scope.yaml", nil)
	require.NoError(t, err)
	return spec
}

func TestQueryLiteralResponse(t *testing.T) {
	eng := New(loadScopeProfile(t), Config{}, nil)
	resp, err := eng.Query("*IDN?")
	require.NoError(t, err)
	require.Equal(t, "KEYSIGHT,DSOX1204G,SIM,1.0", resp)
}

func TestWriteUpdatesStateThenQueryReadsIt(t *testing.T) {
	eng := New(loadScopeProfile(t), Config{}, nil)

	require.NoError(t, eng.Write(":CHAN1:SCAL 0.5"))
	resp, err := eng.Query(":CHAN1:SCAL?")
	require.NoError(t, err)
	require.Equal(t, "0.5", resp)
}

func TestUnmatchedQueryDefaultsToEmptyString(t *testing.T) {
	eng := New(loadScopeProfile(t), Config{}, nil)
	resp, err := eng.Query(":BOGUS:COMMAND?")
	require.NoError(t, err)
	require.Equal(t, "", resp)
}

func TestUnmatchedQueryFailsInStrictMode(t *testing.T) {
	eng := New(loadScopeProfile(t), Config{StrictMode: true}, nil)
	_, err := eng.Query(":BOGUS:COMMAND?")
	require.Error(t, err)
}

func TestUnmatchedWriteIsNoop(t *testing.T) {
	eng := New(loadScopeProfile(t), Config{}, nil)
	require.NoError(t, eng.Write(":BOGUS:COMMAND 1"))
}

func TestEnginesWithSameSeedStartFromEqualState(t *testing.T) {
	spec := loadScopeProfile(t)
	e1 := New(spec, Config{Seed: 7}, nil)
	e2 := New(spec, Config{Seed: 7}, nil)

	state1 := e1.State()
	state2 := e2.State()
	require.Equal(t, state1, state2)
}

func TestReadBlockDecodesDeclaredRuleResponse(t *testing.T) {
	const waveformProfileYAML = `
schema_version: "1.0.0"
model_id: keysight/DSOX1204G
device_type: oscilloscope
channels:
  - index: 1
    role: analog
simulation:
  state: {}
  scpi:
    - command: ":WAVeform:DATA\\?"
      response: "10,20,30,40"
`
	spec, err := profile.Load(strings.NewReader(waveformProfileYAML), "scope.yaml", nil)
	require.NoError(t, err)

	eng := New(spec, Config{}, nil)
	raw, err := eng.ReadBlock(WaveformDataCommand, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{10, 20, 30, 40}, raw)
}

func TestReadBlockFallsBackToPseudorandomBytesWithoutARule(t *testing.T) {
	eng := New(loadScopeProfile(t), Config{Seed: 42}, nil)
	raw, err := eng.ReadBlock(WaveformDataCommand, 16)
	require.NoError(t, err)
	require.Len(t, raw, 16)
}

func TestReadBlockIsReproducibleForTheSameSeed(t *testing.T) {
	spec := loadScopeProfile(t)
	e1 := New(spec, Config{Seed: 99}, nil)
	e2 := New(spec, Config{Seed: 99}, nil)

	raw1, err := e1.ReadBlock(WaveformDataCommand, 8)
	require.NoError(t, err)
	raw2, err := e2.ReadBlock(WaveformDataCommand, 8)
	require.NoError(t, err)
	require.Equal(t, raw1, raw2)
}
