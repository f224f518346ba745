package simulator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/profile"
	"github.com/labiium/pytestlab/simengine"
)

const scopeProfileYAML = `
schema_version: "1.0.0"
model_id: keysight/DSOX1204G
device_type: oscilloscope
channels:
  - index: 1
    role: analog
simulation:
  state: {}
  scpi:
    - command: "*IDN?"
      response: "KEYSIGHT,DSOX1204G,SIM,1.0"
    - command: ":WAVeform:PREamble\\?"
      response: "0,0,4,1,1e-6,0,0,0.01,0,128"
    - command: ":WAVeform:DATA\\?"
      response: "120,130,140,150"
`

func loadScopeProfile(t *testing.T) *profile.Spec {
	t.Helper()
	spec, err := profile.Load(strings.NewReader(scopeProfileYAML), "scope.yaml", nil)
	require.NoError(t, err)
	return spec
}

func TestReadRawDecodesDeclaredWaveformBlockRule(t *testing.T) {
	tr := New(loadScopeProfile(t), simengine.Config{}, nil)

	raw, err := tr.ReadRaw(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, []byte{120, 130, 140, 150}, raw)
}

func TestReadRawProducesAFullFrameWithoutADeclaredRule(t *testing.T) {
	const noRuleProfileYAML = `
schema_version: "1.0.0"
model_id: keysight/DSOX1204G
device_type: oscilloscope
channels:
  - index: 1
    role: analog
simulation:
  state: {}
  scpi: []
`
	spec, err := profile.Load(strings.NewReader(noRuleProfileYAML), "scope.yaml", nil)
	require.NoError(t, err)

	tr := New(spec, simengine.Config{Seed: 1}, nil)
	raw, err := tr.ReadRaw(context.Background(), 16)
	require.NoError(t, err)
	require.Len(t, raw, 16)
}

func TestReadRawFailsOnClosedTransport(t *testing.T) {
	tr := New(loadScopeProfile(t), simengine.Config{}, nil)
	require.NoError(t, tr.Close())

	_, err := tr.ReadRaw(context.Background(), 4)
	require.Error(t, err)
}
