package sa

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	"github.com/labiium/pytestlab/simengine"
	"github.com/labiium/pytestlab/transport/simulator"
)

const saProfileYAML = `
schema_version: "1.0.0"
model_id: KEYSIGHT,N9000B
device_type: sa
simulation:
  state: {}
  scpi:
    - command: ":CALCulate:MARKer1:Y\\?"
      response: "-42.500"
`

func TestMarkerPowerParsesResponse(t *testing.T) {
	spec, err := profile.Load(strings.NewReader(saProfileYAML), "sa-test", nil)
	require.NoError(t, err)
	tr := simulator.New(spec, simengine.Config{}, nil)
	d := New(tr, spec, "sa0", nil, instrument.ErrorSweepOff)

	result, err := d.MarkerPower(context.Background(), 1e9)
	require.NoError(t, err)
	require.InDelta(t, -42.5, result.Scalar.Value, 1e-9)
	require.Equal(t, "dBm", result.Units)
}
