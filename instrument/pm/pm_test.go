package pm

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

const pmProfileYAML = `
schema_version: "1.0.0"
model_id: KEYSIGHT,U2021XA
device_type: power_meter
accuracy_table:
  power:
    percent_reading: 0.05
    offset_value: 0.0
    unit: dBm
simulation:
  state: {}
  scpi:
    - command: ":MEASure:POWer\\?"
      response: "10.000"
`

func TestMeasurePowerAttachesAccuracy(t *testing.T) {
	spec, err := profile.Load(strings.NewReader(pmProfileYAML), "pm-test", nil)
	require.NoError(t, err)
	tr := simulator.New(spec, simengine.Config{}, nil)
	d := New(tr, spec, "pm0", nil, instrument.ErrorSweepOff)

	result, err := d.MeasurePower(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 10.0, result.Scalar.Value, 1e-9)
	require.True(t, result.Scalar.HasSigma)
}
