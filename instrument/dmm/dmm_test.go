package dmm

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

const dmmProfileYAML = `
schema_version: "1.0.0"
model_id: KEYSIGHT,34461A
device_type: dmm
accuracy_table:
  "VOLTage:DC":
    percent_reading: 0.1
    offset_value: 0.001
    unit: V
simulation:
  state: {}
  scpi:
    - command: "^:VOLTage:DC:NPLC .+;:MEASure:VOLTage:DC\\?$"
      response: "5.0000"
`

func TestMeasureVoltageDCAttachesAccuracySigma(t *testing.T) {
	spec, err := profile.Load(strings.NewReader(dmmProfileYAML), "dmm-test", nil)
	require.NoError(t, err)
	tr := simulator.New(spec, simengine.Config{}, nil)
	d := New(tr, spec, "dmm0", nil, instrument.ErrorSweepOff)

	result, err := d.MeasureVoltageDC(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 5.0, result.Scalar.Value, 1e-9)
	require.True(t, result.Scalar.HasSigma)
	require.InDelta(t, 5.0*0.001+0.001, result.Scalar.Sigma, 1e-9)
	require.Equal(t, "V", result.Units)
}
