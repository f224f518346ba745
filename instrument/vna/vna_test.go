package vna

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

const vnaProfileYAML = `
schema_version: "1.0.0"
model_id: KEYSIGHT,E5063A
device_type: vna
simulation:
  state: {}
  scpi:
    - command: ":CALCulate:DATA:FDATa\\?"
      response: "-1.0,-2.5,-3.1"
`

func TestMeasureSParameterParsesTrace(t *testing.T) {
	spec, err := profile.Load(strings.NewReader(vnaProfileYAML), "vna-test", nil)
	require.NoError(t, err)
	tr := simulator.New(spec, simengine.Config{}, nil)
	d := New(tr, spec, "vna0", nil, instrument.ErrorSweepOff)

	result, err := d.MeasureSParameter(context.Background(), "S21")
	require.NoError(t, err)
	require.Equal(t, instrument.KindTabular, result.Kind)
	require.Equal(t, []float64{-1.0, -2.5, -3.1}, result.Tabular.Columns["S21"])
}
