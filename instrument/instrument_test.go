package instrument

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/profile"
	"github.com/labiium/pytestlab/simengine"
	"github.com/labiium/pytestlab/transport/simulator"
)

func f(v float64) *float64 { return &v }

func TestMergeOverlayTightensOnly(t *testing.T) {
	schema := profile.SafetySchema{
		1: {"voltage": profile.SafetyBound{Max: f(30), Min: f(0)}},
	}
	bench := Overlay{
		1: {"voltage": profile.SafetyBound{Max: f(20)}}, // tighter than profile
	}
	merged := MergeOverlay(schema, bench)
	require.Equal(t, 20.0, *merged[1]["voltage"].Max)
	require.Equal(t, 0.0, *merged[1]["voltage"].Min)
}

func TestMergeOverlayCannotWidenProfileBound(t *testing.T) {
	schema := profile.SafetySchema{
		1: {"voltage": profile.SafetyBound{Max: f(20)}},
	}
	bench := Overlay{
		1: {"voltage": profile.SafetyBound{Max: f(30)}}, // looser, must not win
	}
	merged := MergeOverlay(schema, bench)
	require.Equal(t, 20.0, *merged[1]["voltage"].Max)
}

func TestOverlayCheckRejectsOutOfRange(t *testing.T) {
	overlay := Overlay{1: {"voltage": profile.SafetyBound{Max: f(20)}}}
	err := overlay.Check("psu.Set", "psu0", 1, "voltage", 25)
	require.Error(t, err)
}

func TestOverlayCheckAllowsInRange(t *testing.T) {
	overlay := Overlay{1: {"voltage": profile.SafetyBound{Max: f(20)}}}
	require.NoError(t, overlay.Check("psu.Set", "psu0", 1, "voltage", 15))
}

const minimalProfileYAML = `
schema_version: "1.0.0"
model_id: TEST,GENERIC
device_type: psu
channels:
  - index: 1
    role: output
accuracy_table: {}
simulation:
  state:
    ch1_voltage: "0"
  scpi:
    - command: "\\*IDN\\?"
      response: "TEST,GENERIC,SIM,1.0"
    - command: ":SYSTem:ERRor\\?"
      response: "0,\"No error\""
`

func loadTestProfile(t *testing.T) *profile.Spec {
	t.Helper()
	spec, err := profile.Load(strings.NewReader(minimalProfileYAML), "test", nil)
	require.NoError(t, err)
	return spec
}

func TestBaseConnectRecordsIdentityViaIDN(t *testing.T) {
	spec := loadTestProfile(t)
	tr := simulator.New(spec, simengine.Config{}, nil)
	b := NewBase(tr, spec, "psu0", nil, ErrorSweepOff, nil)

	require.NoError(t, b.Connect(context.Background(), false))
	require.Equal(t, "TEST,GENERIC,SIM,1.0", b.Identity())
}

func TestBaseTraceRecordsCommandsAndResets(t *testing.T) {
	spec := loadTestProfile(t)
	tr := simulator.New(spec, simengine.Config{}, nil)
	b := NewBase(tr, spec, "psu0", nil, ErrorSweepOff, nil)

	require.NoError(t, b.Write(context.Background(), "*RST"))
	require.Equal(t, []string{"*RST"}, b.Trace())

	b.ResetTrace()
	require.Empty(t, b.Trace())
}

func TestBaseSweepReturnsNilWhenErrorQueueEmpty(t *testing.T) {
	spec := loadTestProfile(t)
	tr := simulator.New(spec, simengine.Config{}, nil)
	b := NewBase(tr, spec, "psu0", nil, ErrorSweepOff, nil)

	tr.Engine().State() // sanity: engine reachable

	err := b.Sweep(context.Background())
	require.NoError(t, err)
}

// countingTransport counts ClearErrors calls, so tests can observe when a
// sweep actually ran without depending on simengine rule matching.
type countingTransport struct {
	clearErrorsCalls int
}

func (c *countingTransport) Write(context.Context, string) error          { return nil }
func (c *countingTransport) Query(context.Context, string) (string, error) { return "", nil }
func (c *countingTransport) ReadRaw(context.Context, int) ([]byte, error)  { return nil, nil }
func (c *countingTransport) ClearErrors(context.Context) ([]string, error) {
	c.clearErrorsCalls++
	return nil, nil
}
func (c *countingTransport) Close() error { return nil }

func TestBaseBatchedSweepWaitsForBatchSize(t *testing.T) {
	tr := &countingTransport{}
	b := NewBase(tr, nil, "psu0", nil, ErrorSweepBatched, nil)
	b.SetSweepBatchSize(3)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Write(context.Background(), "*RST"))
	}
	require.Equal(t, 0, tr.clearErrorsCalls, "sweep must not run before the batch size is reached")

	require.NoError(t, b.Write(context.Background(), "*RST"))
	require.Equal(t, 1, tr.clearErrorsCalls, "sweep must run once the batch size is reached")
}

func TestBaseBatchedSweepResetsCounterAfterFiring(t *testing.T) {
	tr := &countingTransport{}
	b := NewBase(tr, nil, "psu0", nil, ErrorSweepBatched, nil)
	b.SetSweepBatchSize(2)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Write(context.Background(), "*RST"))
	}
	require.Equal(t, 2, tr.clearErrorsCalls, "sweep must fire again every batch-size writes")
}
