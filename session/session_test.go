package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/instrument/psu"
	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/profile"
	"github.com/labiium/pytestlab/simengine"
	"github.com/labiium/pytestlab/transport/simulator"
)

const sessionPSUProfileYAML = `
schema_version: "1.0.0"
model_id: KEYSIGHT,E36312A
device_type: psu
channels:
  - index: 1
    role: output
simulation:
  state:
    ch1_voltage: "0"
  scpi:
    - command: "\\*IDN\\?"
      response: "KEYSIGHT,E36312A,SIM,1.0"
    - command: "^:INSTrument:NSELect 1;:VOLTage (.+);:CURRent (.+)$"
      action: set
      target: ch1_voltage
      value: "float(groups[1])"
    - command: "^:INSTrument:NSELect 1;:MEASure:VOLTage\\?$"
      response: "=state[\"ch1_voltage\"]"
    - command: ":SYSTem:ERRor\\?"
      response: "0,\"No error\""
`

func TestSweepProducesCartesianProductInDeclaredOrder(t *testing.T) {
	s := New(nil)

	var seen []map[string]Value
	s.RegisterAcquisition("record", func(c *Context) (map[string]Value, error) {
		snapshot := map[string]Value{}
		for k, v := range c.Parameters {
			snapshot[k] = v
		}
		seen = append(seen, snapshot)
		return map[string]Value{"measured": NumValue(c.Parameters["voltage"].Num * 2)}, nil
	})

	params := []Parameter{
		{Name: "voltage", Values: []Value{NumValue(1.0), NumValue(2.0), NumValue(3.0)}},
		{Name: "delay", Values: []Value{NumValue(0.1), NumValue(0.5)}},
	}

	exp, err := s.Sweep(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, exp.Rows, 6)
	require.ElementsMatch(t, []string{"voltage", "delay", "measured"}, exp.ColumnOrder)

	// voltage is outermost (first declared): it varies slowest.
	require.Equal(t, 1.0, exp.Rows[0].Columns["voltage"].Num)
	require.Equal(t, 0.1, exp.Rows[0].Columns["delay"].Num)
	require.Equal(t, 1.0, exp.Rows[1].Columns["voltage"].Num)
	require.Equal(t, 0.5, exp.Rows[1].Columns["delay"].Num)
	require.Equal(t, 2.0, exp.Rows[2].Columns["voltage"].Num)
	require.Equal(t, 3.0, exp.Rows[5].Columns["voltage"].Num)

	for i, row := range exp.Rows {
		require.Equal(t, row.Columns["voltage"].Num*2, row.Columns["measured"].Num, "row %d", i)
	}
}

func TestSweepRerunIsDeterministic(t *testing.T) {
	run := func() *Experiment {
		s := New(nil)
		s.RegisterAcquisition("m", func(c *Context) (map[string]Value, error) {
			return map[string]Value{"v": NumValue(c.Parameters["x"].Num + 1)}, nil
		})
		exp, err := s.Sweep(context.Background(), []Parameter{
			{Name: "x", Values: []Value{NumValue(1), NumValue(2)}},
		})
		require.NoError(t, err)
		return exp
	}

	a, b := run(), run()
	require.Equal(t, len(a.Rows), len(b.Rows))
	for i := range a.Rows {
		require.Equal(t, a.Rows[i].Columns["v"].Num, b.Rows[i].Columns["v"].Num)
	}
}

func TestSweepFailsOnAcquisitionKeyConflict(t *testing.T) {
	s := New(nil)
	s.RegisterAcquisition("a", func(c *Context) (map[string]Value, error) {
		return map[string]Value{"shared": NumValue(1)}, nil
	})
	s.RegisterAcquisition("b", func(c *Context) (map[string]Value, error) {
		return map[string]Value{"shared": NumValue(2)}, nil
	})

	_, err := s.Sweep(context.Background(), []Parameter{
		{Name: "x", Values: []Value{NumValue(1)}},
	})
	require.Error(t, err)
	require.True(t, labsterr.Is(err, labsterr.KindSession))
}

func TestSweepFillsMissingKeysWithNull(t *testing.T) {
	s := New(nil)
	first := true
	s.RegisterAcquisition("a", func(c *Context) (map[string]Value, error) {
		if first {
			first = false
			return map[string]Value{"only_first": NumValue(1)}, nil
		}
		return map[string]Value{}, nil
	})

	exp, err := s.Sweep(context.Background(), []Parameter{
		{Name: "x", Values: []Value{NumValue(1), NumValue(2)}},
	})
	require.NoError(t, err)
	require.False(t, exp.Rows[1].Columns["only_first"].HasValue)
}

func TestConcurrentRunsTasksAndTicksAcquisitions(t *testing.T) {
	s := New(nil)

	var ticks int
	s.RegisterAcquisition("tick", func(c *Context) (map[string]Value, error) {
		ticks++
		return map[string]Value{"n": NumValue(float64(ticks))}, nil
	})

	taskRan := make(chan struct{}, 1)
	s.RegisterTask("ramp", func(c *Context) error {
		select {
		case taskRan <- struct{}{}:
		default:
		}
		<-c.Ctx().Done()
		return nil
	})

	exp, err := s.Concurrent(context.Background(), ConcurrentConfig{
		Interval: 20 * time.Millisecond,
		Duration: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NotEmpty(t, exp.Rows)

	select {
	case <-taskRan:
	case <-time.After(time.Second):
		t.Fatal("background task never ran")
	}
}

func TestConcurrentReportsAbandonedTaskAfterGracePeriod(t *testing.T) {
	s := New(nil)
	s.RegisterTask("stuck", func(c *Context) error {
		<-time.After(time.Hour) // never checks cancellation cooperatively
		return nil
	})

	_, err := s.Concurrent(context.Background(), ConcurrentConfig{
		Interval:    10 * time.Millisecond,
		Duration:    20 * time.Millisecond,
		GracePeriod: 30 * time.Millisecond,
	})
	require.Error(t, err)
	require.True(t, labsterr.Is(err, labsterr.KindSession))
	le, ok := labsterr.As(err)
	require.True(t, ok)
	require.Equal(t, labsterr.SessionTaskAbandoned, le.SessionSubKind)
}

func TestConcurrentRejectsNonPositiveInterval(t *testing.T) {
	s := New(nil)
	_, err := s.Concurrent(context.Background(), ConcurrentConfig{Duration: time.Second})
	require.Error(t, err)
}

func TestSweepAcquisitionCanDriveSessionOwnedInstrument(t *testing.T) {
	spec, err := profile.Load(strings.NewReader(sessionPSUProfileYAML), "psu-test", nil)
	require.NoError(t, err)
	tr := simulator.New(spec, simengine.Config{}, nil)
	overlay := instrument.MergeOverlay(spec.SafetySchema, nil)
	driver := psu.New(tr, spec, "psu0", overlay, instrument.ErrorSweepOff)

	s := New(map[string]instrument.Driver{"psu0": driver})
	s.RegisterAcquisition("measure", func(c *Context) (map[string]Value, error) {
		voltage := c.Parameters["voltage"].Num
		var measured float64
		err := c.Instrument("psu0").With(func(d instrument.Driver) error {
			pd := d.(*psu.Driver)
			if _, err := pd.Channel(1).Set(c.Ctx(), voltage, 1); err != nil {
				return err
			}
			result, err := pd.Channel(1).MeasureVoltage(c.Ctx())
			if err != nil {
				return err
			}
			measured = result.Scalar.Value
			return nil
		})
		if err != nil {
			return nil, err
		}
		return map[string]Value{"measured_voltage": NumValue(measured)}, nil
	})

	exp, err := s.Sweep(context.Background(), []Parameter{
		{Name: "voltage", Values: []Value{NumValue(1.0), NumValue(2.0)}},
	})
	require.NoError(t, err)
	require.Len(t, exp.Rows, 2)
	require.InDelta(t, 1.0, exp.Rows[0].Columns["measured_voltage"].Num, 1e-9)
	require.InDelta(t, 2.0, exp.Rows[1].Columns["measured_voltage"].Num, 1e-9)
}
