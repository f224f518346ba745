// Package psu implements the PowerSupply device-type driver (spec.md §4.3).
package psu

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Driver is a power supply instrument. It owns one TransportSession and one
// ProfileSpec, per spec.md's Instrument attributes.
type Driver struct {
	*instrument.Base
}

// New constructs a Driver, matching the common construction signature named
// in spec.md §4.3: (ProfileSpec, Transport, alias, safety overlay, compliance
// key ref is attached later by the caller via Provenance, not stored here).
func New(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) *Driver {
	return &Driver{Base: instrument.NewBase(tr, spec, alias, overlay, sweep, nil)}
}

// Channel returns a chainable facade bound to output channel i.
func (d *Driver) Channel(i int) *Channel {
	return &Channel{driver: d, index: i}
}

// On enables all outputs. Per spec.md: facades and the driver both expose
// on()/off(); the driver-level call applies to every channel.
func (d *Driver) On(ctx context.Context) error {
	return d.Write(ctx, ":OUTPut ON")
}

// Off disables all outputs.
func (d *Driver) Off(ctx context.Context) error {
	return d.Write(ctx, ":OUTPut OFF")
}

// Channel is the chainable per-channel facade (spec.md §4.3: "channel(i).set
// (voltage, current_limit)").
type Channel struct {
	driver *Driver
	index  int
}

// Set validates voltage/current against the safety overlay before any I/O,
// then writes both in one SCPI command. Returns the facade for chaining.
func (c *Channel) Set(ctx context.Context, voltage, currentLimit float64) (*Channel, error) {
	if err := c.driver.CheckSafety("psu.Channel.Set", c.index, "voltage", voltage); err != nil {
		return c, err
	}
	if err := c.driver.CheckSafety("psu.Channel.Set", c.index, "current", currentLimit); err != nil {
		return c, err
	}
	cmd := fmt.Sprintf(":INSTrument:NSELect %d;:VOLTage %g;:CURRent %g", c.index, voltage, currentLimit)
	if err := c.driver.Write(ctx, cmd); err != nil {
		return c, err
	}
	return c, nil
}

// On enables this channel's output.
func (c *Channel) On(ctx context.Context) (*Channel, error) {
	if err := c.driver.Write(ctx, fmt.Sprintf(":INSTrument:NSELect %d;:OUTPut ON", c.index)); err != nil {
		return c, err
	}
	return c, nil
}

// Off disables this channel's output.
func (c *Channel) Off(ctx context.Context) (*Channel, error) {
	if err := c.driver.Write(ctx, fmt.Sprintf(":INSTrument:NSELect %d;:OUTPut OFF", c.index)); err != nil {
		return c, err
	}
	return c, nil
}

// MeasureVoltage returns the measured output voltage as a scalar result.
func (c *Channel) MeasureVoltage(ctx context.Context) (instrument.Result, error) {
	return c.measure(ctx, fmt.Sprintf(":INSTrument:NSELect %d;:MEASure:VOLTage?", c.index), "V")
}

// MeasureCurrent returns the measured output current as a scalar result.
func (c *Channel) MeasureCurrent(ctx context.Context) (instrument.Result, error) {
	return c.measure(ctx, fmt.Sprintf(":INSTrument:NSELect %d;:MEASure:CURRent?", c.index), "A")
}

func (c *Channel) measure(ctx context.Context, cmd, units string) (instrument.Result, error) {
	started := time.Now()
	resp, err := c.driver.Query(ctx, cmd)
	if err != nil {
		return instrument.Result{}, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return instrument.Result{}, fmt.Errorf("psu: parsing measurement response %q: %w", resp, err)
	}
	return instrument.ScalarResult(v, units, 0, false, started), nil
}

// Slew ramps a channel's configured setpoint over duration by writing a
// paced sequence of intermediate set commands, matching spec.md's
// "channel(i).slew(duration_s)" operation. steps controls ramp granularity.
func (c *Channel) Slew(ctx context.Context, fromVoltage, toVoltage float64, duration time.Duration, steps int) error {
	if steps <= 0 {
		steps = 10
	}
	interval := duration / time.Duration(steps)
	delta := (toVoltage - fromVoltage) / float64(steps)
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		v := fromVoltage + delta*float64(i)
		if _, err := c.Set(ctx, v, 0); err != nil {
			return err
		}
	}
	return nil
}
