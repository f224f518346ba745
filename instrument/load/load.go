// Package load implements the electronic-load device-type driver
// (spec.md §4.3).
package load

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Mode is one of the load's four regulation modes.
type Mode string

const (
	ConstantCurrent   Mode = "CC"
	ConstantVoltage   Mode = "CV"
	ConstantResistance Mode = "CR"
	ConstantPower     Mode = "CP"
)

// Driver is an electronic load instrument.
type Driver struct {
	*instrument.Base
}

// New constructs a Driver.
func New(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) *Driver {
	return &Driver{Base: instrument.NewBase(tr, spec, alias, overlay, sweep, nil)}
}

// SetMode selects the load's regulation mode.
func (d *Driver) SetMode(ctx context.Context, m Mode) error {
	return d.Write(ctx, fmt.Sprintf(":MODE %s", m))
}

// SetCurrent programs the constant-current setpoint, validated against the
// safety overlay before any I/O runs.
func (d *Driver) SetCurrent(ctx context.Context, channel int, amps float64) error {
	if err := d.CheckSafety("load.SetCurrent", channel, "current", amps); err != nil {
		return err
	}
	return d.Write(ctx, fmt.Sprintf(":CURRent %g", amps))
}

// EnableInput turns the load's input on.
func (d *Driver) EnableInput(ctx context.Context) error {
	return d.Write(ctx, ":INPut ON")
}

// DisableInput turns the load's input off.
func (d *Driver) DisableInput(ctx context.Context) error {
	return d.Write(ctx, ":INPut OFF")
}

// MeasureVoltage returns the measured input voltage.
func (d *Driver) MeasureVoltage(ctx context.Context) (instrument.Result, error) {
	return d.measure(ctx, ":MEASure:VOLTage?", "V")
}

// MeasureCurrent returns the measured input current.
func (d *Driver) MeasureCurrent(ctx context.Context) (instrument.Result, error) {
	return d.measure(ctx, ":MEASure:CURRent?", "A")
}

func (d *Driver) measure(ctx context.Context, cmd, units string) (instrument.Result, error) {
	started := time.Now()
	resp, err := d.Query(ctx, cmd)
	if err != nil {
		return instrument.Result{}, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return instrument.Result{}, fmt.Errorf("load: parsing measurement response %q: %w", resp, err)
	}
	return instrument.ScalarResult(v, units, 0, false, started), nil
}
