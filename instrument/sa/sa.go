// Package sa implements the spectrum analyzer device-type driver. Spectrum
// analysis is not detailed in spec.md's representative operation list, so
// this driver covers the minimal frequency-domain measurement any SA
// profile needs: a frequency sweep configuration and a marker power read.
package sa

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Driver is a spectrum analyzer instrument.
type Driver struct {
	*instrument.Base
}

// New constructs a Driver.
func New(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) *Driver {
	return &Driver{Base: instrument.NewBase(tr, spec, alias, overlay, sweep, nil)}
}

// SetupSweep configures the swept frequency span and resolution bandwidth.
func (d *Driver) SetupSweep(ctx context.Context, centerHz, spanHz, rbwHz float64) error {
	return d.Write(ctx, fmt.Sprintf(":FREQuency:CENTer %g;:FREQuency:SPAN %g;:BANDwidth:RESolution %g", centerHz, spanHz, rbwHz))
}

// MarkerPower places marker 1 at freqHz and returns its measured power.
func (d *Driver) MarkerPower(ctx context.Context, freqHz float64) (instrument.Result, error) {
	started := time.Now()
	if err := d.Write(ctx, fmt.Sprintf(":CALCulate:MARKer1:X %g", freqHz)); err != nil {
		return instrument.Result{}, err
	}
	resp, err := d.Query(ctx, ":CALCulate:MARKer1:Y?")
	if err != nil {
		return instrument.Result{}, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return instrument.Result{}, fmt.Errorf("sa: parsing marker response %q: %w", resp, err)
	}
	return instrument.ScalarResult(v, "dBm", 0, false, started), nil
}
