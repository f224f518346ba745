// Package pm implements the power meter device-type driver. Like sa and
// vna, power_meter is named in spec.md's device_type enum without a
// representative operation list; this driver covers the single operation
// every power meter profile needs.
package pm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Driver is a power meter instrument.
type Driver struct {
	*instrument.Base
}

// New constructs a Driver.
func New(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) *Driver {
	return &Driver{Base: instrument.NewBase(tr, spec, alias, overlay, sweep, nil)}
}

// SetFrequency programs the carrier frequency used for sensor cal-factor
// correction.
func (d *Driver) SetFrequency(ctx context.Context, hz float64) error {
	return d.Write(ctx, fmt.Sprintf(":SENSe:FREQuency %g", hz))
}

// MeasurePower returns the measured average power, with an accuracy-table
// uncertainty attached if the profile declares one for "power".
func (d *Driver) MeasurePower(ctx context.Context) (instrument.Result, error) {
	started := time.Now()
	resp, err := d.Query(ctx, ":MEASure:POWer?")
	if err != nil {
		return instrument.Result{}, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return instrument.Result{}, fmt.Errorf("pm: parsing measurement response %q: %w", resp, err)
	}
	result := instrument.ScalarResult(v, "dBm", 0, false, started)
	if acc := d.Profile.Accuracy("power"); acc != nil {
		result.Scalar.Sigma = v*acc.PercentReading/100 + acc.OffsetValue
		result.Scalar.HasSigma = true
	}
	return result, nil
}
