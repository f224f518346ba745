// Package dmm implements the DMM (digital multimeter) device-type driver
// (spec.md §4.3).
package dmm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Driver is a digital multimeter instrument.
type Driver struct {
	*instrument.Base
	integrationTime string // NPLC selector, e.g. "1", "10", "100"
}

// New constructs a Driver. Integration time defaults to "1" NPLC.
func New(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) *Driver {
	return &Driver{Base: instrument.NewBase(tr, spec, alias, overlay, sweep, nil), integrationTime: "1"}
}

// SetIntegrationTime selects the NPLC integration time used by subsequent
// measurements.
func (d *Driver) SetIntegrationTime(nplc string) *Driver {
	d.integrationTime = nplc
	return d
}

// MeasureVoltageDC measures DC voltage, attaching an uncertainty from the
// profile's accuracy table for the active range if one applies.
func (d *Driver) MeasureVoltageDC(ctx context.Context) (instrument.Result, error) {
	return d.measure(ctx, "VOLTage:DC", "V")
}

// MeasureVoltageAC measures AC voltage.
func (d *Driver) MeasureVoltageAC(ctx context.Context) (instrument.Result, error) {
	return d.measure(ctx, "VOLTage:AC", "V")
}

// MeasureCurrentDC measures DC current.
func (d *Driver) MeasureCurrentDC(ctx context.Context) (instrument.Result, error) {
	return d.measure(ctx, "CURRent:DC", "A")
}

func (d *Driver) measure(ctx context.Context, function, units string) (instrument.Result, error) {
	started := time.Now()
	cmd := fmt.Sprintf(":%s:NPLC %s;:MEASure:%s?", function, d.integrationTime, function)
	resp, err := d.Query(ctx, cmd)
	if err != nil {
		return instrument.Result{}, err
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return instrument.Result{}, fmt.Errorf("dmm: parsing measurement response %q: %w", resp, err)
	}

	result := instrument.ScalarResult(v, units, 0, false, started)
	if acc := d.Profile.Accuracy(function); acc != nil {
		sigma := v*acc.PercentReading/100 + acc.OffsetValue
		result.Scalar.Sigma = sigma
		result.Scalar.HasSigma = true
		if acc.Unit != "" {
			result.Units = acc.Unit
		}
	}
	return result, nil
}
