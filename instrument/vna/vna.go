// Package vna implements the vector network analyzer device-type driver.
// Like sa, this device type is named in spec.md's device_type enum but not
// detailed in the representative operation list; this driver covers the
// minimal S-parameter measurement any VNA profile needs.
package vna

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Driver is a vector network analyzer instrument.
type Driver struct {
	*instrument.Base
}

// New constructs a Driver.
func New(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) *Driver {
	return &Driver{Base: instrument.NewBase(tr, spec, alias, overlay, sweep, nil)}
}

// SetupSweep configures a linear frequency sweep for a subsequent
// S-parameter measurement.
func (d *Driver) SetupSweep(ctx context.Context, startHz, stopHz float64, points int) error {
	return d.Write(ctx, fmt.Sprintf(":SENSe:FREQuency:STARt %g;:SENSe:FREQuency:STOP %g;:SENSe:SWEep:POINts %d", startHz, stopHz, points))
}

// MeasureSParameter sweeps the configured span and returns the magnitude
// (dB) trace for the given S-parameter (e.g. "S21") as a tabular result.
func (d *Driver) MeasureSParameter(ctx context.Context, parameter string) (instrument.Result, error) {
	started := time.Now()
	if err := d.Write(ctx, fmt.Sprintf(":CALCulate:PARameter:DEFine 'trc1',%s", parameter)); err != nil {
		return instrument.Result{}, err
	}
	resp, err := d.Query(ctx, ":CALCulate:DATA:FDATa?")
	if err != nil {
		return instrument.Result{}, err
	}
	values, err := parseCSV(resp)
	if err != nil {
		return instrument.Result{}, err
	}
	return instrument.Result{
		Kind:      instrument.KindTabular,
		Tabular:   &instrument.Tabular{ColumnOrder: []string{parameter}, Columns: map[string][]float64{parameter: values}},
		Units:     "dB",
		WallClock: time.Now(),
		Monotonic: time.Since(started),
	}, nil
}

func parseCSV(resp string) ([]float64, error) {
	fields := strings.Split(resp, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("vna: parsing trace value %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}
