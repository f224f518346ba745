// Package scope implements the Oscilloscope device-type driver, including
// IEEE-488.2 binary-block waveform acquisition (spec.md §4.3).
package scope

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Driver is an oscilloscope instrument.
type Driver struct {
	*instrument.Base
}

// New constructs a Driver.
func New(tr pttransport.Transport, spec *profile.Spec, alias string, overlay instrument.Overlay, sweep instrument.ErrorSweepMode) *Driver {
	return &Driver{Base: instrument.NewBase(tr, spec, alias, overlay, sweep, nil)}
}

// Channel returns the chainable per-channel facade.
func (d *Driver) Channel(i int) *Channel {
	return &Channel{driver: d, index: i}
}

// Trigger returns the chainable trigger facade.
func (d *Driver) Trigger() *TriggerFacade {
	return &TriggerFacade{driver: d}
}

// Acquisition returns the chainable acquisition facade.
func (d *Driver) Acquisition() *AcquisitionFacade {
	return &AcquisitionFacade{driver: d}
}

// Channel is the per-channel configuration facade.
type Channel struct {
	driver *Driver
	index  int
}

// Setup writes scale/offset/coupling for this channel and returns the
// facade for chaining, per spec.md's "channel(i).setup(scale, offset,
// coupling)".
func (c *Channel) Setup(ctx context.Context, scale, offset float64, coupling string) (*Channel, error) {
	cmd := fmt.Sprintf(":CHANnel%d:SCALe %g;:CHANnel%d:OFFSet %g;:CHANnel%d:COUPling %s",
		c.index, scale, c.index, offset, c.index, coupling)
	if err := c.driver.Write(ctx, cmd); err != nil {
		return c, err
	}
	return c, nil
}

// Enable turns this channel's display/acquisition on.
func (c *Channel) Enable(ctx context.Context) (*Channel, error) {
	if err := c.driver.Write(ctx, fmt.Sprintf(":CHANnel%d:DISPlay ON", c.index)); err != nil {
		return c, err
	}
	return c, nil
}

// Disable turns this channel's display/acquisition off.
func (c *Channel) Disable(ctx context.Context) (*Channel, error) {
	if err := c.driver.Write(ctx, fmt.Sprintf(":CHANnel%d:DISPlay OFF", c.index)); err != nil {
		return c, err
	}
	return c, nil
}

// TriggerFacade is the chainable trigger configuration facade.
type TriggerFacade struct {
	driver *Driver
}

// SetupEdge configures an edge trigger.
func (t *TriggerFacade) SetupEdge(ctx context.Context, source string, level float64, slope string) (*TriggerFacade, error) {
	cmd := fmt.Sprintf(":TRIGger:MODE EDGE;:TRIGger:EDGE:SOURce %s;:TRIGger:EDGE:LEVel %g;:TRIGger:EDGE:SLOPe %s",
		source, level, slope)
	if err := t.driver.Write(ctx, cmd); err != nil {
		return t, err
	}
	return t, nil
}

// Single arms a single-shot acquisition.
func (t *TriggerFacade) Single(ctx context.Context) (*TriggerFacade, error) {
	if err := t.driver.Write(ctx, ":SINGle"); err != nil {
		return t, err
	}
	return t, nil
}

// AcquisitionFacade is the chainable acquisition configuration facade.
type AcquisitionFacade struct {
	driver *Driver
}

// SetType sets the acquisition type (e.g. NORMal, AVERage, PEAK).
func (a *AcquisitionFacade) SetType(ctx context.Context, kind string) (*AcquisitionFacade, error) {
	if err := a.driver.Write(ctx, fmt.Sprintf(":ACQuire:TYPE %s", kind)); err != nil {
		return a, err
	}
	return a, nil
}

// SetMode sets the acquisition mode (e.g. RTIMe, ETIMe).
func (a *AcquisitionFacade) SetMode(ctx context.Context, mode string) (*AcquisitionFacade, error) {
	if err := a.driver.Write(ctx, fmt.Sprintf(":ACQuire:MODE %s", mode)); err != nil {
		return a, err
	}
	return a, nil
}

// Preamble is the parsed waveform preamble: format, type, points, and the
// linear scaling coefficients needed to reconstruct a time-voltage
// sequence from raw sample codes (spec.md §4.3).
type Preamble struct {
	Format      int
	Type        int
	Points      int
	XIncrement  float64
	XOrigin     float64
	YIncrement  float64
	YOrigin     float64
	YReference  float64
}

// parsePreamble parses a scope's comma-separated :WAVeform:PREamble?
// response. Field order is fixed by the SCPI convention this driver
// targets: format, type, points, count, xincrement, xorigin, xreference,
// yincrement, yorigin, yreference.
func parsePreamble(resp string) (Preamble, error) {
	fields := strings.Split(resp, ",")
	if len(fields) < 10 {
		return Preamble{}, fmt.Errorf("scope: preamble response has %d fields, want >= 10", len(fields))
	}
	atoi := func(s string) int { n, _ := strconv.Atoi(strings.TrimSpace(s)); return n }
	atof := func(s string) float64 { f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64); return f }
	return Preamble{
		Format:     atoi(fields[0]),
		Type:       atoi(fields[1]),
		Points:     atoi(fields[2]),
		XIncrement: atof(fields[4]),
		XOrigin:    atof(fields[5]),
		YIncrement: atof(fields[7]),
		YOrigin:    atof(fields[8]),
		YReference: atof(fields[9]),
	}, nil
}

// ReadChannels acquires the binary waveform block for each channel index
// and reconstructs a time-voltage Waveform result. The response format
// (8-bit vs 16-bit samples) must match the profile-declared WAV:FORM
// setting, carried in the profile's channel capabilities under
// "wav_format" ("byte" or "word"); default is "byte".
func (d *Driver) ReadChannels(ctx context.Context, indices []int) (instrument.Result, error) {
	started := time.Now()
	wf := &instrument.Waveform{Columns: map[string][]float64{}}

	var timeColumn []float64
	for _, idx := range indices {
		if err := d.Write(ctx, fmt.Sprintf(":WAVeform:SOURce CHANnel%d", idx)); err != nil {
			return instrument.Result{}, err
		}
		preambleResp, err := d.Query(ctx, ":WAVeform:PREamble?")
		if err != nil {
			return instrument.Result{}, err
		}
		pre, err := parsePreamble(preambleResp)
		if err != nil {
			return instrument.Result{}, err
		}

		format := "byte"
		if ch := d.Profile.Channel(idx); ch != nil {
			if v, ok := ch.Capabilities["wav_format"].(string); ok {
				format = v
			}
		}

		raw, err := d.Transport.ReadRaw(ctx, pre.Points*sampleWidth(format))
		if err != nil {
			return instrument.Result{}, err
		}

		codes, err := decodeSamples(raw, format)
		if err != nil {
			return instrument.Result{}, err
		}

		voltages := make([]float64, len(codes))
		for i, code := range codes {
			voltages[i] = (float64(code)-pre.YReference)*pre.YIncrement + pre.YOrigin
		}
		colName := fmt.Sprintf("ch%d", idx)
		wf.ColumnOrder = append(wf.ColumnOrder, colName)
		wf.Columns[colName] = voltages

		if timeColumn == nil {
			timeColumn = make([]float64, len(codes))
			for i := range timeColumn {
				timeColumn[i] = float64(i)*pre.XIncrement + pre.XOrigin
			}
		}
	}
	if timeColumn != nil {
		wf.ColumnOrder = append([]string{"time"}, wf.ColumnOrder...)
		wf.Columns["time"] = timeColumn
	}

	return instrument.Result{
		Kind:      instrument.KindWaveform,
		Waveform:  wf,
		Units:     "V",
		WallClock: time.Now(),
		Monotonic: time.Since(started),
	}, nil
}

func sampleWidth(format string) int {
	if format == "word" {
		return 2
	}
	return 1
}

func decodeSamples(raw []byte, format string) ([]int, error) {
	width := sampleWidth(format)
	if len(raw)%width != 0 {
		return nil, fmt.Errorf("scope: waveform payload length %d is not a multiple of sample width %d", len(raw), width)
	}
	n := len(raw) / width
	out := make([]int, n)
	for i := 0; i < n; i++ {
		if width == 1 {
			out[i] = int(raw[i])
		} else {
			out[i] = int(binary.BigEndian.Uint16(raw[i*2 : i*2+2]))
		}
	}
	return out, nil
}
