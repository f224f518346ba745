// Package awg implements the arbitrary waveform generator device-type
// driver (spec.md §4.3).
package awg

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/labiium/pytestlab/instrument"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Driver is an arbitrary waveform generator instrument.
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

// Channel is the per-channel AWG configuration facade.
type Channel struct {
	driver *Driver
	index  int
}

// SetupSine configures a sine output on this channel, per spec.md's
// "channel(i).setup_sine(freq, amp, offset)".
func (c *Channel) SetupSine(ctx context.Context, freq, amp, offset float64) (*Channel, error) {
	cmd := fmt.Sprintf(":SOURce%d:FUNCtion SIN;:SOURce%d:FREQuency %g;:SOURce%d:VOLTage %g;:SOURce%d:VOLTage:OFFSet %g",
		c.index, c.index, freq, c.index, amp, c.index, offset)
	if err := c.driver.Write(ctx, cmd); err != nil {
		return c, err
	}
	return c, nil
}

// Endianness selects the byte order an arbitrary waveform upload uses.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// UploadArbitrary uploads samples as an IEEE-488.2 definite-length binary
// block with the declared endianness, per spec.md's "arbitrary-waveform
// upload as a binary block with a declared endianness".
func (c *Channel) UploadArbitrary(ctx context.Context, name string, samples []int16, endian Endianness) (*Channel, error) {
	payload := make([]byte, len(samples)*2)
	for i, s := range samples {
		if endian == BigEndian {
			binary.BigEndian.PutUint16(payload[i*2:], uint16(s))
		} else {
			binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
		}
	}
	header := blockHeader(len(payload))
	cmd := fmt.Sprintf(":SOURce%d:DATA:ARBitrary %s,%s%s", c.index, name, header, payload)
	if err := c.driver.Write(ctx, cmd); err != nil {
		return c, err
	}
	return c, nil
}

// blockHeader formats the IEEE-488.2 definite-length block header for a
// payload of n bytes: "#<digit count><length>".
func blockHeader(n int) string {
	lenStr := fmt.Sprintf("%d", n)
	return fmt.Sprintf("#%d%s", len(lenStr), lenStr)
}
