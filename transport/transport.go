// Package transport defines the capability contract every instrument
// transport variant satisfies, and the byte-block framing helper the
// Hardware variant uses for binary waveform reads.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
)

// Transport is the capability set every variant (Hardware, Simulator,
// Recorder, Replayer) satisfies. I/O failures are reported as a
// *labsterr.Error of kind KindTransport; the Replayer reports a divergence
// from or the end of its recorded log with KindReplayMismatch or
// KindReplayExhausted.
type Transport interface {
	// Write is a fire-and-forget SCPI write; it returns once the
	// transport has accepted the bytes, not once the instrument has
	// acted on them.
	Write(ctx context.Context, cmd string) error

	// Query writes cmd and reads the response, stripped of line
	// terminators.
	Query(ctx context.Context, cmd string) (string, error)

	// ReadRaw reads a binary waveform block respecting the IEEE-488.2
	// `#<d><len><bytes>` header convention. n is a hint for the maximum
	// number of payload bytes to read; 0 means "use the block header's
	// declared length".
	ReadRaw(ctx context.Context, n int) ([]byte, error)

	// ClearErrors drains the instrument's error queue via
	// `:SYSTem:ERRor?` until the "no error" sentinel, returning every
	// error message seen along the way.
	ClearErrors(ctx context.Context) ([]string, error)

	// Close releases all transport resources. It is idempotent: a
	// second call is a no-op and never fails.
	Close() error
}

// NoErrorSentinel is the instrument response that terminates a
// ClearErrors sweep.
const NoErrorSentinel = `0,"No error"`

// ParseBlockHeader parses the IEEE-488.2 definite-length arbitrary block
// header `#<d><len><bytes...>` from the front of raw, returning the
// declared payload length and the offset at which the payload begins.
func ParseBlockHeader(raw []byte) (length, offset int, err error) {
	if len(raw) < 2 || raw[0] != '#' {
		return 0, 0, fmt.Errorf("transport: missing '#' block header")
	}
	digits := int(raw[1] - '0')
	if digits < 0 || digits > 9 {
		return 0, 0, fmt.Errorf("transport: invalid block header digit count %q", raw[1])
	}
	if digits == 0 {
		// Indefinite-length block: terminated by a trailing newline,
		// not handled here — callers needing it should read until EOF.
		return 0, 2, nil
	}
	if len(raw) < 2+digits {
		return 0, 0, fmt.Errorf("transport: block header truncated")
	}
	lenStr := string(raw[2 : 2+digits])
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return 0, 0, fmt.Errorf("transport: invalid block length %q: %w", lenStr, err)
	}
	return n, 2 + digits, nil
}

// StripTerminators removes the trailing line terminators (CR, LF, or both)
// a SCPI response arrives with.
func StripTerminators(raw []byte) string {
	return string(bytes.TrimRight(raw, "\r\n"))
}
