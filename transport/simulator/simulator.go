// Package simulator adapts a simengine.Engine to the Transport contract,
// so device-type drivers can run against a deterministic simulation with
// no code path difference from talking to real hardware.
package simulator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/profile"
	"github.com/labiium/pytestlab/simengine"
)

// Transport is the Simulator variant of the Transport contract. Calls are
// serialized with a mutex — concurrent calls on the same Simulator are
// serialized, per spec.md §4.1.
type Transport struct {
	mu     sync.Mutex
	engine *simengine.Engine
	logger *slog.Logger
	closed bool
}

// New constructs a Transport whose responses are driven by spec's
// simulation rules, per simengine.Config.
func New(spec *profile.Spec, cfg simengine.Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Transport{
		engine: simengine.New(spec, cfg, logger),
		logger: logger,
	}
}

func (t *Transport) Write(_ context.Context, cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return labsterr.NewTransportError("simulator.Transport.Write", labsterr.TransportClosed, nil)
	}
	return t.engine.Write(cmd)
}

func (t *Transport) Query(_ context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", labsterr.NewTransportError("simulator.Transport.Query", labsterr.TransportClosed, nil)
	}
	return t.engine.Query(cmd)
}

// ReadRaw sources a binary waveform block of n bytes from the engine via
// simengine.WaveformDataCommand: a profile may declare a
// ":WAVeform:DATA?" simulation rule to control the exact bytes returned,
// and one that doesn't still gets a complete n-byte pseudorandom frame, so
// a simulated oscilloscope can always complete a waveform read.
func (t *Transport) ReadRaw(_ context.Context, n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, labsterr.NewTransportError("simulator.Transport.ReadRaw", labsterr.TransportClosed, nil)
	}
	return t.engine.ReadBlock(simengine.WaveformDataCommand, n)
}

// ClearErrors issues a single ":SYSTem:ERRor?" query and returns its
// response unless it is empty or the no-error sentinel. Unlike the other
// variants it does not repeat the query until the sentinel, so it returns
// at most one message.
func (t *Transport) ClearErrors(ctx context.Context) ([]string, error) {
	resp, err := t.Query(ctx, ":SYSTem:ERRor?")
	if err != nil {
		return nil, err
	}
	if resp == "" || resp == `0,"No error"` {
		return nil, nil
	}
	return []string{resp}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Engine exposes the underlying simengine.Engine for tests that need to
// inspect simulated state directly.
func (t *Transport) Engine() *simengine.Engine { return t.engine }

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
