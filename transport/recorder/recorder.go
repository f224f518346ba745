// Package recorder wraps any Transport and appends a log entry for every
// call. WriteDocument serializes the accumulated log plus the profile
// reference into a session document (spec.md §4.1, §6); Close does not,
// and bench.Close calls WriteDocument for record backends.
package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/labiium/pytestlab/internal/labsterr"
	pttransport "github.com/labiium/pytestlab/transport"
	"github.com/labiium/pytestlab/transport/sessiondoc"
)

// Transport wraps an inner Transport and records every call.
type Transport struct {
	inner     pttransport.Transport
	profile   string
	alias     string
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	entries []sessiondoc.Entry
	closed  bool
}

// New wraps inner, recording calls under the given alias against the
// named profile reference (written into the session document's Profile
// field by WriteDocument).
func New(inner pttransport.Transport, alias, profileRef string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Transport{
		inner:     inner,
		profile:   profileRef,
		alias:     alias,
		startedAt: time.Now(),
		logger:    logger,
	}
}

func (t *Transport) elapsed() float64 {
	return time.Since(t.startedAt).Seconds()
}

func (t *Transport) Write(ctx context.Context, cmd string) error {
	err := t.inner.Write(ctx, cmd)
	t.mu.Lock()
	t.entries = append(t.entries, sessiondoc.Entry{
		Type: sessiondoc.EntryWrite, Command: cmd, Timestamp: t.elapsed(),
	})
	t.mu.Unlock()
	return err
}

func (t *Transport) Query(ctx context.Context, cmd string) (string, error) {
	resp, err := t.inner.Query(ctx, cmd)
	t.mu.Lock()
	t.entries = append(t.entries, sessiondoc.Entry{
		Type: sessiondoc.EntryQuery, Command: cmd, Response: resp, Timestamp: t.elapsed(),
	})
	t.mu.Unlock()
	return resp, err
}

// ReadRaw is recorded as a query whose "response" is a placeholder marker;
// binary payloads are not representable in the YAML session document, so
// only the fact that a block read occurred (and its byte length) is kept.
func (t *Transport) ReadRaw(ctx context.Context, n int) ([]byte, error) {
	payload, err := t.inner.ReadRaw(ctx, n)
	t.mu.Lock()
	t.entries = append(t.entries, sessiondoc.Entry{
		Type:      sessiondoc.EntryQuery,
		Command:   "<read_raw>",
		Response:  blockLengthMarker(len(payload)),
		Timestamp: t.elapsed(),
	})
	t.mu.Unlock()
	return payload, err
}

func blockLengthMarker(n int) string {
	return "#BLOCK:" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ClearErrors drains the instrument's error queue through t.Query rather
// than delegating straight to the inner transport, so every
// ":SYSTem:ERRor?" round trip is appended to the session log the same way
// a driver-issued Query is — matching what replayer.Transport.ClearErrors
// expects to find on replay.
func (t *Transport) ClearErrors(ctx context.Context) ([]string, error) {
	var errs []string
	for {
		resp, err := t.Query(ctx, ":SYSTem:ERRor?")
		if err != nil {
			return errs, err
		}
		if resp == "" || resp == pttransport.NoErrorSentinel {
			return errs, nil
		}
		errs = append(errs, resp)
	}
}

// Close marks the recorder closed and closes the inner transport. It does
// not write the recorded log; WriteDocument does that.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.inner.Close()
}

// WriteDocument serializes this transport's recorded log into w as a
// sessiondoc.Document under the configured alias, suitable for writing to
// a session.yaml file.
func (t *Transport) WriteDocument(w io.Writer) error {
	t.mu.Lock()
	doc := sessiondoc.Document{
		t.alias: sessiondoc.InstrumentLog{Profile: t.profile, Log: append([]sessiondoc.Entry(nil), t.entries...)},
	}
	t.mu.Unlock()

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(doc); err != nil {
		return labsterr.NewConfigError("recorder.Transport.WriteDocument", "encoding session document", err)
	}
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
