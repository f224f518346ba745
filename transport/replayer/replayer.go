// Package replayer implements the strict-sequence Replayer transport: it
// replays a previously recorded session document, verifying that every
// call matches the next recorded entry exactly (spec.md §4.1).
package replayer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/transport/sessiondoc"
)

// Config controls end-of-log and unconsumed-entry behavior.
type Config struct {
	// TrailingEntriesFatal turns leftover unconsumed entries at Close
	// into an error instead of the default warning. Default false.
	TrailingEntriesFatal bool
}

// Transport replays sessiondoc.InstrumentLog against the calls it
// receives. It keeps a cursor into the log and never advances past a
// mismatch.
type Transport struct {
	cfg    Config
	logger *slog.Logger
	log    []sessiondoc.Entry

	mu     sync.Mutex
	cursor int
	closed bool
}

// New constructs a Transport replaying log in order.
func New(log []sessiondoc.Entry, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Transport{cfg: cfg, logger: logger, log: log}
}

// Cursor returns the index of the next entry to be consumed.
func (t *Transport) Cursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

func (t *Transport) next(op, cmd string, typ sessiondoc.EntryType) (sessiondoc.Entry, error) {
	if t.cursor >= len(t.log) {
		return sessiondoc.Entry{}, labsterr.NewReplayExhaustedError(op)
	}
	entry := t.log[t.cursor]
	if entry.Type != typ || entry.Command != cmd {
		return sessiondoc.Entry{}, labsterr.NewReplayMismatchError(op, t.cursor, entryLabel(entry), entryLabel(sessiondoc.Entry{Type: typ, Command: cmd}))
	}
	t.cursor++
	return entry, nil
}

func entryLabel(e sessiondoc.Entry) string {
	return string(e.Type) + " " + e.Command
}

func (t *Transport) Write(_ context.Context, cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return labsterr.NewTransportError("replayer.Transport.Write", labsterr.TransportClosed, nil)
	}
	_, err := t.next("replayer.Transport.Write", cmd, sessiondoc.EntryWrite)
	return err
}

func (t *Transport) Query(_ context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", labsterr.NewTransportError("replayer.Transport.Query", labsterr.TransportClosed, nil)
	}
	entry, err := t.next("replayer.Transport.Query", cmd, sessiondoc.EntryQuery)
	if err != nil {
		return "", err
	}
	return entry.Response, nil
}

// ReadRaw replays the marker entry recorder.Transport.ReadRaw wrote,
// returning a zero-filled payload of the recorded length — session
// documents cannot carry binary payloads, so the replayed bytes are a
// placeholder of the correct length, sufficient to exercise length-driven
// downstream parsing in tests.
func (t *Transport) ReadRaw(_ context.Context, _ int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, labsterr.NewTransportError("replayer.Transport.ReadRaw", labsterr.TransportClosed, nil)
	}
	entry, err := t.next("replayer.Transport.ReadRaw", "<read_raw>", sessiondoc.EntryQuery)
	if err != nil {
		return nil, err
	}
	n := parseBlockLengthMarker(entry.Response)
	return make([]byte, n), nil
}

func parseBlockLengthMarker(s string) int {
	const prefix = "#BLOCK:"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0
	}
	n := 0
	for _, c := range s[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// ClearErrors walks forward until the expected "no error" sentinel,
// without advancing past unrelated commands, per spec.md §4.1.
func (t *Transport) ClearErrors(ctx context.Context) ([]string, error) {
	var errs []string
	for {
		resp, err := t.Query(ctx, ":SYSTem:ERRor?")
		if err != nil {
			return errs, err
		}
		if resp == "" || resp == `0,"No error"` {
			return errs, nil
		}
		errs = append(errs, resp)
	}
}

// Close reports trailing unconsumed entries: a warning by default, an
// error when Config.TrailingEntriesFatal is set.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	remaining := len(t.log) - t.cursor
	if remaining > 0 {
		if t.cfg.TrailingEntriesFatal {
			return labsterr.NewReplayMismatchError("replayer.Transport.Close", t.cursor, "<end of script>", "<unconsumed log entries>")
		}
		t.logger.Warn("replayer: session closed with unconsumed log entries", "remaining", remaining)
	}
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
