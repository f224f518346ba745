// Package hardware implements the VISA-style hardware Transport: it wraps
// a byte-oriented resource (USB/TCP/GPIB/serial, modeled here as an
// io.ReadWriteCloser dialed once at connect time) and serializes calls so
// exactly one is outstanding per session, the same single-flight-per-session
// discipline the teacher's connection pool enforces per device.
package hardware

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/labiium/pytestlab/internal/labmetrics"
	"github.com/labiium/pytestlab/internal/labsterr"
	pttransport "github.com/labiium/pytestlab/transport"
)

// Dialer opens the underlying byte connection for a resource address. The
// default DialNetwork works for any "tcp"/"udp" address; VISA/GPIB/serial
// backends plug in their own Dialer.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// DialNetwork dials address as a TCP connection — the common case for
// LAN-attached (VXI-11/raw-socket SCPI) instruments.
func DialNetwork(ctx context.Context, address string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", address)
}

// Config controls Transport construction.
type Config struct {
	// Address is the resource address passed to Dial.
	Address string
	// Dial opens the underlying connection. Defaults to DialNetwork.
	Dial Dialer
	// Timeout bounds each Query/ReadRaw/ClearErrors call. Default 5s,
	// per spec.md §4.1.
	Timeout time.Duration
	// ConnectTimeout bounds Connect. Default 10s, per spec.md §5.
	ConnectTimeout time.Duration
	// SuppressIDN skips the `*IDN?` identity query Connect normally
	// issues.
	SuppressIDN bool
}

func (c *Config) withDefaults() {
	if c.Dial == nil {
		c.Dial = DialNetwork
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Transport is the hardware variant of the Transport contract. One
// Transport owns exactly one connection; it is never shared across
// instruments.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex // one outstanding call at a time
	conn   net.Conn
	rw     *bufio.ReadWriter
	ident  string
	closed bool
}

// New constructs a Transport. Connect must be called before any I/O.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()
	return &Transport{cfg: cfg, logger: logger}
}

// Connect dials the resource address, issues `*IDN?` (unless suppressed
// by either Config.SuppressIDN or the caller's suppressIDN argument), and
// records the identity string.
func (t *Transport) Connect(ctx context.Context, suppressIDN bool) (identity string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	conn, err := t.cfg.Dial(connectCtx, t.cfg.Address)
	if err != nil {
		return "", labsterr.NewTransportError("Transport.Connect", labsterr.TransportIoError, err)
	}
	t.conn = conn
	t.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if t.cfg.SuppressIDN || suppressIDN {
		return "", nil
	}
	ident, err := t.queryLocked(ctx, "*IDN?")
	if err != nil {
		_ = t.closeLocked()
		return "", err
	}
	t.ident = ident
	return ident, nil
}

// Identity returns the identity string recorded at Connect, or "" if
// Connect was never called or suppressed `*IDN?`.
func (t *Transport) Identity() string { return t.ident }

func (t *Transport) Write(ctx context.Context, cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(ctx, cmd)
}

func (t *Transport) writeLocked(ctx context.Context, cmd string) error {
	defer prometheus.NewTimer(labmetrics.TransportLatency.WithLabelValues("write")).ObserveDuration()
	if t.closed {
		return labsterr.NewTransportError("Transport.Write", labsterr.TransportClosed, nil)
	}
	if err := t.applyDeadline(ctx); err != nil {
		return err
	}
	if _, err := t.rw.WriteString(cmd + "\n"); err != nil {
		return labsterr.NewTransportError("Transport.Write", labsterr.TransportIoError, err)
	}
	if err := t.rw.Flush(); err != nil {
		return labsterr.NewTransportError("Transport.Write", labsterr.TransportIoError, err)
	}
	return nil
}

func (t *Transport) Query(ctx context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queryLocked(ctx, cmd)
}

func (t *Transport) queryLocked(ctx context.Context, cmd string) (string, error) {
	defer prometheus.NewTimer(labmetrics.TransportLatency.WithLabelValues("query")).ObserveDuration()
	if err := t.writeLocked(ctx, cmd); err != nil {
		return "", err
	}
	line, err := t.rw.ReadString('\n')
	if err != nil {
		if ctx.Err() != nil {
			return "", labsterr.NewTransportError("Transport.Query", labsterr.TransportTimeout, err)
		}
		return "", labsterr.NewTransportError("Transport.Query", labsterr.TransportIoError, err)
	}
	return pttransport.StripTerminators([]byte(line)), nil
}

func (t *Transport) ReadRaw(ctx context.Context, n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer prometheus.NewTimer(labmetrics.TransportLatency.WithLabelValues("read_raw")).ObserveDuration()

	if t.closed {
		return nil, labsterr.NewTransportError("Transport.ReadRaw", labsterr.TransportClosed, nil)
	}
	if err := t.applyDeadline(ctx); err != nil {
		return nil, err
	}

	prefix := make([]byte, 2)
	if _, err := t.rw.Read(prefix); err != nil {
		return nil, labsterr.NewTransportError("Transport.ReadRaw", labsterr.TransportIoError, err)
	}
	digitCount := int(prefix[1] - '0')
	header := prefix
	if digitCount > 0 {
		digits := make([]byte, digitCount)
		if _, err := t.rw.Read(digits); err != nil {
			return nil, labsterr.NewTransportError("Transport.ReadRaw", labsterr.TransportIoError, err)
		}
		header = append(header, digits...)
	}
	length, _, err := pttransport.ParseBlockHeader(header)
	if err != nil {
		return nil, labsterr.NewTransportError("Transport.ReadRaw", labsterr.TransportProtocol, err)
	}
	if n > 0 && n < length {
		length = n
	}
	payload := make([]byte, length)
	if _, err := t.rw.Read(payload); err != nil {
		return nil, labsterr.NewTransportError("Transport.ReadRaw", labsterr.TransportIoError, err)
	}
	return payload, nil
}

func (t *Transport) ClearErrors(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []string
	for {
		resp, err := t.queryLocked(ctx, ":SYSTem:ERRor?")
		if err != nil {
			return errs, err
		}
		if resp == pttransport.NoErrorSentinel || resp == "" {
			return errs, nil
		}
		errs = append(errs, resp)
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return labsterr.NewTransportError("Transport.Close", labsterr.TransportIoError, err)
	}
	return nil
}

func (t *Transport) applyDeadline(ctx context.Context) error {
	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return labsterr.NewTransportError("Transport.applyDeadline", labsterr.TransportIoError, fmt.Errorf("set deadline: %w", err))
	}
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
