// Package instrument implements the common skeleton shared by every
// device-type driver: connect/identify, command tracing for provenance,
// safety-overlay validation, and the configurable post-write error sweep
// (spec.md §4.3).
package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/labiium/pytestlab/internal/labmetrics"
	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/profile"
	pttransport "github.com/labiium/pytestlab/transport"
)

// ErrorSweepMode selects when the runtime checks the instrument's error
// queue after a write.
type ErrorSweepMode string

const (
	ErrorSweepOff     ErrorSweepMode = "off"
	ErrorSweepPerCall ErrorSweepMode = "per_call"
	ErrorSweepBatched ErrorSweepMode = "batched"
	ErrorSweepOnClose ErrorSweepMode = "on_close"
)

// DefaultErrorSweepBatchSize is the number of writes ErrorSweepBatched
// accumulates before it runs a sweep, when a driver hasn't overridden it
// via Base.SetSweepBatchSize.
const DefaultErrorSweepBatchSize = 8

// Driver is the common skeleton every device-type driver satisfies via its
// embedded *Base, letting a Bench hold heterogeneous driver types behind
// one interface for lifecycle management (spec.md §4.3/§4.4).
type Driver interface {
	Connect(ctx context.Context, suppressIDN bool) error
	Identity() string
	Close(ctx context.Context) error
}

// Connecter is implemented by Transport variants that perform an explicit
// connect/identify handshake (currently only transport/hardware). Variants
// that omit it are treated as already connected. suppressIDN is forwarded
// from Base.Connect's own suppressIDN argument, so a caller can suppress
// the handshake per call even when the underlying transport wasn't built
// with it suppressed by default.
type Connecter interface {
	Connect(ctx context.Context, suppressIDN bool) (identity string, err error)
}

// ResultKind tags which field of Result is populated.
type ResultKind string

const (
	KindScalar   ResultKind = "scalar"
	KindWaveform ResultKind = "waveform"
	KindTabular  ResultKind = "tabular"
)

// Scalar is a single numeric reading with an optional uncertainty.
type Scalar struct {
	Value    float64
	Sigma    float64
	HasSigma bool
}

// Waveform is a named-column time series (e.g. time + voltage per channel).
type Waveform struct {
	ColumnOrder []string
	Columns     map[string][]float64
}

// Tabular is a generic named-column frame for results that aren't time
// series (e.g. a frequency sweep table).
type Tabular struct {
	ColumnOrder []string
	Columns     map[string][]float64
}

// Provenance records who produced a Result and under what trace.
type Provenance struct {
	Actor              string
	InstrumentIdentity string
	ProfileHash        string
	CommandTrace       []string
}

// Result is the typed value container every driver operation returns
// (spec.md §3, MeasurementResult).
type Result struct {
	Kind       ResultKind
	Scalar     *Scalar
	Waveform   *Waveform
	Tabular    *Tabular
	Units      string
	WallClock  time.Time
	Monotonic  time.Duration
	Provenance Provenance
}

// ScalarResult builds a KindScalar Result.
func ScalarResult(value float64, units string, sigma float64, hasSigma bool, startedAt time.Time) Result {
	return Result{
		Kind:      KindScalar,
		Scalar:    &Scalar{Value: value, Sigma: sigma, HasSigma: hasSigma},
		Units:     units,
		WallClock: time.Now(),
		Monotonic: time.Since(startedAt),
	}
}

// Overlay is the per-channel, per-quantity safety bound table a bench
// merges (tightening-only) on top of a profile's safety_schema before
// constructing a driver (spec.md §4.4).
type Overlay map[int]map[string]profile.SafetyBound

// Check validates value against the bound registered for (channel,
// quantity), if any. No entry means no restriction.
func (o Overlay) Check(op, alias string, channel int, quantity string, value float64) error {
	if o == nil {
		return nil
	}
	byQuantity, ok := o[channel]
	if !ok {
		return nil
	}
	bound, ok := byQuantity[quantity]
	if !ok {
		return nil
	}
	if bound.Max != nil && value > *bound.Max {
		labmetrics.SafetyRejections.WithLabelValues(alias, quantity).Inc()
		return labsterr.NewSafetyLimitError(op, alias, channel, quantity, value, *bound.Max)
	}
	if bound.Min != nil && value < *bound.Min {
		labmetrics.SafetyRejections.WithLabelValues(alias, quantity).Inc()
		return labsterr.NewSafetyLimitError(op, alias, channel, quantity, value, *bound.Min)
	}
	return nil
}

// MergeOverlay produces a tightening-only overlay: for every (channel,
// quantity) present in either schema or bench, the resulting bound is the
// intersection (max of mins, min of maxes). Bench bounds can never widen a
// profile's hard limit.
func MergeOverlay(schema profile.SafetySchema, bench Overlay) Overlay {
	out := Overlay{}
	for ch, byQuantity := range schema {
		out[ch] = map[string]profile.SafetyBound{}
		for q, b := range byQuantity {
			out[ch][q] = b
		}
	}
	for ch, byQuantity := range bench {
		if _, ok := out[ch]; !ok {
			out[ch] = map[string]profile.SafetyBound{}
		}
		for q, b := range byQuantity {
			existing, ok := out[ch][q]
			if !ok {
				out[ch][q] = b
				continue
			}
			out[ch][q] = tighten(existing, b)
		}
	}
	return out
}

func tighten(a, b profile.SafetyBound) profile.SafetyBound {
	out := a
	if b.Max != nil && (out.Max == nil || *b.Max < *out.Max) {
		out.Max = b.Max
	}
	if b.Min != nil && (out.Min == nil || *b.Min > *out.Min) {
		out.Min = b.Min
	}
	return out
}

// Base is embedded by every device-type driver. It owns the transport,
// profile, alias, safety overlay, identity, command trace, and error-sweep
// bookkeeping so each driver package only adds device-specific operations.
type Base struct {
	Transport pttransport.Transport
	Profile   *profile.Spec
	Alias     string
	Overlay   Overlay
	SweepMode ErrorSweepMode
	Logger    *slog.Logger

	mu             sync.Mutex
	identity       string
	connectedAt    time.Time
	trace          []string
	sinceLastSweep int
	sweepBatchSize int
}

// NewBase constructs the shared driver state. logger may be nil.
func NewBase(tr pttransport.Transport, spec *profile.Spec, alias string, overlay Overlay, sweep ErrorSweepMode, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Base{Transport: tr, Profile: spec, Alias: alias, Overlay: overlay, SweepMode: sweep, Logger: logger, sweepBatchSize: DefaultErrorSweepBatchSize}
}

// SetSweepBatchSize overrides the number of writes ErrorSweepBatched
// accumulates before it runs a sweep. n <= 0 is ignored.
func (b *Base) SetSweepBatchSize(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.sweepBatchSize = n
	b.mu.Unlock()
}

// Identity returns the recorded *IDN? string, empty until Connect runs.
func (b *Base) Identity() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

// Connect performs the transport connect/identify handshake described in
// spec.md §4.3: call the transport's own Connect if it has one, then issue
// *IDN? unless suppressed.
func (b *Base) Connect(ctx context.Context, suppressIDN bool) error {
	b.mu.Lock()
	b.connectedAt = time.Now()
	b.mu.Unlock()

	if conn, ok := b.Transport.(Connecter); ok {
		ident, err := conn.Connect(ctx, suppressIDN)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.identity = ident
		b.mu.Unlock()
		return nil
	}

	if suppressIDN {
		return nil
	}

	ident, err := b.Query(ctx, "*IDN?")
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.identity = ident
	b.mu.Unlock()
	return nil
}

// Write issues a fire-and-forget SCPI command, recording it into the
// provenance trace and running a per_call or batched error sweep if
// configured.
func (b *Base) Write(ctx context.Context, cmd string) error {
	if err := b.Transport.Write(ctx, cmd); err != nil {
		return err
	}
	b.record(cmd)
	b.mu.Lock()
	b.sinceLastSweep++
	b.mu.Unlock()
	return b.maybeSweep(ctx)
}

// Query issues a SCPI query, recording the command (not the response) into
// the provenance trace.
func (b *Base) Query(ctx context.Context, cmd string) (string, error) {
	resp, err := b.Transport.Query(ctx, cmd)
	if err != nil {
		return "", err
	}
	b.record(cmd)
	return resp, nil
}

func (b *Base) record(cmd string) {
	b.mu.Lock()
	b.trace = append(b.trace, cmd)
	b.mu.Unlock()
}

func (b *Base) maybeSweep(ctx context.Context) error {
	switch b.SweepMode {
	case ErrorSweepPerCall:
		return b.Sweep(ctx)
	case ErrorSweepBatched:
		b.mu.Lock()
		due := b.sinceLastSweep >= b.sweepBatchSize
		b.mu.Unlock()
		if due {
			return b.Sweep(ctx)
		}
		return nil
	default:
		return nil
	}
}

// Sweep drains the error queue and, if non-empty, fails with an
// InstrumentError naming the first reported code/text.
func (b *Base) Sweep(ctx context.Context) error {
	b.mu.Lock()
	b.sinceLastSweep = 0
	b.mu.Unlock()

	errs, err := b.Transport.ClearErrors(ctx)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	code, text := splitErrorLine(errs[0])
	return labsterr.NewInstrumentError(b.Alias+".Sweep", code, text)
}

func splitErrorLine(line string) (code, text string) {
	parts := strings.SplitN(line, ",", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.Trim(strings.TrimSpace(parts[1]), `"`)
	}
	return "", line
}

// Close runs a final error sweep in on_close or batched mode, then closes
// the transport.
func (b *Base) Close(ctx context.Context) error {
	var sweepErr error
	if b.SweepMode == ErrorSweepOnClose || b.SweepMode == ErrorSweepBatched {
		sweepErr = b.Sweep(ctx)
	}
	closeErr := b.Transport.Close()
	if closeErr != nil {
		return closeErr
	}
	return sweepErr
}

// Trace returns a copy of the commands recorded since the last reset, in
// the order they were issued. It is not sorted; the compliance envelope
// sorts its own copy when it computes the trace fingerprint (spec.md §4.7).
func (b *Base) Trace() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.trace...)
	return out
}

// ResetTrace clears the recorded command trace, called after an envelope
// has captured it.
func (b *Base) ResetTrace() {
	b.mu.Lock()
	b.trace = nil
	b.mu.Unlock()
}

// Provenance builds a Provenance record for the given actor using the
// current identity, profile fingerprint placeholder, and command trace.
func (b *Base) Provenance(actor, profileHash string) Provenance {
	return Provenance{
		Actor:              actor,
		InstrumentIdentity: b.Identity(),
		ProfileHash:        profileHash,
		CommandTrace:       b.Trace(),
	}
}

// CheckSafety validates value against the configured overlay for
// (channel, quantity), failing before any I/O occurs (spec.md §4.3 failure
// semantics: "validation errors are raised before any I/O").
func (b *Base) CheckSafety(op string, channel int, quantity string, value float64) error {
	return b.Overlay.Check(op, b.Alias, channel, quantity, value)
}

// FormatChannelf formats a channel-addressed SCPI template, e.g.
// FormatChannelf(":CHANnel%d:SCALe %g", 1, 0.5).
func FormatChannelf(template string, args ...any) string {
	return fmt.Sprintf(template, args...)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
