// Package labsterr defines the error taxonomy shared across every
// pytestlab component: one structured error type per kind, each carrying
// the contextual fields a caller needs to assert on without parsing a
// message string.
package labsterr

import (
	"errors"
	"fmt"
)

// Kind identifies the broad category of failure. Kinds are stable across
// releases; callers should switch on Kind, not on message text.
type Kind string

const (
	KindConfig          Kind = "config"
	KindProfile         Kind = "profile"
	KindTransport       Kind = "transport"
	KindInstrument      Kind = "instrument"
	KindSafetyLimit     Kind = "safety_limit"
	KindReplayMismatch  Kind = "replay_mismatch"
	KindReplayExhausted Kind = "replay_exhausted"
	KindSession         Kind = "session"
	KindCompliance      Kind = "compliance"
)

// TransportSubKind distinguishes the four transport-level failure modes
// named in spec.md §7.
type TransportSubKind string

const (
	TransportTimeout  TransportSubKind = "timeout"
	TransportIoError  TransportSubKind = "io_error"
	TransportClosed   TransportSubKind = "closed"
	TransportProtocol TransportSubKind = "protocol"
)

// SessionSubKind distinguishes the three session-level failure modes.
type SessionSubKind string

const (
	SessionTaskAbandoned         SessionSubKind = "task_abandoned"
	SessionAcquisitionKeyConflict SessionSubKind = "acquisition_key_conflict"
	SessionCancelled             SessionSubKind = "cancelled"
)

// ComplianceSubKind distinguishes the three compliance-level failure modes.
type ComplianceSubKind string

const (
	ComplianceSignatureInvalid ComplianceSubKind = "signature_invalid"
	ComplianceKeyUnavailable   ComplianceSubKind = "key_unavailable"
	ComplianceAuditWriteFailed ComplianceSubKind = "audit_write_failed"
)

// Error is the single concrete error type for every kind in the taxonomy.
// Only the fields relevant to Kind are populated; the rest are zero
// values and omitted from Error().
type Error struct {
	Op   string
	Kind Kind

	// TransportError fields.
	TransportSubKind TransportSubKind

	// InstrumentError fields.
	Code string
	Text string

	// SafetyLimitError fields.
	Alias    string
	Channel  int
	Quantity string
	Value    float64
	Bound    float64

	// ReplayMismatchError fields.
	Cursor   int
	Expected string
	Actual   string

	// SessionError fields.
	SessionSubKind SessionSubKind

	// ComplianceError fields.
	ComplianceSubKind ComplianceSubKind

	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var detail string
	switch e.Kind {
	case KindTransport:
		detail = fmt.Sprintf("sub=%s", e.TransportSubKind)
	case KindInstrument:
		detail = fmt.Sprintf("code=%s", e.Code)
	case KindSafetyLimit:
		detail = fmt.Sprintf("alias=%s channel=%d quantity=%s value=%v bound=%v",
			e.Alias, e.Channel, e.Quantity, e.Value, e.Bound)
	case KindReplayMismatch:
		detail = fmt.Sprintf("cursor=%d expected=%q actual=%q", e.Cursor, e.Expected, e.Actual)
	case KindSession:
		detail = fmt.Sprintf("sub=%s", e.SessionSubKind)
	case KindCompliance:
		detail = fmt.Sprintf("sub=%s", e.ComplianceSubKind)
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if e.Op != "" && detail != "" {
		return fmt.Sprintf("pytestlab: %s: %s (%s)", e.Op, msg, detail)
	}
	if e.Op != "" {
		return fmt.Sprintf("pytestlab: %s: %s", e.Op, msg)
	}
	if detail != "" {
		return fmt.Sprintf("pytestlab: %s (%s)", msg, detail)
	}
	return fmt.Sprintf("pytestlab: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison by Kind and relevant sub-kind, so
// callers can write errors.Is(err, &labsterr.Error{Kind: labsterr.KindSafetyLimit}).
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != te.Kind {
		return false
	}
	switch e.Kind {
	case KindTransport:
		return te.TransportSubKind == "" || e.TransportSubKind == te.TransportSubKind
	case KindSession:
		return te.SessionSubKind == "" || e.SessionSubKind == te.SessionSubKind
	case KindCompliance:
		return te.ComplianceSubKind == "" || e.ComplianceSubKind == te.ComplianceSubKind
	default:
		return true
	}
}

// Constructors. One per kind, mirroring the shape callers need most often.

func NewConfigError(op, msg string, inner error) *Error {
	return &Error{Op: op, Kind: KindConfig, Msg: msg, Inner: inner}
}

func NewProfileError(op, msg string, inner error) *Error {
	return &Error{Op: op, Kind: KindProfile, Msg: msg, Inner: inner}
}

func NewTransportError(op string, sub TransportSubKind, inner error) *Error {
	return &Error{Op: op, Kind: KindTransport, TransportSubKind: sub, Msg: string(sub), Inner: inner}
}

func NewInstrumentError(op, code, text string) *Error {
	return &Error{Op: op, Kind: KindInstrument, Code: code, Text: text, Msg: text}
}

func NewSafetyLimitError(op, alias string, channel int, quantity string, value, bound float64) *Error {
	return &Error{
		Op: op, Kind: KindSafetyLimit,
		Alias: alias, Channel: channel, Quantity: quantity, Value: value, Bound: bound,
		Msg: "value outside safety bound",
	}
}

func NewReplayMismatchError(op string, cursor int, expected, actual string) *Error {
	return &Error{
		Op: op, Kind: KindReplayMismatch,
		Cursor: cursor, Expected: expected, Actual: actual,
		Msg: "replayed command does not match recorded log",
	}
}

func NewReplayExhaustedError(op string) *Error {
	return &Error{Op: op, Kind: KindReplayExhausted, Msg: "replay log exhausted"}
}

func NewSessionError(op string, sub SessionSubKind, inner error) *Error {
	return &Error{Op: op, Kind: KindSession, SessionSubKind: sub, Msg: string(sub), Inner: inner}
}

func NewComplianceError(op string, sub ComplianceSubKind, inner error) *Error {
	return &Error{Op: op, Kind: KindCompliance, ComplianceSubKind: sub, Msg: string(sub), Inner: inner}
}

// Is reports whether err is a *Error of the given kind, using errors.As
// under the hood so wrapped errors are still matched.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// As is a thin convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
