// Package session implements MeasurementSession: parameter sweeps and
// timed concurrent acquisition, running user-supplied callables against a
// set of Instruments and collecting the result into an Experiment.
package session

import (
	"context"
	"sync"

	"github.com/labiium/pytestlab/instrument"
)

// Value is one measurement-column value in an Experiment row. A missing
// key at a given point is recorded as a null (HasValue == false) rather
// than omitted, so every row has the same column set.
type Value struct {
	Num      float64
	Str      string
	IsString bool
	HasValue bool
}

// NumValue builds a present numeric Value.
func NumValue(v float64) Value { return Value{Num: v, HasValue: true} }

// StrValue builds a present string Value.
func StrValue(v string) Value { return Value{Str: v, IsString: true, HasValue: true} }

// Null is the sentinel for a missing measurement key at a point.
var Null = Value{}

// Parameter is one declared sweep dimension: an ordered list of values a
// sweep enumerates, outermost first.
type Parameter struct {
	Name   string
	Values []Value
	Unit   string
}

// Context is the per-point/per-tick argument handed to acquisition and
// background-task callables: the current parameter bindings plus the
// session's instrument handles.
type Context struct {
	ctx         context.Context
	Parameters  map[string]Value
	instruments map[string]*InstrumentHandle
}

// Ctx returns the underlying cancellation context, for callables that need
// to pass it through to instrument I/O.
func (c *Context) Ctx() context.Context { return c.ctx }

// Instrument returns the session-owned handle for alias, or nil if the
// session was not given an instrument under that alias.
func (c *Context) Instrument(alias string) *InstrumentHandle {
	return c.instruments[alias]
}

// InstrumentHandle wraps a driver with the per-instrument mutex every
// callable touching it must serialize through, since a session may run
// several callables (acquisitions, background tasks) concurrently against
// the same underlying instrument connection.
type InstrumentHandle struct {
	mu     sync.Mutex
	driver instrument.Driver
}

// With runs fn while holding the handle's lock, serializing it against any
// other callable using the same instrument inside this session.
func (h *InstrumentHandle) With(fn func(instrument.Driver) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.driver)
}

// Acquisition is a named measurement callable: it returns a set of
// measurement columns for one point or tick. Acquisitions within a run
// must return disjoint key sets (checked once, on the first invocation).
type Acquisition func(*Context) (map[string]Value, error)

// Task is a named background callable for concurrent mode. It must check
// ctx.Done() cooperatively and return promptly once cancellation fires.
type Task func(*Context) error

// Session holds the named acquisitions, background tasks, and instrument
// handles registered before a run, mirroring spec.md's MeasurementSession
// state: parameters, registered acquisitions/tasks, and an owned or
// borrowed set of Instruments (the parameters themselves are supplied at
// Run/Sweep call time, not registered ahead).
type Session struct {
	acquisitions []namedAcquisition
	tasks        []namedTask
	instruments  map[string]*InstrumentHandle
}

type namedAcquisition struct {
	name string
	fn   Acquisition
}

type namedTask struct {
	name string
	fn   Task
}

// New constructs an empty Session over the given alias→driver set.
func New(instruments map[string]instrument.Driver) *Session {
	handles := make(map[string]*InstrumentHandle, len(instruments))
	for alias, d := range instruments {
		handles[alias] = &InstrumentHandle{driver: d}
	}
	return &Session{instruments: handles}
}

// RegisterAcquisition adds a named acquisition callable, run in
// registration order within each point or tick.
func (s *Session) RegisterAcquisition(name string, fn Acquisition) {
	s.acquisitions = append(s.acquisitions, namedAcquisition{name: name, fn: fn})
}

// RegisterTask adds a named background-task callable, only exercised by
// Concurrent (sweep mode ignores registered tasks).
func (s *Session) RegisterTask(name string, fn Task) {
	s.tasks = append(s.tasks, namedTask{name: name, fn: fn})
}

func (s *Session) newContext(ctx context.Context, params map[string]Value) *Context {
	return &Context{ctx: ctx, Parameters: params, instruments: s.instruments}
}
