// Package simengine evaluates a profile's simulation rules against an
// internal key/value state to answer queries and mutate state on writes.
// It is the backing engine for the Simulator transport.
package simengine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/labiium/pytestlab/internal/labsim"
	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/profile"
)

// WaveformDataCommand is the SCPI query the Simulator transport issues
// internally to source a binary waveform block, so a profile can declare
// a ":WAVeform:DATA?" simulation rule the same way it declares any other
// query response.
const WaveformDataCommand = ":WAVeform:DATA?"

// Config controls engine-wide behavior not carried by the profile itself.
type Config struct {
	// Seed seeds the evaluator's random source, for reproducible CI runs.
	Seed int64
	// StrictMode turns an unmatched query into a Protocol TransportError
	// instead of the default empty-string response (spec.md §9 Open
	// Question 2).
	StrictMode bool
}

// Engine holds one instrument's simulated state, deep-copied per instance
// from the owning profile's simulation.state map, and the profile's
// compiled simulation rules.
type Engine struct {
	mu     sync.Mutex
	state  map[string]labsim.Value
	rules  []profile.Rule
	rnd    *rand.Rand
	cfg    Config
	logger *slog.Logger
}

// New constructs an Engine for spec, deep-copying its initial state.
// Rule matching proceeds in declared order; the first match wins, per
// spec.md §4.1/§4.6.
func New(spec *profile.Spec, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	state := make(map[string]labsim.Value, len(spec.SimState))
	for k, v := range spec.SimState {
		state[k] = parseInitialState(v)
	}
	return &Engine{
		state:  state,
		rules:  spec.SimRulesList(),
		rnd:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		logger: logger,
	}
}

func parseInitialState(raw string) labsim.Value {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return labsim.NumberValue(f)
	}
	return labsim.StringValue(raw)
}

// Query evaluates cmd as a query: write + read response, per the Transport
// contract's `query` semantics. State mutation and response computation are
// atomic for this call; concurrent calls on the same Engine are serialized.
func (e *Engine) Query(cmd string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, groups, ok := e.findRule(cmd)
	if !ok {
		if e.cfg.StrictMode {
			return "", labsterr.NewTransportError("Engine.Query", labsterr.TransportProtocol,
				fmt.Errorf("no simulation rule matches command %q", cmd))
		}
		return "", nil
	}

	resp, err := e.apply(rule, groups)
	if err != nil {
		return "", labsterr.NewTransportError("Engine.Query", labsterr.TransportProtocol, err)
	}
	return resp, nil
}

// Write evaluates cmd as a write: it may mutate state (an update action)
// but any response the matched rule would have produced is discarded,
// matching the Transport contract's fire-and-forget `write` semantics.
func (e *Engine) Write(cmd string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, groups, ok := e.findRule(cmd)
	if !ok {
		return nil
	}
	_, err := e.apply(rule, groups)
	if err != nil {
		return labsterr.NewTransportError("Engine.Write", labsterr.TransportProtocol, err)
	}
	return nil
}

// findRule walks e.rules in declared order and returns the first one whose
// pattern matches cmd, along with its captured groups (index 0 is the full
// match, following conventional regex group numbering).
func (e *Engine) findRule(cmd string) (profile.Rule, []string, bool) {
	for _, r := range e.rules {
		ok, groups := r.Match(cmd)
		if ok {
			return r, groups, true
		}
	}
	return profile.Rule{}, nil, false
}

// apply evaluates one matched rule against the current state, mutating
// state for an update action and returning the rule's response (if any).
func (e *Engine) apply(r profile.Rule, groups []string) (string, error) {
	preState := e.snapshot()
	env := &labsim.Env{State: preState, Groups: labsim.Groups(groups), Rand: e.rnd}

	if r.Action == "set" {
		newVal, err := r.ValueExpr.Eval(env)
		if err != nil {
			return "", fmt.Errorf("evaluating value expression for target %q: %w", r.Target, err)
		}
		e.state[r.Target] = newVal
	}

	if !r.HasResponse {
		return "", nil
	}
	if r.ResponseExpr == nil {
		return r.ResponseLiteral, nil
	}

	respState := preState
	if r.ResponseEvalOrder == "post" {
		respState = e.snapshot()
	}
	respEnv := &labsim.Env{State: respState, Groups: labsim.Groups(groups), Rand: e.rnd}
	v, err := r.ResponseExpr.Eval(respEnv)
	if err != nil {
		return "", fmt.Errorf("evaluating response expression: %w", err)
	}
	return v.String(), nil
}

func (e *Engine) snapshot() map[string]labsim.Value {
	cp := make(map[string]labsim.Value, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// State returns a snapshot of the engine's current state, for tests and
// diagnostics. Mutating the returned map has no effect on the engine.
func (e *Engine) State() map[string]labsim.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// ReadBlock answers a binary block read of n bytes for cmd (normally
// WaveformDataCommand). If a simulation rule matches cmd, its response is
// evaluated and decoded as a comma/space-separated list of sample codes,
// padded or truncated to n bytes; otherwise n pseudorandom bytes are drawn
// from the engine's seeded source, so a simulated oscilloscope always
// produces a complete waveform frame even for profiles with no declared
// block rule.
func (e *Engine) ReadBlock(cmd string, n int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n < 0 {
		n = 0
	}

	if rule, groups, ok := e.findRule(cmd); ok {
		resp, err := e.apply(rule, groups)
		if err != nil {
			return nil, labsterr.NewTransportError("Engine.ReadBlock", labsterr.TransportProtocol, err)
		}
		if resp != "" {
			return decodeBlockResponse(resp, n), nil
		}
	}

	out := make([]byte, n)
	for i := range out {
		out[i] = byte(e.rnd.Intn(256))
	}
	return out, nil
}

// decodeBlockResponse parses a comma/space-separated list of integer
// sample codes into n bytes, zero-filling any field that is missing or
// does not parse.
func decodeBlockResponse(resp string, n int) []byte {
	fields := strings.FieldsFunc(resp, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]byte, n)
	for i := range out {
		if i >= len(fields) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err == nil {
			out[i] = byte(v)
		}
	}
	return out
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
