package session

import (
	"context"
	"fmt"

	"github.com/labiium/pytestlab/internal/labsterr"
)

// Sweep enumerates the Cartesian product of params in declared order
// (outermost = first declared) and, for each point, runs every registered
// acquisition sequentially in registration order. Acquisition key sets
// must be disjoint; this is checked once, on the first point, and a
// conflict fails the whole run (spec.md §4.5).
//
// The sweep is single-threaded at the instrument-I/O level: no acquisition
// overlaps another, mirroring the teacher's deterministic nested-walk
// resolution order generalized from a config hierarchy to parameter value
// lists.
func (s *Session) Sweep(ctx context.Context, params []Parameter) (*Experiment, error) {
	paramNames := make([]string, len(params))
	for i, p := range params {
		paramNames[i] = p.Name
	}
	exp := newExperiment(paramNames)

	indices := make([]int, len(params))
	total := 1
	for _, p := range params {
		total *= len(p.Values)
	}
	if total == 0 {
		return exp, nil
	}

	keysChecked := false
	seenKeys := map[string]string{} // key -> acquisition name that produced it

	for point := 0; point < total; point++ {
		if err := ctx.Err(); err != nil {
			return nil, labsterr.NewSessionError("session.Sweep", labsterr.SessionCancelled, err)
		}
		bindings := make(map[string]Value, len(params))
		for i, p := range params {
			bindings[p.Name] = p.Values[indices[i]]
		}

		sctx := s.newContext(ctx, bindings)
		row := Row{Columns: map[string]Value{}}
		for name, v := range bindings {
			row.Columns[name] = v
		}

		for _, a := range s.acquisitions {
			cols, err := a.fn(sctx)
			if err != nil {
				return nil, err
			}
			for k, v := range cols {
				if !keysChecked {
					if owner, dup := seenKeys[k]; dup {
						return nil, labsterr.NewSessionError("session.Sweep",
							labsterr.SessionAcquisitionKeyConflict,
							fmt.Errorf("key %q returned by both %q and %q", k, owner, a.name))
					}
					seenKeys[k] = a.name
				}
				row.Columns[k] = v
			}
		}
		keysChecked = true

		exp.appendRow(row)
		advanceIndices(indices, params)
	}

	fillMissingKeys(exp)
	return exp, nil
}

// advanceIndices increments the odometer-style multi-index in place,
// carrying from the innermost (last-declared) parameter outward, so the
// outermost parameter varies slowest — matching declared order's
// "outermost = first declared" convention.
func advanceIndices(indices []int, params []Parameter) {
	for i := len(params) - 1; i >= 0; i-- {
		indices[i]++
		if indices[i] < len(params[i].Values) {
			return
		}
		indices[i] = 0
	}
}

// fillMissingKeys pads every row with Null for any column present in some
// row but absent in another, so the frame has a uniform schema.
func fillMissingKeys(exp *Experiment) {
	for i := range exp.Rows {
		for _, col := range exp.ColumnOrder {
			if _, ok := exp.Rows[i].Columns[col]; !ok {
				exp.Rows[i].Columns[col] = Null
			}
		}
	}
}
