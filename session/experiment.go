package session

// Row is one output row: a parameter/measurement column name to its Value,
// plus the wall-clock and monotonic-offset pair concurrent mode attaches.
type Row struct {
	Columns map[string]Value
	Skew    float64 // seconds late this tick fired relative to schedule; 0 in sweep mode
	HasSkew bool
}

// Experiment is the output of a session run: an ordered column schema plus
// the rows produced, in point/tick order.
type Experiment struct {
	// ColumnOrder is the parameter columns (declaration order) followed by
	// the union of acquisition measurement keys (first-seen order).
	ColumnOrder []string
	Rows        []Row
}

func newExperiment(paramNames []string) *Experiment {
	return &Experiment{ColumnOrder: append([]string(nil), paramNames...)}
}

// addColumn appends name to ColumnOrder if not already present.
func (e *Experiment) addColumn(name string) {
	for _, c := range e.ColumnOrder {
		if c == name {
			return
		}
	}
	e.ColumnOrder = append(e.ColumnOrder, name)
}

func (e *Experiment) appendRow(row Row) {
	for k := range row.Columns {
		e.addColumn(k)
	}
	e.Rows = append(e.Rows, row)
}
