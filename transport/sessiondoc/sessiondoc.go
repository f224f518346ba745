// Package sessiondoc defines the session document format used by the
// Recorder and Replayer transports: a per-bench YAML document of one log
// per instrument alias, per spec.md §6.
package sessiondoc

// EntryType distinguishes a write from a query in a recorded log.
type EntryType string

const (
	EntryWrite EntryType = "write"
	EntryQuery EntryType = "query"
)

// Entry is one recorded transport call. Strict invariant (spec.md §6):
// Query entries always carry a Response; Write entries never do.
type Entry struct {
	Type      EntryType `yaml:"type"`
	Command   string    `yaml:"command"`
	Response  string    `yaml:"response,omitempty"`
	Timestamp float64   `yaml:"timestamp"` // seconds, monotonic since session start
}

// InstrumentLog is one alias's recorded session: the profile it was
// recorded against and its chronological log.
type InstrumentLog struct {
	Profile string  `yaml:"profile"`
	Log     []Entry `yaml:"log"`
}

// Document is the full per-bench session document: alias -> InstrumentLog.
type Document map[string]InstrumentLog
