// Package labmetrics holds the process-wide Prometheus collectors shared
// across transport, safety, and session components. A single package-level
// registry (rather than one passed-in Provider per component, as a larger
// telemetry abstraction might do) is enough here: PyTestLab has exactly
// three metrics, not a pluggable-backend requirement, so the simpler shape
// grounded on the teacher's direct `prometheus.MustRegister` usage is
// preferred over a bespoke Provider interface.
package labmetrics

import "github.com/prometheus/client_golang/prometheus"

// TransportLatency records the wall-clock duration of each Hardware
// transport I/O call (the other variants do not observe it), labeled by the operation name ("write", "query", "read_raw").
var TransportLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pytestlab",
	Subsystem: "transport",
	Name:      "call_duration_seconds",
	Help:      "Duration of Transport I/O calls.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})

// SafetyRejections counts every measurement or setpoint a bench's safety
// overlay refused, labeled by instrument alias and quantity.
var SafetyRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pytestlab",
	Subsystem: "safety",
	Name:      "rejections_total",
	Help:      "Count of operations rejected by a safety bound.",
}, []string{"alias", "quantity"})

// TickSkew records how many seconds late a MeasurementSession's concurrent
// acquisition tick fired relative to its scheduled time.
var TickSkew = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pytestlab",
	Subsystem: "session",
	Name:      "tick_skew_seconds",
	Help:      "Seconds a concurrent-mode acquisition tick fired late.",
	Buckets:   []float64{0, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
}, []string{})

func init() {
	prometheus.MustRegister(TransportLatency, SafetyRejections, TickSkew)
}
