// Package metrics is a tiny facade between the pipeline and whatever
// metrics backend is configured. The core code only ever talks to this
// package; backends (Datadog, or nothing) are swapped in at startup.
//
// The default backend is a nop, so instrumentation calls are always safe.
package metrics

import "sync/atomic"

// Labels are free-form metric dimensions (e.g. {"table": "songplays"}).
type Labels map[string]string

// Backend is implemented by metric sinks.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// backendBox gives atomic.Value a single concrete type to store; storing
// differently typed Backend implementations directly would panic.
type backendBox struct{ b Backend }

var backend atomic.Value // backendBox

func init() {
	backend.Store(backendBox{nopBackend{}})
}

// SetBackend installs b as the process-wide backend. Call once at startup,
// before the pipeline runs.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	backend.Store(backendBox{b})
}

func current() Backend {
	return backend.Load().(backendBox).b
}

// IncCounter adds delta to a named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of a named distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics to the backend's sink.
func Flush() error {
	return current().Flush()
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

// Metric names used by the pipeline. Centralized so backends can switch on
// them without stringly-typed drift.
const (
	FilesTotal          = "etl_files_total"            // labels: kind=song|log, status=ok|failed
	RowsTotal           = "etl_rows_total"             // labels: table
	ResolverTotal       = "etl_resolver_lookups_total" // labels: outcome=hit|miss
	FileDurationSeconds = "etl_file_duration_seconds"  // labels: kind
)
