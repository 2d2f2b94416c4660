package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

// Metric names
const (
	EventsReceived       = "statushub_events_received_total"
	EventsFiltered       = "statushub_events_filtered_total"
	EventsRejected       = "statushub_events_rejected_total"
	LinesClassified      = "statushub_lines_classified_total"
	MessagesInserted     = "statushub_messages_inserted_total"
	MessagesDuplicate    = "statushub_messages_duplicate_total"
	DeletionsApplied     = "statushub_deletions_applied_total"
	DeletionsUnmatched   = "statushub_deletions_unmatched_total"
	StoreErrors          = "statushub_store_errors_total"
	EntriesStaged        = "statushub_entries_staged_total"
	DrainEntries         = "statushub_drain_entries_total"
	DrainRuns            = "statushub_drain_runs_total"
	SignalsFired         = "statushub_signals_total"
	EventProcessing      = "statushub_event_processing_seconds"
	DrainDuration        = "statushub_drain_duration_seconds"
	PendingEntries       = "statushub_pending_entries"
	ConsumerAttached     = "statushub_consumer_attached"
	ConfigReloads        = "statushub_config_reloads_total"
	IngestRateLimited    = "statushub_ingest_rate_limited_total"
	ConsumerSessionTotal = "statushub_consumer_sessions_total"
	HTTPRequests         = "statushub_http_requests_total"
	HTTPRequestDuration  = "statushub_http_request_duration_seconds"
)

// Registry holds process metrics in Prometheus exposition format.
type Registry struct {
	set       *vm.Set
	startTime time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		set:       vm.NewSet(),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string) {
	r.set.GetOrCreateCounter(metricKey(name, labels)).Inc()
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string) {
	r.set.GetOrCreateFloatCounter(metricKey(name, labels)).Add(value)
}

// RecordTimer records a timing measurement in seconds
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	r.set.GetOrCreateHistogram(metricKey(name, labels)).Update(duration.Seconds())
}

// SetGauge sets a gauge metric value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.set.GetOrCreateGauge(metricKey(name, labels), nil).Set(value)
}

// CounterValue returns the current value of an integer counter.
func (r *Registry) CounterValue(name string, labels map[string]string) uint64 {
	return r.set.GetOrCreateCounter(metricKey(name, labels)).Get()
}

// GaugeValue returns the current value of a gauge.
func (r *Registry) GaugeValue(name string, labels map[string]string) float64 {
	return r.set.GetOrCreateGauge(metricKey(name, labels), nil).Get()
}

// Uptime returns the time since the registry was created.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// WritePrometheus writes all registry metrics, and process metrics when
// includeProcess is set, in Prometheus text format.
func (r *Registry) WritePrometheus(w io.Writer, includeProcess bool) {
	r.set.WritePrometheus(w)
	if includeProcess {
		vm.WriteProcessMetrics(w)
	}
}

// metricKey renders name{k="v",...} with labels in sorted order.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

// Convenience functions for global registry

// IncrementCounter increments a counter in the global registry
func IncrementCounter(name string, labels map[string]string) {
	globalRegistry.IncrementCounter(name, labels)
}

// AddToCounter adds to a counter in the global registry
func AddToCounter(name string, value float64, labels map[string]string) {
	globalRegistry.AddToCounter(name, value, labels)
}

// RecordTimer records timing in the global registry
func RecordTimer(name string, duration time.Duration, labels map[string]string) {
	globalRegistry.RecordTimer(name, duration, labels)
}

// SetGauge sets a gauge in the global registry
func SetGauge(name string, value float64, labels map[string]string) {
	globalRegistry.SetGauge(name, value, labels)
}
