package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Recorder collects scan and API client metrics.
type Recorder struct {
	registry       *prometheus.Registry
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	pages          prometheus.Counter
	entries        prometheus.Counter
	changes        *prometheus.CounterVec
}

// New returns a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ldtoolkit",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Count of LaunchDarkly API responses by method and status",
	}, []string{"method", "status"})
	r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ldtoolkit",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution of LaunchDarkly API attempts",
		Buckets:   histogramBuckets,
	}, []string{"method"})
	r.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ldtoolkit",
		Subsystem: "api",
		Name:      "retries_total",
		Help:      "Number of retried LaunchDarkly API requests by reason",
	}, []string{"reason"})
	r.pages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ldtoolkit",
		Subsystem: "auditlog",
		Name:      "pages_total",
		Help:      "Audit log pages fetched",
	})
	r.entries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ldtoolkit",
		Subsystem: "auditlog",
		Name:      "entries_total",
		Help:      "Audit log entries inspected",
	})
	r.changes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ldtoolkit",
		Subsystem: "auditlog",
		Name:      "context_changes_total",
		Help:      "Targeting changes detected for the scanned context by action",
	}, []string{"action"})

	collectors := []prometheus.Collector{r.requestTotal, r.requestLatency, r.retries, r.pages, r.entries, r.changes}
	for _, collector := range collectors {
		if err := r.registry.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(fmt.Sprintf("register metric: %v", err))
			}
		}
	}
	return r
}

// ObserveRequest records one API attempt.
func (r *Recorder) ObserveRequest(method string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requestTotal.With(prometheus.Labels{"method": method, "status": strconv.Itoa(status)}).Inc()
	r.requestLatency.With(prometheus.Labels{"method": method}).Observe(elapsed.Seconds())
}

// ObserveRetry records one retried request.
func (r *Recorder) ObserveRetry(reason string) {
	if r == nil {
		return
	}
	r.retries.With(prometheus.Labels{"reason": reason}).Inc()
}

// ObservePage records one fetched listing page.
func (r *Recorder) ObservePage() {
	if r == nil {
		return
	}
	r.pages.Inc()
}

// ObserveEntry records one inspected audit entry.
func (r *Recorder) ObserveEntry() {
	if r == nil {
		return
	}
	r.entries.Inc()
}

// ObserveChange records one detected change.
func (r *Recorder) ObserveChange(action string) {
	if r == nil {
		return
	}
	r.changes.With(prometheus.Labels{"action": action}).Inc()
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes the current metrics in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
