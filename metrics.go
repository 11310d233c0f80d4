package appfabric

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricValue is the last recorded value of a named metric together with
// its record time and tags. Writes are last-writer-wins per name.
type MetricValue struct {
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Metrics records kernel metrics. Every write updates a last-value map
// consumed by health checks and error reports, and mirrors into a
// private Prometheus registry for scraping by the owning application.
type Metrics struct {
	mu     sync.RWMutex
	values map[string]MetricValue

	registry      *prometheus.Registry
	eventsEmitted *prometheus.CounterVec
	queueDrained  *prometheus.CounterVec
	queueDrainSec *prometheus.HistogramVec
	errorsTotal   *prometheus.CounterVec
}

// NewMetrics creates a metrics recorder with its own Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		values:   make(map[string]MetricValue),
		registry: prometheus.NewRegistry(),
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events emitted on the bus, by event name and queued flag.",
		}, []string{"name", "queued"}),
		queueDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_events_processed_total",
			Help:      "Queued envelopes dispatched during queue drains.",
		}, []string{"queue"}),
		queueDrainSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_drain_duration_seconds",
			Help:      "Elapsed time of queue drains.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors funneled through component boundaries, by kind and code.",
		}, []string{"source", "kind", "code"}),
	}

	m.registry.MustRegister(m.eventsEmitted, m.queueDrained, m.queueDrainSec, m.errorsTotal)
	return m
}

// Registry exposes the Prometheus registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Record stores the last value for a named metric.
func (m *Metrics) Record(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = MetricValue{Value: value, Timestamp: time.Now().UTC(), Tags: tags}
}

// Get returns the last recorded value for a named metric.
func (m *Metrics) Get(name string) (MetricValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

// Snapshot returns a copy of the last-value map.
func (m *Metrics) Snapshot() map[string]MetricValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]MetricValue, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// EventEmitted records one emission of the named event.
func (m *Metrics) EventEmitted(name string, queued bool) {
	q := strconv.FormatBool(queued)
	m.eventsEmitted.WithLabelValues(name, q).Inc()
	m.Record("eventbus.events.emitted", 1, map[string]string{"name": name, "queued": q})
}

// QueueProcessed records the size and elapsed time of one queue drain.
func (m *Metrics) QueueProcessed(queue string, count int, elapsed time.Duration) {
	m.queueDrained.WithLabelValues(queue).Add(float64(count))
	m.queueDrainSec.WithLabelValues(queue).Observe(elapsed.Seconds())
	m.Record("eventbus.queue.processed", float64(count), map[string]string{"queue": queue})
	m.Record("eventbus.queue.processingTime", float64(elapsed.Milliseconds()), map[string]string{"queue": queue})
}

// ErrorRecorded counts an error funneled through a component boundary.
func (m *Metrics) ErrorRecorded(source string, kind Kind, code string) {
	m.errorsTotal.WithLabelValues(source, string(kind), code).Inc()
	m.Record("errors."+source, 1, map[string]string{"kind": string(kind), "code": code})
}
