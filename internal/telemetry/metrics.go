// Package telemetry holds the Prometheus collectors a queue reports to.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "procq"

// QueueMetrics groups the collectors of a single named queue. A nil
// *QueueMetrics is valid and records nothing.
type QueueMetrics struct {
	pushed    prometheus.Counter
	rejected  prometheus.Counter
	processed prometheus.Counter
	panics    prometheus.Counter
	depth     prometheus.Gauge
	callbacks prometheus.Gauge
	latency   prometheus.Histogram
}

// NewQueueMetrics registers the collectors for queue on reg. Registering the
// same queue name twice reuses the collectors that are already registered.
func NewQueueMetrics(reg prometheus.Registerer, queue string) (*QueueMetrics, error) {
	labels := prometheus.Labels{"queue": queue}

	m := &QueueMetrics{}
	var err error

	if m.pushed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "elements_pushed_total",
		Help:        "Elements accepted by Push.",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.rejected, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "elements_rejected_total",
		Help:        "Elements refused because the queue was stopping.",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.processed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "elements_processed_total",
		Help:        "Elements that completed a full callback pass.",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.panics, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "callback_panics_total",
		Help:        "Callback invocations that panicked and were recovered.",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.depth, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "queue_depth",
		Help:        "Elements currently queued, including the one being processed.",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.callbacks, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "callbacks_registered",
		Help:        "Callbacks installed on the queue.",
		ConstLabels: labels,
	})); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "element_latency_seconds",
		Help:        "Time from Push to the end of the element's callback pass.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
	})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Pushed records an accepted element and the resulting depth.
func (m *QueueMetrics) Pushed(n int, depth int) {
	if m == nil {
		return
	}
	m.pushed.Add(float64(n))
	m.depth.Set(float64(depth))
}

// Rejected records an element refused after shutdown was requested.
func (m *QueueMetrics) Rejected(n int) {
	if m == nil {
		return
	}
	m.rejected.Add(float64(n))
}

// Processed records a completed callback pass.
func (m *QueueMetrics) Processed(enqueuedAt time.Time, depth int) {
	if m == nil {
		return
	}
	m.processed.Inc()
	m.depth.Set(float64(depth))
	m.latency.Observe(time.Since(enqueuedAt).Seconds())
}

// Removed records elements dropped without processing.
func (m *QueueMetrics) Removed(depth int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(depth))
}

// Panicked records a recovered callback panic.
func (m *QueueMetrics) Panicked() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

// Callbacks records the number of installed callbacks.
func (m *QueueMetrics) Callbacks(n int) {
	if m == nil {
		return
	}
	m.callbacks.Set(float64(n))
}
