package workpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// poolMetrics mirrors the pool's telemetry into a Prometheus registerer.
// Metrics are optional; a pool without a registerer carries a nil
// poolMetrics and every method is a no-op.
type poolMetrics struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	cancelled prometheus.Counter
	active    prometheus.Gauge
}

func newPoolMetrics(reg prometheus.Registerer, kind string) *poolMetrics {
	labels := prometheus.Labels{"pool": kind}
	factory := promauto.With(reg)
	return &poolMetrics{
		submitted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "stagegrid_pool_tasks_submitted_total",
			Help:        "Tasks submitted to the pool.",
			ConstLabels: labels,
		}),
		completed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "stagegrid_pool_tasks_completed_total",
			Help:        "Tasks completed successfully.",
			ConstLabels: labels,
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "stagegrid_pool_tasks_failed_total",
			Help:        "Tasks that failed after exhausting retries.",
			ConstLabels: labels,
		}),
		cancelled: factory.NewCounter(prometheus.CounterOpts{
			Name:        "stagegrid_pool_tasks_cancelled_total",
			Help:        "Tasks cancelled before or during execution.",
			ConstLabels: labels,
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "stagegrid_pool_active_tasks",
			Help:        "Tasks currently in flight.",
			ConstLabels: labels,
		}),
	}
}

// unregister removes the collectors so a later pool of the same kind can
// register against the same registerer.
func (m *poolMetrics) unregister(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	reg.Unregister(m.submitted)
	reg.Unregister(m.completed)
	reg.Unregister(m.failed)
	reg.Unregister(m.cancelled)
	reg.Unregister(m.active)
}

func (m *poolMetrics) onSubmit() {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.active.Inc()
}

// onCancelled records a task that never produced a result; it counts
// toward neither completed nor failed.
func (m *poolMetrics) onCancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
	m.active.Dec()
}

func (m *poolMetrics) onDone(failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.failed.Inc()
	} else {
		m.completed.Inc()
	}
	m.active.Dec()
}
