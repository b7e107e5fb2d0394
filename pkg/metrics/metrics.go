// Package metrics provides Prometheus-based metrics recording for bus
// traffic, task execution, and code edits.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the collectors for the coordination core. Collectors are
// registered with the default registry on construction, so create one
// Recorder per process.
type Recorder struct {
	messagesPublished *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	queueOverflows    *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
	tasksTotal        *prometheus.CounterVec
	activeTasks       prometheus.Gauge
	editsTotal        *prometheus.CounterVec
}

// NewRecorder creates a recorder and registers its collectors.
func NewRecorder() *Recorder {
	return &Recorder{
		messagesPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_messages_published_total",
				Help: "Total messages published to the bus by type",
			},
			[]string{"type"},
		),
		messagesDelivered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_messages_delivered_total",
				Help: "Total messages delivered to subscribers by agent and type",
			},
			[]string{"agent_id", "type"},
		),
		queueOverflows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_queue_overflow_total",
				Help: "Times a subscriber queue was full and delivery fell back to a blocking send",
			},
			[]string{"agent_id"},
		),
		handlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_handler_duration_seconds",
				Help:    "Time spent in agent message handlers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent_id", "type"},
		),
		tasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_tasks_total",
				Help: "Tasks reaching a terminal state by status",
			},
			[]string{"status"},
		),
		activeTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_active_tasks",
				Help: "Tasks currently executing",
			},
		),
		editsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "editor_edits_total",
				Help: "Edit attempts by kind and outcome",
			},
			[]string{"kind", "status"},
		),
	}
}

// ObservePublish records a message published to the bus.
func (r *Recorder) ObservePublish(msgType string) {
	r.messagesPublished.WithLabelValues(msgType).Inc()
}

// ObserveDelivery records a message handed to a subscriber.
func (r *Recorder) ObserveDelivery(agentID, msgType string) {
	r.messagesDelivered.WithLabelValues(agentID, msgType).Inc()
}

// ObserveQueueOverflow records a subscriber queue overflow.
func (r *Recorder) ObserveQueueOverflow(agentID string) {
	r.queueOverflows.WithLabelValues(agentID).Inc()
}

// ObserveHandler records the duration of one handler invocation.
func (r *Recorder) ObserveHandler(agentID, msgType string, d time.Duration) {
	r.handlerDuration.WithLabelValues(agentID, msgType).Observe(d.Seconds())
}

// TaskStarted bumps the active task gauge.
func (r *Recorder) TaskStarted() {
	r.activeTasks.Inc()
}

// TaskFinished records a terminal task status and drops the gauge.
func (r *Recorder) TaskFinished(status string) {
	r.activeTasks.Dec()
	r.tasksTotal.WithLabelValues(status).Inc()
}

// ObserveEdit records one edit attempt.
func (r *Recorder) ObserveEdit(kind, status string) {
	r.editsTotal.WithLabelValues(kind, status).Inc()
}
