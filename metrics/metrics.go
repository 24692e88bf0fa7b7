// Package metrics holds the prometheus instruments of the provider.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hitsuji"

// Task outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeMalformed   = "malformed"
	OutcomeNotFound    = "not_found"
	OutcomeInternal    = "internal"
	OutcomeAbandoned   = "abandoned"
	OutcomeUndecodable = "undecodable"
)

// Rejection reasons of the dispatcher.
const (
	ReasonQueueFull = "queue_full"
	ReasonEncoding  = "encoding"
	ReasonClosed    = "closed"
)

// Transport queues.
const (
	QueueRequest = "request"
	QueueReply   = "reply"
)

type Metrics struct {
	RequestsDispatched prometheus.Counter
	RequestsRejected   *prometheus.CounterVec
	Tasks              *prometheus.CounterVec
	TaskDuration       prometheus.Histogram
	PermissionFailures prometheus.Counter
	RepliesForwarded   prometheus.Counter
	LateReplies        prometheus.Counter
	BadReplies         prometheus.Counter
	TransportDrops     *prometheus.CounterVec
	BusyWorkers        prometheus.Gauge
	Sessions           prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "requests_total",
			Help: "Requests submitted to the worker queue.",
		}),
		RequestsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "requests_rejected_total",
			Help: "Requests that could not be submitted, by reason.",
		}, []string{"reason"}),
		Tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "tasks_total",
			Help: "Tasks processed by workers, by outcome.",
		}, []string{"outcome"}),
		TaskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "worker", Name: "task_duration_seconds",
			Help:    "Time from request receipt to reply submission.",
			Buckets: prometheus.ExponentialBuckets(50e-6, 2, 16),
		}),
		PermissionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "permission_lookup_failures_total",
			Help: "Permission lookups that failed; replies were sent without a lock.",
		}),
		RepliesForwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "replies_total",
			Help: "Replies forwarded to the network layer.",
		}),
		LateReplies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "late_replies_total",
			Help: "Replies for connections that no longer exist.",
		}),
		BadReplies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "bad_replies_total",
			Help: "Replies that failed to decode and were dropped.",
		}),
		TransportDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "dropped_total",
			Help: "Messages the transport accepted but discarded, by queue.",
		}, []string{"queue"}),
		BusyWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "busy",
			Help: "Workers currently processing a task.",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "provider", Name: "sessions",
			Help: "Connected client sessions.",
		}),
	}
}

// NewNop returns instruments registered nowhere.
func NewNop() *Metrics { return New(prometheus.NewRegistry()) }
