package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "adsbridge"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	readerFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "frames_total",
			Help:      "Candidate frames cut from the record stream.",
		},
	)
	validatorAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "accepted_total",
			Help:      "Frames that passed integrity checks.",
		},
	)
	validatorDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "discarded_total",
			Help:      "Frames dropped by the validator.",
		},
		[]string{"reason"},
	)
	consumerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "consumer_events_total",
			Help:      "Per-consumer delivery outcomes.",
		},
		[]string{"consumer", "event"},
	)
	consumerAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "consumer_alive",
			Help:      "1 when the consumer accepts frames.",
		},
		[]string{"consumer"},
	)
	bridgeRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "restarts_total",
			Help:      "Device session restarts by cause.",
		},
		[]string{"cause"},
	)
	bridgeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "state",
			Help:      "1 for the current orchestrator state.",
		},
		[]string{"state"},
	)
)

// Consumer event labels.
const (
	EventDelivered = "delivered"
	EventDropped   = "dropped"
	EventSkipped   = "skipped"
	EventFailed    = "failed"
	EventReconnect = "reconnected"
	EventRemoved   = "removed"
	EventExhausted = "exhausted"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			readerFrames, validatorAccepted, validatorDiscarded,
			consumerEvents, consumerAlive,
			bridgeRestarts, bridgeState,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameRead() {
	RegisterMetrics()
	readerFrames.Inc()
}

func RecordValidation(reason string) {
	RegisterMetrics()
	if reason == "" {
		validatorAccepted.Inc()
		return
	}
	validatorDiscarded.WithLabelValues(reason).Inc()
}

func RecordConsumerEvent(consumer, event string) {
	RegisterMetrics()
	consumerEvents.WithLabelValues(consumer, event).Inc()
}

func SetConsumerAlive(consumer string, alive bool) {
	RegisterMetrics()
	v := 0.0
	if alive {
		v = 1
	}
	consumerAlive.WithLabelValues(consumer).Set(v)
}

func ForgetConsumer(consumer string) {
	RegisterMetrics()
	consumerAlive.DeleteLabelValues(consumer)
}

func RecordRestart(cause string) {
	RegisterMetrics()
	bridgeRestarts.WithLabelValues(cause).Inc()
}

// SetState marks current as the active state among all.
func SetState(current string, all []string) {
	RegisterMetrics()
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		bridgeState.WithLabelValues(s).Set(v)
	}
}
