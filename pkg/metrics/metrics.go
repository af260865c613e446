// Package metrics exposes Prometheus collectors for the client. A nil
// *Collectors is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ravendb"
	subsystem = "client"
)

type Collectors struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	batchCommands   *prometheus.CounterVec
	sessionsOpen    prometheus.Gauge
	sessionsTotal   prometheus.Counter
	lazyRoundTrips  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of requests sent to the server by method and status code",
			},
			[]string{"method", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of requests sent to the server in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		batchCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "batch_commands_total",
				Help:      "Total number of commands submitted in batches by command type",
			},
			[]string{"type"},
		),
		sessionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_open",
				Help:      "Number of sessions currently open",
			},
		),
		sessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_total",
				Help:      "Total number of sessions opened",
			},
		),
		lazyRoundTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "lazy_round_trips_total",
				Help:      "Total number of multi-get round trips issued for lazy operations",
			},
		),
	}
}

func (c *Collectors) RecordRequest(method string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collectors) RecordBatchCommand(commandType string) {
	if c == nil {
		return
	}
	c.batchCommands.WithLabelValues(commandType).Inc()
}

func (c *Collectors) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsOpen.Inc()
	c.sessionsTotal.Inc()
}

func (c *Collectors) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsOpen.Dec()
}

func (c *Collectors) RecordLazyRoundTrip() {
	if c == nil {
		return
	}
	c.lazyRoundTrips.Inc()
}
