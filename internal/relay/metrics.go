package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// relayEvents counts inbound events by source platform and terminal outcome.
	relayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_events_total",
			Help: "Inbound events processed by the relay dispatcher.",
		},
		[]string{"platform", "outcome"},
	)

	// relaySends counts destination sends by destination platform and result
	// (ok, failed, duplicate).
	relaySends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_sends_total",
			Help: "Destination send attempts made by the relay dispatcher.",
		},
		[]string{"platform", "result"},
	)

	// relaySendLat records destination send latency in seconds.
	relaySendLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_relay_send_duration_seconds",
			Help:    "Duration of destination sends in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// queueDropped counts events rejected because the relay queue was full.
	queueDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_queue_dropped_total",
			Help: "Inbound events dropped because the relay queue was full.",
		},
		[]string{"platform"},
	)

	// queueDepth gauges events waiting for a worker.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_relay_queue_depth",
			Help: "Inbound events waiting in the relay queue.",
		},
	)

	// ledgerPurged counts ledger rows removed by retention sweeps.
	ledgerPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_ledger_purged_total",
			Help: "Relay ledger rows removed by retention sweeps.",
		},
	)
)

func init() {
	prometheus.MustRegister(relayEvents, relaySends, relaySendLat, queueDropped, queueDepth, ledgerPurged)
}
