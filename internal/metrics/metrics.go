// Package metrics provides Prometheus metrics for the sniffer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Capture metrics.
	PacketsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sniffer",
		Subsystem: "capture",
		Name:      "packets_total",
		Help:      "Total number of peer packets ingested.",
	})
	CaptureRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sniffer",
		Subsystem: "capture",
		Name:      "restarts_total",
		Help:      "Total number of capture source restarts after overflow.",
	})
	CaptureLatencySeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sniffer",
		Subsystem: "capture",
		Name:      "latency_seconds",
		Help:      "Average per-packet capture latency over the last second.",
	})

	// Session metrics.
	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sniffer",
		Subsystem: "session",
		Name:      "peers_connected",
		Help:      "Number of currently connected peers.",
	})
	PeersDisconnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sniffer",
		Subsystem: "session",
		Name:      "peers_disconnected",
		Help:      "Number of peers seen this run that have since disconnected.",
	})
	PacketRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sniffer",
		Subsystem: "session",
		Name:      "packet_rate",
		Help:      "Global packets per second across all peers.",
	})

	// IP lookup metrics.
	LookupBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sniffer",
		Subsystem: "iplookup",
		Name:      "batches_total",
		Help:      "Total number of batch lookup requests issued.",
	})
	LookupResolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sniffer",
		Subsystem: "iplookup",
		Name:      "resolved_total",
		Help:      "Total number of IPs resolved via the remote batch service.",
	})
	LookupFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sniffer",
		Subsystem: "iplookup",
		Name:      "failures_total",
		Help:      "Recoverable batch lookup failures.",
	}, []string{"reason"}) // "transport" or "status"

	// UserIP metrics.
	UserIPDetectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sniffer",
		Subsystem: "userip",
		Name:      "detections_total",
		Help:      "Total lifecycle-edge detections for trust-listed IPs.",
	}, []string{"edge"}) // "connected" or "disconnected"
	UserIPConflicts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sniffer",
		Subsystem: "userip",
		Name:      "conflicts",
		Help:      "Number of IPs currently excluded due to cross-database conflicts.",
	})
)

func init() {
	prometheus.MustRegister(
		PacketsTotal,
		CaptureRestartsTotal,
		CaptureLatencySeconds,

		PeersConnected,
		PeersDisconnected,
		PacketRate,

		LookupBatchesTotal,
		LookupResolvedTotal,
		LookupFailuresTotal,

		UserIPDetectionsTotal,
		UserIPConflicts,
	)
}
