package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	NAMESPACE = "flowspectra"
)

var (
	PacketsCaptured = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:      "capture_packets_total",
			Help:      "Packets read from the capture source.",
			Namespace: NAMESPACE,
		},
	)
	ParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "capture_parse_errors_total",
			Help:      "Packets rejected by the parser.",
			Namespace: NAMESPACE,
		},
		[]string{"reason"},
	)
	CaptureDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:      "capture_dropped_packets",
			Help:      "Packets dropped by the kernel or interface, as reported by libpcap.",
			Namespace: NAMESPACE,
		},
	)
	LiveFlows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:      "collector_live_flows",
			Help:      "Connections currently tracked by a collector.",
			Namespace: NAMESPACE,
		},
		[]string{"collector"},
	)
	Exports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "collector_exports_total",
			Help:      "Export cycles completed by a collector.",
			Namespace: NAMESPACE,
		},
		[]string{"collector"},
	)
	ExportDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "collector_export_duration_seconds",
			Help:       "Time spent in one export cycle.",
			Namespace:  NAMESPACE,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"collector"},
	)
	WriterErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "writer_errors_total",
			Help:      "Snapshots a writer failed to deliver.",
			Namespace: NAMESPACE,
		},
		[]string{"writer"},
	)
)

func init() {
	prometheus.MustRegister(PacketsCaptured)
	prometheus.MustRegister(ParseErrors)
	prometheus.MustRegister(CaptureDropped)
	prometheus.MustRegister(LiveFlows)
	prometheus.MustRegister(Exports)
	prometheus.MustRegister(ExportDuration)
	prometheus.MustRegister(WriterErrors)
}
