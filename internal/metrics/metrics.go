package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingestion counters of the flow engine.
type Metrics struct {
	PacketsReceived prometheus.Counter
	PacketsIngested prometheus.Counter
	PacketsFiltered prometheus.Counter
	IngestErrors    prometheus.Counter
	FlowsCreated    prometheus.Counter
	OutOfOrder      prometheus.Counter
	Flows           prometheus.Gauge
	WriteDurations  *prometheus.HistogramVec
}

// New creates the counters and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flow_packets_received_total",
			Help: "Number of decoded packets handed to the flow engine",
		}),
		PacketsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flow_packets_ingested_total",
			Help: "Number of packets folded into a flow record",
		}),
		PacketsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flow_packets_filtered_total",
			Help: "Number of packets dropped because their transport protocol is not configured",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flow_ingest_errors_total",
			Help: "Number of packets that could not be ingested",
		}),
		FlowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flow_records_created_total",
			Help: "Number of flow records created",
		}),
		OutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flow_out_of_order_packets_total",
			Help: "Number of packets whose timestamp precedes the previous packet of their flow",
		}),
		Flows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flow_records",
			Help: "Number of flow records in the last merged table",
		}),
		WriteDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flow_writer_duration_seconds",
			Help:    "Time spent persisting the flow table, per writer",
			Buckets: prometheus.DefBuckets,
		}, []string{"writer"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PacketsReceived,
			m.PacketsIngested,
			m.PacketsFiltered,
			m.IngestErrors,
			m.FlowsCreated,
			m.OutOfOrder,
			m.Flows,
			m.WriteDurations,
		)
	}
	return m
}
