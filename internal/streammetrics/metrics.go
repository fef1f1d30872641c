package streammetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_stream_packets_received_total",
		Help: "Total business packets observed per (device, kind)",
	}, []string{"device", "kind"})

	PacketsMissing = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_stream_packets_missing_total",
		Help: "Cumulative sequence gap count per (device, kind)",
	}, []string{"device", "kind"})

	PacketsOutOfOrder = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_stream_packets_out_of_order_total",
		Help: "Total out-of-order packets per (device, kind)",
	}, []string{"device", "kind"})
)
