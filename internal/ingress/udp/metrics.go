package udp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_udp_packets_total",
		Help: "Total UDP datagrams received by the Polar worker.",
	})
	handledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_udp_handled_total",
		Help: "Datagrams successfully routed to a translator or marker/control path.",
	})
	unknownTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_udp_unknown_total",
		Help: "Datagrams carrying a JSON object of unrecognized type.",
	})
	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_udp_errors_total",
		Help: "Translator or dispatch errors encountered while processing a datagram.",
	})
	readErrsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_udp_read_errors_total",
		Help: "UDP read errors by classification.",
	}, []string{"class"})
)
