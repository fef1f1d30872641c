package serial

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_hkh_samples_total",
		Help: "Total number of respiration samples parsed from the HKH-11C belt",
	})
	framingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_hkh_framing_errors_total",
		Help: "Total number of serial reads that did not resolve to a complete 0xFF/0xCC frame",
	})
	portOpenRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_hkh_port_open_retries_total",
		Help: "Total number of candidate-port sweep retries before a serial port opened successfully",
	})
)
