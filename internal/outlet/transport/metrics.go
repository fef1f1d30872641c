package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DroppedSamplesTotal counts samples evicted from an outlet's exposure
	// ring because no puller drained them in time. See P9.
	DroppedSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_outlet_dropped_samples_total",
		Help: "Total number of samples dropped from an outlet's exposure buffer because it filled up before being drained",
	}, []string{"outlet"})

	// ActivePullers counts connected mirror pullers per exposure server (0 or 1).
	ActivePullers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "physiobridge_outlet_active_pullers",
		Help: "Number of currently connected outlet pullers",
	}, []string{"worker"})
)
