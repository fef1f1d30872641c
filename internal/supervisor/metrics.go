package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	childRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_supervisor_child_restarts_total",
		Help: "Total unexpected child exits observed per role",
	}, []string{"role"})

	childReadySeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "physiobridge_supervisor_child_ready_seconds",
		Help: "Seconds from child start to its READY announcement, per role",
	}, []string{"role"})
)
