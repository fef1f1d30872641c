package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "physiobridge_mirror_streams_active",
		Help: "Number of outlet streams currently discovered and being recorded",
	})

	rowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_mirror_rows_written_total",
		Help: "Total rows appended per recorded stream",
	}, []string{"name"})

	streamsDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physiobridge_mirror_streams_discovered_total",
		Help: "Total outlet streams discovered over the session's lifetime",
	})
)
