package pingpong

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pingsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_pingpong_pings_sent_total",
		Help: "Total pings sent per device",
	}, []string{"device"})

	pongsMatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_pingpong_pongs_matched_total",
		Help: "Total pongs correlated with an outstanding ping per device",
	}, []string{"device"})

	pongsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physiobridge_pingpong_pongs_dropped_total",
		Help: "Total pongs dropped for having no matching pending ping within the correlation window",
	}, []string{"device"})

	rttMS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "physiobridge_pingpong_rtt_ms",
		Help: "Most recent round-trip time estimate per device, in milliseconds",
	}, []string{"device"})

	offsetMS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "physiobridge_pingpong_offset_ms",
		Help: "Most recent clock offset estimate per device, in milliseconds",
	}, []string{"device"})
)
