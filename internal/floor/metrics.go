package floor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricGuardBlocks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "floor_barge_in_guard_blocks_total",
	Help: "Voice starts ignored because they fell inside the playback guard window",
})
