package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_connections_accepted_total",
		Help: "Device WebSocket connections accepted.",
	})
	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_connections_rejected_total",
		Help: "Device connections rejected before upgrade, by reason.",
	}, []string{"reason"})
	metricActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_registered",
		Help: "Sessions currently held by the registry.",
	})
	metricReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_replaced_total",
		Help: "Sessions closed because the same device reconnected.",
	})
	metricReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_config_reloads_total",
		Help: "Configuration updates applied to the registry.",
	})
	metricSessionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_session_duration_seconds",
		Help:    "Lifetime of device sessions.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})
	metricFramesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_frames_in_total",
		Help: "WebSocket messages received from devices.",
	}, []string{"kind"})
	metricFramesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_frames_out_total",
		Help: "WebSocket messages sent to devices.",
	}, []string{"kind"})
)
