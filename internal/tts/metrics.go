package tts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ttsSynthesisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_synthesis_total",
		Help: "Total TTS synthesis requests by status",
	}, []string{"status"})

	ttsFirstFrameMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_first_frame_ms",
		Help:    "Latency from synthesis request to first encoded frame",
		Buckets: prometheus.ExponentialBuckets(20, 1.6, 10),
	})

	ttsTotalDurationMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_total_duration_ms",
		Help:    "Total TTS synthesis time in milliseconds",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	ttsFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_frames_total",
		Help: "Encoded audio frames handed to the sink",
	})

	ttsStaleDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_stale_dropped_total",
		Help: "Units or frames discarded because their sentence id was superseded",
	}, []string{"what"})

	ttsQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tts_queue_depth",
		Help: "Units waiting in the last observed TTS queue",
	})
)
