package asr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_frames_total",
		Help: "Total audio frames handed to the recognizer",
	})

	metricConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_connects_total",
		Help: "Streaming recognizer connection attempts by result",
	}, []string{"result"})

	metricCircuitOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_circuit_open_total",
		Help: "Circuit breaker open events",
	})

	metricConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asr_connect_ms",
		Help:    "Time to establish provider connection (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	metricFinalLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asr_final_latency_ms",
		Help:    "Latency from voice stop to transcript (ms)",
		Buckets: prometheus.ExponentialBuckets(100, 1.6, 10),
	})

	// provider, fallback, empty, fatal, aborted
	metricUtterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_utterances_total",
		Help: "Utterances finished by outcome",
	}, []string{"outcome"})

	metricProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_provider_errors_total",
		Help: "Error codes reported by the streaming provider",
	}, []string{"fatal"})
)
