package vad

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_windows_total",
		Help: "Total analysis windows classified",
	})

	metricVoiceStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_voice_starts_total",
		Help: "Total utterance starts (window first reports voice)",
	})

	metricVoiceStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_voice_stops_total",
		Help: "Total utterance ends after silence timeout",
	})

	metricDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_decode_errors_total",
		Help: "Inbound frames dropped because they failed to decode",
	})
)
