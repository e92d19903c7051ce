package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_state_transitions_total",
		Help: "Session state transitions",
	}, []string{"from", "to"})

	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orch_active_sessions",
		Help: "Sessions currently in ACTIVE state",
	})

	metricVADStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_vad_starts_total",
		Help: "Voice starts seen by sessions",
	})

	metricUtterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_utterances_total",
		Help: "Finished utterances by outcome",
	}, []string{"outcome"}) // text | empty | asr_error

	metricInterrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_interrupts_total",
		Help: "Turns interrupted, by reason",
	}, []string{"reason"}) // barge_in | abort | new_turn

	metricTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_turns_total",
		Help: "Assistant turns by outcome",
	}, []string{"outcome"}) // chat | tools | context | exit | quota | llm_error | cancelled

	metricFirstTextMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orch_turn_first_text_ms",
		Help:    "Latency from utterance text to the first LLM text delta",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricFirstAudioMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orch_tts_first_audio_ms",
		Help:    "Latency from utterance text to the first audio frame of the reply",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_tool_calls_total",
		Help: "Tool executions by tool and resulting action",
	}, []string{"tool", "action"})

	metricTeardownTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_teardown_timeouts_total",
		Help: "Sessions whose teardown hit the close timeout",
	})

	metricAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_auth_failures_total",
		Help: "Sessions rejected during authentication",
	})
)
