package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/asr"
	"yuzu/voicegw/internal/cache"
	"yuzu/voicegw/internal/config"
	"yuzu/voicegw/internal/gateway"
	"yuzu/voicegw/internal/intent"
	"yuzu/voicegw/internal/llm"
	"yuzu/voicegw/internal/logging"
	"yuzu/voicegw/internal/memory"
	"yuzu/voicegw/internal/orchestrator"
	"yuzu/voicegw/internal/quota"
	"yuzu/voicegw/internal/tools"
	"yuzu/voicegw/internal/tts"
	"yuzu/voicegw/internal/vad"
)

// needsRedis reports whether any configured component stores state in redis.
func needsRedis(cfg config.Config) bool {
	return cfg.Memory.RedisURL != "" && (cfg.Memory.Enabled || cfg.Quota.Backend == "redis")
}

func openRedis(cfg config.Config) (redis.UniversalClient, error) {
	if !needsRedis(cfg) {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.Memory.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildDeps assembles the process-wide collaborators every session shares.
// rdb may be nil.
func buildDeps(cfg config.Config, rdb redis.UniversalClient, log *zap.Logger) (orchestrator.Deps, error) {
	provider := llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, logging.Component(log, "llm"))

	caches := cache.NewManager()
	caches.Configure(cache.TypeIntent, cache.Config{Strategy: cache.TTLLRU, TTL: cfg.Intent.CacheTTL, MaxSize: cfg.Intent.CacheSize})
	intentModel := cfg.LLM.IntentModel
	if intentModel == "" {
		intentModel = cfg.LLM.Model
	}
	resolver := intent.New(intent.Mode(cfg.Intent.Type), provider, intentModel, cfg.Intent.History,
		caches.For(cache.TypeIntent), logging.Component(log, "intent"))

	detector := vad.New(vad.Config{
		Threshold:      cfg.VAD.Threshold,
		ThresholdLow:   cfg.VAD.ThresholdLow,
		SilenceMs:      cfg.VAD.SilenceMs,
		Window:         cfg.VAD.Window,
		MinVoiceFrames: cfg.VAD.MinVoiceFrames,
		FrameSamples:   cfg.VAD.FrameSamples,
		SampleRate:     cfg.Audio.SampleRate,
	}, vad.NewEnergy(), logging.Component(log, "vad"))

	newASR, err := asrFactory(cfg, detector.Config().SampleRate, log)
	if err != nil {
		return orchestrator.Deps{}, err
	}

	deps := orchestrator.Deps{
		VAD:      detector,
		NewASR:   newASR,
		NewCodec: gateway.NewCodec,
		Intent:   resolver,
		LLM:      provider,
		Tools:    tools.Builtins(),
		TTS:      tts.NewHTTPSynthesizer(cfg.TTS.URL, cfg.TTS.APIKey, cfg.TTS.Voice, cfg.TTS.SampleRate),
	}

	if cfg.Memory.Enabled {
		var ms memory.Store = memory.NewMemStore()
		if rdb != nil {
			ms = memory.NewRedisStore(rdb, cfg.Memory.KeyPrefix)
		}
		deps.Memory = memory.NewSummarizer(ms, provider, intentModel, logging.Component(log, "memory"))
	}

	switch {
	case cfg.Quota.DailyChars <= 0:
	case cfg.Quota.Backend == "redis" && rdb != nil:
		deps.Quota = quota.NewRedisCounter(rdb)
	default:
		deps.Quota = quota.NewMemCounter()
	}
	return deps, nil
}

func asrFactory(cfg config.Config, rate int, log *zap.Logger) (func(*zap.Logger) asr.Coordinator, error) {
	switch cfg.ASR.Mode {
	case "stream":
		// one streamer so its circuit breaker sees every session's failures
		streamer := asr.NewWSStreamer(cfg.ASR.URL, cfg.ASR.APIKey, rate, logging.Component(log, "asr"))
		sc := asr.StreamConfig{
			PrerollFrames: cfg.ASR.PrerollFrames,
			FinalTimeout:  cfg.ASR.FinalTimeout,
			IdleTimeout:   cfg.ASR.IdleTimeout,
		}
		return func(l *zap.Logger) asr.Coordinator {
			return asr.NewStreaming(streamer, sc, l.With(zap.String("component", "asr")))
		}, nil
	case "batch", "":
		tr := asr.NewHTTPTranscriber(cfg.ASR.URL, cfg.ASR.APIKey, cfg.ASR.TranscribeTimeout)
		bc := asr.BatchConfig{
			SampleRate:        rate,
			PrerollFrames:     cfg.ASR.PrerollFrames,
			MinSegmentMs:      cfg.ASR.MinSegmentMs,
			TranscribeTimeout: cfg.ASR.TranscribeTimeout,
		}
		return func(l *zap.Logger) asr.Coordinator {
			return asr.NewBatch(tr, bc, l.With(zap.String("component", "asr")))
		}, nil
	}
	return nil, fmt.Errorf("unknown asr.mode %q", cfg.ASR.Mode)
}
