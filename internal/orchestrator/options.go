package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"yuzu/voicegw/internal/asr"
	"yuzu/voicegw/internal/auth"
	"yuzu/voicegw/internal/codec"
	"yuzu/voicegw/internal/config"
	"yuzu/voicegw/internal/intent"
	"yuzu/voicegw/internal/llm"
	"yuzu/voicegw/internal/memory"
	"yuzu/voicegw/internal/quota"
	"yuzu/voicegw/internal/store"
	"yuzu/voicegw/internal/tools"
	"yuzu/voicegw/internal/tts"
	"yuzu/voicegw/internal/vad"
)

// Deps are the process-wide collaborators a session is built from. Memory,
// Quota, Store and Auth are optional.
type Deps struct {
	VAD      *vad.Detector
	NewASR   func(log *zap.Logger) asr.Coordinator
	NewCodec func(codec.Format) (codec.Codec, error)
	Intent   intent.Resolver
	LLM      llm.Provider
	Tools    *tools.Registry
	TTS      tts.Synthesizer
	Memory   *memory.Summarizer
	Quota    quota.Counter
	Store    *store.Store
	Auth     func(auth.Identity) error
}

// Options are per-session settings, captured when the session is created.
type Options struct {
	Prompt    string
	Model     string
	MaxTokens int

	// InputFormat applies until the device's hello says otherwise.
	InputFormat  codec.Format
	OutputFormat codec.Format

	CloseTimeout   time.Duration
	IdleClose      time.Duration
	DailyChars     int
	SummarizeEvery int
	ExitCommands   []string
	WakeupWords    []string

	FramePace     time.Duration
	Prebuffer     int
	BargeInGuard  time.Duration
	MaxToolRounds int
	// IntentHistory is how many recent messages the intent resolver sees.
	IntentHistory int
}

func OptionsFromConfig(cfg config.Config) Options {
	in := codec.Format{
		Name:       cfg.Audio.Format,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		FrameMs:    cfg.Audio.FrameMs,
	}
	out := in
	if cfg.TTS.SampleRate > 0 {
		out.SampleRate = cfg.TTS.SampleRate
	}
	return Options{
		Prompt:         cfg.Session.Prompt,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		InputFormat:    in,
		OutputFormat:   out,
		CloseTimeout:   cfg.Session.CloseTimeout,
		IdleClose:      cfg.Session.IdleClose,
		DailyChars:     cfg.Quota.DailyChars,
		SummarizeEvery: cfg.Memory.SummarizeEvery,
		ExitCommands:   cfg.Session.ExitCommands,
		WakeupWords:    cfg.Session.WakeupWords,
		FramePace:      time.Duration(cfg.Audio.FrameMs) * time.Millisecond,
		Prebuffer:      3,
		BargeInGuard:   cfg.Session.BargeInGuard,
		IntentHistory:  cfg.Intent.History,
	}
}

func (o Options) withDefaults() Options {
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 3
	}
	if o.IntentHistory <= 0 {
		o.IntentHistory = 4
	}
	if o.InputFormat.SampleRate <= 0 {
		o.InputFormat = codec.Format{Name: "opus", SampleRate: 16000, Channels: 1, FrameMs: 60}
	}
	if o.OutputFormat.SampleRate <= 0 {
		o.OutputFormat = o.InputFormat
	}
	return o
}
