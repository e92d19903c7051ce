package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Addr        string
		AdminAddr   string
		GRPCAddr    string
		WSPath      string
		AcceptRPS   float64
		AcceptBurst int
	}
	Auth struct {
		Enabled        bool
		Secret         string
		ExpireSeconds  int
		AllowedDevices []string
	}
	Log struct {
		Level  string
		Format string
	}
	Audio struct {
		Format     string
		SampleRate int
		Channels   int
		FrameMs    int
	}
	VAD struct {
		Threshold      float64
		ThresholdLow   float64
		SilenceMs      int
		Window         int
		MinVoiceFrames int
		FrameSamples   int
	}
	ASR struct {
		Mode              string // batch | stream
		URL               string
		APIKey            string
		FinalTimeout      time.Duration
		IdleTimeout       time.Duration
		TranscribeTimeout time.Duration
		PrerollFrames     int
		MinSegmentMs      int
	}
	LLM struct {
		BaseURL     string
		APIKey      string
		Model       string
		IntentModel string
		MaxTokens   int
	}
	TTS struct {
		URL        string
		APIKey     string
		Voice      string
		SampleRate int
	}
	Intent struct {
		Type      string // intent_llm | function_call | nointent
		History   int
		CacheTTL  time.Duration
		CacheSize int
	}
	Memory struct {
		Enabled        bool
		RedisURL       string
		KeyPrefix      string
		SummarizeEvery int
	}
	Quota struct {
		DailyChars int
		Backend    string // memory | redis
	}
	Session struct {
		CloseTimeout time.Duration
		IdleClose    time.Duration
		BargeInGuard time.Duration
		Prompt       string
		ExitCommands []string
		WakeupWords  []string
	}
}

const defaultPrompt = `You are a friendly voice assistant. Keep answers short and spoken-style.
Current time: {{current_time}}`

func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("VOICEGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("VOICEGW_CONFIG"); path != "" {
		v.SetConfigFile(path)
		// Missing or malformed file leaves defaults + env in place.
		_ = v.ReadInConfig()
	}

	// Defaults
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.admin_addr", ":8003")
	v.SetDefault("server.grpc_addr", ":8004")
	v.SetDefault("server.ws_path", "/voicegw/v1/")
	v.SetDefault("server.accept_rps", 20)
	v.SetDefault("server.accept_burst", 40)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.expire_seconds", 60*60*24*30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("audio.format", "opus")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_ms", 60)

	v.SetDefault("vad.threshold", 0.5)
	v.SetDefault("vad.threshold_low", 0.2)
	v.SetDefault("vad.silence_ms", 1000)
	v.SetDefault("vad.window", 5)
	v.SetDefault("vad.min_voice_frames", 3)
	v.SetDefault("vad.frame_samples", 512)

	v.SetDefault("asr.mode", "batch")
	v.SetDefault("asr.final_timeout", "3s")
	v.SetDefault("asr.idle_timeout", "30s")
	v.SetDefault("asr.preroll_frames", 10)
	v.SetDefault("asr.min_segment_ms", 0)
	v.SetDefault("asr.transcribe_timeout", "15s")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 500)

	v.SetDefault("tts.sample_rate", 16000)

	v.SetDefault("intent.type", "intent_llm")
	v.SetDefault("intent.history", 4)
	v.SetDefault("intent.cache_ttl", "10m")
	v.SetDefault("intent.cache_size", 1000)

	v.SetDefault("memory.enabled", false)
	v.SetDefault("memory.key_prefix", "voicegw:memory:")
	v.SetDefault("memory.summarize_every", 10)

	v.SetDefault("quota.daily_chars", 0)
	v.SetDefault("quota.backend", "memory")

	v.SetDefault("session.close_timeout", "5s")
	v.SetDefault("session.idle_close", "120s")
	v.SetDefault("session.barge_in_guard", "0s")
	v.SetDefault("session.prompt", defaultPrompt)
	v.SetDefault("session.exit_commands", []string{"exit", "goodbye", "bye bye"})
	v.SetDefault("session.wakeup_words", []string{"hey yuzu", "hi yuzu"})

	// Map envs
	v.BindEnv("server.addr", "VOICEGW_ADDR", "PORT")
	v.BindEnv("log.level", "VOICEGW_LOG_LEVEL", "LOG_LEVEL")
	v.BindEnv("auth.secret", "VOICEGW_AUTH_SECRET")
	v.BindEnv("asr.api_key", "VOICEGW_ASR_API_KEY", "ASR_API_KEY")
	v.BindEnv("llm.api_key", "VOICEGW_LLM_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("llm.base_url", "VOICEGW_LLM_BASE_URL", "OPENAI_BASE_URL")
	v.BindEnv("tts.api_key", "VOICEGW_TTS_API_KEY", "TTS_API_KEY")
	v.BindEnv("memory.redis_url", "VOICEGW_MEMORY_REDIS_URL", "REDIS_URL")

	var c Config
	c.Server.Addr = normalizeAddr(v.GetString("server.addr"))
	c.Server.AdminAddr = v.GetString("server.admin_addr")
	c.Server.GRPCAddr = v.GetString("server.grpc_addr")
	c.Server.WSPath = v.GetString("server.ws_path")
	c.Server.AcceptRPS = v.GetFloat64("server.accept_rps")
	c.Server.AcceptBurst = v.GetInt("server.accept_burst")

	c.Auth.Enabled = v.GetBool("auth.enabled")
	c.Auth.Secret = v.GetString("auth.secret")
	c.Auth.ExpireSeconds = v.GetInt("auth.expire_seconds")
	c.Auth.AllowedDevices = v.GetStringSlice("auth.allowed_devices")

	c.Log.Level = v.GetString("log.level")
	c.Log.Format = v.GetString("log.format")

	c.Audio.Format = v.GetString("audio.format")
	c.Audio.SampleRate = v.GetInt("audio.sample_rate")
	c.Audio.Channels = v.GetInt("audio.channels")
	c.Audio.FrameMs = v.GetInt("audio.frame_ms")

	c.VAD.Threshold = v.GetFloat64("vad.threshold")
	c.VAD.ThresholdLow = v.GetFloat64("vad.threshold_low")
	c.VAD.SilenceMs = v.GetInt("vad.silence_ms")
	c.VAD.Window = v.GetInt("vad.window")
	c.VAD.MinVoiceFrames = v.GetInt("vad.min_voice_frames")
	c.VAD.FrameSamples = v.GetInt("vad.frame_samples")

	c.ASR.Mode = v.GetString("asr.mode")
	c.ASR.URL = v.GetString("asr.url")
	c.ASR.APIKey = v.GetString("asr.api_key")
	c.ASR.FinalTimeout = v.GetDuration("asr.final_timeout")
	c.ASR.IdleTimeout = v.GetDuration("asr.idle_timeout")
	c.ASR.PrerollFrames = v.GetInt("asr.preroll_frames")
	c.ASR.MinSegmentMs = v.GetInt("asr.min_segment_ms")
	c.ASR.TranscribeTimeout = v.GetDuration("asr.transcribe_timeout")

	c.LLM.BaseURL = v.GetString("llm.base_url")
	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Model = v.GetString("llm.model")
	c.LLM.IntentModel = v.GetString("llm.intent_model")
	if c.LLM.IntentModel == "" {
		c.LLM.IntentModel = c.LLM.Model
	}
	c.LLM.MaxTokens = v.GetInt("llm.max_tokens")

	c.TTS.URL = v.GetString("tts.url")
	c.TTS.APIKey = v.GetString("tts.api_key")
	c.TTS.Voice = v.GetString("tts.voice")
	c.TTS.SampleRate = v.GetInt("tts.sample_rate")

	c.Intent.Type = v.GetString("intent.type")
	c.Intent.History = v.GetInt("intent.history")
	c.Intent.CacheTTL = v.GetDuration("intent.cache_ttl")
	c.Intent.CacheSize = v.GetInt("intent.cache_size")

	c.Memory.Enabled = v.GetBool("memory.enabled")
	c.Memory.RedisURL = v.GetString("memory.redis_url")
	c.Memory.KeyPrefix = v.GetString("memory.key_prefix")
	c.Memory.SummarizeEvery = v.GetInt("memory.summarize_every")

	c.Quota.DailyChars = v.GetInt("quota.daily_chars")
	c.Quota.Backend = v.GetString("quota.backend")

	c.Session.CloseTimeout = v.GetDuration("session.close_timeout")
	c.Session.IdleClose = v.GetDuration("session.idle_close")
	c.Session.BargeInGuard = v.GetDuration("session.barge_in_guard")
	c.Session.Prompt = v.GetString("session.prompt")
	c.Session.ExitCommands = v.GetStringSlice("session.exit_commands")
	c.Session.WakeupWords = v.GetStringSlice("session.wakeup_words")

	return c
}

// normalizeAddr accepts a bare port (PORT=8080) as well as host:port.
func normalizeAddr(s string) string {
	if s != "" && !strings.Contains(s, ":") {
		return ":" + s
	}
	return s
}
