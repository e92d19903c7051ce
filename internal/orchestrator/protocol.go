package orchestrator

import (
	"strings"
	"unicode"

	"yuzu/voicegw/internal/codec"
)

// AudioParams is the wire form of a codec.Format.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

func paramsOf(f codec.Format) *AudioParams {
	return &AudioParams{Format: f.Name, SampleRate: f.SampleRate, Channels: f.Channels, FrameDuration: f.FrameMs}
}

// format fills unset fields from def.
func (p *AudioParams) format(def codec.Format) codec.Format {
	f := def
	if p == nil {
		return f
	}
	if p.Format != "" {
		f.Name = p.Format
	}
	if p.SampleRate > 0 {
		f.SampleRate = p.SampleRate
	}
	if p.Channels > 0 {
		f.Channels = p.Channels
	}
	if p.FrameDuration > 0 {
		f.FrameMs = p.FrameDuration
	}
	return f
}

// Device to server.
type inbound struct {
	Type        string       `json:"type"`
	Version     int          `json:"version,omitempty"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`
	State       string       `json:"state,omitempty"`
	Mode        string       `json:"mode,omitempty"`
	Text        string       `json:"text,omitempty"`
}

// Server to device.
type outbound struct {
	Type        string       `json:"type"`
	SessionID   string       `json:"session_id"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`
	State       string       `json:"state,omitempty"`
	Text        string       `json:"text,omitempty"`
	Emotion     string       `json:"emotion,omitempty"`
}

const (
	msgHello  = "hello"
	msgListen = "listen"
	msgAbort  = "abort"
	msgSTT    = "stt"
	msgLLM    = "llm"
	msgTTS    = "tts"

	listenStart  = "start"
	listenStop   = "stop"
	listenDetect = "detect"

	modeAuto   = "auto"
	modeManual = "manual"
)

// normalize lowercases s and drops punctuation and spacing so that
// "Goodbye!" matches "goodbye".
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchesAny(text string, phrases []string) bool {
	n := normalize(text)
	if n == "" {
		return false
	}
	for _, p := range phrases {
		if normalize(p) == n {
			return true
		}
	}
	return false
}
