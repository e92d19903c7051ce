// Package vad segments a PCM stream into utterances.
//
// A Detector is shared by all sessions; each session owns a State. Windows of
// FrameSamples samples are scored by a Classifier, passed through a dual
// threshold, and pushed into a short sliding window. The window reports voice
// when at least MinVoiceFrames of its entries are voice. Utterance end is
// raised once the window has gone quiet and SilenceMs of audio have elapsed
// since the last voiced window.
//
// Time is measured on the audio clock (samples consumed), not the wall clock,
// so segmentation is independent of network jitter.
package vad

import (
	"go.uber.org/zap"

	"yuzu/voicegw/internal/codec"
)

type Config struct {
	Threshold      float64
	ThresholdLow   float64
	SilenceMs      int
	Window         int
	MinVoiceFrames int
	FrameSamples   int
	SampleRate     int
}

func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.ThresholdLow == 0 || c.ThresholdLow > c.Threshold {
		c.ThresholdLow = min(0.2, c.Threshold)
	}
	if c.SilenceMs <= 0 {
		c.SilenceMs = 1000
	}
	if c.Window <= 0 {
		c.Window = 5
	}
	if c.MinVoiceFrames <= 0 {
		c.MinVoiceFrames = 3
	}
	if c.MinVoiceFrames > c.Window {
		c.MinVoiceFrames = c.Window
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = 512
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

// State is the per-session detector state.
type State struct {
	buf []int16

	LastIsVoice bool
	window      []bool
	next        int
	filled      int

	// HaveVoice latches once the window first reports voice and stays set
	// until Reset, so utterance end can be detected after the window clears.
	HaveVoice      bool
	VoiceStop      bool
	LastActivityMs int64

	samples int64
}

func NewState() *State { return &State{} }

// NowMs is the audio clock: milliseconds of audio consumed so far.
func (s *State) NowMs(rate int) int64 { return s.samples * 1000 / int64(rate) }

// Reset clears utterance state after a segment has been handed to ASR.
// The audio clock keeps running.
func (s *State) Reset() {
	s.buf = s.buf[:0]
	s.LastIsVoice = false
	for i := range s.window {
		s.window[i] = false
	}
	s.next, s.filled = 0, 0
	s.HaveVoice = false
	s.VoiceStop = false
}

func (s *State) push(v bool, size int) {
	if len(s.window) != size {
		s.window = make([]bool, size)
		s.next, s.filled = 0, 0
	}
	s.window[s.next] = v
	s.next = (s.next + 1) % size
	if s.filled < size {
		s.filled++
	}
}

func (s *State) voiceCount() int {
	n := 0
	for i := 0; i < s.filled; i++ {
		if s.window[i] {
			n++
		}
	}
	return n
}

type Detector struct {
	cfg Config
	cls Classifier
	log *zap.Logger
}

func New(cfg Config, cls Classifier, log *zap.Logger) *Detector {
	if cls == nil {
		cls = NewEnergy()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{cfg: cfg.withDefaults(), cls: cls, log: log}
}

func (d *Detector) Config() Config { return d.cfg }

// Hysteresis applies the dual threshold: at or above hi is voice, at or
// below lo is silence, anything between keeps prev.
func Hysteresis(prev bool, p, hi, lo float64) bool {
	switch {
	case p >= hi:
		return true
	case p <= lo:
		return false
	default:
		return prev
	}
}

// Evaluate consumes decoded PCM and reports whether the sliding window
// currently holds voice. st.VoiceStop is raised when the utterance ends.
func (d *Detector) Evaluate(st *State, pcm []int16) bool {
	st.buf = append(st.buf, pcm...)
	haveVoice := false
	for len(st.buf) >= d.cfg.FrameSamples {
		win := st.buf[:d.cfg.FrameSamples]
		p := d.cls.Probability(win)
		st.buf = st.buf[d.cfg.FrameSamples:]
		st.samples += int64(d.cfg.FrameSamples)
		metricWindows.Inc()

		isVoice := Hysteresis(st.LastIsVoice, p, d.cfg.Threshold, d.cfg.ThresholdLow)
		st.LastIsVoice = isVoice
		st.push(isVoice, d.cfg.Window)
		haveVoice = st.voiceCount() >= d.cfg.MinVoiceFrames

		now := st.NowMs(d.cfg.SampleRate)
		if st.HaveVoice && !haveVoice && !st.VoiceStop {
			if now-st.LastActivityMs >= int64(d.cfg.SilenceMs) {
				st.VoiceStop = true
				metricVoiceStops.Inc()
				d.log.Debug("voice stop", zap.Int64("silence_ms", now-st.LastActivityMs))
			}
		}
		if haveVoice {
			if !st.HaveVoice {
				metricVoiceStarts.Inc()
			}
			st.HaveVoice = true
			st.LastActivityMs = now
		}
	}
	// Compact so the backing array does not grow without bound.
	if cap(st.buf) > 8*d.cfg.FrameSamples {
		st.buf = append(make([]int16, 0, d.cfg.FrameSamples), st.buf...)
	}
	return haveVoice
}

// EvaluateFrame decodes one encoded frame first. A frame that fails to decode
// is logged and dropped; the state is left untouched.
func (d *Detector) EvaluateFrame(st *State, dec codec.Codec, frame []byte) (pcm []int16, haveVoice bool, ok bool) {
	pcm, err := dec.Decode(frame)
	if err != nil {
		metricDecodeErrors.Inc()
		d.log.Debug("drop undecodable frame", zap.Error(err), zap.Int("bytes", len(frame)))
		return nil, false, false
	}
	return pcm, d.Evaluate(st, pcm), true
}
