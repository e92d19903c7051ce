package vad

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"yuzu/voicegw/internal/codec"
)

// scripted returns probabilities from a fixed sequence, one per window.
type scripted struct {
	probs []float64
	i     int
}

func (s *scripted) Probability([]int16) float64 {
	if s.i >= len(s.probs) {
		return 0
	}
	p := s.probs[s.i]
	s.i++
	return p
}

// 16 samples at 16kHz is one millisecond per window.
func msConfig(silenceMs, window, minVoice int) Config {
	return Config{
		Threshold:      0.5,
		ThresholdLow:   0.2,
		SilenceMs:      silenceMs,
		Window:         window,
		MinVoiceFrames: minVoice,
		FrameSamples:   16,
		SampleRate:     16000,
	}
}

func feed(d *Detector, st *State, windows int) bool {
	var v bool
	for i := 0; i < windows; i++ {
		v = d.Evaluate(st, make([]int16, 16))
	}
	return v
}

func TestHysteresisBand(t *testing.T) {
	if !Hysteresis(false, 0.5, 0.5, 0.2) {
		t.Error("probability at high threshold should be voice")
	}
	if Hysteresis(true, 0.2, 0.5, 0.2) {
		t.Error("probability at low threshold should be silence")
	}
	if !Hysteresis(true, 0.35, 0.5, 0.2) {
		t.Error("in-band probability should keep voice")
	}
	if Hysteresis(false, 0.35, 0.5, 0.2) {
		t.Error("in-band probability should keep silence")
	}
}

func TestHysteresisProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		probs := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 200).Draw(rt, "probs")
		cls := &scripted{probs: probs}
		d := New(msConfig(1000, 1, 1), cls, nil)
		st := NewState()
		prev := false
		for i, p := range probs {
			d.Evaluate(st, make([]int16, 16))
			got := st.LastIsVoice
			switch {
			case p >= 0.5 && !got:
				rt.Fatalf("frame %d p=%.3f above high threshold but silence", i, p)
			case p <= 0.2 && got:
				rt.Fatalf("frame %d p=%.3f below low threshold but voice", i, p)
			case p > 0.2 && p < 0.5 && got != prev:
				rt.Fatalf("frame %d p=%.3f flipped inside band", i, p)
			}
			prev = got
		}
	})
}

func TestWindowNeedsMinimumVoiceFrames(t *testing.T) {
	cls := &scripted{probs: []float64{0.9, 0.9, 0.1, 0.1, 0.1, 0.9, 0.9, 0.9}}
	d := New(msConfig(1000, 5, 3), cls, nil)
	st := NewState()

	if feed(d, st, 2) {
		t.Fatal("two voice frames must not satisfy a minimum of three")
	}
	feed(d, st, 3)
	if st.HaveVoice {
		t.Fatal("blips should not latch voice")
	}
	if !feed(d, st, 3) {
		t.Fatal("three voice frames in window should report voice")
	}
	if !st.HaveVoice {
		t.Fatal("HaveVoice should latch")
	}
}

func TestSilenceBoundary(t *testing.T) {
	run := func(silenceWindows int) bool {
		probs := make([]float64, 0, 5+silenceWindows)
		for i := 0; i < 5; i++ {
			probs = append(probs, 0.9)
		}
		for i := 0; i < silenceWindows; i++ {
			probs = append(probs, 0.0)
		}
		d := New(msConfig(10, 1, 1), &scripted{probs: probs}, nil)
		st := NewState()
		feed(d, st, len(probs))
		return st.VoiceStop
	}

	if run(9) {
		t.Fatal("9ms of silence must not end a 10ms-threshold utterance")
	}
	if !run(10) {
		t.Fatal("exactly 10ms of silence must end the utterance")
	}
}

func TestResetKeepsClock(t *testing.T) {
	d := New(msConfig(10, 1, 1), &scripted{probs: []float64{0.9, 0.9}}, nil)
	st := NewState()
	feed(d, st, 2)
	before := st.NowMs(16000)
	st.Reset()
	if st.HaveVoice || st.VoiceStop || st.LastIsVoice {
		t.Fatal("reset should clear utterance flags")
	}
	if st.NowMs(16000) != before {
		t.Fatal("reset must not rewind the audio clock")
	}
}

func TestPartialWindowsAreBuffered(t *testing.T) {
	calls := 0
	cls := ClassifierFunc(func(w []int16) float64 {
		calls++
		if len(w) != 16 {
			t.Fatalf("window of %d samples", len(w))
		}
		return 0
	})
	d := New(msConfig(10, 1, 1), cls, nil)
	st := NewState()
	d.Evaluate(st, make([]int16, 10))
	if calls != 0 {
		t.Fatal("no window should be classified before 16 samples")
	}
	d.Evaluate(st, make([]int16, 30))
	if calls != 2 {
		t.Fatalf("expected 2 windows, got %d", calls)
	}
}

type badCodec struct{ *codec.PCM }

func (badCodec) Decode([]byte) ([]int16, error) { return nil, errors.New("corrupt") }

func TestDecodeErrorDropsFrame(t *testing.T) {
	d := New(msConfig(10, 1, 1), &scripted{probs: []float64{0.9}}, nil)
	st := NewState()
	_, v, ok := d.EvaluateFrame(st, badCodec{}, []byte{1, 2, 3})
	if ok || v {
		t.Fatal("undecodable frame should be dropped")
	}
	if st.NowMs(16000) != 0 || st.HaveVoice {
		t.Fatal("dropped frame must not touch state")
	}
	pcmCodec := codec.NewPCM(codec.Format{SampleRate: 16000, Channels: 1, FrameMs: 1})
	if _, _, ok := d.EvaluateFrame(st, pcmCodec, make([]byte, 32)); !ok {
		t.Fatal("next good frame should be processed")
	}
}

func TestEnergyClassifier(t *testing.T) {
	e := NewEnergy()
	if p := e.Probability(make([]int16, 512)); p != 0 {
		t.Fatalf("silence should score 0, got %v", p)
	}
	loud := make([]int16, 512)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 8000
		} else {
			loud[i] = -8000
		}
	}
	if p := e.Probability(loud); p != 1 {
		t.Fatalf("loud signal should score 1, got %v", p)
	}
}
