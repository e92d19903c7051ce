package opus

import (
	"math"
	"testing"

	"yuzu/voicegw/internal/codec"
)

func TestOpusRoundTripFrameCount(t *testing.T) {
	f := codec.Format{SampleRate: 16000, Channels: 1, FrameMs: 60}
	c, err := New(f)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// 1s of a 440Hz tone, framed with zero-padded tail.
	total := 16000
	pcm := make([]int16, total)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	fr := codec.NewFramer(f.SamplesPerFrame())
	frames := fr.Push(pcm)
	if tail := fr.Flush(); tail != nil {
		frames = append(frames, tail)
	}

	decodedSamples := 0
	for _, frame := range frames {
		pkt, err := c.Encode(frame)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out, err := c.Decode(pkt)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		decodedSamples += len(out)
	}
	if len(frames) != 17 {
		t.Fatalf("expected 17 frames for 1s at 60ms, got %d", len(frames))
	}
	if decodedSamples != len(frames)*f.SamplesPerFrame() {
		t.Fatalf("decoded %d samples, want %d", decodedSamples, len(frames)*f.SamplesPerFrame())
	}
}

func TestOpusDecodeEmpty(t *testing.T) {
	c, err := New(codec.Format{SampleRate: 16000, Channels: 1, FrameMs: 60})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Decode(nil); err == nil {
		t.Fatalf("expected error on empty frame")
	}
}
