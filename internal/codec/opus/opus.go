// Package opus implements codec.Codec on top of libopus.
package opus

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"yuzu/voicegw/internal/codec"
)

// 120ms at 48kHz is the largest frame libopus will hand back.
const maxFrameSamples = 5760

// maxPacket is the recommended upper bound for one encoded packet.
const maxPacket = 4000

type Codec struct {
	format codec.Format
	enc    *opus.Encoder
	dec    *opus.Decoder
}

func New(f codec.Format) (*Codec, error) {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	f.Name = "opus"
	enc, err := opus.NewEncoder(f.SampleRate, ch, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(f.SampleRate, ch)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &Codec{format: f, enc: enc, dec: dec}, nil
}

func (c *Codec) Format() codec.Format { return c.format }

func (c *Codec) Decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, codec.ErrShortFrame
	}
	ch := max(c.format.Channels, 1)
	pcm := make([]int16, maxFrameSamples*ch)
	n, err := c.dec.Decode(frame, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return pcm[:n*ch], nil
}

func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	if want := c.format.SamplesPerFrame(); len(pcm) != want {
		return nil, fmt.Errorf("opus encode: got %d samples, want %d", len(pcm), want)
	}
	out := make([]byte, maxPacket)
	n, err := c.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return out[:n], nil
}
