// Package codec converts between device audio frames and linear PCM16.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortFrame = errors.New("codec: truncated frame")

// Format describes one side of the audio link.
type Format struct {
	Name       string // "opus" | "pcm"
	SampleRate int
	Channels   int
	FrameMs    int
}

func (f Format) channels() int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

// SamplesPerFrame counts interleaved samples in one frame.
func (f Format) SamplesPerFrame() int {
	return f.SampleRate * f.FrameMs / 1000 * f.channels()
}

// Duration of n interleaved samples in milliseconds.
func (f Format) Millis(n int) int {
	if f.SampleRate == 0 {
		return 0
	}
	return n * 1000 / (f.SampleRate * f.channels())
}

// Codec decodes inbound frames and encodes exactly one frame of PCM at a time.
// Implementations keep codec state between calls and are not safe for
// concurrent use of the same direction.
type Codec interface {
	Decode(frame []byte) ([]int16, error)
	Encode(pcm []int16) ([]byte, error)
	Format() Format
}

// PCM passes little-endian PCM16 through unchanged.
type PCM struct{ format Format }

func NewPCM(f Format) *PCM {
	f.Name = "pcm"
	return &PCM{format: f}
}

func (c *PCM) Format() Format { return c.format }

func (c *PCM) Decode(frame []byte) ([]int16, error) {
	if len(frame)%2 != 0 {
		return nil, ErrShortFrame
	}
	return BytesToInt16(frame), nil
}

func (c *PCM) Encode(pcm []int16) ([]byte, error) {
	if want := c.format.SamplesPerFrame(); want > 0 && len(pcm) != want {
		return nil, fmt.Errorf("pcm encode: got %d samples, want %d", len(pcm), want)
	}
	return Int16ToBytes(pcm), nil
}

func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func Int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
