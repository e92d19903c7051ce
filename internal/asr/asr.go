// Package asr turns utterance audio into text, either once per utterance
// (Batch) or continuously over a provider stream (Streaming).
package asr

import (
	"context"
	"errors"
)

var (
	ErrFatalChannel = errors.New("asr: fatal channel error")
	ErrClosed       = errors.New("asr: stream closed")
)

// Transcriber recognises a complete segment in one call.
type Transcriber interface {
	Transcribe(ctx context.Context, seg *Segment) (string, error)
}

type FrameStatus int

const (
	StatusFirst FrameStatus = iota
	StatusContinue
	StatusLast
)

// Result is one message from a streaming recognizer.
type Result struct {
	Text string
	// Append marks Text as a delta to add to the running text rather than a
	// replacement for it.
	Append bool
	// Final is set when the provider reports recognition complete.
	Final   bool
	Code    int
	Message string
}

// Stream is one open recognition channel.
type Stream interface {
	Send(ctx context.Context, pcm []int16, status FrameStatus) error
	Recv(ctx context.Context) (Result, error)
	Close() error
}

// Streamer opens recognition channels.
type Streamer interface {
	Open(ctx context.Context) (Stream, error)
}

// Coordinator is what a session drives per decoded frame.
type Coordinator interface {
	// Push hands one decoded frame plus the VAD verdict for the utterance.
	Push(ctx context.Context, pcm []int16, haveVoice bool)
	// Finish ends the current utterance and returns its text. An empty
	// string with nil error means nothing usable was heard.
	Finish(ctx context.Context) (string, error)
	Reset()
	Close()
	State() string
}

// Segment is the audio of one utterance.
type Segment struct {
	SampleRate int
	Frames     [][]int16
}

func (s *Segment) Append(pcm []int16) {
	f := make([]int16, len(pcm))
	copy(f, pcm)
	s.Frames = append(s.Frames, f)
}

func (s *Segment) Samples() int {
	n := 0
	for _, f := range s.Frames {
		n += len(f)
	}
	return n
}

func (s *Segment) DurationMs() int {
	if s.SampleRate == 0 {
		return 0
	}
	return s.Samples() * 1000 / s.SampleRate
}

// PCM concatenates all frames.
func (s *Segment) PCM() []int16 {
	out := make([]int16, 0, s.Samples())
	for _, f := range s.Frames {
		out = append(out, f...)
	}
	return out
}
