// Package llm is the language-model boundary: a provider returns a lazy,
// single-use stream of text and tool-call deltas.
package llm

import (
	"context"
	"io"

	"yuzu/voicegw/internal/dialogue"
)

// Delta is one element of a response stream. Exactly one field is set.
type Delta struct {
	Text     string
	ToolCall *dialogue.ToolCall
}

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	Messages []dialogue.Message
	Tools    []Tool
	// Model overrides the provider default when set.
	Model     string
	MaxTokens int
}

// Stream is not restartable. Next returns io.EOF once the provider has
// completed. Close may be called at any time to abandon the stream and
// must not block on the provider.
type Stream interface {
	Next(ctx context.Context) (Delta, error)
	Close() error
}

type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	Complete(ctx context.Context, req Request) (string, error)
}

// SliceStream replays fixed deltas; it backs offline providers and tests.
type SliceStream struct {
	deltas []Delta
	closed bool
}

func NewSliceStream(deltas ...Delta) *SliceStream { return &SliceStream{deltas: deltas} }

func (s *SliceStream) Next(ctx context.Context) (Delta, error) {
	if err := ctx.Err(); err != nil {
		return Delta{}, err
	}
	if s.closed || len(s.deltas) == 0 {
		return Delta{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
