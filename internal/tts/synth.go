package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"yuzu/voicegw/internal/codec"
)

// AudioStream yields PCM16 chunks of arbitrary size until io.EOF.
type AudioStream interface {
	Next(ctx context.Context) ([]int16, error)
	Close() error
}

// Synthesizer produces audio at the sample rate it was configured with.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// PCMStream replays fixed chunks.
type PCMStream struct{ chunks [][]int16 }

func NewPCMStream(chunks ...[]int16) *PCMStream { return &PCMStream{chunks: chunks} }

func (p *PCMStream) Next(context.Context) ([]int16, error) {
	if len(p.chunks) == 0 {
		return nil, io.EOF
	}
	c := p.chunks[0]
	p.chunks = p.chunks[1:]
	return c, nil
}

func (p *PCMStream) Close() error { return nil }

// HTTPSynthesizer posts {"text","voice","sample_rate","format":"pcm"} and
// reads either a raw PCM16LE stream or, when the server answers audio/wav,
// a WAV file resampled to SampleRate.
type HTTPSynthesizer struct {
	URL        string
	APIKey     string
	Voice      string
	SampleRate int
	Client     *http.Client
}

func NewHTTPSynthesizer(url, apiKey, voice string, sampleRate int) *HTTPSynthesizer {
	return &HTTPSynthesizer{URL: url, APIKey: apiKey, Voice: voice, SampleRate: sampleRate, Client: http.DefaultClient}
}

func (h *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (AudioStream, error) {
	body, _ := json.Marshal(map[string]any{
		"text":        text,
		"voice":       h.Voice,
		"sample_rate": h.SampleRate,
		"format":      "pcm",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "audio/pcm, audio/wav")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("tts http status=%d body=%s", resp.StatusCode, string(b))
	}
	if strings.Contains(resp.Header.Get("content-type"), "wav") {
		defer resp.Body.Close()
		pcm, rate, err := codec.ReadWAV(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("tts wav: %w", err)
		}
		if pcm, err = codec.Resample(pcm, rate, h.SampleRate); err != nil {
			return nil, err
		}
		return NewPCMStream(pcm), nil
	}
	return &bodyStream{body: resp.Body, buf: make([]byte, 4096)}, nil
}

// bodyStream carries an odd trailing byte across reads.
type bodyStream struct {
	body  io.ReadCloser
	buf   []byte
	carry []byte
}

func (b *bodyStream) Next(ctx context.Context) ([]int16, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := b.body.Read(b.buf)
		if n > 0 {
			data := append(b.carry, b.buf[:n]...)
			even := len(data) &^ 1
			out := codec.BytesToInt16(data[:even])
			b.carry = append([]byte(nil), data[even:]...)
			if len(out) > 0 {
				return out, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (b *bodyStream) Close() error { return b.body.Close() }
