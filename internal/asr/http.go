package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yuzu/voicegw/internal/codec"
)

// HTTPTranscriber posts the segment as a WAV file and expects {"text": "..."}.
type HTTPTranscriber struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewHTTPTranscriber(url, apiKey string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

func (h *HTTPTranscriber) Transcribe(ctx context.Context, seg *Segment) (string, error) {
	var body bytes.Buffer
	if err := codec.WriteWAV(&body, seg.PCM(), seg.SampleRate); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", "audio/wav")
	req.Header.Set("accept", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("asr http status=%d body=%s", resp.StatusCode, string(b))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("asr http decode: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, seg *Segment) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, seg *Segment) (string, error) {
	return f(ctx, seg)
}
