package asr

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	stateIdle         = "idle"
	stateBuffering    = "buffering"
	stateTranscribing = "transcribing"
)

type BatchConfig struct {
	SampleRate int
	// PrerollFrames is how many frames before voice onset are kept, since
	// the VAD latches a few windows after speech actually starts.
	PrerollFrames int
	// MinSegmentMs drops segments shorter than this without transcribing.
	MinSegmentMs int
	// TranscribeTimeout bounds one recognition call.
	TranscribeTimeout time.Duration
}

// Batch buffers one utterance and transcribes it on Finish.
// States: idle -> buffering -> transcribing -> idle.
type Batch struct {
	tr  Transcriber
	cfg BatchConfig
	log *zap.Logger

	mu      sync.Mutex
	state   string
	preroll [][]int16
	seg     *Segment
}

func NewBatch(tr Transcriber, cfg BatchConfig, log *zap.Logger) *Batch {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 15 * time.Second
	}
	return &Batch{tr: tr, cfg: cfg, log: log, state: stateIdle}
}

func (b *Batch) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Batch) Push(_ context.Context, pcm []int16, haveVoice bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	metricFrames.Inc()
	switch b.state {
	case stateIdle:
		if !haveVoice {
			b.preroll = appendRing(b.preroll, pcm, b.cfg.PrerollFrames)
			return
		}
		b.seg = &Segment{SampleRate: b.cfg.SampleRate}
		for _, f := range b.preroll {
			b.seg.Append(f)
		}
		b.preroll = nil
		b.seg.Append(pcm)
		b.state = stateBuffering
	case stateBuffering:
		b.seg.Append(pcm)
	case stateTranscribing:
		// frames during recognition belong to no utterance
	}
}

func (b *Batch) Finish(ctx context.Context) (string, error) {
	b.mu.Lock()
	if b.state != stateBuffering {
		b.mu.Unlock()
		return "", nil
	}
	seg := b.seg
	b.seg = nil
	b.state = stateTranscribing
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.state = stateIdle
		b.mu.Unlock()
	}()

	if seg.DurationMs() < b.cfg.MinSegmentMs {
		b.log.Debug("segment too short", zap.Int("ms", seg.DurationMs()))
		metricUtterances.WithLabelValues("empty").Inc()
		return "", nil
	}
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, b.cfg.TranscribeTimeout)
	defer cancel()
	text, err := b.tr.Transcribe(tctx, seg)
	metricFinalLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricUtterances.WithLabelValues("aborted").Inc()
		return "", err
	}
	if text == "" {
		metricUtterances.WithLabelValues("empty").Inc()
	} else {
		metricUtterances.WithLabelValues("provider").Inc()
	}
	return text, nil
}

func (b *Batch) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seg = nil
	b.preroll = nil
	if b.state == stateBuffering {
		b.state = stateIdle
	}
}

func (b *Batch) Close() { b.Reset() }

// appendRing appends a copy of pcm and keeps at most n frames.
func appendRing(ring [][]int16, pcm []int16, n int) [][]int16 {
	if n <= 0 {
		return ring[:0]
	}
	f := make([]int16, len(pcm))
	copy(f, pcm)
	ring = append(ring, f)
	if len(ring) > n {
		ring = append(ring[:0], ring[len(ring)-n:]...)
	}
	return ring
}
