package tts

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yuzu/voicegw/internal/codec"
)

const (
	StateStart         = "start"
	StateSentenceStart = "sentence_start"
	StateSentenceEnd   = "sentence_end"
	StateStop          = "stop"
)

// Sink receives progress events and encoded frames, tagged with the
// sentence id they were produced for.
type Sink interface {
	State(sentenceID uint64, state, text string)
	Audio(sentenceID uint64, frame []byte) error
}

type WorkerConfig struct {
	// FramePace paces frames in real time when set, after Prebuffer frames
	// have been sent at once.
	FramePace time.Duration
	Prebuffer int
}

// Worker drains one session's queue. It is the only goroutine touching the
// segmenter, framer and encoder.
type Worker struct {
	q       *Queue
	synth   Synthesizer
	enc     codec.Codec
	sink    Sink
	current func() uint64
	cfg     WorkerConfig
	log     *zap.Logger

	seg    segmenter
	framer *codec.Framer

	sent      int
	playStart time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	idle   atomic.Bool
}

func NewWorker(q *Queue, synth Synthesizer, enc codec.Codec, sink Sink, current func() uint64, cfg WorkerConfig, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Worker{
		q:       q,
		synth:   synth,
		enc:     enc,
		sink:    sink,
		current: current,
		cfg:     cfg,
		log:     log,
		framer:  codec.NewFramer(enc.Format().SamplesPerFrame()),
	}
	w.idle.Store(true)
	return w
}

// Idle reports whether no turn is in progress.
func (w *Worker) Idle() bool { return w.idle.Load() }

// Run returns when ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		u, err := w.q.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		w.handle(ctx, u)
	}
}

// Interrupt abandons the synthesis in flight, if any.
func (w *Worker) Interrupt() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.idle.Store(true)
}

func (w *Worker) stale(id uint64) bool { return id != w.current() }

func (w *Worker) handle(ctx context.Context, u Unit) {
	if w.stale(u.SentenceID) {
		ttsStaleDropped.WithLabelValues("unit").Inc()
		return
	}
	w.idle.Store(false)

	if u.Sentence == SentenceFirst {
		w.seg.reset()
		w.framer.Reset()
		w.sent = 0
		w.sink.State(u.SentenceID, StateStart, "")
	}

	switch u.Content {
	case ContentText:
		if u.Text != "" {
			w.seg.add(u.Text)
			if raw := w.seg.next(false); raw != "" {
				w.speak(ctx, u.SentenceID, raw)
			}
		}
	case ContentFile:
		w.playFile(ctx, u)
	case ContentAction:
		w.log.Debug("tts action unit ignored", zap.String("text", u.Text))
	}

	if u.Sentence == SentenceLast {
		if raw := w.seg.next(true); raw != "" {
			w.speak(ctx, u.SentenceID, raw)
		}
		if tail := w.framer.Flush(); tail != nil {
			w.emit(ctx, u.SentenceID, tail)
		}
		if !w.stale(u.SentenceID) {
			w.sink.State(u.SentenceID, StateStop, "")
		}
		w.idle.Store(true)
	}
}

// speak synthesizes one segment. A failure skips the segment only.
func (w *Worker) speak(ctx context.Context, id uint64, raw string) {
	text := ForSpeech(raw)
	if text == "" {
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	stream, err := w.synth.Synthesize(sctx, text)
	if err != nil {
		ttsSynthesisTotal.WithLabelValues("error").Inc()
		w.log.Warn("tts synthesis failed, skipping segment", zap.String("text", text), zap.Error(err))
		return
	}
	defer stream.Close()

	w.sink.State(id, StateSentenceStart, text)
	first := true
	for {
		chunk, err := stream.Next(sctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if w.stale(id) {
				return
			}
			ttsSynthesisTotal.WithLabelValues("error").Inc()
			w.log.Warn("tts stream failed mid-segment", zap.String("text", text), zap.Error(err))
			return
		}
		if w.stale(id) {
			ttsStaleDropped.WithLabelValues("chunk").Inc()
			return
		}
		for _, f := range w.framer.Push(chunk) {
			if !w.emit(sctx, id, f) {
				return
			}
			if first {
				ttsFirstFrameMS.Observe(float64(time.Since(start).Milliseconds()))
				first = false
			}
		}
	}
	ttsSynthesisTotal.WithLabelValues("ok").Inc()
	ttsTotalDurationMS.Observe(float64(time.Since(start).Milliseconds()))
	if !w.stale(id) {
		w.sink.State(id, StateSentenceEnd, text)
	}
}

func (w *Worker) playFile(ctx context.Context, u Unit) {
	f, err := os.Open(u.File)
	if err != nil {
		w.log.Warn("tts file unavailable", zap.String("file", u.File), zap.Error(err))
		return
	}
	defer f.Close()
	pcm, rate, err := codec.ReadWAV(f)
	if err != nil {
		w.log.Warn("tts file unreadable", zap.String("file", u.File), zap.Error(err))
		return
	}
	if pcm, err = codec.Resample(pcm, rate, w.enc.Format().SampleRate); err != nil {
		w.log.Warn("tts file resample failed", zap.String("file", u.File), zap.Error(err))
		return
	}
	w.sink.State(u.SentenceID, StateSentenceStart, u.Text)
	for _, fr := range w.framer.Push(pcm) {
		if !w.emit(ctx, u.SentenceID, fr) {
			return
		}
	}
	w.sink.State(u.SentenceID, StateSentenceEnd, u.Text)
}

// emit encodes and delivers one frame; false means stop the segment.
func (w *Worker) emit(ctx context.Context, id uint64, pcm []int16) bool {
	if w.stale(id) {
		ttsStaleDropped.WithLabelValues("frame").Inc()
		return false
	}
	b, err := w.enc.Encode(pcm)
	if err != nil {
		w.log.Warn("tts encode failed", zap.Error(err))
		return true
	}
	if !w.pace(ctx) {
		return false
	}
	if w.stale(id) {
		ttsStaleDropped.WithLabelValues("frame").Inc()
		return false
	}
	if err := w.sink.Audio(id, b); err != nil {
		w.log.Debug("tts sink rejected frame", zap.Error(err))
		return false
	}
	ttsFramesTotal.Inc()
	return true
}

// pace holds each frame until its play time once the prebuffer is out.
func (w *Worker) pace(ctx context.Context) bool {
	defer func() { w.sent++ }()
	if w.cfg.FramePace <= 0 {
		return true
	}
	if w.sent == 0 {
		w.playStart = time.Now()
	}
	if w.sent < w.cfg.Prebuffer {
		return true
	}
	due := w.playStart.Add(time.Duration(w.sent-w.cfg.Prebuffer) * w.cfg.FramePace)
	d := time.Until(due)
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
