package asr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	stateDisconnected = "disconnected"
	stateConnecting   = "connecting"
	stateStreaming    = "streaming"
	stateDraining     = "draining"
)

type StreamConfig struct {
	PrerollFrames int
	// FinalTimeout bounds each read once the last frame has been sent.
	FinalTimeout time.Duration
	// IdleTimeout bounds each read while audio is still flowing.
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	// FatalCodes are provider codes after which the channel is unusable.
	FatalCodes []int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PrerollFrames <= 0 {
		c.PrerollFrames = 10
	}
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = 3 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.FatalCodes == nil {
		c.FatalCodes = []int{10114, 10160}
	}
	return c
}

type outcome struct {
	text   string
	source string
	err    error
}

// Streaming keeps one provider stream per utterance.
// States: disconnected -> connecting -> streaming -> draining -> disconnected.
type Streaming struct {
	streamer Streamer
	cfg      StreamConfig
	log      *zap.Logger

	mu      sync.Mutex
	state   string
	preroll [][]int16
	stream  Stream
	tracker *Tracker
	result  chan outcome
	// aborted is set when connecting failed; the utterance is skipped until Finish.
	aborted bool
	// dropped is set when the stream ended before Finish; its text is kept.
	dropped bool
	// failed is set when the provider reported a fatal code; the stream is
	// already closed and Finish reports ErrFatalChannel.
	failed bool
}

func NewStreaming(s Streamer, cfg StreamConfig, log *zap.Logger) *Streaming {
	if log == nil {
		log = zap.NewNop()
	}
	return &Streaming{streamer: s, cfg: cfg.withDefaults(), log: log, state: stateDisconnected}
}

func (s *Streaming) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Streaming) Push(ctx context.Context, pcm []int16, haveVoice bool) {
	metricFrames.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateDisconnected:
		if !haveVoice || s.aborted {
			s.preroll = appendRing(s.preroll, pcm, s.cfg.PrerollFrames)
			return
		}
		s.preroll = appendRing(s.preroll, pcm, s.cfg.PrerollFrames)
		s.connectLocked(ctx)
	case stateStreaming:
		if s.dropped {
			return
		}
		if err := s.stream.Send(ctx, pcm, StatusContinue); err != nil {
			s.log.Warn("asr send failed", zap.Error(err))
			s.dropped = true
		}
	}
}

// connectLocked opens a stream and replays the pre-roll, first frame
// marked FIRST.
func (s *Streaming) connectLocked(ctx context.Context) {
	s.state = stateConnecting
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	start := time.Now()
	st, err := s.streamer.Open(cctx)
	if err != nil {
		metricConnects.WithLabelValues("error").Inc()
		s.log.Warn("asr connect failed", zap.Error(err))
		s.state = stateDisconnected
		s.aborted = true
		return
	}
	metricConnects.WithLabelValues("ok").Inc()
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))

	s.stream = st
	s.tracker = &Tracker{}
	s.result = make(chan outcome, 1)
	s.dropped = false
	s.state = stateStreaming

	status := StatusFirst
	for _, f := range s.preroll {
		if err := st.Send(ctx, f, status); err != nil {
			s.log.Warn("asr preroll send failed", zap.Error(err))
			s.dropped = true
			break
		}
		status = StatusContinue
	}
	s.preroll = nil
	go s.read(st, s.tracker, s.result)
}

func (s *Streaming) fatal(code int) bool {
	for _, c := range s.cfg.FatalCodes {
		if c == code {
			return true
		}
	}
	return false
}

func (s *Streaming) read(st Stream, tr *Tracker, out chan<- outcome) {
	for {
		timeout := s.cfg.IdleTimeout
		if tr.LastSent() {
			timeout = s.cfg.FinalTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		r, err := st.Recv(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && !tr.LastSent() {
				continue
			}
			out <- outcome{text: tr.Fallback(), source: "fallback"}
			return
		}
		if r.Code != 0 {
			isFatal := s.fatal(r.Code)
			if isFatal {
				metricProviderErrors.WithLabelValues("true").Inc()
				s.log.Warn("asr fatal provider code", zap.Int("code", r.Code), zap.String("message", r.Message))
				out <- outcome{err: ErrFatalChannel, source: "fatal"}
				s.failStream(st)
				return
			}
			metricProviderErrors.WithLabelValues("false").Inc()
			s.log.Debug("asr provider code", zap.Int("code", r.Code), zap.String("message", r.Message))
			continue
		}
		tr.Observe(r)
		if r.Final && tr.LastSent() {
			out <- outcome{text: tr.Final(), source: "provider"}
			return
		}
	}
}

// failStream closes st right away when it is still the live stream. The
// rest of the utterance is neither sent nor reconnected; Finish reports the
// failure. A stream already draining is left to Finish.
func (s *Streaming) failStream(st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != st || s.state != stateStreaming {
		return
	}
	s.resetLocked()
	s.aborted = true
	s.failed = true
}

// Finish sends the LAST frame and waits for the provider to complete, at
// most FinalTimeout plus whatever ctx allows.
func (s *Streaming) Finish(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != stateStreaming {
		aborted, failed := s.aborted, s.failed
		s.resetLocked()
		s.mu.Unlock()
		if failed {
			metricUtterances.WithLabelValues("fatal").Inc()
			return "", ErrFatalChannel
		}
		if aborted {
			metricUtterances.WithLabelValues("aborted").Inc()
		}
		return "", nil
	}
	st, tr, res := s.stream, s.tracker, s.result
	s.state = stateDraining
	tr.MarkLastSent()
	if !s.dropped {
		if err := st.Send(ctx, nil, StatusLast); err != nil {
			s.log.Warn("asr last frame send failed", zap.Error(err))
		}
	}
	s.mu.Unlock()

	start := time.Now()
	var o outcome
	timer := time.NewTimer(s.cfg.FinalTimeout)
	select {
	case o = <-res:
	case <-timer.C:
		o = outcome{text: tr.Fallback(), source: "fallback"}
	case <-ctx.Done():
		o = outcome{text: tr.Fallback(), source: "fallback"}
	}
	timer.Stop()
	metricFinalLatencyMS.Observe(float64(time.Since(start).Milliseconds()))

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()

	if o.err != nil {
		metricUtterances.WithLabelValues(o.source).Inc()
		return "", o.err
	}
	if o.text == "" {
		metricUtterances.WithLabelValues("empty").Inc()
	} else {
		metricUtterances.WithLabelValues(o.source).Inc()
	}
	return o.text, nil
}

func (s *Streaming) resetLocked() {
	if s.stream != nil {
		_ = s.stream.Close()
	}
	s.stream = nil
	s.tracker = nil
	s.result = nil
	s.preroll = nil
	s.aborted = false
	s.dropped = false
	s.failed = false
	s.state = stateDisconnected
}

func (s *Streaming) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *Streaming) Close() { s.Reset() }
