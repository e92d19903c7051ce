// Package orchestrator runs one device connection: the state machine that
// feeds audio through VAD and ASR, resolves intent, streams the LLM reply
// into the TTS worker and handles interruption and teardown.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yuzu/voicegw/internal/asr"
	"yuzu/voicegw/internal/auth"
	"yuzu/voicegw/internal/codec"
	"yuzu/voicegw/internal/dialogue"
	"yuzu/voicegw/internal/floor"
	"yuzu/voicegw/internal/tts"
	"yuzu/voicegw/internal/vad"
)

var (
	ErrClosed       = errors.New("orchestrator: session closed")
	ErrUnauthorized = errors.New("orchestrator: unauthorized")
)

type State string

const (
	StateConnecting     State = "CONNECTING"
	StateAuthenticating State = "AUTHENTICATING"
	StateActive         State = "ACTIVE"
	StateClosing        State = "CLOSING"
	StateClosed         State = "CLOSED"
)

// Transport is one device connection. Write must be safe for concurrent use.
type Transport interface {
	Read(ctx context.Context) (binary bool, data []byte, err error)
	Write(ctx context.Context, binary bool, data []byte) error
	Close(reason string) error
}

const writeTimeout = 5 * time.Second

type Session struct {
	ID       string
	Identity auth.Identity

	tr   Transport
	deps Deps
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
	ran    atomic.Bool

	mu          sync.Mutex
	state       State
	turnCancel  context.CancelFunc
	closeAfter  uint64
	closeReason string

	sentenceID   atomic.Uint64
	firstAudio   atomic.Uint64
	lastActivity atomic.Int64
	userTurns    atomic.Int64
	turnStarted  atomic.Int64

	// ingest state, owned by the read loop
	vadState  *vad.State
	asr       asr.Coordinator
	dec       codec.Codec
	mode      string
	listening bool
	prevVoice bool

	dlg    *dialogue.Dialogue
	memory string
	queue  *tts.Queue
	worker *tts.Worker
	floor  *floor.Manager
}

// New builds a session in CONNECTING state. The caller starts it with Run.
func New(id string, ident auth.Identity, tr Transport, deps Deps, opts Options, log *zap.Logger) (*Session, error) {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session_id", id), zap.String("device_id", ident.DeviceID))

	dec, err := deps.NewCodec(opts.InputFormat)
	if err != nil {
		return nil, fmt.Errorf("input codec: %w", err)
	}
	enc, err := deps.NewCodec(opts.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("output codec: %w", err)
	}

	s := &Session{
		ID:       id,
		Identity: ident,
		tr:       tr,
		deps:     deps,
		opts:     opts,
		log:      log,
		done:     make(chan struct{}),
		state:    StateConnecting,
		vadState: vad.NewState(),
		asr:      deps.NewASR(log),
		mode:     modeAuto,
		dlg:      dialogue.New(opts.Prompt),
		queue:    tts.NewQueue(),
		floor:    floor.New(),
	}
	s.dec = s.inputCodec(dec)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.group, s.ctx = errgroup.WithContext(s.ctx)
	s.floor.GuardMs = opts.BargeInGuard.Milliseconds()
	s.worker = tts.NewWorker(s.queue, deps.TTS, enc, sink{s}, s.sentenceID.Load,
		tts.WorkerConfig{FramePace: opts.FramePace, Prebuffer: opts.Prebuffer}, log.With(zap.String("component", "tts")))
	if deps.Store != nil {
		deps.Store.SetState(id, string(StateConnecting))
	}
	return s, nil
}

// inputCodec resamples decoded audio to the VAD rate when the device sends
// a different one.
func (s *Session) inputCodec(c codec.Codec) codec.Codec {
	want := s.deps.VAD.Config().SampleRate
	if c.Format().SampleRate == want {
		return c
	}
	return resampling{Codec: c, to: want}
}

type resampling struct {
	codec.Codec
	to int
}

func (r resampling) Decode(frame []byte) ([]int16, error) {
	pcm, err := r.Codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	return codec.Resample(pcm, r.Codec.Format().SampleRate, r.to)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	s.setStateLocked(to)
	s.mu.Unlock()
}

func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	metricStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	if to == StateActive {
		metricActiveSessions.Inc()
	} else if from == StateActive {
		metricActiveSessions.Dec()
	}
	if s.deps.Store != nil {
		s.deps.Store.SetState(s.ID, string(to))
	}
	s.log.Debug("session state", zap.String("from", string(from)), zap.String("to", string(to)))
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close asks the session to end. It does not wait; see Done.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closeReason == "" {
		s.closeReason = reason
	}
	s.mu.Unlock()
	s.cancel()
	_ = s.tr.Close(reason)
}

// Run authenticates the connection and serves it until the transport fails,
// the parent context ends or Close is called.
func (s *Session) Run(parent context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrClosed
	}
	defer close(s.done)
	stop := context.AfterFunc(parent, s.cancel)
	defer stop()

	s.setState(StateAuthenticating)
	if s.deps.Auth != nil {
		if err := s.deps.Auth(s.Identity); err != nil {
			metricAuthFailures.Inc()
			s.log.Warn("authentication failed", zap.Error(err))
			s.event("auth_failed", map[string]any{"error": err.Error()})
			s.cancel()
			_ = s.tr.Close("authentication failed")
			s.setState(StateClosed)
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	if s.ctx.Err() != nil {
		s.setState(StateClosed)
		return ErrClosed
	}

	s.setState(StateActive)
	s.touch()
	s.event("session_active", nil)
	if s.deps.Memory != nil {
		s.memory = s.deps.Memory.Load(s.ctx, s.Identity.DeviceID)
	}

	s.group.Go(func() error { return s.worker.Run(s.ctx) })
	if s.opts.IdleClose > 0 {
		s.group.Go(func() error { return s.idleWatch(s.ctx) })
	}

	err := s.readLoop(s.ctx)
	s.teardown()
	if s.reason() != "" || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		binary, data, err := s.tr.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if binary {
			s.onAudio(ctx, data)
			continue
		}
		s.onText(ctx, data)
	}
}

// teardown cancels everything the session started and waits at most
// CloseTimeout for it to stop.
func (s *Session) teardown() {
	s.mu.Lock()
	s.setStateLocked(StateClosing)
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.worker.Interrupt()
	s.queue.Close()
	s.asr.Close()
	_ = s.tr.Close("session closed")

	waited := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(waited)
	}()
	t := time.NewTimer(s.opts.CloseTimeout)
	defer t.Stop()
	select {
	case <-waited:
	case <-t.C:
		metricTeardownTimeouts.Inc()
		s.log.Warn("teardown timed out, abandoning session tasks", zap.Duration("timeout", s.opts.CloseTimeout))
	}
	s.vadState.Reset()

	if s.deps.Memory != nil && s.userTurns.Load() > 0 {
		msgs := s.dlg.Messages()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.deps.Memory.Update(ctx, s.Identity.DeviceID, msgs); err != nil {
				s.log.Warn("memory update on close failed", zap.Error(err))
			}
		}()
	}

	s.setState(StateClosed)
	s.event("session_closed", map[string]any{"reason": s.reason()})
	s.log.Info("session closed", zap.String("reason", s.reason()), zap.Int64("turns", s.userTurns.Load()))
}

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixMilli()) }

func (s *Session) idleWatch(ctx context.Context) error {
	tick := min(s.opts.IdleClose/4, time.Second)
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		idle := time.Since(time.UnixMilli(s.lastActivity.Load()))
		if idle < s.opts.IdleClose || !s.worker.Idle() || s.turnActive() {
			continue
		}
		s.log.Info("idle timeout", zap.Duration("idle", idle))
		s.touch()
		s.announce(idleGoodbye, true)
	}
}

// pending reports a turn still generating or audio still queued.
func (s *Session) pending() bool { return s.turnActive() || !s.worker.Idle() }

func (s *Session) turnActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCancel != nil
}

func (s *Session) send(m outbound) {
	m.SessionID = s.ID
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := s.tr.Write(ctx, false, b); err != nil {
		s.log.Debug("send failed", zap.String("type", m.Type), zap.Error(err))
	}
}

func (s *Session) event(typ string, payload map[string]any) {
	if s.deps.Store != nil {
		s.deps.Store.AppendEvent(s.ID, typ, payload)
	}
}
