package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yuzu/voicegw/internal/asr"
	"yuzu/voicegw/internal/auth"
	"yuzu/voicegw/internal/codec"
	"yuzu/voicegw/internal/dialogue"
	"yuzu/voicegw/internal/intent"
	"yuzu/voicegw/internal/llm"
	"yuzu/voicegw/internal/quota"
	"yuzu/voicegw/internal/store"
	"yuzu/voicegw/internal/tools"
	"yuzu/voicegw/internal/tts"
	"yuzu/voicegw/internal/vad"
)

var pcm16k = codec.Format{Name: "pcm", SampleRate: 16000, Channels: 1, FrameMs: 60}

type inFrame struct {
	binary bool
	data   []byte
}

type fakeTransport struct {
	in     chan inFrame
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	msgs   []outbound
	frames int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan inFrame, 1024), closed: make(chan struct{})}
}

func (f *fakeTransport) Read(ctx context.Context) (bool, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.binary, fr.data, nil
	case <-f.closed:
		return false, nil, io.EOF
	case <-ctx.Done():
		return false, nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, binary bool, data []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if binary {
		f.frames++
		return nil
	}
	var m outbound
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeTransport) Close(string) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sendJSON(v any) {
	b, _ := json.Marshal(v)
	f.in <- inFrame{data: b}
}

func (f *fakeTransport) sendFrames(n int, value int16) {
	pcm := make([]int16, pcm16k.SamplesPerFrame())
	for i := range pcm {
		pcm[i] = value
	}
	b := codec.Int16ToBytes(pcm)
	for i := 0; i < n; i++ {
		f.in <- inFrame{binary: true, data: b}
	}
}

func (f *fakeTransport) find(pred func(outbound) bool) (outbound, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if pred(m) {
			return m, true
		}
	}
	return outbound{}, false
}

func (f *fakeTransport) count(pred func(outbound) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if pred(m) {
			n++
		}
	}
	return n
}

func ttsStop(m outbound) bool { return m.Type == msgTTS && m.State == tts.StateStop }

type fakeLLM struct {
	mu      sync.Mutex
	replies []func() llm.Stream
	reqs    []llm.Request
}

func (f *fakeLLM) script(r ...func() llm.Stream) { f.replies = append(f.replies, r...) }

func (f *fakeLLM) Stream(_ context.Context, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.replies) == 0 {
		return llm.NewSliceStream(llm.Delta{Text: "OK."}), nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r(), nil
}

func (f *fakeLLM) Complete(context.Context, llm.Request) (string, error) { return "", nil }

func (f *fakeLLM) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.reqs...)
}

func text(s string) func() llm.Stream {
	return func() llm.Stream { return llm.NewSliceStream(llm.Delta{Text: s}) }
}

// blockingStream yields its deltas and then waits for cancellation.
type blockingStream struct {
	deltas    []llm.Delta
	cancelled chan struct{}
	once      sync.Once
}

func newBlockingStream(deltas ...llm.Delta) *blockingStream {
	return &blockingStream{deltas: deltas, cancelled: make(chan struct{})}
}

func (b *blockingStream) Next(ctx context.Context) (llm.Delta, error) {
	if len(b.deltas) > 0 {
		d := b.deltas[0]
		b.deltas = b.deltas[1:]
		return d, nil
	}
	<-ctx.Done()
	b.once.Do(func() { close(b.cancelled) })
	return llm.Delta{}, ctx.Err()
}

func (b *blockingStream) Close() error { return nil }

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	// block holds every stream open after its first chunk until cancelled
	block     bool
	cancelled chan struct{}
	once      sync.Once
	// hang ignores cancellation entirely
	hang chan struct{}
}

func newFakeSynth() *fakeSynth { return &fakeSynth{cancelled: make(chan struct{})} }

func (f *fakeSynth) Synthesize(_ context.Context, text string) (tts.AudioStream, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.block || f.hang != nil {
		return &heldAudio{f: f}, nil
	}
	return tts.NewPCMStream(make([]int16, 960)), nil
}

func (f *fakeSynth) spoken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.texts, " | ")
}

type heldAudio struct {
	f    *fakeSynth
	sent bool
}

func (h *heldAudio) Next(ctx context.Context) ([]int16, error) {
	if !h.sent {
		h.sent = true
		return make([]int16, 960), nil
	}
	if h.f.hang != nil {
		<-h.f.hang
		return nil, io.EOF
	}
	<-ctx.Done()
	h.f.once.Do(func() { close(h.f.cancelled) })
	return nil, ctx.Err()
}

func (h *heldAudio) Close() error { return nil }

type resolverFunc func(context.Context, intent.Input) (intent.Decision, error)

func (f resolverFunc) Resolve(ctx context.Context, in intent.Input) (intent.Decision, error) {
	return f(ctx, in)
}

type harness struct {
	s     *Session
	tr    *fakeTransport
	llm   *fakeLLM
	synth *fakeSynth
	asr   *countingTranscriber
	store *store.Store
	err   chan error
}

type countingTranscriber struct {
	mu   sync.Mutex
	segs []int
	text string
}

func (c *countingTranscriber) Transcribe(_ context.Context, seg *asr.Segment) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, seg.DurationMs())
	return c.text, nil
}

func (c *countingTranscriber) calls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.segs...)
}

func voiceClassifier(w []int16) float64 {
	if w[0] != 0 {
		return 1
	}
	return 0
}

func newHarness(t *testing.T, mutate func(*Deps, *Options)) *harness {
	t.Helper()
	h := &harness{
		tr:    newFakeTransport(),
		llm:   &fakeLLM{},
		synth: newFakeSynth(),
		asr:   &countingTranscriber{text: "turn on the light"},
		store: store.New(),
		err:   make(chan error, 1),
	}
	det := vad.New(vad.Config{SampleRate: 16000, SilenceMs: 1000, FrameSamples: 512, Window: 5, MinVoiceFrames: 3},
		vad.ClassifierFunc(voiceClassifier), nil)
	deps := Deps{
		VAD: det,
		NewASR: func(*zap.Logger) asr.Coordinator {
			return asr.NewBatch(h.asr, asr.BatchConfig{SampleRate: 16000, PrerollFrames: 10}, nil)
		},
		NewCodec: func(f codec.Format) (codec.Codec, error) { return codec.NewPCM(f), nil },
		Intent:   intent.New(intent.ModeNone, nil, "", 0, nil, nil),
		LLM:      h.llm,
		Tools:    tools.Builtins(),
		TTS:      h.synth,
		Store:    h.store,
	}
	opts := Options{
		Prompt:       "You are a test assistant.",
		InputFormat:  pcm16k,
		OutputFormat: pcm16k,
		CloseTimeout: time.Second,
		ExitCommands: []string{"goodbye"},
		WakeupWords:  []string{"hey yuzu"},
	}
	if mutate != nil {
		mutate(&deps, &opts)
	}
	s, err := New("sess-1", auth.Identity{DeviceID: "dev-1", ClientID: "cli-1"}, h.tr, deps, opts, nil)
	require.NoError(t, err)
	h.store.CreateSession(store.Session{ID: s.ID, DeviceID: "dev-1"})
	h.s = s
	go func() { h.err <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Close("test done")
		select {
		case <-s.Done():
		case <-time.After(3 * time.Second):
			t.Errorf("session did not stop")
		}
	})
	require.Eventually(t, func() bool { return s.State() == StateActive }, time.Second, time.Millisecond)
	return h
}

func (h *harness) waitFor(t *testing.T, pred func(outbound) bool) outbound {
	t.Helper()
	var got outbound
	require.Eventually(t, func() bool {
		m, ok := h.tr.find(pred)
		got = m
		return ok
	}, 3*time.Second, 2*time.Millisecond)
	return got
}

// sync waits until every frame sent so far has been processed.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	before := h.tr.count(func(m outbound) bool { return m.Type == msgHello })
	h.tr.sendJSON(map[string]any{"type": "hello", "version": 1})
	require.Eventually(t, func() bool {
		return h.tr.count(func(m outbound) bool { return m.Type == msgHello }) > before
	}, 3*time.Second, 2*time.Millisecond)
}

func (h *harness) detect(text string) {
	h.tr.sendJSON(map[string]any{"type": "listen", "state": "detect", "text": text})
}

func TestSilenceVoiceSilenceProducesOneUtterance(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.script(text("Sure, done."))

	h.tr.sendFrames(50, 0)    // 3s silence
	h.tr.sendFrames(17, 3000) // ~1s voice
	h.tr.sendFrames(25, 0)    // 1.5s silence
	h.sync(t)

	stt := h.waitFor(t, func(m outbound) bool { return m.Type == msgSTT })
	assert.Equal(t, "turn on the light", stt.Text)
	assert.Equal(t, "sess-1", stt.SessionID)
	h.waitFor(t, ttsStop)

	calls := h.asr.calls()
	require.Len(t, calls, 1)
	assert.GreaterOrEqual(t, calls[0], 1000)
	assert.LessOrEqual(t, calls[0], 600+1020+1500)

	assert.Equal(t, "Sure, done", h.synth.spoken())
	msgs := h.s.dlg.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, dialogue.RoleUser, msgs[1].Role)
	assert.Equal(t, "Sure, done.", msgs[2].Content)

	h.tr.mu.Lock()
	frames := h.tr.frames
	h.tr.mu.Unlock()
	assert.Equal(t, 1, frames)
}

func TestHelloNegotiatesAndReplies(t *testing.T) {
	h := newHarness(t, nil)
	h.tr.sendJSON(map[string]any{
		"type": "hello", "version": 1, "transport": "websocket",
		"audio_params": map[string]any{"format": "pcm", "sample_rate": 16000, "channels": 1, "frame_duration": 60},
	})
	m := h.waitFor(t, func(m outbound) bool { return m.Type == msgHello })
	assert.Equal(t, "sess-1", m.SessionID)
	assert.Equal(t, "websocket", m.Transport)
	require.NotNil(t, m.AudioParams)
	assert.Equal(t, 16000, m.AudioParams.SampleRate)
	assert.Equal(t, 60, m.AudioParams.FrameDuration)
}

func TestNewUtteranceSupersedesRunningTurn(t *testing.T) {
	h := newHarness(t, nil)
	story := newBlockingStream(llm.Delta{Text: "Once upon a time"})
	h.llm.script(func() llm.Stream { return story }, text("It is noon."))

	h.detect("tell me a story")
	require.Eventually(t, func() bool { return len(h.llm.requests()) == 1 }, time.Second, time.Millisecond)
	h.detect("what time is it")

	select {
	case <-story.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("first LLM stream was not cancelled")
	}
	h.waitFor(t, ttsStop)
	assert.Contains(t, h.synth.spoken(), "It is noon")
	assert.NotContains(t, h.synth.spoken(), "Once upon a time")

	msgs := h.s.dlg.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, dialogue.RoleAssistant, last.Role)
	assert.Equal(t, "It is noon.", last.Content)
}

func TestBargeInStopsPlayback(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.block = true
	h.llm.script(text("Here is a long answer."))

	h.detect("explain something")
	require.Eventually(t, func() bool { return h.s.floor.Speaking() }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		h.tr.mu.Lock()
		defer h.tr.mu.Unlock()
		return h.tr.frames > 0
	}, 2*time.Second, time.Millisecond)
	before := h.s.sentenceID.Load()

	h.tr.sendFrames(3, 3000)

	select {
	case <-h.synth.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("synthesis was not cancelled by barge-in")
	}
	assert.Greater(t, h.s.sentenceID.Load(), before)
	assert.False(t, h.s.floor.Speaking())
	evs := h.store.ListEvents("sess-1")
	found := false
	for _, e := range evs {
		if e.Type == "interrupted" && e.Payload["reason"] == "barge_in" {
			found = true
		}
	}
	assert.True(t, found, "expected a barge_in event")
}

func TestVoiceDuringGenerationInterrupts(t *testing.T) {
	h := newHarness(t, nil)
	stream := newBlockingStream(llm.Delta{Text: "Let me think"})
	h.llm.script(func() llm.Stream { return stream })

	h.detect("hard question")
	require.Eventually(t, func() bool { return len(h.llm.requests()) == 1 }, time.Second, time.Millisecond)
	before := h.s.sentenceID.Load()
	require.False(t, h.s.floor.Speaking())

	h.tr.sendFrames(3, 3000)

	select {
	case <-stream.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("voice during generation did not cancel the LLM stream")
	}
	assert.Greater(t, h.s.sentenceID.Load(), before)
	h.tr.mu.Lock()
	frames := h.tr.frames
	h.tr.mu.Unlock()
	assert.Zero(t, frames)
	var found bool
	for _, e := range h.store.ListEvents("sess-1") {
		found = found || (e.Type == "interrupted" && e.Payload["reason"] == "barge_in")
	}
	assert.True(t, found, "expected a barge_in event")
}

func TestAbortCancelsLLM(t *testing.T) {
	h := newHarness(t, nil)
	stream := newBlockingStream(llm.Delta{Text: "Let me think"})
	h.llm.script(func() llm.Stream { return stream })

	h.detect("hard question")
	require.Eventually(t, func() bool { return len(h.llm.requests()) == 1 }, time.Second, time.Millisecond)
	h.tr.sendJSON(map[string]any{"type": "abort"})

	select {
	case <-stream.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not cancel the LLM stream")
	}
	h.waitFor(t, ttsStop)
}

func TestQuotaRefusesTurn(t *testing.T) {
	counter := quota.NewMemCounter()
	require.NoError(t, counter.Add(context.Background(), "dev-1", 100))
	h := newHarness(t, func(d *Deps, o *Options) {
		d.Quota = counter
		o.DailyChars = 50
	})

	h.detect("hello there")
	h.waitFor(t, ttsStop)
	assert.Empty(t, h.llm.requests())
	assert.Contains(t, h.synth.spoken(), "today's conversation allowance")
}

func TestOutputIsChargedToQuota(t *testing.T) {
	counter := quota.NewMemCounter()
	h := newHarness(t, func(d *Deps, o *Options) {
		d.Quota = counter
		o.DailyChars = 10
	})
	h.llm.script(text("Twelve chars"))

	h.detect("hi")
	h.waitFor(t, ttsStop)
	over, err := counter.Exceeded(context.Background(), "dev-1", 10)
	require.NoError(t, err)
	assert.True(t, over)
}

func TestExitCommandClosesAfterGoodbye(t *testing.T) {
	h := newHarness(t, nil)
	h.detect("Goodbye!")

	select {
	case <-h.s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close after goodbye")
	}
	assert.Equal(t, StateClosed, h.s.State())
	assert.Contains(t, h.synth.spoken(), "Goodbye")
	assert.Empty(t, h.llm.requests())
	assert.NoError(t, <-h.err)
}

func TestWakeWordGreets(t *testing.T) {
	h := newHarness(t, nil)
	h.detect("Hey, Yuzu!")
	h.waitFor(t, ttsStop)
	assert.Contains(t, h.synth.spoken(), "I'm listening")
	assert.Empty(t, h.llm.requests())
}

func TestIntentToolFeedsResultBackToLLM(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Intent = resolverFunc(func(context.Context, intent.Input) (intent.Decision, error) {
			return intent.Decision{Kind: intent.KindTools, Calls: []intent.Call{{Name: "get_time", Arguments: "{}"}}}, nil
		})
	})
	h.llm.script(text("It's a quarter past three."))

	h.detect("what time is it")
	h.waitFor(t, ttsStop)

	reqs := h.llm.requests()
	require.Len(t, reqs, 1)
	var sawTool bool
	for _, m := range reqs[0].Messages {
		if m.Role == dialogue.RoleTool && m.ToolCallID != "" && m.Content != "" {
			sawTool = true
		}
	}
	assert.True(t, sawTool, "tool result should be in the LLM history")
	assert.Contains(t, h.synth.spoken(), "It's a quarter past three")
}

func TestStreamedToolCallRunsSecondRound(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Intent = intent.New(intent.ModeFunctionCall, nil, "", 0, nil, nil)
	})
	h.llm.script(
		func() llm.Stream {
			return llm.NewSliceStream(llm.Delta{ToolCall: &dialogue.ToolCall{ID: "c1", Name: "get_time", Arguments: "{}"}})
		},
		text("It is late."),
	)

	h.detect("what time is it")
	h.waitFor(t, ttsStop)

	reqs := h.llm.requests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].Tools)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, dialogue.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Contains(t, h.synth.spoken(), "It is late")
}

func TestUnknownToolApologises(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Intent = resolverFunc(func(context.Context, intent.Input) (intent.Decision, error) {
			return intent.Decision{Kind: intent.KindTools, Calls: []intent.Call{{Name: "play_music", Arguments: "{}"}}}, nil
		})
	})
	h.detect("play some jazz")
	h.waitFor(t, ttsStop)
	assert.Empty(t, h.llm.requests())
	assert.Contains(t, h.synth.spoken(), "Sorry")
	assert.Equal(t, StateActive, h.s.State())
}

func TestIntentErrorFallsBackToChat(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Intent = resolverFunc(func(context.Context, intent.Input) (intent.Decision, error) {
			return intent.Chat, errors.New("intent model down")
		})
	})
	h.llm.script(text("Still here."))
	h.detect("are you there")
	h.waitFor(t, ttsStop)
	assert.Len(t, h.llm.requests(), 1)
	assert.Contains(t, h.synth.spoken(), "Still here")
}

func TestIntentSeesRecentHistory(t *testing.T) {
	var mu sync.Mutex
	var inputs []intent.Input
	h := newHarness(t, func(d *Deps, o *Options) {
		o.IntentHistory = 2
		d.Intent = resolverFunc(func(_ context.Context, in intent.Input) (intent.Decision, error) {
			mu.Lock()
			inputs = append(inputs, in)
			mu.Unlock()
			return intent.Chat, nil
		})
	})
	h.llm.script(text("A."), text("B."), text("C."))

	h.detect("one")
	require.Eventually(t, func() bool { return h.s.dlg.Len() == 3 }, 2*time.Second, time.Millisecond)
	h.detect("two")
	require.Eventually(t, func() bool { return h.s.dlg.Len() == 5 }, 2*time.Second, time.Millisecond)
	h.detect("three")
	require.Eventually(t, func() bool { return h.s.dlg.Len() == 7 }, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, inputs, 3)
	assert.Empty(t, inputs[0].History)
	last := inputs[2].History
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content)
	assert.Equal(t, "B.", last[1].Content)
}

func TestAuthFailureClosesSession(t *testing.T) {
	tr := newFakeTransport()
	deps := Deps{
		VAD:      vad.New(vad.Config{}, nil, nil),
		NewASR:   func(*zap.Logger) asr.Coordinator { return asr.NewBatch(&countingTranscriber{}, asr.BatchConfig{}, nil) },
		NewCodec: func(f codec.Format) (codec.Codec, error) { return codec.NewPCM(f), nil },
		Intent:   intent.New(intent.ModeNone, nil, "", 0, nil, nil),
		LLM:      &fakeLLM{},
		Tools:    tools.Builtins(),
		TTS:      newFakeSynth(),
		Auth:     func(auth.Identity) error { return auth.ErrTokenSig },
	}
	s, err := New("sess-x", auth.Identity{DeviceID: "dev"}, tr, deps, Options{InputFormat: pcm16k}, nil)
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, StateClosed, s.State())
	select {
	case <-tr.closed:
	default:
		t.Fatal("transport should be closed")
	}
	assert.ErrorIs(t, s.Run(context.Background()), ErrClosed)
}

func TestTeardownIsBounded(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	h := newHarness(t, func(_ *Deps, o *Options) { o.CloseTimeout = 200 * time.Millisecond })
	h.synth.hang = hang
	h.llm.script(text("This will hang."))

	h.detect("say something")
	require.Eventually(t, func() bool { return h.synth.spoken() != "" }, 2*time.Second, time.Millisecond)

	start := time.Now()
	h.s.Close("test")
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("teardown blocked")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateClosed, h.s.State())
}

func TestHungTranscriptionDoesNotPinSession(t *testing.T) {
	started := make(chan struct{}, 1)
	hung := asr.TranscriberFunc(func(ctx context.Context, _ *asr.Segment) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.NewASR = func(*zap.Logger) asr.Coordinator {
			return asr.NewBatch(hung, asr.BatchConfig{SampleRate: 16000, TranscribeTimeout: 200 * time.Millisecond}, nil)
		}
	})

	h.tr.sendFrames(17, 3000)
	h.tr.sendFrames(25, 0)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never reached ASR")
	}
	_ = h.tr.Close("device gone")

	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still running after the device went away")
	}
	assert.Equal(t, StateClosed, h.s.State())
	assert.Empty(t, h.llm.requests())
}

func TestIdleSessionSaysGoodbyeAndCloses(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.IdleClose = 150 * time.Millisecond })
	select {
	case <-h.s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("idle session was not closed")
	}
	assert.Contains(t, h.synth.spoken(), "hang up")
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("Bye bye!", []string{"bye bye"}))
	assert.True(t, matchesAny(" GOODBYE. ", []string{"goodbye"}))
	assert.False(t, matchesAny("goodbye for now", []string{"goodbye"}))
	assert.False(t, matchesAny("...", []string{""}))
}
