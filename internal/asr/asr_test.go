package asr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

type sent struct {
	status FrameStatus
	n      int
}

type fakeStream struct {
	mu      sync.Mutex
	sent    []sent
	results chan Result
	onLast  []Result
	closed  bool
	done    chan struct{}
	once    sync.Once
}

func newFakeStream(buffered ...Result) *fakeStream {
	f := &fakeStream{results: make(chan Result, 16), done: make(chan struct{})}
	for _, r := range buffered {
		f.results <- r
	}
	return f
}

func (f *fakeStream) Send(_ context.Context, pcm []int16, status FrameStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.sent = append(f.sent, sent{status: status, n: len(pcm)})
	if status == StatusLast {
		for _, r := range f.onLast {
			f.results <- r
		}
	}
	return nil
}

func (f *fakeStream) Recv(ctx context.Context) (Result, error) {
	select {
	case r, ok := <-f.results:
		if !ok {
			return Result{}, ErrClosed
		}
		return r, nil
	case <-f.done:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) statuses() []FrameStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FrameStatus, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.status
	}
	return out
}

type fakeStreamer struct {
	streams []*fakeStream
	opens   int
	err     error
}

func (f *fakeStreamer) Open(context.Context) (Stream, error) {
	f.opens++
	if f.err != nil {
		return nil, f.err
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func frame() []int16 { return make([]int16, 960) }

func TestTrackerLongestBeforeLastLatestAfter(t *testing.T) {
	tr := &Tracker{}
	tr.Observe(Result{Text: "turn on"})
	tr.Observe(Result{Text: "turn"})
	assert.Equal(t, "turn on", tr.Fallback())

	tr.MarkLastSent()
	tr.Observe(Result{Text: "turn on the light"})
	tr.Observe(Result{Text: "turn on the lamp"})
	assert.Equal(t, "turn on the lamp", tr.Final())
}

func TestTrackerFinalStatusFreezesBest(t *testing.T) {
	tr := &Tracker{}
	tr.Observe(Result{Text: "hi", Final: true})
	tr.Observe(Result{Text: "hi there everyone"})
	// a longer partial after a final status no longer replaces best
	tr.Observe(Result{Text: "x"})
	assert.Equal(t, "hi", tr.Fallback())
}

func TestTrackerPunctuationAppendsAfterLastFrame(t *testing.T) {
	tr := &Tracker{}
	tr.Observe(Result{Text: "hello world."})
	tr.MarkLastSent()
	tr.Observe(Result{Text: "？", Final: true})
	assert.Equal(t, "hello world？", tr.Final())
}

func TestTrackerAppendMode(t *testing.T) {
	tr := &Tracker{}
	tr.Observe(Result{Text: "good "})
	tr.Observe(Result{Text: "morning", Append: true})
	assert.Equal(t, "good morning", tr.Text())
}

func TestStreamingPrerollThenStatuses(t *testing.T) {
	fs := newFakeStream()
	fs.onLast = []Result{{Text: "what time is it", Final: true}}
	s := NewStreaming(&fakeStreamer{streams: []*fakeStream{fs}}, StreamConfig{}, nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		s.Push(ctx, frame(), false)
	}
	assert.Equal(t, stateDisconnected, s.State())
	s.Push(ctx, frame(), true)
	assert.Equal(t, stateStreaming, s.State())
	s.Push(ctx, frame(), true)

	st := fs.statuses()
	require.Len(t, st, 11, "ten pre-roll frames plus one live frame")
	assert.Equal(t, StatusFirst, st[0])
	for _, x := range st[1:] {
		assert.Equal(t, StatusContinue, x)
	}

	text, err := s.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, "what time is it", text)
	assert.Equal(t, StatusLast, fs.statuses()[11])
	assert.Equal(t, stateDisconnected, s.State())
}

func TestStreamingDropFallsBackToPartial(t *testing.T) {
	fs := newFakeStream(Result{Text: "turn on the"})
	close(fs.results)
	s := NewStreaming(&fakeStreamer{streams: []*fakeStream{fs}}, StreamConfig{FinalTimeout: time.Second}, nil)
	ctx := context.Background()

	s.Push(ctx, frame(), true)
	text, err := s.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, "turn on the", text)
}

func TestStreamingTimeoutAfterLastUsesBest(t *testing.T) {
	fs := newFakeStream(Result{Text: "hello"})
	s := NewStreaming(&fakeStreamer{streams: []*fakeStream{fs}}, StreamConfig{FinalTimeout: 50 * time.Millisecond}, nil)
	ctx := context.Background()
	s.Push(ctx, frame(), true)

	start := time.Now()
	text, err := s.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStreamingFatalCodeResets(t *testing.T) {
	fs := newFakeStream(Result{Text: "partial"}, Result{Code: 10114, Message: "timeout"})
	fst := &fakeStreamer{streams: []*fakeStream{fs}}
	s := NewStreaming(fst, StreamConfig{FinalTimeout: time.Second}, nil)
	ctx := context.Background()
	s.Push(ctx, frame(), true)

	// the channel is torn down as soon as the code arrives
	require.Eventually(t, func() bool { return s.State() == stateDisconnected }, time.Second, time.Millisecond)
	fs.mu.Lock()
	closed := fs.closed
	fs.mu.Unlock()
	assert.True(t, closed)

	for i := 0; i < 20; i++ {
		s.Push(ctx, frame(), true)
	}
	assert.Len(t, fs.statuses(), 1, "no frames after the fatal code")
	assert.Equal(t, 1, fst.opens, "no reconnect within the same utterance")

	_, err := s.Finish(ctx)
	assert.ErrorIs(t, err, ErrFatalChannel)
	assert.Equal(t, stateDisconnected, s.State())

	fst.streams = []*fakeStream{newFakeStream()}
	s.Push(ctx, frame(), true)
	assert.Equal(t, stateStreaming, s.State(), "next utterance starts fresh")
	s.Close()
}

func TestStreamingNonFatalCodeSkipped(t *testing.T) {
	fs := newFakeStream(Result{Code: 10200, Message: "warn"})
	fs.onLast = []Result{{Text: "ok", Final: true}}
	s := NewStreaming(&fakeStreamer{streams: []*fakeStream{fs}}, StreamConfig{}, nil)
	ctx := context.Background()
	s.Push(ctx, frame(), true)
	text, err := s.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestStreamingConnectFailureAbortsUtterance(t *testing.T) {
	fst := &fakeStreamer{err: errors.New("refused")}
	s := NewStreaming(fst, StreamConfig{}, nil)
	ctx := context.Background()

	s.Push(ctx, frame(), true)
	s.Push(ctx, frame(), true)
	assert.Equal(t, 1, fst.opens, "no reconnect within the same utterance")

	text, err := s.Finish(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)

	fst.err = nil
	fst.streams = []*fakeStream{newFakeStream()}
	s.Push(ctx, frame(), true)
	assert.Equal(t, 2, fst.opens, "next utterance starts fresh")
	assert.Equal(t, stateStreaming, s.State())
	s.Close()
}

func TestBatchBuffersVoiceWithPreroll(t *testing.T) {
	var got *Segment
	tr := TranscriberFunc(func(_ context.Context, seg *Segment) (string, error) {
		got = seg
		return "hello", nil
	})
	b := NewBatch(tr, BatchConfig{SampleRate: 16000, PrerollFrames: 2}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Push(ctx, frame(), false)
	}
	for i := 0; i < 10; i++ {
		b.Push(ctx, frame(), true)
	}
	assert.Equal(t, stateBuffering, b.State())

	text, err := b.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	require.NotNil(t, got)
	assert.Len(t, got.Frames, 12)
	assert.Equal(t, 720, got.DurationMs())
	assert.Equal(t, stateIdle, b.State())
}

func TestBatchShortSegmentDropped(t *testing.T) {
	called := false
	tr := TranscriberFunc(func(context.Context, *Segment) (string, error) {
		called = true
		return "x", nil
	})
	b := NewBatch(tr, BatchConfig{SampleRate: 16000, MinSegmentMs: 500}, nil)
	b.Push(context.Background(), frame(), true)
	text, err := b.Finish(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.False(t, called)
}

func TestBatchFinishWhenIdle(t *testing.T) {
	b := NewBatch(TranscriberFunc(func(context.Context, *Segment) (string, error) {
		t.Fatal("should not transcribe")
		return "", nil
	}), BatchConfig{SampleRate: 16000}, nil)
	text, err := b.Finish(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestBatchTranscribeIsBounded(t *testing.T) {
	hung := TranscriberFunc(func(ctx context.Context, _ *Segment) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	b := NewBatch(hung, BatchConfig{SampleRate: 16000, TranscribeTimeout: 50 * time.Millisecond}, nil)
	ctx := context.Background()
	b.Push(ctx, frame(), true)

	start := time.Now()
	_, err := b.Finish(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, stateIdle, b.State())
}

func TestHTTPTranscriberTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h := NewHTTPTranscriber(srv.URL, "", 50*time.Millisecond)
	seg := &Segment{SampleRate: 16000}
	seg.Append(frame())
	start := time.Now()
	_, err := h.Transcribe(context.Background(), seg)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWSStreamerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		frames := 0
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var f wireFrame
			if json.Unmarshal(data, &f) != nil {
				return
			}
			frames++
			if f.Status == 2 {
				b, _ := json.Marshal(wireResult{Status: 2, Text: strings.Repeat("a", frames)})
				_ = c.Write(ctx, websocket.MessageText, b)
			}
		}
	}))
	defer srv.Close()

	w := NewWSStreamer("ws"+strings.TrimPrefix(srv.URL, "http"), "k", 16000, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := w.Open(ctx)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Send(ctx, frame(), StatusFirst))
	require.NoError(t, st.Send(ctx, frame(), StatusContinue))
	require.NoError(t, st.Send(ctx, nil, StatusLast))
	r, err := st.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, r.Final)
	assert.Equal(t, "aaa", r.Text)
}

func TestWSStreamerRecvDeadlineKeepsSocket(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		<-release
		b, _ := json.Marshal(wireResult{Text: "late"})
		_ = c.Write(r.Context(), websocket.MessageText, b)
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	w := NewWSStreamer("ws"+strings.TrimPrefix(srv.URL, "http"), "", 16000, nil)
	st, err := w.Open(context.Background())
	require.NoError(t, err)
	defer st.Close()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err = st.Recv(short)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	r, err := st.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", r.Text)
}

func TestWSStreamerCircuitOpens(t *testing.T) {
	w := NewWSStreamer("ws://127.0.0.1:1/none", "", 16000, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := w.Open(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	_, err := w.Open(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
