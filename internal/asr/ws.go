package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"yuzu/voicegw/internal/codec"
)

// WSStreamer speaks a JSON-over-websocket recognition protocol:
//
//	-> {"status":0|1|2,"audio":"<base64 pcm16le>","sample_rate":16000}
//	<- {"code":0,"message":"","status":0|1|2,"text":"...","append":false}
//
// status 2 on the way in marks the last frame, on the way out a final result.
type WSStreamer struct {
	URL        string
	APIKey     string
	SampleRate int
	Log        *zap.Logger

	mu      sync.Mutex
	fails   []time.Time
	circuit time.Time
	now     func() time.Time
}

var ErrCircuitOpen = errors.New("asr: circuit open")

func NewWSStreamer(url, apiKey string, sampleRate int, log *zap.Logger) *WSStreamer {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSStreamer{URL: url, APIKey: apiKey, SampleRate: sampleRate, Log: log, now: time.Now}
}

func (w *WSStreamer) Open(ctx context.Context) (Stream, error) {
	w.mu.Lock()
	if w.now().Before(w.circuit) {
		w.mu.Unlock()
		return nil, ErrCircuitOpen
	}
	w.mu.Unlock()

	hdr := make(http.Header)
	if w.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+w.APIKey)
	}
	start := time.Now()
	ws, _, err := websocket.Dial(ctx, w.URL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		w.addFailure()
		return nil, fmt.Errorf("asr dial: %w", err)
	}
	w.resetFailures()
	w.Log.Debug("asr connected", zap.Int64("ms", time.Since(start).Milliseconds()))

	s := &wsStream{
		ws:   ws,
		rate: w.SampleRate,
		in:   make(chan Result, 32),
		done: make(chan struct{}),
		log:  w.Log,
	}
	go s.pump()
	return s, nil
}

// addFailure opens the circuit after three failures within a minute.
func (w *WSStreamer) addFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.fails = append(w.fails, now)
	cutoff := now.Add(-60 * time.Second)
	j := 0
	for _, t := range w.fails {
		if t.After(cutoff) {
			w.fails[j] = t
			j++
		}
	}
	w.fails = w.fails[:j]
	if len(w.fails) >= 3 {
		w.circuit = now.Add(30 * time.Second)
		w.fails = nil
		metricCircuitOpens.Inc()
	}
}

func (w *WSStreamer) resetFailures() {
	w.mu.Lock()
	w.fails = nil
	w.mu.Unlock()
}

type wireFrame struct {
	Status     int    `json:"status"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type wireResult struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Text    string `json:"text"`
	Append  bool   `json:"append"`
}

type wsStream struct {
	ws   *websocket.Conn
	rate int
	log  *zap.Logger

	in   chan Result
	done chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// pump owns reads so that a Recv deadline never cancels the socket.
func (s *wsStream) pump() {
	defer close(s.in)
	for {
		_, data, err := s.ws.Read(context.Background())
		if err != nil {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return
		}
		var m wireResult
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Debug("asr frame parse", zap.Error(err))
			continue
		}
		r := Result{Text: m.Text, Append: m.Append, Final: m.Status == 2, Code: m.Code, Message: m.Message}
		select {
		case s.in <- r:
		case <-s.done:
			return
		}
	}
}

func (s *wsStream) Send(ctx context.Context, pcm []int16, status FrameStatus) error {
	f := wireFrame{Status: int(status), Audio: base64.StdEncoding.EncodeToString(codec.Int16ToBytes(pcm))}
	if status == StatusFirst {
		f.SampleRate = s.rate
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.ws.Write(wctx, websocket.MessageText, b)
}

func (s *wsStream) Recv(ctx context.Context) (Result, error) {
	select {
	case r, ok := <-s.in:
		if !ok {
			s.errMu.Lock()
			err := s.err
			s.errMu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return Result{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ws.Close(websocket.StatusNormalClosure, "bye")
	})
	return err
}
