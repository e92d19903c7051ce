// Package tts turns a turn's text into paced, encoded audio frames, one
// worker per session draining an ordered queue of units.
package tts

import (
	"context"
	"errors"
	"sync"
)

type SentenceType int

// The zero value is a middle unit.
const (
	SentenceMiddle SentenceType = iota
	SentenceFirst
	SentenceLast
)

func (s SentenceType) String() string {
	switch s {
	case SentenceFirst:
		return "FIRST"
	case SentenceLast:
		return "LAST"
	}
	return "MIDDLE"
}

type ContentType int

const (
	ContentText ContentType = iota
	ContentFile
	ContentAction
)

// Unit is one instruction for the TTS worker. A FIRST unit resets per-turn
// state; a LAST unit flushes buffered text and audio.
type Unit struct {
	SentenceID uint64
	Sentence   SentenceType
	Content    ContentType
	Text       string
	// File is a WAV asset path for ContentFile.
	File string
}

var ErrQueueClosed = errors.New("tts: queue closed")

// Queue is an unbounded FIFO with a blocking Pop.
type Queue struct {
	mu     sync.Mutex
	items  []Unit
	ready  chan struct{}
	closed bool
}

func NewQueue() *Queue { return &Queue{ready: make(chan struct{}, 1)} }

func (q *Queue) Push(u Unit) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, u)
	ttsQueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) Pop(ctx context.Context) (Unit, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items[0] = Unit{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return u, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Unit{}, ErrQueueClosed
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return Unit{}, ctx.Err()
		}
	}
}

// DropStale removes queued units whose id differs from current.
func (q *Queue) DropStale(current uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	n := 0
	for _, u := range q.items {
		if u.SentenceID != current {
			n++
			continue
		}
		kept = append(kept, u)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = Unit{}
	}
	q.items = kept
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes a blocked Pop; queued units are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
