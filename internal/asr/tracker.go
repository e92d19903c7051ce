package asr

import (
	"strings"
	"sync"
)

// closingPunct are results that only finish a sentence; after the last frame
// they are appended to the running text instead of replacing it.
var closingPunct = map[string]bool{
	"。": true, ".": true, "?": true, "？": true, "!": true,
	"！": true, ",": true, "，": true, ";": true, "；": true,
}

// Tracker keeps the running text of a streaming recognition and the best
// candidate seen so far.
//
// Best-text policy: once the last frame has been sent or the provider has
// reported a final status, the latest result wins. Before that, the longest
// result wins.
type Tracker struct {
	mu       sync.Mutex
	text     string
	best     string
	hasFinal bool
	lastSent bool
}

func (t *Tracker) MarkLastSent() {
	t.mu.Lock()
	t.lastSent = true
	t.mu.Unlock()
}

func (t *Tracker) LastSent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSent
}

func (t *Tracker) Observe(r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if strings.TrimSpace(r.Text) == "" {
		return
	}
	candidate := r.Text
	if r.Append {
		candidate = t.text + r.Text
	}

	if t.lastSent || r.Final {
		t.best = candidate
		t.hasFinal = true
	} else if len(candidate) > len(t.best) && !t.hasFinal {
		t.best = candidate
	}

	if t.lastSent && t.text != "" && closingPunct[strings.TrimSpace(r.Text)] {
		t.text = strings.TrimRight(strings.TrimRight(t.text, " "), "。.") + strings.TrimSpace(r.Text)
		return
	}
	t.text = candidate
}

// Final selects the text once the provider has completed after the last frame.
func (t *Tracker) Final() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.best != "" && strings.TrimSpace(t.text) == "" {
		return t.best
	}
	return t.text
}

// Fallback selects the text when the channel timed out or closed early.
func (t *Tracker) Fallback() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.best) > len(t.text) {
		return t.best
	}
	return t.text
}

func (t *Tracker) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}
