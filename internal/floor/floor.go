// Package floor decides who holds the conversational floor: when the
// assistant is answering and new voice arrives, it asks for a barge-in.
package floor

import "sync"

// Decision represents the action the floor manager wants to take.
type Decision struct {
	ShouldStop bool
	Reason     string // "barge_in" | "abort"
}

// Manager is safe for use from the ingest and playback goroutines.
type Manager struct {
	mu sync.Mutex

	speaking         bool
	armed            bool
	activeSentenceID uint64
	audioStartedMs   int64

	// GuardMs ignores voice this soon after the first audio frame, which
	// keeps the device's own echo from cutting the reply off.
	GuardMs int64
}

func New() *Manager { return &Manager{} }

func (m *Manager) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

func (m *Manager) OnTTSStarted(sentenceID uint64, tsMs int64) {
	m.mu.Lock()
	m.speaking = true
	m.armed = false
	m.activeSentenceID = sentenceID
	m.audioStartedMs = tsMs
	m.mu.Unlock()
}

// OnFirstAudio marks the point where the device starts playing; from here
// the guard window applies.
func (m *Manager) OnFirstAudio(sentenceID uint64, tsMs int64) {
	m.mu.Lock()
	if m.speaking && m.activeSentenceID == sentenceID {
		m.armed = true
		m.audioStartedMs = tsMs
	}
	m.mu.Unlock()
}

func (m *Manager) OnTTSStopped(sentenceID uint64) {
	m.mu.Lock()
	// Regardless of id match, stopping clears speaking.
	m.speaking = false
	m.armed = false
	m.activeSentenceID = 0
	m.mu.Unlock()
}

// OnVADStart decides whether new voice supersedes the assistant. pending
// reports a turn that is still generating or queued for synthesis. Before
// the first audio frame any voice interrupts; after it, voice inside the
// guard window is treated as echo.
func (m *Manager) OnVADStart(tsMs int64, pending bool) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed {
		if m.GuardMs > 0 && tsMs-m.audioStartedMs < m.GuardMs {
			metricGuardBlocks.Inc()
			return Decision{}
		}
		return Decision{ShouldStop: true, Reason: "barge_in"}
	}
	if m.speaking || pending {
		return Decision{ShouldStop: true, Reason: "barge_in"}
	}
	return Decision{}
}

// OnAbort is an explicit stop request from the device.
func (m *Manager) OnAbort(pending bool) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.speaking && !pending {
		return Decision{}
	}
	return Decision{ShouldStop: true, Reason: "abort"}
}
