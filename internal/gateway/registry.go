package gateway

import (
	"sort"
	"sync"

	"yuzu/voicegw/internal/config"
	"yuzu/voicegw/internal/orchestrator"
)

// Registry keeps at most one live session per device and the config that
// new sessions are built from.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*orchestrator.Session
	byDevice map[string]string
	cfg      config.Config
}

func NewRegistry(cfg config.Config) *Registry {
	return &Registry{
		sessions: make(map[string]*orchestrator.Session),
		byDevice: make(map[string]string),
		cfg:      cfg,
	}
}

// Replace adds s and closes the device's previous session if present.
func (r *Registry) Replace(s *orchestrator.Session) (replaced *orchestrator.Session) {
	r.mu.Lock()
	dev := s.Identity.DeviceID
	if oldID, ok := r.byDevice[dev]; ok && dev != "" {
		replaced = r.sessions[oldID]
		delete(r.sessions, oldID)
	}
	r.sessions[s.ID] = s
	if dev != "" {
		r.byDevice[dev] = s.ID
	}
	r.mu.Unlock()

	if replaced != nil {
		metricReplaced.Inc()
		replaced.Close("replaced by a new connection")
	}
	metricActive.Set(float64(r.Len()))
	return replaced
}

func (r *Registry) Get(id string) *orchestrator.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove forgets s. A session that was already replaced is left alone.
func (r *Registry) Remove(s *orchestrator.Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
	}
	if r.byDevice[s.Identity.DeviceID] == s.ID {
		delete(r.byDevice, s.Identity.DeviceID)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	metricActive.Set(float64(n))
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type Info struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	State     string `json:"state"`
}

func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{SessionID: s.ID, DeviceID: s.Identity.DeviceID})
	}
	live := make([]*orchestrator.Session, 0, len(out))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	states := make(map[string]string, len(live))
	for _, s := range live {
		states[s.ID] = string(s.State())
	}
	for i := range out {
		out[i].State = states[out[i].SessionID]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (r *Registry) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// UpdateConfig applies to sessions accepted from now on. Live sessions keep
// the options they were built with.
func (r *Registry) UpdateConfig(cfg config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	metricReloads.Inc()
}

// CloseAll asks every live session to end and returns how many there were.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	live := make([]*orchestrator.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()
	for _, s := range live {
		s.Close(reason)
	}
	return len(live)
}
