package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"yuzu/voicegw/internal/config"
	"yuzu/voicegw/internal/gateway"
	"yuzu/voicegw/internal/health"
	"yuzu/voicegw/internal/store"
)

type Handlers struct {
	reg     *gateway.Registry
	store   *store.Store
	checker *health.Checker
	load    func() config.Config
	log     *zap.Logger
}

// NewHandlers wires the admin surface. load re-reads configuration for
// POST /reload.
func NewHandlers(reg *gateway.Registry, st *store.Store, checker *health.Checker, load func() config.Config, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	if load == nil {
		load = config.Load
	}
	return &Handlers{reg: reg, store: st, checker: checker, load: load, log: log}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st := h.checker.CheckAll(ctx, h.reg.Config())
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	live := h.reg.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   len(live),
		"sessions": live,
	})
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := h.store.GetSession(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.store.GetSession(id); !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.store.ListEvents(id),
	})
}

func (h *Handlers) HandleCloseSession(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.reg.Get(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	h.store.AppendEvent(id, "close_requested", map[string]any{"by": "admin"})
	sess.Close("closed by admin")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	cfg := h.load()
	h.reg.UpdateConfig(cfg)
	h.log.Info("configuration reloaded", zap.Int("live_sessions", h.reg.Len()))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "live_sessions": h.reg.Len()})
}
