// Package gateway accepts device WebSocket connections, authenticates them
// and runs one orchestrator session per connection.
package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	ws "nhooyr.io/websocket"

	"yuzu/voicegw/internal/auth"
	"yuzu/voicegw/internal/codec"
	"yuzu/voicegw/internal/codec/opus"
	"yuzu/voicegw/internal/orchestrator"
	"yuzu/voicegw/internal/store"
)

var ErrUnsupportedFormat = errors.New("gateway: unsupported audio format")

// NewCodec builds the codec for a negotiated audio format.
func NewCodec(f codec.Format) (codec.Codec, error) {
	switch strings.ToLower(f.Name) {
	case "opus", "":
		return opus.New(f)
	case "pcm":
		return codec.NewPCM(f), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f.Name)
}

const (
	readLimit    = 1 << 20
	limiterIdle  = 10 * time.Minute
	limiterSweep = 4096
)

type Server struct {
	Deps  orchestrator.Deps
	Reg   *Registry
	Store *store.Store
	Log   *zap.Logger

	draining atomic.Bool

	mu       sync.Mutex
	limiters map[string]*visitor
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewServer(deps orchestrator.Deps, reg *Registry, st *store.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = st
	}
	return &Server{Deps: deps, Reg: reg, Store: st, Log: log, limiters: make(map[string]*visitor)}
}

// Drain stops new connections and closes the live ones.
func (s *Server) Drain(reason string) int {
	s.draining.Store(true)
	return s.Reg.CloseAll(reason)
}

func (s *Server) Accepting() bool { return !s.draining.Load() }

func (s *Server) allow(ip string) bool {
	cfg := s.Reg.Config()
	if cfg.Server.AcceptRPS <= 0 {
		return true
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.limiters) > limiterSweep {
		for k, v := range s.limiters {
			if now.Sub(v.seen) > limiterIdle {
				delete(s.limiters, k)
			}
		}
	}
	v, ok := s.limiters[ip]
	if !ok {
		burst := max(cfg.Server.AcceptBurst, 1)
		v = &visitor{lim: rate.NewLimiter(rate.Limit(cfg.Server.AcceptRPS), burst)}
		s.limiters[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func remoteIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) reject(w http.ResponseWriter, reason string, code int) {
	metricRejected.WithLabelValues(reason).Inc()
	http.Error(w, reason, code)
}

// HandleDeviceWS upgrades a device connection and serves it until it ends.
func (s *Server) HandleDeviceWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		s.reject(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ip := remoteIP(r)
	if !s.allow(ip) {
		s.reject(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	ident := auth.IdentityFromRequest(r.Header, r.URL.Query())
	if ident.DeviceID == "" {
		s.reject(w, auth.ErrMissingHeaders.Error(), http.StatusBadRequest)
		return
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		s.Log.Warn("ws accept failed", zap.String("remote_ip", ip), zap.Error(err))
		return
	}
	c.SetReadLimit(readLimit)
	metricAccepted.Inc()

	// A rejected connection never reaches the registry, so it cannot
	// replace the device's live session.
	cfg := s.Reg.Config()
	authn := auth.NewAuthenticator(cfg.Auth.Enabled, cfg.Auth.Secret,
		time.Duration(cfg.Auth.ExpireSeconds)*time.Second, cfg.Auth.AllowedDevices)
	if err := authn.Authenticate(ident); err != nil {
		metricRejected.WithLabelValues("unauthorized").Inc()
		s.Log.Warn("device rejected", zap.String("device_id", ident.DeviceID), zap.String("remote_ip", ip), zap.Error(err))
		_ = c.Close(ws.StatusNormalClosure, "authentication failed")
		return
	}

	id := uuid.NewString()
	if s.Store != nil {
		s.Store.CreateSession(store.Session{ID: id, DeviceID: ident.DeviceID, ClientID: ident.ClientID, RemoteIP: ip})
	}
	sess, err := orchestrator.New(id, ident, newTransport(c), s.Deps, orchestrator.OptionsFromConfig(cfg), s.Log)
	if err != nil {
		s.Log.Error("session setup failed", zap.String("device_id", ident.DeviceID), zap.Error(err))
		_ = c.Close(ws.StatusInternalError, "session setup failed")
		if s.Store != nil {
			s.Store.SetState(id, string(orchestrator.StateClosed))
		}
		return
	}
	if old := s.Reg.Replace(sess); old != nil && s.Store != nil {
		s.Store.AppendEvent(old.ID, "session_replaced", map[string]any{"by": id})
	}
	s.Log.Info("device connected", zap.String("session_id", id), zap.String("device_id", ident.DeviceID), zap.String("remote_ip", ip))

	start := time.Now()
	err = sess.Run(r.Context())
	s.Reg.Remove(sess)
	metricSessionSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err != nil && ws.CloseStatus(err) == -1:
		s.Log.Info("device disconnected", zap.String("session_id", id), zap.Error(err))
	default:
		s.Log.Info("device disconnected", zap.String("session_id", id))
	}
}
