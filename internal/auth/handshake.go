package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrMissingHeaders = errors.New("missing device-id or client-id")

// Identity is what a device presents when opening its connection.
type Identity struct {
	DeviceID string
	ClientID string
	Token    string
}

// IdentityFromRequest reads the device identity from headers, falling back to
// query parameters for clients that cannot set headers on the upgrade request.
func IdentityFromRequest(h http.Header, q url.Values) Identity {
	id := Identity{
		DeviceID: h.Get("Device-Id"),
		ClientID: h.Get("Client-Id"),
	}
	if id.DeviceID == "" {
		id.DeviceID = q.Get("device-id")
	}
	if id.ClientID == "" {
		id.ClientID = q.Get("client-id")
	}
	authz := h.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		id.Token = strings.TrimPrefix(authz, "Bearer ")
	} else if t := q.Get("token"); t != "" {
		id.Token = t
	}
	return id
}

type Authenticator struct {
	Enabled bool
	Secret  string
	Expire  time.Duration
	allowed map[string]struct{}
	now     func() time.Time
}

func NewAuthenticator(enabled bool, secret string, expire time.Duration, allowedDevices []string) *Authenticator {
	a := &Authenticator{
		Enabled: enabled,
		Secret:  secret,
		Expire:  expire,
		allowed: make(map[string]struct{}, len(allowedDevices)),
		now:     time.Now,
	}
	for _, d := range allowedDevices {
		a.allowed[strings.TrimSpace(d)] = struct{}{}
	}
	return a
}

// Authenticate returns nil when the identity may open a session.
// Allow-listed devices skip the token check.
func (a *Authenticator) Authenticate(id Identity) error {
	if a == nil || !a.Enabled {
		return nil
	}
	if id.DeviceID == "" || id.ClientID == "" {
		return ErrMissingHeaders
	}
	if _, ok := a.allowed[id.DeviceID]; ok {
		return nil
	}
	if id.Token == "" {
		return ErrTokenFormat
	}
	return ValidateDeviceToken(a.Secret, id.Token, id.ClientID, id.DeviceID, a.now(), a.Expire)
}
