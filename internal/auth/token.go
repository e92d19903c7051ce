package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
)

const DefaultExpire = 30 * 24 * time.Hour

// GenerateDeviceToken builds a token for a client/device pair issued at ts.
// Format: base64url(hmac_sha256(secret, client_id|device_id|ts)) + "." + ts
// The ids are not embedded; the device presents them in headers on connect.
func GenerateDeviceToken(secret, clientID, deviceID string, ts time.Time) string {
	unix := ts.Unix()
	return sign(secret, clientID, deviceID, unix) + "." + strconv.FormatInt(unix, 10)
}

// ValidateDeviceToken checks the signature and age of token against the
// presented client and device ids.
func ValidateDeviceToken(secret, token, clientID, deviceID string, now time.Time, expire time.Duration) error {
	sigPart, tsPart, ok := strings.Cut(token, ".")
	if !ok || sigPart == "" || strings.Contains(tsPart, ".") {
		return ErrTokenFormat
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ErrTokenFormat
	}
	if expire <= 0 {
		expire = DefaultExpire
	}
	if now.Unix()-ts > int64(expire.Seconds()) {
		return ErrTokenExp
	}
	want := sign(secret, clientID, deviceID, ts)
	// constant-time compare
	if !hmac.Equal([]byte(want), []byte(sigPart)) {
		return ErrTokenSig
	}
	return nil
}

func sign(secret, clientID, deviceID string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(clientID + "|" + deviceID + "|" + strconv.FormatInt(ts, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
