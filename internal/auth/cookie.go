// Package auth signs the session cookie that names the logged in user.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const CookieName = "banter_session"

var (
	ErrMalformed = errors.New("invalid cookie format")
	ErrSignature = errors.New("invalid signature")
	ErrExpired   = errors.New("session expired")
)

// Signer issues and checks session values of the form
// "base64(name)|unix-expiry|base64(hmac)".
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{key: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) mac(payload string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Sign returns the signed session value for username.
func (s *Signer) Sign(username string) string {
	expiry := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	payload := base64.URLEncoding.EncodeToString([]byte(username)) + "|" + expiry
	return payload + "|" + base64.URLEncoding.EncodeToString(s.mac(payload))
}

// Verify checks the signature and expiry and returns the username.
func (s *Signer) Verify(value string) (string, error) {
	parts := strings.Split(value, "|")
	if len(parts) != 3 {
		return "", ErrMalformed
	}

	signature, err := base64.URLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformed
	}
	if !hmac.Equal(signature, s.mac(parts[0]+"|"+parts[1])) {
		return "", ErrSignature
	}

	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrMalformed
	}
	if s.now().Unix() > expiry {
		return "", ErrExpired
	}

	name, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformed
	}
	return string(name), nil
}

// Cookie wraps a fresh session for username.
func (s *Signer) Cookie(username string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    s.Sign(username),
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// FromRequest returns the user named by the request's session cookie.
func (s *Signer) FromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return s.Verify(cookie.Value)
}
