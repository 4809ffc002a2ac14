// Package session keeps server-side session state keyed by an opaque
// identifier carried in a cookie. A session is Anonymous until Establish,
// Authenticated until Destroy or idle expiry, and expiry is evaluated lazily
// by Check.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrNotAuthenticated = errors.New("session not authenticated")
	ErrSessionExpired   = errors.New("session expired")
)

// LoginAttempt is one login try recorded on the client's session.
type LoginAttempt struct {
	Username string    `json:"username"`
	Time     time.Time `json:"time"`
	Success  bool      `json:"success"`
}

// Session is the per-client state. The zero value (plus an ID) is Anonymous.
type Session struct {
	ID            string         `json:"-"`
	UserID        int64          `json:"user_id,omitempty"`
	Username      string         `json:"username,omitempty"`
	Role          entity.Role    `json:"role,omitempty"`
	FullName      string         `json:"full_name,omitempty"`
	LoggedIn      bool           `json:"logged_in,omitempty"`
	LoginTime     time.Time      `json:"login_time,omitempty"`
	CSRFToken     string         `json:"csrf_token,omitempty"`
	LoginAttempts []LoginAttempt `json:"login_attempts,omitempty"`
}

// Clone returns a deep copy so stores never share the attempts slice with callers.
func (s *Session) Clone() *Session {
	c := *s
	if s.LoginAttempts != nil {
		c.LoginAttempts = append([]LoginAttempt(nil), s.LoginAttempts...)
	}
	return &c
}

// clear drops every attribute but the ID.
func (s *Session) clear() {
	*s = Session{ID: s.ID}
}

// View is the projection handed to the presentation layer.
type View struct {
	Authenticated bool        `json:"authenticated"`
	Role          entity.Role `json:"role,omitempty"`
	FullName      string      `json:"full_name,omitempty"`
	CSRFToken     string      `json:"csrf_token,omitempty"`
}

// RandomToken returns n random bytes hex-encoded.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return hex.EncodeToString(b), nil
}

// newID returns a 256-bit session identifier.
func newID() (string, error) { return RandomToken(32) }
