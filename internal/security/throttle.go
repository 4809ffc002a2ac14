package security

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
)

// ThrottleOptions configures Throttle.
type ThrottleOptions struct {
	// Enabled false keeps recording attempts but never blocks.
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// Throttle bounds login attempts per username on one client session.
type Throttle struct {
	sessions *session.Manager
	opts     ThrottleOptions
}

func NewThrottle(sessions *session.Manager, opts ThrottleOptions) *Throttle {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Window <= 0 {
		opts.Window = 15 * time.Minute
	}
	return &Throttle{sessions: sessions, opts: opts}
}

func (t *Throttle) now() time.Time { return t.sessions.Clock().Now() }

// prune drops attempts older than the window.
func (t *Throttle) prune(attempts []session.LoginAttempt) []session.LoginAttempt {
	cutoff := t.now().Add(-t.opts.Window)
	kept := attempts[:0]
	for _, a := range attempts {
		if !a.Time.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	return kept
}

// Check prunes stale attempts and reports whether username may try again,
// i.e. fewer than MaxAttempts attempts remain in the window.
func (t *Throttle) Check(ctx context.Context, s *session.Session, username string) (bool, error) {
	err := t.sessions.Update(ctx, s, func(cur *session.Session) error {
		cur.LoginAttempts = t.prune(cur.LoginAttempts)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "prune login attempts")
	}
	if !t.opts.Enabled {
		return true, nil
	}
	return t.Count(s, username) < t.opts.MaxAttempts, nil
}

// Count returns the attempts for username still inside the window.
func (t *Throttle) Count(s *session.Session, username string) int {
	cutoff := t.now().Add(-t.opts.Window)
	n := 0
	for _, a := range s.LoginAttempts {
		if a.Username == username && !a.Time.Before(cutoff) {
			n++
		}
	}
	return n
}

// Record appends an attempt whatever its outcome.
func (t *Throttle) Record(ctx context.Context, s *session.Session, username string, success bool) error {
	at := session.LoginAttempt{Username: username, Time: t.now(), Success: success}
	err := t.sessions.Update(ctx, s, func(cur *session.Session) error {
		cur.LoginAttempts = append(cur.LoginAttempts, at)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "record login attempt")
	}
	return nil
}
