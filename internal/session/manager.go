package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
)

// Options configures a Manager.
type Options struct {
	// Timeout is the sliding idle timeout of an authenticated session.
	Timeout time.Duration
	// Retain is how long the store keeps an untouched entry. It must cover
	// the login lockout window so attempts survive on anonymous sessions.
	// Defaults to Timeout.
	Retain       time.Duration
	CookieName   string
	CookieSecure bool
}

// Manager drives the session state machine on top of a Store.
type Manager struct {
	store  Store
	clock  clockwork.Clock
	logger *zap.SugaredLogger

	timeout      time.Duration
	retain       time.Duration
	cookieName   string
	cookieSecure bool
}

func NewManager(store Store, clock clockwork.Clock, logger *zap.SugaredLogger, opts Options) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Retain < opts.Timeout {
		opts.Retain = opts.Timeout
	}
	if opts.CookieName == "" {
		opts.CookieName = "ems_session"
	}
	return &Manager{
		store:        store,
		clock:        clock,
		logger:       logger,
		timeout:      opts.Timeout,
		retain:       opts.Retain,
		cookieName:   opts.CookieName,
		cookieSecure: opts.CookieSecure,
	}
}

// Clock exposes the manager's time source to collaborators.
func (m *Manager) Clock() clockwork.Clock { return m.clock }

// Timeout returns the idle timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// New returns an unsaved anonymous session with a fresh ID.
func (m *Manager) New() (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id}, nil
}

func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) Save(ctx context.Context, s *Session) error {
	return m.store.Put(ctx, s.ID, s, m.retain)
}

// Update applies fn atomically to the stored copy of s and refreshes s with
// the result. s is left untouched when fn or the store fails.
func (m *Manager) Update(ctx context.Context, s *Session, fn func(*Session) error) error {
	var updated *Session
	err := m.store.Update(ctx, s.ID, m.retain, func(cur *Session) error {
		if err := fn(cur); err != nil {
			return err
		}
		updated = cur.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	updated.ID = s.ID
	*s = *updated
	return nil
}

// Regenerate moves the session data to a new ID and invalidates the old one.
func (m *Manager) Regenerate(ctx context.Context, s *Session) error {
	return m.moveTo(ctx, s, s.Clone())
}

// Establish turns s into an authenticated session for u. The ID is always
// regenerated so an identifier planted before login is useless afterwards.
func (m *Manager) Establish(ctx context.Context, s *Session, u *entity.User) error {
	next := s.Clone()
	next.UserID = u.ID
	next.Username = u.Username
	next.Role = u.Role
	next.FullName = u.FullName
	next.LoggedIn = true
	next.LoginTime = m.clock.Now()
	return m.moveTo(ctx, s, next)
}

func (m *Manager) moveTo(ctx context.Context, s, next *Session) error {
	id, err := newID()
	if err != nil {
		return err
	}
	next.ID = id
	if err := m.store.Put(ctx, id, next, m.retain); err != nil {
		return errors.Wrap(err, "store regenerated session")
	}
	if s.ID != "" {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			m.logger.Warnw("delete previous session id failed", "err", err)
		}
	}
	*s = *next
	return nil
}

// IsAuthenticated is a pure attribute check; it does not look at expiry.
func (m *Manager) IsAuthenticated(s *Session) bool {
	return s != nil && s.LoggedIn
}

// Check is the guard every protected request goes through. An anonymous
// session yields ErrNotAuthenticated. An authenticated session idle for more
// than the timeout is destroyed and yields ErrSessionExpired. Otherwise the
// idle clock restarts from now.
func (m *Manager) Check(ctx context.Context, s *Session) error {
	if !m.IsAuthenticated(s) {
		return ErrNotAuthenticated
	}
	now := m.clock.Now()
	if now.Sub(s.LoginTime) > m.timeout {
		m.expire(ctx, s)
		return ErrSessionExpired
	}
	err := m.Update(ctx, s, func(cur *Session) error {
		if !cur.LoggedIn {
			return ErrNotAuthenticated
		}
		if now.Sub(cur.LoginTime) > m.timeout {
			return ErrSessionExpired
		}
		cur.LoginTime = now
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotAuthenticated):
		// logged out from another tab
		s.clear()
		return ErrNotAuthenticated
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionExpired):
		m.expire(ctx, s)
		return ErrSessionExpired
	default:
		return err
	}
}

func (m *Manager) expire(ctx context.Context, s *Session) {
	m.logger.Debugw("session expired", "user_id", s.UserID)
	if err := m.Destroy(ctx, s); err != nil {
		m.logger.Warnw("destroy expired session failed", "err", err)
	}
}

// HasRole reports whether s is authenticated with any of roles.
func (m *Manager) HasRole(s *Session, roles ...entity.Role) bool {
	return m.IsAuthenticated(s) && s.Role.In(roles...)
}

// HasCapability reports whether s is authenticated with a role granting c.
func (m *Manager) HasCapability(s *Session, c entity.Capability) bool {
	return m.IsAuthenticated(s) && s.Role.Can(c)
}

// Destroy clears every attribute and invalidates the ID. The session is
// unusable afterwards; the next request starts a new anonymous one.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	id := s.ID
	s.clear()
	s.ID = ""
	if id == "" {
		return nil
	}
	return m.store.Delete(ctx, id)
}

func (m *Manager) View(s *Session) View {
	if !m.IsAuthenticated(s) {
		v := View{}
		if s != nil {
			v.CSRFToken = s.CSRFToken
		}
		return v
	}
	return View{Authenticated: true, Role: s.Role, FullName: s.FullName, CSRFToken: s.CSRFToken}
}
