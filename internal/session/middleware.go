package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
)

type ctxKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's session, or nil outside Middleware.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware attaches the client's session to the request context, starting
// and persisting an anonymous one when the cookie is absent or stale.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var s *Session
		if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
			loaded, err := m.Load(ctx, c.Value)
			switch {
			case err == nil:
				s = loaded
			case errors.Is(err, ErrNotFound):
			default:
				m.logger.Errorw("load session failed", "err", err)
				http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if s == nil {
			fresh, err := m.New()
			if err == nil {
				err = m.Save(ctx, fresh)
			}
			if err != nil {
				m.logger.Errorw("start session failed", "err", err)
				http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
				return
			}
			s = fresh
			m.SetCookie(w, s)
		}
		next.ServeHTTP(w, r.WithContext(WithSession(ctx, s)))
	})
}

// RequireAuthenticated runs Check and redirects to loginPath on failure.
func (m *Manager) RequireAuthenticated(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := FromContext(r.Context())
			if s == nil {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			if err := m.Check(r.Context(), s); err != nil {
				if errors.Is(err, ErrSessionExpired) {
					m.ClearCookie(w)
				} else if !errors.Is(err, ErrNotAuthenticated) {
					m.logger.Errorw("session check failed", "err", err)
				}
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole lets the request through only for the given roles, redirecting
// everyone else to fallback. Put it inside RequireAuthenticated.
func (m *Manager) RequireRole(fallback string, roles ...entity.Role) func(http.Handler) http.Handler {
	return m.allow(fallback, func(s *Session) bool { return m.HasRole(s, roles...) })
}

// RequireCapability is RequireRole keyed on what the role may do.
func (m *Manager) RequireCapability(fallback string, c entity.Capability) func(http.Handler) http.Handler {
	return m.allow(fallback, func(s *Session) bool { return m.HasCapability(s, c) })
}

func (m *Manager) allow(fallback string, ok func(*Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := FromContext(r.Context())
			if !ok(s) {
				if s != nil {
					m.logger.Infow("access denied", "user_id", s.UserID, "role", s.Role, "path", r.URL.Path)
				}
				http.Redirect(w, r, fallback, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetCookie points the client at s, replacing a cookie written earlier in
// the same response.
func (m *Manager) SetCookie(w http.ResponseWriter, s *Session) {
	m.writeCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie tells the client to drop its session identifier.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	m.writeCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) writeCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	prefix := c.Name + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	http.SetCookie(w, c)
}
