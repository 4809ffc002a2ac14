package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
)

func TestMiddleware_StartsAnonymousSession(t *testing.T) {
	m, store, _ := newTestManager(t)
	var seen *Session
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, seen)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "ems_session", cookies[0].Name)
	assert.Equal(t, seen.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, 1, store.Len())
}

func TestMiddleware_ReusesKnownSession(t *testing.T) {
	m, store, _ := newTestManager(t)
	s := anonymous(t, m)
	var seen *Session
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "ems_session", Value: s.ID})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, s.ID, seen.ID)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 1, store.Len())
}

func TestMiddleware_UnknownCookieGetsFreshID(t *testing.T) {
	m, _, _ := newTestManager(t)
	var seen *Session
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "ems_session", Value: "attacker-chosen"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	assert.NotEqual(t, "attacker-chosen", seen.ID)
}

func guarded(m *Manager, s *Session, mw func(http.Handler) http.Handler) (*httptest.ResponseRecorder, bool) {
	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req = req.WithContext(WithSession(req.Context(), s))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, called
}

func TestRequireAuthenticated(t *testing.T) {
	m, _, clk := newTestManager(t)
	s := anonymous(t, m)

	rec, called := guarded(m, s, m.RequireAuthenticated("/login"))
	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	require.NoError(t, m.Establish(context.Background(), s, alice))
	_, called = guarded(m, s, m.RequireAuthenticated("/login"))
	assert.True(t, called)

	clk.Advance(testTimeout + time.Second)
	rec, called = guarded(m, s, m.RequireAuthenticated("/login"))
	assert.False(t, called)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestRequireRole(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)
	require.NoError(t, m.Establish(context.Background(), s, alice))

	rec, called := guarded(m, s, m.RequireRole("/dashboard", entity.RoleAdmin))
	assert.False(t, called)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	_, called = guarded(m, s, m.RequireRole("/dashboard", entity.RoleManager, entity.RoleEmployee))
	assert.True(t, called)
}

func TestRequireCapability(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)

	rec, called := guarded(m, s, m.RequireCapability("/dashboard", entity.CapTrackAttendance))
	assert.False(t, called, "anonymous")
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	require.NoError(t, m.Establish(context.Background(), s, alice))
	_, called = guarded(m, s, m.RequireCapability("/dashboard", entity.CapTrackAttendance))
	assert.True(t, called)
	_, called = guarded(m, s, m.RequireCapability("/dashboard", entity.CapManageUsers))
	assert.False(t, called)

	s.Role = entity.Role("intern")
	_, called = guarded(m, s, m.RequireCapability("/dashboard", entity.CapTrackAttendance))
	assert.False(t, called, "unknown roles grant nothing")
}

func TestSetCookie_ReplacesEarlierValue(t *testing.T) {
	m, _, _ := newTestManager(t)
	rec := httptest.NewRecorder()
	http.SetCookie(rec, &http.Cookie{Name: "other", Value: "1"})
	m.SetCookie(rec, &Session{ID: "first"})
	m.SetCookie(rec, &Session{ID: "second"})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "other", cookies[0].Name)
	assert.Equal(t, "second", cookies[1].Value)
}
