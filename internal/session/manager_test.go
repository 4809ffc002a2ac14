package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
)

type fakeClock interface {
	clockwork.Clock
	Advance(time.Duration)
}

const testTimeout = 30 * time.Minute

func newTestManager(t *testing.T) (*Manager, *MemoryStore, fakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)
	m := NewManager(store, clk, nil, Options{Timeout: testTimeout})
	return m, store, clk
}

func anonymous(t *testing.T, m *Manager) *Session {
	t.Helper()
	s, err := m.New()
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background(), s))
	return s
}

var alice = &entity.User{ID: 7, Username: "alice", FullName: "Alice Doe", Role: entity.RoleEmployee, Status: entity.StatusActive}

func TestNew_IDIs256BitHex(t *testing.T) {
	m, _, _ := newTestManager(t)
	s, err := m.New()
	require.NoError(t, err)
	assert.Len(t, s.ID, 64)
	assert.False(t, m.IsAuthenticated(s))
}

func TestEstablish_RegeneratesID(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t)
	s := anonymous(t, m)
	s.CSRFToken = "tok"
	s.LoginAttempts = []LoginAttempt{{Username: "alice", Time: clk.Now()}}
	require.NoError(t, m.Save(ctx, s))
	oldID := s.ID

	require.NoError(t, m.Establish(ctx, s, alice))

	assert.NotEqual(t, oldID, s.ID)
	assert.True(t, m.IsAuthenticated(s))
	assert.Equal(t, entity.RoleEmployee, s.Role)
	assert.Equal(t, "Alice Doe", s.FullName)
	assert.Equal(t, clk.Now(), s.LoginTime)
	assert.Equal(t, "tok", s.CSRFToken)
	assert.Len(t, s.LoginAttempts, 1)

	_, err := store.Get(ctx, oldID)
	assert.True(t, errors.Is(err, ErrNotFound))
	stored, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.UserID)
}

func TestEstablish_AgainKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)
	require.NoError(t, m.Establish(ctx, s, alice))
	first := s.ID

	require.NoError(t, m.Establish(ctx, s, alice))
	assert.NotEqual(t, first, s.ID)
	assert.Equal(t, entity.RoleEmployee, s.Role)
	assert.Equal(t, "Alice Doe", s.FullName)
}

func TestCheck_Anonymous(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)
	assert.True(t, errors.Is(m.Check(context.Background(), s), ErrNotAuthenticated))
}

func TestCheck_ExpiresAfterTimeout(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t)
	s := anonymous(t, m)
	require.NoError(t, m.Establish(ctx, s, alice))
	id := s.ID

	clk.Advance(testTimeout + time.Second)
	err := m.Check(ctx, s)

	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.False(t, m.IsAuthenticated(s))
	assert.Zero(t, s.UserID)
	assert.Empty(t, s.Username)
	assert.Empty(t, s.Role)
	assert.Empty(t, s.FullName)
	_, err = store.Get(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCheck_AtExactTimeoutStillValid(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newTestManager(t)
	s := anonymous(t, m)
	require.NoError(t, m.Establish(ctx, s, alice))

	clk.Advance(testTimeout)
	assert.NoError(t, m.Check(ctx, s))
}

func TestCheck_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t)
	s := anonymous(t, m)
	require.NoError(t, m.Establish(ctx, s, alice))

	step := testTimeout * 9 / 10
	for i := 0; i < 5; i++ {
		clk.Advance(step)
		require.NoError(t, m.Check(ctx, s), "check %d", i)
		assert.Equal(t, clk.Now(), s.LoginTime)
	}
	stored, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), stored.LoginTime)
}

func TestCheck_LoggedOutElsewhere(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)
	require.NoError(t, m.Establish(ctx, s, alice))

	other, err := m.Load(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, m.Destroy(ctx, other))

	assert.True(t, errors.Is(m.Check(ctx, s), ErrSessionExpired))
	assert.False(t, m.IsAuthenticated(s))
}

func TestHasRole(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)
	assert.False(t, m.HasRole(s, entity.RoleEmployee))

	require.NoError(t, m.Establish(ctx, s, alice))
	assert.True(t, m.HasRole(s, entity.RoleEmployee))
	assert.True(t, m.HasRole(s, entity.RoleAdmin, entity.RoleEmployee))
	assert.False(t, m.HasRole(s, entity.RoleAdmin, entity.RoleManager))
	assert.False(t, m.HasRole(nil, entity.RoleEmployee))
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)
	s := anonymous(t, m)
	require.NoError(t, m.Establish(ctx, s, alice))
	id := s.ID

	require.NoError(t, m.Destroy(ctx, s))
	assert.Equal(t, Session{}, *s)
	_, err := store.Get(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdate_ConcurrentWritersDoNotLoseAttempts(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newTestManager(t)
	s := anonymous(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := s.Clone()
			_ = m.Update(ctx, local, func(cur *Session) error {
				cur.LoginAttempts = append(cur.LoginAttempts, LoginAttempt{Username: "bob", Time: clk.Now()})
				return nil
			})
		}()
	}
	wg.Wait()

	stored, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, stored.LoginAttempts, 50)
}

func TestUpdate_FnErrorLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)
	boom := errors.New("boom")

	err := m.Update(ctx, s, func(cur *Session) error {
		cur.CSRFToken = "changed"
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.Empty(t, s.CSRFToken)
}

func TestView(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	s := anonymous(t, m)
	s.CSRFToken = "abc"
	assert.Equal(t, View{CSRFToken: "abc"}, m.View(s))

	require.NoError(t, m.Establish(ctx, s, alice))
	assert.Equal(t, View{Authenticated: true, Role: entity.RoleEmployee, FullName: "Alice Doe", CSRFToken: "abc"}, m.View(s))
}
