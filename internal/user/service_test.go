package user

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-ems-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

type fakeClock interface {
	clockwork.Clock
	Advance(time.Duration)
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	users     map[int64]*entity.User
	nextID    int64
	lastLogin map[int64]time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[int64]*entity.User{}, nextID: 1, lastLogin: map[int64]time.Time{}}
}

func (m *memRepo) find(match func(*entity.User) bool) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, userrepo.ErrNotFound
}

func (m *memRepo) FindActiveByUsername(_ context.Context, username string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Username == username && u.Active() })
}

func (m *memRepo) FindByUsername(_ context.Context, username string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Username == username })
}

func (m *memRepo) FindByID(_ context.Context, id int64) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.ID == id })
}

func (m *memRepo) Create(_ context.Context, u *entity.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.users {
		if x.Username == u.Username {
			return 0, userrepo.ErrUsernameTaken
		}
	}
	u.ID = m.nextID
	m.nextID++
	c := *u
	m.users[u.ID] = &c
	return u.ID, nil
}

func (m *memRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memRepo) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogin[id] = at
	return nil
}

func (m *memRepo) SetStatus(_ context.Context, id int64, status entity.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *memRepo) hash(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].PasswordHash
}

type fixture struct {
	svc      *AuthService
	repo     *memRepo
	sessions *session.Manager
	store    *session.MemoryStore
	clock    fakeClock
	hasher   BcryptHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	store := session.NewMemoryStore(clk)
	sessions := session.NewManager(store, clk, nil, session.Options{Timeout: 30 * time.Minute, Retain: time.Hour})
	throttle := security.NewThrottle(sessions, security.ThrottleOptions{Enabled: true, MaxAttempts: 5, Window: 15 * time.Minute})
	repo := newMemRepo()
	hasher := BcryptHasher{Cost: bcrypt.MinCost}
	return &fixture{
		svc:      NewAuthService(repo, hasher, sessions, throttle, nil),
		repo:     repo,
		sessions: sessions,
		store:    store,
		clock:    clk,
		hasher:   hasher,
	}
}

func (f *fixture) seed(t *testing.T, username, password string, role entity.Role) int64 {
	t.Helper()
	id, err := f.svc.CreateUser(context.Background(), NewUser{Username: username, Password: password, FullName: "Alice Doe", Role: role})
	require.NoError(t, err)
	return id
}

func (f *fixture) anonymous(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.sessions.New()
	require.NoError(t, err)
	require.NoError(t, f.sessions.Save(context.Background(), s))
	return s
}

func TestLogin_AliceScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.seed(t, "alice", "pw", entity.RoleEmployee)
	s := f.anonymous(t)
	before := s.ID

	res, err := f.svc.Login(ctx, s, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleEmployee, res.Role)
	assert.Equal(t, "/modules/employee/dashboard", res.Redirect)
	assert.NotEqual(t, before, s.ID)
	assert.True(t, f.sessions.IsAuthenticated(s))
	assert.Equal(t, id, s.UserID)
	assert.Equal(t, f.clock.Now(), f.repo.lastLogin[id])

	_, err = f.sessions.Load(ctx, before)
	assert.ErrorIs(t, err, session.ErrNotFound)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.sessions.Check(ctx, s))

	f.svc.Logout(ctx, s)
	assert.False(t, f.sessions.IsAuthenticated(s))
	assert.ErrorIs(t, f.sessions.Check(ctx, s), session.ErrNotAuthenticated)
}

func TestLogin_WrongPasswordRecordsOneAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", "pw", entity.RoleEmployee)
	s := f.anonymous(t)
	before := s.ID

	_, err := f.svc.Login(ctx, s, "alice", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, "Invalid username or password.", err.Error())
	assert.Equal(t, before, s.ID)
	assert.False(t, f.sessions.IsAuthenticated(s))

	stored, err := f.sessions.Load(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, stored.LoginAttempts, 1)
	assert.Equal(t, "alice", stored.LoginAttempts[0].Username)
	assert.False(t, stored.LoginAttempts[0].Success)
}

func TestLogin_UnknownAndInactiveUsersLookAlike(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.seed(t, "dave", "pw", entity.RoleManager)
	require.NoError(t, f.repo.SetStatus(ctx, id, entity.StatusSuspended))
	s := f.anonymous(t)

	_, err := f.svc.Login(ctx, s, "ghost", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = f.svc.Login(ctx, s, "dave", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestLogin_RateLimitedEvenWithCorrectPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", "pw", entity.RoleEmployee)
	s := f.anonymous(t)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, s, "alice", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredential)
	}
	_, err := f.svc.Login(ctx, s, "alice", "pw")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, f.sessions.IsAuthenticated(s))
	assert.Len(t, s.LoginAttempts, 5, "throttled attempts are not recorded")

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.Login(ctx, s, "alice", "pw")
	assert.NoError(t, err)
}

func TestLogin_RehashesWeakHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.seed(t, "alice", "pw", entity.RoleAdmin)
	old := f.repo.hash(id)

	strong := BcryptHasher{Cost: bcrypt.MinCost + 1}
	f.svc.hasher = strong
	s := f.anonymous(t)
	res, err := f.svc.Login(ctx, s, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "/modules/admin/dashboard", res.Redirect)

	updated := f.repo.hash(id)
	assert.NotEqual(t, old, updated)
	cost, err := bcrypt.Cost([]byte(updated))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.seed(t, "alice", "pw", entity.RoleEmployee)
	old := f.repo.hash(id)

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, id, "wrong", "x"), ErrInvalidCredential)
	assert.Equal(t, old, f.repo.hash(id), "hash untouched on mismatch")

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, 999, "pw", "x"), ErrInvalidCredential)

	require.NoError(t, f.svc.ChangePassword(ctx, id, "pw", "n3w"))
	h := f.repo.hash(id)
	assert.NotEqual(t, old, h)
	assert.True(t, f.hasher.Verify(h, "n3w"))
	assert.False(t, f.hasher.Verify(h, "pw"))
}

func TestRedirectTarget(t *testing.T) {
	assert.Equal(t, "/modules/admin/dashboard", RedirectTarget(entity.RoleAdmin))
	assert.Equal(t, "/modules/manager/dashboard", RedirectTarget(entity.RoleManager))
	assert.Equal(t, "/modules/employee/dashboard", RedirectTarget(entity.RoleEmployee))
	assert.Equal(t, "/dashboard", RedirectTarget(entity.Role("intern")))
	assert.Equal(t, "/dashboard", RedirectTarget(""))
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateUser(ctx, NewUser{Username: "x", Password: "pw", Role: "intern"})
	assert.ErrorIs(t, err, entity.ErrUnknownRole)

	_, err = f.svc.CreateUser(ctx, NewUser{Username: "", Password: "pw", Role: entity.RoleAdmin})
	assert.Error(t, err)

	id, err := f.svc.CreateUser(ctx, NewUser{Username: "erin", Password: "pw", Email: "Erin@Example.com", Role: entity.RoleAdmin})
	require.NoError(t, err)
	u, err := f.repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u.Email)
	assert.Equal(t, "erin@example.com", *u.Email)
	assert.True(t, f.hasher.Verify(u.PasswordHash, "pw"))

	_, err = f.svc.CreateUser(ctx, NewUser{Username: "erin", Password: "pw", Role: entity.RoleAdmin})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestCreateUser_UsernameMatchesLoginLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, name := range []string{"o'brien", "r&d", "<b>bob</b>", `say"hi"`, "   "} {
		_, err := f.svc.CreateUser(ctx, NewUser{Username: name, Password: "pw", Role: entity.RoleEmployee})
		assert.ErrorIs(t, err, utilities.ErrBadRequest, name)
	}
	_, err := f.repo.FindByUsername(ctx, "o'brien")
	assert.ErrorIs(t, err, userrepo.ErrNotFound)

	_, err = f.svc.CreateUser(ctx, NewUser{Username: " frank.o-brien ", Password: "pw", Role: entity.RoleEmployee})
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, f.anonymous(t), "frank.o-brien", "pw")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleEmployee, res.Role)
}

func TestSetPasswordAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.seed(t, "alice", "pw", entity.RoleEmployee)

	require.NoError(t, f.svc.SetPassword(ctx, "alice", "reset"))
	assert.True(t, f.hasher.Verify(f.repo.hash(id), "reset"))
	assert.ErrorIs(t, f.svc.SetPassword(ctx, "nobody", "x"), ErrUserNotFound)

	require.NoError(t, f.svc.SetStatus(ctx, "alice", entity.StatusInactive))
	_, err := f.svc.Login(ctx, f.anonymous(t), "alice", "reset")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Error(t, f.svc.SetStatus(ctx, "alice", "gone"))
}

func TestBcryptHasher_NeedsRehash(t *testing.T) {
	weak := BcryptHasher{Cost: bcrypt.MinCost}
	h, err := weak.Hash("pw")
	require.NoError(t, err)
	assert.False(t, weak.NeedsRehash(h))
	assert.True(t, BcryptHasher{Cost: bcrypt.MinCost + 1}.NeedsRehash(h))
	assert.False(t, weak.NeedsRehash("not-a-hash"))
}
