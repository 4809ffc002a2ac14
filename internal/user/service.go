package user

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-ems-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports a stored hash weaker than the configured cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return c < b.cost()
}

// Repository is the slice of the users table the auth flows need.
type Repository interface {
	FindActiveByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) (int64, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	SetStatus(ctx context.Context, id int64, status entity.Status) error
}

var _ Repository = (*userrepo.UserRepo)(nil)

var (
	ErrInvalidCredential = errors.New("Invalid username or password.")
	ErrRateLimited       = errors.New("Too many login attempts. Please try again later.")
	ErrUsernameTaken     = userrepo.ErrUsernameTaken
	ErrUserNotFound      = userrepo.ErrNotFound
)

// LoginResult is what a successful login hands back to the caller.
type LoginResult struct {
	Role     entity.Role `json:"role"`
	FullName string      `json:"full_name"`
	Redirect string      `json:"redirect"`
}

// AuthService orchestrates login, logout and password flows on top of the
// session manager and the login throttle.
type AuthService struct {
	repo     Repository
	hasher   PasswordHasher
	sessions *session.Manager
	throttle *security.Throttle
	logger   *zap.SugaredLogger
}

func NewAuthService(r Repository, hasher PasswordHasher, sessions *session.Manager, throttle *security.Throttle, logger *zap.SugaredLogger) *AuthService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AuthService{repo: r, hasher: hasher, sessions: sessions, throttle: throttle, logger: logger}
}

// Login authenticates username on the client session s. Every attempt that
// passes the throttle is recorded. On success s carries a new ID and the
// user's identity.
func (a *AuthService) Login(ctx context.Context, s *session.Session, username, password string) (*LoginResult, error) {
	username = security.SanitizeString(username, security.KindString)

	allowed, err := a.throttle.Check(ctx, s, username)
	if err != nil {
		return nil, err
	}
	if !allowed {
		a.logger.Infow("login throttled", "username", username)
		return nil, ErrRateLimited
	}

	u, err := a.repo.FindActiveByUsername(ctx, username)
	if err != nil && !errors.Is(err, userrepo.ErrNotFound) {
		return nil, err
	}
	if u == nil || !a.hasher.Verify(u.PasswordHash, password) {
		if err := a.throttle.Record(ctx, s, username, false); err != nil {
			return nil, err
		}
		a.logger.Debugw("login failed", "username", username)
		return nil, ErrInvalidCredential
	}

	if err := a.sessions.Establish(ctx, s, u); err != nil {
		return nil, errors.Wrap(err, "establish session")
	}
	if err := a.throttle.Record(ctx, s, username, true); err != nil {
		a.logger.Warnw("record login success failed", "err", err)
	}
	if err := a.repo.UpdateLastLogin(ctx, u.ID, a.sessions.Clock().Now()); err != nil {
		a.logger.Warnw("update last login failed", "user_id", u.ID, "err", err)
	}
	if a.hasher.NeedsRehash(u.PasswordHash) {
		if h, err := a.hasher.Hash(password); err == nil {
			if err := a.repo.UpdatePassword(ctx, u.ID, h); err != nil {
				a.logger.Warnw("rehash password failed", "user_id", u.ID, "err", err)
			}
		}
	}
	a.logger.Infow("login", "user_id", u.ID, "role", u.Role)
	return &LoginResult{Role: u.Role, FullName: u.FullName, Redirect: RedirectTarget(u.Role)}, nil
}

// Logout destroys s. Store failures are logged, the caller always proceeds.
func (a *AuthService) Logout(ctx context.Context, s *session.Session) {
	uid := s.UserID
	if err := a.sessions.Destroy(ctx, s); err != nil {
		a.logger.Warnw("destroy session failed", "user_id", uid, "err", err)
		return
	}
	a.logger.Debugw("logout", "user_id", uid)
}

// ChangePassword replaces the hash when current matches the stored one.
// No strength policy applies to next.
func (a *AuthService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	u, err := a.repo.FindByID(ctx, userID)
	if errors.Is(err, userrepo.ErrNotFound) {
		return ErrInvalidCredential
	}
	if err != nil {
		return err
	}
	if !a.hasher.Verify(u.PasswordHash, current) {
		return ErrInvalidCredential
	}
	h, err := a.hasher.Hash(next)
	if err != nil {
		return err
	}
	return a.repo.UpdatePassword(ctx, userID, h)
}

// RedirectTarget is the landing page for role.
func RedirectTarget(role entity.Role) string {
	switch role {
	case entity.RoleAdmin, entity.RoleManager, entity.RoleEmployee:
		return "/modules/" + string(role) + "/dashboard"
	}
	return "/dashboard"
}

// NewUser carries the fields an operator supplies when seeding an account.
type NewUser struct {
	Username string `validate:"required,max=64"`
	Password string `validate:"required"`
	FullName string `validate:"max=255"`
	Email    string `validate:"omitempty,email"`
	Role     entity.Role
}

// CreateUser hashes the password and inserts an active account.
func (a *AuthService) CreateUser(ctx context.Context, nu NewUser) (int64, error) {
	if err := utilities.Validate(nu); err != nil {
		return 0, err
	}
	if !nu.Role.Valid() {
		return 0, errors.Wrapf(entity.ErrUnknownRole, "%q", nu.Role)
	}
	username := strings.TrimSpace(nu.Username)
	// Login looks accounts up by the sanitized name
	if username == "" || security.SanitizeString(username, security.KindString) != username {
		return 0, errors.Wrapf(utilities.ErrBadRequest, "username %q contains markup or escapable characters", nu.Username)
	}
	h, err := a.hasher.Hash(nu.Password)
	if err != nil {
		return 0, err
	}
	u := &entity.User{
		Username:     username,
		PasswordHash: h,
		FullName:     security.SanitizeString(nu.FullName, security.KindString),
		Role:         nu.Role,
		Status:       entity.StatusActive,
	}
	if nu.Email != "" {
		e := security.SanitizeString(strings.ToLower(nu.Email), security.KindEmail)
		u.Email = &e
	}
	return a.repo.Create(ctx, u)
}

// SetPassword overwrites the password of username without checking the old one.
func (a *AuthService) SetPassword(ctx context.Context, username, password string) error {
	u, err := a.repo.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	h, err := a.hasher.Hash(password)
	if err != nil {
		return err
	}
	return a.repo.UpdatePassword(ctx, u.ID, h)
}

// SetStatus activates or disables username.
func (a *AuthService) SetStatus(ctx context.Context, username string, status entity.Status) error {
	if !status.Valid() {
		return errors.Newf("unknown status %q", status)
	}
	u, err := a.repo.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	return a.repo.SetStatus(ctx, u.ID, status)
}
