package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// pq code for unique_violation
const uniqueViolation = "23505"

const userColumns = `id, username, password_hash, email, full_name, role, status, last_login, created_at, updated_at`

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) get(ctx context.Context, q string, args ...any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "select user")
	}
	return &u, nil
}

// FindActiveByUsername returns the account allowed to log in under username.
func (r *UserRepo) FindActiveByUsername(ctx context.Context, username string) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND status = 'active'`
	return r.get(ctx, q, username)
}

// FindByUsername ignores the account status.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.get(ctx, q, username)
}

func (r *UserRepo) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.get(ctx, q, id)
}

// Create inserts a user and returns its ID. A duplicate username yields ErrUsernameTaken.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (username, password_hash, email, full_name, role, status)
		VALUES (:username, :password_hash, :email, :full_name, :role, :status) RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, ErrUsernameTaken
		}
		return 0, errors.Wrap(err, "insert user")
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, errors.New("insert user: no id returned")
	}
	if err := rows.Scan(&u.ID); err != nil {
		return 0, errors.Wrap(err, "scan user id")
	}
	return u.ID, nil
}

func (r *UserRepo) exec(ctx context.Context, what, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, what)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "update password", q, id, hash)
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET last_login = $2 WHERE id = $1`
	return r.exec(ctx, "update last login", q, id, at)
}

// SetStatus changes the account status; inactive and suspended accounts cannot log in.
func (r *UserRepo) SetStatus(ctx context.Context, id int64, status entity.Status) error {
	const q = `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "update status", q, id, status)
}
