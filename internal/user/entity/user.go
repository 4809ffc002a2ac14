package entity

import "time"

// Status is the account state stored in users.status.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// User represents an account row in the `users` table.
type User struct {
	ID           int64      `db:"id"`
	Username     string     `db:"username"`
	PasswordHash string     `db:"password_hash"`
	Email        *string    `db:"email"`
	FullName     string     `db:"full_name"`
	Role         Role       `db:"role"`
	Status       Status     `db:"status"`
	LastLogin    *time.Time `db:"last_login"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Active reports whether the account may log in.
func (u *User) Active() bool { return u.Status == StatusActive }
