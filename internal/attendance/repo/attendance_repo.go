package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/attendance/entity"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

var (
	ErrNotFound  = errors.New("attendance record not found")
	ErrDuplicate = errors.New("attendance record exists")
)

const uniqueViolation = "23505"

// AttendanceRepo provides data access for the attendance table using sqlx.
type AttendanceRepo struct {
	db *sqlx.DB
}

func NewAttendanceRepo(db *sqlx.DB) *AttendanceRepo { return &AttendanceRepo{db: db} }

// FindByDate returns the record of userID for day (formatted as entity.DateLayout).
func (r *AttendanceRepo) FindByDate(ctx context.Context, userID int64, day string) (*entity.Record, error) {
	const q = `SELECT id, user_id, date, check_in, check_out, total_hours, status
		FROM attendance WHERE user_id = $1 AND date = $2`
	var rec entity.Record
	if err := r.db.GetContext(ctx, &rec, q, userID, day); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "select attendance")
	}
	return &rec, nil
}

// Insert stores a check-in. The row ID comes from the snowflake node; a
// second row for the same user and day yields ErrDuplicate.
func (r *AttendanceRepo) Insert(ctx context.Context, rec *entity.Record) error {
	const q = `INSERT INTO attendance (id, user_id, date, check_in, status) VALUES ($1, $2, $3, $4, $5)`
	if rec.ID == 0 {
		rec.ID = utilities.NextID()
	}
	_, err := r.db.ExecContext(ctx, q, rec.ID, rec.UserID, rec.Day(), rec.CheckIn, rec.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return errors.Wrap(err, "insert attendance")
	}
	return nil
}

// UpdateCheckOut closes the day; calling it again overwrites the previous check-out.
func (r *AttendanceRepo) UpdateCheckOut(ctx context.Context, userID int64, day string, out time.Time, hours float64) error {
	const q = `UPDATE attendance SET check_out = $3, total_hours = $4 WHERE user_id = $1 AND date = $2`
	res, err := r.db.ExecContext(ctx, q, userID, day, out, hours)
	if err != nil {
		return errors.Wrap(err, "update attendance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update attendance")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
