package entity

import "time"

// DateLayout is the calendar day format stored in attendance.date.
const DateLayout = "2006-01-02"

const StatusPresent = "present"

// Record is one row of the `attendance` table: a user's day.
type Record struct {
	ID         int64      `db:"id" json:"id,string"`
	UserID     int64      `db:"user_id" json:"user_id"`
	Date       time.Time  `db:"date" json:"-"`
	CheckIn    time.Time  `db:"check_in" json:"check_in"`
	CheckOut   *time.Time `db:"check_out" json:"check_out,omitempty"`
	TotalHours *float64   `db:"total_hours" json:"total_hours,omitempty"`
	Status     string     `db:"status" json:"status"`
}

// Day returns the record date in DateLayout.
func (r *Record) Day() string { return r.Date.Format(DateLayout) }

// CheckedOut reports whether the day is closed.
func (r *Record) CheckedOut() bool { return r.CheckOut != nil }
