// Package attendance records daily check-in and check-out.
package attendance

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/attendance/entity"
	attendancerepo "github.com/ovaphlow/pitchfork/service-ems-go/internal/attendance/repo"
)

var (
	ErrAlreadyCheckedIn = errors.New("Already checked in today")
	ErrNotCheckedIn     = errors.New("You need to check in first")
)

// Repository is the attendance persistence the service relies on.
type Repository interface {
	FindByDate(ctx context.Context, userID int64, day string) (*entity.Record, error)
	Insert(ctx context.Context, rec *entity.Record) error
	UpdateCheckOut(ctx context.Context, userID int64, day string, out time.Time, hours float64) error
}

var _ Repository = (*attendancerepo.AttendanceRepo)(nil)

// Service applies the one-record-per-user-per-day rules.
type Service struct {
	repo   Repository
	clock  clockwork.Clock
	loc    *time.Location
	logger *zap.SugaredLogger
}

// NewService builds a Service. Days are calendar days in loc, time.Local when nil.
func NewService(r Repository, clock clockwork.Clock, loc *time.Location, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, clock: clock, loc: loc, logger: logger}
}

func (s *Service) now() time.Time { return s.clock.Now().In(s.loc) }

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CheckIn opens today's record for userID.
func (s *Service) CheckIn(ctx context.Context, userID int64) (*entity.Record, error) {
	now := s.now()
	today := day(now)
	_, err := s.repo.FindByDate(ctx, userID, today.Format(entity.DateLayout))
	switch {
	case err == nil:
		return nil, ErrAlreadyCheckedIn
	case !errors.Is(err, attendancerepo.ErrNotFound):
		return nil, err
	}
	rec := &entity.Record{UserID: userID, Date: today, CheckIn: now, Status: entity.StatusPresent}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, attendancerepo.ErrDuplicate) {
			return nil, ErrAlreadyCheckedIn
		}
		return nil, err
	}
	s.logger.Debugw("check in", "user_id", userID, "date", rec.Day())
	return rec, nil
}

// CheckOut closes today's record and stores the hours worked. A second
// check-out on the same day replaces the first.
func (s *Service) CheckOut(ctx context.Context, userID int64) (*entity.Record, error) {
	now := s.now()
	key := day(now).Format(entity.DateLayout)
	rec, err := s.repo.FindByDate(ctx, userID, key)
	if errors.Is(err, attendancerepo.ErrNotFound) {
		return nil, ErrNotCheckedIn
	}
	if err != nil {
		return nil, err
	}
	if rec.CheckIn.IsZero() {
		return nil, ErrNotCheckedIn
	}
	hours := TotalHours(rec.CheckIn, now)
	if err := s.repo.UpdateCheckOut(ctx, userID, key, now, hours); err != nil {
		return nil, err
	}
	rec.CheckOut = &now
	rec.TotalHours = &hours
	s.logger.Debugw("check out", "user_id", userID, "date", key, "hours", hours)
	return rec, nil
}

// Today returns userID's record for today, or nil when there is none.
func (s *Service) Today(ctx context.Context, userID int64) (*entity.Record, error) {
	rec, err := s.repo.FindByDate(ctx, userID, day(s.now()).Format(entity.DateLayout))
	if errors.Is(err, attendancerepo.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// TotalHours is the span between in and out in hours, rounded to two decimals.
func TotalHours(in, out time.Time) float64 {
	return math.Round(out.Sub(in).Hours()*100) / 100
}
