package attendance

import (
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/attendance/entity"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

// clock time as shown on the dashboard
const displayLayout = "03:04 PM"

const (
	ActionCheckIn  = "check_in"
	ActionCheckOut = "check_out"
)

// Handler exposes the attendance endpoints. Routes are mounted behind the
// authentication and CSRF guards.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// MarkRequest selects the attendance action.
type MarkRequest struct {
	Action string `json:"action" validate:"required,oneof=check_in check_out"`
}

func (m *MarkRequest) BindForm(v url.Values) { m.Action = v.Get("action") }

// MarkResponse mirrors what the dashboard script expects. Business failures
// are reported with success=false and status 200.
type MarkResponse struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	CheckInTime  string   `json:"check_in_time,omitempty"`
	CheckOutTime string   `json:"check_out_time,omitempty"`
	TotalHours   *float64 `json:"total_hours,omitempty"`
}

func (h *Handler) Mark(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	var req MarkRequest
	if err := utilities.Bind(r, &req); err != nil {
		h.logger.Debugw("invalid attendance payload", "err", err)
		utilities.WriteJSON(w, http.StatusBadRequest, MarkResponse{Message: "Invalid action"})
		return
	}

	var (
		rec *entity.Record
		err error
	)
	switch req.Action {
	case ActionCheckIn:
		rec, err = h.svc.CheckIn(r.Context(), s.UserID)
	case ActionCheckOut:
		rec, err = h.svc.CheckOut(r.Context(), s.UserID)
	}
	switch {
	case errors.Is(err, ErrAlreadyCheckedIn), errors.Is(err, ErrNotCheckedIn):
		utilities.WriteJSON(w, http.StatusOK, MarkResponse{Message: err.Error()})
		return
	case err != nil:
		h.logger.Warnw("attendance failed", "user_id", s.UserID, "action", req.Action, "err", err)
		utilities.WriteJSON(w, http.StatusInternalServerError, MarkResponse{Message: "Attendance could not be saved."})
		return
	}

	if req.Action == ActionCheckIn {
		utilities.WriteJSON(w, http.StatusOK, MarkResponse{
			Success:     true,
			Message:     "Checked in successfully",
			CheckInTime: rec.CheckIn.Format(displayLayout),
		})
		return
	}
	utilities.WriteJSON(w, http.StatusOK, MarkResponse{
		Success:      true,
		Message:      "Checked out successfully",
		CheckOutTime: rec.CheckOut.Format(displayLayout),
		TotalHours:   rec.TotalHours,
	})
}

// TodayResponse is the dashboard's attendance badge.
type TodayResponse struct {
	CheckedIn    bool           `json:"checked_in"`
	CheckedOut   bool           `json:"checked_out"`
	CheckInTime  string         `json:"check_in_time,omitempty"`
	CheckOutTime string         `json:"check_out_time,omitempty"`
	Record       *entity.Record `json:"record,omitempty"`
}

func (h *Handler) Today(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	rec, err := h.svc.Today(r.Context(), s.UserID)
	if err != nil {
		h.logger.Warnw("load attendance failed", "user_id", s.UserID, "err", err)
		http.Error(w, "attendance unavailable", http.StatusInternalServerError)
		return
	}
	resp := TodayResponse{Record: rec}
	if rec != nil {
		resp.CheckedIn = true
		resp.CheckInTime = rec.CheckIn.In(h.svc.loc).Format(displayLayout)
		if rec.CheckedOut() {
			resp.CheckedOut = true
			resp.CheckOutTime = rec.CheckOut.In(h.svc.loc).Format(displayLayout)
		}
	}
	utilities.WriteJSON(w, http.StatusOK, resp)
}
