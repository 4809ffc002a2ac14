package user

import (
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

// Handler exposes HTTP endpoints for login, logout and password changes.
type Handler struct {
	svc      *AuthService
	sessions *session.Manager
	csrf     *security.CSRF
	logger   *zap.SugaredLogger
}

func NewHandler(svc *AuthService, sessions *session.Manager, csrf *security.CSRF, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, csrf: csrf, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

func (l *LoginRequest) BindForm(v url.Values) {
	l.Username = v.Get("username")
	l.Password = v.Get("password")
}

// LoginResponse is returned for every login outcome.
type LoginResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Role     string `json:"role,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	var req LoginRequest
	if err := utilities.Bind(r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		utilities.WriteJSON(w, http.StatusBadRequest, LoginResponse{Message: "Username and password are required."})
		return
	}
	res, err := h.svc.Login(r.Context(), s, req.Username, req.Password)
	switch {
	case err == nil:
		// the ID changed, the client must follow it
		h.sessions.SetCookie(w, s)
		utilities.WriteJSON(w, http.StatusOK, LoginResponse{
			Success:  true,
			Role:     res.Role.String(),
			FullName: security.EscapeForDisplay(res.FullName).(string),
			Redirect: res.Redirect,
		})
	case errors.Is(err, ErrRateLimited):
		utilities.WriteJSON(w, http.StatusTooManyRequests, LoginResponse{Message: ErrRateLimited.Error()})
	case errors.Is(err, ErrInvalidCredential):
		utilities.WriteJSON(w, http.StatusUnauthorized, LoginResponse{Message: ErrInvalidCredential.Error()})
	default:
		h.logger.Warnw("login failed", "err", err)
		utilities.WriteJSON(w, http.StatusInternalServerError, LoginResponse{Message: "Login failed."})
	}
}

// LogoutRedirect answers a plain GET on the logout URL without logging out.
func (h *Handler) LogoutRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// Logout destroys the session. CSRF is checked by the router.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if s := session.FromContext(r.Context()); s != nil {
		h.svc.Logout(r.Context(), s)
	}
	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ChangePasswordRequest password change payload.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

func (c *ChangePasswordRequest) BindForm(v url.Values) {
	c.CurrentPassword = v.Get("current_password")
	c.NewPassword = v.Get("new_password")
	c.ConfirmPassword = v.Get("confirm_password")
}

// ChangePasswordResponse carries the advisory strength of the new password.
type ChangePasswordResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Strength int    `json:"strength,omitempty"`
	Label    string `json:"strength_label,omitempty"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	var req ChangePasswordRequest
	if err := utilities.Bind(r, &req); err != nil {
		h.logger.Debugw("invalid password payload", "err", err)
		utilities.WriteJSON(w, http.StatusBadRequest, ChangePasswordResponse{Message: "New passwords do not match or are missing."})
		return
	}
	err := h.svc.ChangePassword(r.Context(), s.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		score := security.PasswordStrength(req.NewPassword)
		utilities.WriteJSON(w, http.StatusOK, ChangePasswordResponse{
			Success:  true,
			Message:  "Password changed successfully.",
			Strength: score,
			Label:    security.StrengthLabel(score),
		})
	case errors.Is(err, ErrInvalidCredential):
		utilities.WriteJSON(w, http.StatusBadRequest, ChangePasswordResponse{Message: "Current password is incorrect."})
	default:
		h.logger.Warnw("change password failed", "user_id", s.UserID, "err", err)
		utilities.WriteJSON(w, http.StatusInternalServerError, ChangePasswordResponse{Message: "Password change failed."})
	}
}

// Session returns the presentation view and makes sure a CSRF token exists.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	if s == nil {
		utilities.WriteJSON(w, http.StatusOK, session.View{})
		return
	}
	if _, err := h.csrf.Issue(r.Context(), s); err != nil {
		h.logger.Warnw("issue csrf token failed", "err", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	v := h.sessions.View(s)
	// the dashboard inserts the name as markup
	v.FullName = security.EscapeForDisplay(v.FullName).(string)
	utilities.WriteJSON(w, http.StatusOK, v)
}

// Redirect sends an authenticated user to the landing page of their role.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	http.Redirect(w, r, RedirectTarget(s.Role), http.StatusSeeOther)
}
