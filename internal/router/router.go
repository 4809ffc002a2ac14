package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/attendance"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-ems-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

const (
	apiPrefix = "/ems-api"
	loginPage = "/login"
)

// RequestIDHeader carries the per-request KSUID.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the ID LoggingMiddleware assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware tags each request with a KSUID and logs it at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = utilities.NewKSUID()
			}
			w.Header().Set(RequestIDHeader, id)
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets the response headers every page carries.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if h.Get("Content-Security-Policy") == "" {
				h.Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// session pages must not be cached by shared proxies
			h.Set("Cache-Control", "no-store")
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Logger       *zap.SugaredLogger
	Sessions     *session.Manager
	CSRF         *security.CSRF
	Users        *user.Handler
	Attendance   *attendance.Handler
	LoginLimiter *IPLimiter
	Upload       security.UploadPolicy
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+apiPrefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	withSession := d.Sessions.Middleware
	authed := d.Sessions.RequireAuthenticated(loginPage)

	mux.Handle("GET "+apiPrefix+"/session", chain(http.HandlerFunc(d.Users.Session), withSession))
	// login runs before a CSRF token can exist for the client
	mux.Handle("POST "+apiPrefix+"/login", chain(http.HandlerFunc(d.Users.Login), d.LoginLimiter.Middleware, withSession))
	mux.HandleFunc("GET "+apiPrefix+"/logout", d.Users.LogoutRedirect)
	mux.Handle("POST "+apiPrefix+"/logout", chain(http.HandlerFunc(d.Users.Logout), withSession, d.CSRF.Middleware(loginPage)))
	mux.Handle("POST "+apiPrefix+"/password", chain(http.HandlerFunc(d.Users.ChangePassword), withSession, authed, d.CSRF.Middleware("/profile")))
	mux.Handle("GET "+apiPrefix+"/whoami/redirect", chain(http.HandlerFunc(d.Users.Redirect), withSession, authed))

	tracks := d.Sessions.RequireCapability("/dashboard", entity.CapTrackAttendance)
	mux.Handle("POST "+apiPrefix+"/attendance", chain(http.HandlerFunc(d.Attendance.Mark), withSession, authed, tracks, d.CSRF.Middleware("/dashboard")))
	mux.Handle("GET "+apiPrefix+"/attendance/today", chain(http.HandlerFunc(d.Attendance.Today), withSession, authed, tracks))

	upload := d.Upload
	if upload.MaxSize <= 0 {
		upload = security.DefaultUploadPolicy()
	}
	mux.Handle("POST "+apiPrefix+"/uploads/validate", chain(security.UploadHandler(upload, d.Logger),
		security.LimitBody(upload.BodyLimit()), withSession, authed, d.CSRF.Middleware("/dashboard")))

	return LoggingMiddleware(d.Logger)(SecurityHeadersMiddleware()(mux))
}
