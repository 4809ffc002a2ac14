package security

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/internal/session"
)

// ErrInvalidCSRFToken marks a mutating request without a matching token.
var ErrInvalidCSRFToken = errors.New("invalid csrf token")

const (
	CSRFFormField = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"
)

// CSRF issues and checks the per-session anti-forgery token.
type CSRF struct {
	sessions *session.Manager
	logger   *zap.SugaredLogger
}

func NewCSRF(sessions *session.Manager, logger *zap.SugaredLogger) *CSRF {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CSRF{sessions: sessions, logger: logger}
}

// Issue returns the session's token, creating a 256-bit one on first use.
func (c *CSRF) Issue(ctx context.Context, s *session.Session) (string, error) {
	if s.CSRFToken != "" {
		return s.CSRFToken, nil
	}
	tok, err := session.RandomToken(32)
	if err != nil {
		return "", err
	}
	err = c.sessions.Update(ctx, s, func(cur *session.Session) error {
		// another request may have issued one meanwhile
		if cur.CSRFToken == "" {
			cur.CSRFToken = tok
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "store csrf token")
	}
	return s.CSRFToken, nil
}

// Validate reports whether submitted equals the session token.
func (c *CSRF) Validate(s *session.Session, submitted string) bool {
	if s == nil || s.CSRFToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.CSRFToken), []byte(submitted)) == 1
}

// submitted extracts the token from the header or the form field. The error
// reports a body that could not be parsed.
func submitted(r *http.Request) (string, error) {
	if v := r.Header.Get(CSRFHeader); v != "" {
		return v, nil
	}
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(32 << 20)
	} else {
		err = r.ParseForm()
	}
	return r.PostFormValue(CSRFFormField), err
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Middleware rejects mutating requests whose token does not match, sending
// the client to redirectTo with error=invalid_csrf. The wrapped handler does
// not run in that case.
func (c *CSRF) Middleware(redirectTo string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			tok, err := submitted(r)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.logger.Infow("request body too large", "path", r.URL.Path, "limit", tooLarge.Limit, "remote", r.RemoteAddr)
				http.Error(w, "Request body too large.", http.StatusRequestEntityTooLarge)
				return
			}
			if !c.Validate(session.FromContext(r.Context()), tok) {
				c.logger.Infow("csrf token rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Redirect(w, r, withError(redirectTo, "invalid_csrf"), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withError(target, code string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	return u.String()
}
