package security

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-ems-go/pkg/utilities"
)

// ErrUploadRejected wraps the reasons an upload failed validation.
var ErrUploadRejected = errors.New("upload rejected")

// UploadPolicy bounds what ValidateUpload accepts.
type UploadPolicy struct {
	MaxSize      int64
	AllowedTypes []string
}

// multipart headers and other form fields around the file
const uploadEnvelope = 1 << 20

// BodyLimit is the largest request body an upload under p may send.
func (p UploadPolicy) BodyLimit() int64 { return p.MaxSize + uploadEnvelope }

// LimitBody caps the request body at n bytes. Mount it before anything that
// parses the form.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultUploadPolicy allows images up to 5 MiB.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxSize:      5 * 1024 * 1024,
		AllowedTypes: []string{"image/jpeg", "image/png", "image/gif"},
	}
}

// UploadedFile is what ValidateUpload inspects. Err carries a transport
// failure reported by the HTTP layer.
type UploadedFile struct {
	Err  error
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileFromHeader adapts a multipart upload.
func FileFromHeader(fh *multipart.FileHeader) UploadedFile {
	return UploadedFile{
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

var (
	scriptTag = regexp.MustCompile(`(?i)<script\b[^>]*>`)
	// process execution, dynamic evaluation and decode-then-run idioms
	dangerousCalls = []*regexp.Regexp{
		regexp.MustCompile(`(?i)system\s*\(`),
		regexp.MustCompile(`(?i)exec\s*\(`),
		regexp.MustCompile(`(?i)shell_exec\s*\(`),
		regexp.MustCompile(`(?i)passthru\s*\(`),
		regexp.MustCompile(`(?i)eval\s*\(`),
		regexp.MustCompile(`(?i)base64_decode\s*\(`),
	}
)

// ValidateUpload checks transport status, size, sniffed MIME type and
// content. It returns ok=false with every human readable reason found.
func ValidateUpload(f UploadedFile, p UploadPolicy) (bool, []string) {
	if f.Err != nil {
		return false, []string{fmt.Sprintf("File upload error: %v", f.Err)}
	}
	if f.Open == nil {
		return false, []string{"File upload error: no content"}
	}
	var reasons []string
	if p.MaxSize > 0 && f.Size > p.MaxSize {
		reasons = append(reasons, "File size exceeds maximum allowed size.")
	}

	content, err := readUpload(f, p.MaxSize)
	if err != nil {
		return false, append(reasons, fmt.Sprintf("File upload error: %v", err))
	}

	detected := mimetype.Detect(content)
	if !allowedType(detected, p.AllowedTypes) {
		reasons = append(reasons, "Invalid file type. Allowed types: "+strings.Join(p.AllowedTypes, ", "))
	}
	if containsMaliciousContent(content) {
		reasons = append(reasons, "File contains potentially malicious content.")
	}
	if len(reasons) > 0 {
		return false, reasons
	}
	return true, nil
}

// UploadError turns rejection reasons into an error matching ErrUploadRejected.
func UploadError(reasons []string) error {
	return errors.Wrap(ErrUploadRejected, strings.Join(reasons, " "))
}

func readUpload(f UploadedFile, max int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var r io.Reader = rc
	if max > 0 {
		r = io.LimitReader(rc, max)
	}
	return io.ReadAll(r)
}

func allowedType(m *mimetype.MIME, allowed []string) bool {
	for _, a := range allowed {
		if m.Is(a) {
			return true
		}
	}
	return false
}

func containsMaliciousContent(b []byte) bool {
	s := string(b)
	if strings.Contains(strings.ToLower(s), "<?php") {
		return true
	}
	if scriptTag.MatchString(s) {
		return true
	}
	for _, re := range dangerousCalls {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// UploadResponse reports the outcome of UploadHandler.
type UploadResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// UploadHandler validates the multipart field "file" against p without
// storing it.
func UploadHandler(p UploadPolicy, logger *zap.SugaredLogger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, p.BodyLimit())
		var f UploadedFile
		file, fh, err := r.FormFile("file")
		if err != nil {
			f = UploadedFile{Err: err}
		} else {
			file.Close()
			f = FileFromHeader(fh)
		}
		ok, reasons := ValidateUpload(f, p)
		if !ok {
			logger.Infow("upload rejected", "err", UploadError(reasons), "remote", r.RemoteAddr)
			utilities.WriteJSON(w, http.StatusUnprocessableEntity, UploadResponse{Errors: reasons})
			return
		}
		utilities.WriteJSON(w, http.StatusOK, UploadResponse{Valid: true})
	}
}
