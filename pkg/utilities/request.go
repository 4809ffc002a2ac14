package utilities

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// ErrBadRequest marks a body that could not be decoded or failed validation.
var ErrBadRequest = errors.New("bad request")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FormBinder is implemented by request structs that accept urlencoded forms.
type FormBinder interface {
	BindForm(url.Values)
}

// Bind decodes a JSON or form body into dst and validates its struct tags.
func Bind(r *http.Request, dst FormBinder) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return errors.Wrap(ErrBadRequest, err.Error())
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return errors.Wrap(ErrBadRequest, err.Error())
		}
		dst.BindForm(r.PostForm)
	}
	return Validate(dst)
}

// Validate runs validator/v10 over v and flattens failures into one message.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(ErrBadRequest, err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return errors.Wrap(ErrBadRequest, strings.Join(fields, ", "))
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
