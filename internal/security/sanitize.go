// Package security holds the input/output hygiene helpers, upload checks,
// CSRF tokens and the login throttle.
package security

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Kind selects the normalization Sanitize applies.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindEmail
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindEmail:
		return "email"
	case KindURL:
		return "url"
	default:
		return "string"
	}
}

// strict removes every tag and escapes what is left.
var strict = bluemonday.StrictPolicy()

var sanitizers = map[Kind]func(string) string{
	KindString: sanitizeText,
	KindInt:    keep(isDigit, "+-"),
	KindFloat:  keep(isDigit, "+-."),
	KindEmail:  keep(isASCIIAlnum, "!#$%&'*+-=?^_`{|}~@.[]"),
	KindURL:    keep(isASCIIAlnum, "$-_.+!*'(),{}|\\^~[]`<>#%\";/?:@&="),
}

// Sanitize normalizes input according to kind; nil stays nil. This is
// defense in depth only: queries are always parameterized.
func Sanitize(input *string, kind Kind) *string {
	if input == nil {
		return nil
	}
	out := SanitizeString(*input, kind)
	return &out
}

// SanitizeString is Sanitize for values that cannot be absent.
func SanitizeString(input string, kind Kind) string {
	fn, ok := sanitizers[kind]
	if !ok {
		fn = sanitizeText
	}
	return fn(input)
}

func sanitizeText(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isASCIIAlnum(r rune) bool {
	return r < unicode.MaxASCII && (isDigit(r) || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
}

// keep builds a filter that drops every rune not accepted by class or extra.
func keep(class func(rune) bool, extra string) func(string) string {
	return func(s string) string {
		return strings.Map(func(r rune) rune {
			if class(r) || strings.ContainsRune(extra, r) {
				return r
			}
			return -1
		}, s)
	}
}
