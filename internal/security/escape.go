package security

import (
	"fmt"
	"html"
)

// EscapeForDisplay HTML-escapes v before it is interpolated into a view.
// Maps and slices are escaped element by element; keys are left alone.
func EscapeForDisplay(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return html.EscapeString(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = html.EscapeString(s)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = html.EscapeString(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = EscapeForDisplay(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = EscapeForDisplay(e)
		}
		return out
	default:
		return html.EscapeString(fmt.Sprint(t))
	}
}
