// Package api exposes the library over HTTP. Every response body is wrapped
// in the {code, status, data} envelope; errors carry {"error": [...]} as data.
package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"library-api/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the outer shape of every API response.
type Envelope struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ErrorData is the envelope payload of a failed request.
type ErrorData struct {
	Error []string `json:"error"`
}

// StatusText returns the upper-cased reason phrase for code, e.g. "BAD REQUEST".
func StatusText(code int) string {
	return strings.ToUpper(http.StatusText(code))
}

// WriteJSON writes data wrapped in the envelope. 204 responses get no body.
func WriteJSON(w http.ResponseWriter, code int, data any) {
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Envelope{Code: code, Status: StatusText(code), Data: data})
}

// WriteErrors flattens detail and writes it as an error envelope.
func WriteErrors(w http.ResponseWriter, code int, detail any) {
	WriteJSON(w, code, ErrorData{Error: FlattenErrors(detail)})
}

// FlattenErrors turns an error structure into a flat list of messages.
// Accepted shapes are a *library.ValidationError, maps of field to message(s),
// lists, strings and errors, nested to any depth. Field-scoped messages are
// rendered as "field: message" except for the non_field_errors and detail
// buckets. Map keys are visited in sorted order.
func FlattenErrors(detail any) []string {
	return flatten("", detail, []string{})
}

func flatten(field string, v any, out []string) []string {
	switch x := v.(type) {
	case nil:
		return out
	case *library.ValidationError:
		if x == nil {
			return out
		}
		for _, fe := range x.Errors {
			out = append(out, qualify(join(field, fe.Field), fe.Message))
		}
	case map[string]any:
		for _, k := range sortedKeys(x) {
			out = flatten(join(field, k), x[k], out)
		}
	case map[string][]string:
		for _, k := range sortedKeys(x) {
			out = flatten(join(field, k), x[k], out)
		}
	case map[string]string:
		for _, k := range sortedKeys(x) {
			out = flatten(join(field, k), x[k], out)
		}
	case []string:
		for _, s := range x {
			out = append(out, qualify(field, s))
		}
	case []any:
		for _, e := range x {
			out = flatten(field, e, out)
		}
	case string:
		out = append(out, qualify(field, x))
	case error:
		out = append(out, qualify(field, x.Error()))
	default:
		out = append(out, qualify(field, fmt.Sprint(x)))
	}
	return out
}

func bare(field string) bool {
	return field == "" || field == library.NonFieldErrors || field == "detail"
}

func join(parent, child string) string {
	switch {
	case bare(child):
		return parent
	case bare(parent):
		return child
	}
	return parent + ": " + child
}

func qualify(field, msg string) string {
	if bare(field) {
		return msg
	}
	return field + ": " + msg
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
