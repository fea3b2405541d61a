package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-api/library"
)

func TestFlattenErrors(t *testing.T) {
	verr := &library.ValidationError{}
	verr.Add("title", library.MsgRequired)
	verr.Add(library.NonFieldErrors, "Something is off.")
	verr.Add("email", library.MsgInvalidEmail)

	cases := []struct {
		name   string
		detail any
		want   []string
	}{
		{"nil", nil, []string{}},
		{"string", "This book is already borrowed.", []string{"This book is already borrowed."}},
		{"error", errors.New("boom"), []string{"boom"}},
		{"validation error keeps order", verr, []string{
			"title: This field is required.",
			"Something is off.",
			"email: Enter a valid email address.",
		}},
		{"map keys sorted", map[string][]string{
			"phone": {"Too long."},
			"email": {"Taken.", "Invalid."},
		}, []string{"email: Taken.", "email: Invalid.", "phone: Too long."}},
		{"detail and non_field_errors stay bare", map[string]any{
			"detail":               "Not found.",
			library.NonFieldErrors: []string{"Bad."},
		}, []string{"Not found.", "Bad."}},
		{"nested", map[string]any{
			"address": map[string]string{"city": "Required."},
		}, []string{"address: city: Required."}},
		{"list of mixed", []any{"one", map[string]string{"x": "two"}}, []string{"one", "x: two"}},
		{"other scalars", 42, []string{"42"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FlattenErrors(tc.detail))
		})
	}
}

func TestFlattenErrorsDeterministic(t *testing.T) {
	detail := map[string]string{"c": "3", "a": "1", "b": "2", "d": "4"}
	first := FlattenErrors(detail)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, FlattenErrors(detail))
	}
	assert.Equal(t, []string{"a: 1", "b: 2", "c: 3", "d: 4"}, first)
}

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"id": 1})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":201,"status":"CREATED","data":{"id":1}}`, rec.Body.String())
}

func TestWriteErrorsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrors(rec, http.StatusBadRequest, library.NewValidationError("member_id", library.MsgNoMember))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":400,"status":"BAD REQUEST","data":{"error":["member_id: Member does not exist."]}}`, rec.Body.String())
}

func TestNoContentHasNoBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestStatusText(t *testing.T) {
	for code, want := range map[int]string{
		200: "OK",
		400: "BAD REQUEST",
		401: "UNAUTHORIZED",
		404: "NOT FOUND",
		405: "METHOD NOT ALLOWED",
		500: "INTERNAL SERVER ERROR",
	} {
		require.Equal(t, want, StatusText(code))
	}
}
