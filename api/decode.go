package api

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"library-api/library"
)

const maxBodyBytes = 1 << 20

// requestBody is a decoded JSON object whose members are parsed one field at
// a time so that presence, null and type problems can be told apart.
type requestBody map[string]jsoniter.RawMessage

// readObject reads the request body as a JSON object. An empty body is an
// empty object.
func readObject(w http.ResponseWriter, r *http.Request) (requestBody, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, library.NewValidationError("detail", "JSON parse error - "+err.Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return requestBody{}, nil
	}

	var top any
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, library.NewValidationError("detail", "JSON parse error - "+err.Error())
	}
	if _, ok := top.(map[string]any); !ok {
		return nil, library.NewValidationError(library.NonFieldErrors,
			fmt.Sprintf("Invalid data. Expected a dictionary, but got %s.", kindOf(top)))
	}

	body := requestBody{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, library.NewValidationError("detail", "JSON parse error - "+err.Error())
	}
	return body, nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	return "number"
}

func (b requestBody) raw(field string) (jsoniter.RawMessage, bool) {
	raw, ok := b[field]
	return raw, ok
}

func isNull(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// parseInt accepts a JSON integer, an integral float or a string holding an
// integer. On failure it returns the JSON kind of raw.
func parseInt(raw []byte) (int64, string, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, "number", true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, "invalid", false
	}
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 {
			return int64(x), "number", true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, "string", true
		}
	}
	return 0, kindOf(v), false
}

// str decodes a non-nullable string field, trimming surrounding whitespace.
// It returns nil when the field is absent or invalid.
func (b requestBody) str(field string, verr *library.ValidationError) *string {
	raw, ok := b.raw(field)
	if !ok {
		return nil
	}
	if isNull(raw) {
		verr.Add(field, library.MsgNull)
		return nil
	}
	s, ok := stringValue(raw)
	if !ok {
		verr.Add(field, library.MsgInvalidString)
		return nil
	}
	s = strings.TrimSpace(s)
	return &s
}

// stringValue accepts a JSON string, or a JSON number rendered as its literal
// text. Booleans, arrays and objects are rejected.
func stringValue(raw []byte) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		if _, ok := v.(float64); ok {
			return string(bytes.TrimSpace(raw)), true
		}
	}
	return "", false
}

// integer decodes a non-nullable integer field.
func (b requestBody) integer(field string, verr *library.ValidationError) *int64 {
	raw, ok := b.raw(field)
	if !ok {
		return nil
	}
	if isNull(raw) {
		verr.Add(field, library.MsgNull)
		return nil
	}
	n, _, ok := parseInt(raw)
	if !ok {
		verr.Add(field, library.MsgInvalidInt)
		return nil
	}
	return &n
}

// reference decodes a nullable id field. An explicit null yields a non-nil
// NullInt64 with Valid unset.
func (b requestBody) reference(field string, verr *library.ValidationError) *sql.NullInt64 {
	raw, ok := b.raw(field)
	if !ok {
		return nil
	}
	if isNull(raw) {
		return &sql.NullInt64{}
	}
	n, kind, ok := parseInt(raw)
	if !ok {
		verr.Add(field, fmt.Sprintf("Incorrect type. Expected pk value, received %s.", kind))
		return nil
	}
	return &sql.NullInt64{Int64: n, Valid: true}
}

// text returns a credential field as a string. Absent, null and blank values
// all read as "".
func (b requestBody) text(field string) string {
	raw, ok := b.raw(field)
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// memberID reads the member_id of a borrow request. Zero means no usable
// value was supplied (absent, null, 0, "", false, [] or {}); a value that is
// present but not an id becomes -1, which matches no member.
func (b requestBody) memberID() int64 {
	raw, ok := b.raw("member_id")
	if !ok {
		return 0
	}
	if n, _, ok := parseInt(raw); ok {
		return n
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return -1
	}
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if !x {
			return 0
		}
	case string:
		if strings.TrimSpace(x) == "" {
			return 0
		}
	case []any:
		if len(x) == 0 {
			return 0
		}
	case map[string]any:
		if len(x) == 0 {
			return 0
		}
	}
	return -1
}

// bookPatch decodes the writable Book fields of body. Decoding problems are
// recorded on the patch.
func bookPatch(body requestBody) library.BookPatch {
	verr := &library.ValidationError{}
	p := library.BookPatch{
		Title:         body.str("title", verr),
		Author:        body.str("author", verr),
		PublishedYear: body.integer("published_year", verr),
		Borrower:      body.reference("borrower", verr),
	}
	if s := body.str("status", verr); s != nil {
		st := library.BookStatus(*s)
		p.Status = &st
	}
	if !verr.Empty() {
		p.Invalid = verr
	}
	return p
}

// memberPatch decodes the writable Member fields of body.
func memberPatch(body requestBody) library.MemberPatch {
	verr := &library.ValidationError{}
	p := library.MemberPatch{
		Name:    body.str("name", verr),
		Email:   body.str("email", verr),
		Address: body.str("address", verr),
		Phone:   body.str("phone", verr),
	}
	if !verr.Empty() {
		p.Invalid = verr
	}
	return p
}
