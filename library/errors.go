package library

import (
	"fmt"
	"strings"
)

// NonFieldErrors is the field name used for errors that are not tied to a
// single input field.
const NonFieldErrors = "non_field_errors"

// Messages shared by validation and the request decoders.
const (
	MsgRequired      = "This field is required."
	MsgNull          = "This field may not be null."
	MsgBlank         = "This field may not be blank."
	MsgInvalidEmail  = "Enter a valid email address."
	MsgInvalidString = "Not a valid string."
	MsgInvalidInt    = "A valid integer is required."
	MsgDuplicateMail = "A member with this email already exists."
	MsgNoMember      = "Member does not exist."
	MsgNeedBorrower  = "A borrowed book must have a borrower."
	MsgNoBorrower    = "An available book cannot have a borrower."
)

// FieldError is a single validation message, optionally scoped to a field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every problem found with one request. Errors keep
// the order they were added in.
type ValidationError struct {
	Errors []FieldError
}

// NewValidationError returns a ValidationError holding one message.
func NewValidationError(field, message string) *ValidationError {
	e := &ValidationError{}
	e.Add(field, message)
	return e
}

// Add appends a message for field.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Merge appends all of other's messages.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	e.Errors = append(e.Errors, other.Errors...)
}

// Has reports whether field already carries a message.
func (e *ValidationError) Has(field string) bool {
	if e == nil {
		return false
	}
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Empty reports whether no messages were collected.
func (e *ValidationError) Empty() bool { return e == nil || len(e.Errors) == 0 }

// Err returns e as an error, or nil when it is empty.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

// SortFields orders messages by the position of their field in order.
// Fields not listed keep their relative order after the listed ones.
func (e *ValidationError) SortFields(order []string) {
	rank := make(map[string]int, len(order))
	for i, f := range order {
		rank[f] = i
	}
	pos := func(f string) int {
		if r, ok := rank[f]; ok {
			return r
		}
		return len(order)
	}
	// insertion sort keeps it stable; the lists are tiny
	for i := 1; i < len(e.Errors); i++ {
		for j := i; j > 0 && pos(e.Errors[j].Field) < pos(e.Errors[j-1].Field); j-- {
			e.Errors[j], e.Errors[j-1] = e.Errors[j-1], e.Errors[j]
		}
	}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Field == "" || fe.Field == NonFieldErrors {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotFoundError reports a lookup by id that matched nothing.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("No %s matches the given query.", e.Entity)
}

// AuthenticationError reports missing or rejected credentials.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// ConflictError reports a request that is well formed but not allowed in the
// current state of the record, such as borrowing a borrowed book.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

var (
	errBookBorrowed    = &ConflictError{Message: "This book is already borrowed."}
	errBookNotBorrowed = &ConflictError{Message: "This book is not currently borrowed."}
)
