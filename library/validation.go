package library

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field declaration order, used to report messages the way clients read the
// payload.
var (
	BookFields   = []string{"title", "author", "published_year", "status", "borrower"}
	MemberFields = []string{"name", "email", "address", "phone"}
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs the struct-tag rules on s and translates each failure into
// a client-facing message.
func checkStruct(s any) *ValidationError {
	verr := &ValidationError{}
	err := validate.Struct(s)
	if err == nil {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add(NonFieldErrors, err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), messageFor(fe))
	}
	return verr
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return MsgBlank
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	case "email":
		return MsgInvalidEmail
	case "oneof":
		return fmt.Sprintf("%q is not a valid choice.", fmt.Sprint(fe.Value()))
	case "gte":
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "lte":
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	}
	return fmt.Sprintf("Failed on the %q rule.", fe.Tag())
}

// requireFields reports fields that must be present on create and on a full
// update. Fields that already carry a message are skipped.
func requireFields(verr *ValidationError, present map[string]bool, order []string) {
	for _, f := range order {
		if ok, required := present[f]; required && !ok && !verr.Has(f) {
			verr.Add(f, MsgRequired)
		}
	}
}

func requiredBookFields(p BookPatch) map[string]bool {
	return map[string]bool{
		"title":          p.Title != nil,
		"author":         p.Author != nil,
		"published_year": p.PublishedYear != nil,
	}
}

func requiredMemberFields(p MemberPatch) map[string]bool {
	return map[string]bool{
		"name":    p.Name != nil,
		"email":   p.Email != nil,
		"address": p.Address != nil,
		"phone":   p.Phone != nil,
	}
}

// ValidateBook merges p into b and checks everything that does not need the
// store: decode problems carried by p, presence (unless partial), field rules
// and the status/borrower invariant. A field reports at most one message.
func ValidateBook(b *Book, p BookPatch, partial bool) *ValidationError {
	verr := &ValidationError{}
	verr.Merge(p.Invalid)
	if !partial {
		requireFields(verr, requiredBookFields(p), BookFields)
	}
	p.apply(b)
	for _, fe := range checkStruct(b).Errors {
		if !verr.Has(fe.Field) {
			verr.Add(fe.Field, fe.Message)
		}
	}
	if !verr.Has("status") && !verr.Has("borrower") {
		switch {
		case b.Status == StatusBorrowed && b.BorrowerID == nil:
			verr.Add("borrower", MsgNeedBorrower)
		case b.Status == StatusAvailable && b.BorrowerID != nil:
			verr.Add("borrower", MsgNoBorrower)
		}
	}
	verr.SortFields(BookFields)
	return verr
}

// ValidateMember is the Member counterpart of ValidateBook. Email uniqueness
// is checked by the store.
func ValidateMember(m *Member, p MemberPatch, partial bool) *ValidationError {
	verr := &ValidationError{}
	verr.Merge(p.Invalid)
	if !partial {
		requireFields(verr, requiredMemberFields(p), MemberFields)
	}
	p.apply(m)
	for _, fe := range checkStruct(m).Errors {
		if !verr.Has(fe.Field) {
			verr.Add(fe.Field, fe.Message)
		}
	}
	verr.SortFields(MemberFields)
	return verr
}

func borrowerMissing(id int64) string {
	return fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", id)
}
