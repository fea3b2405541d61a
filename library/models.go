package library

import (
	"database/sql"
	"strings"
)

// BookStatus is the circulation state of a book.
type BookStatus string

const (
	StatusAvailable BookStatus = "available"
	StatusBorrowed  BookStatus = "borrowed"
)

// DateLayout is the wire and storage format of Member.JoinDate.
const DateLayout = "2006-01-02"

// Book represents a catalogued book and its current borrower, if any.
// BorrowerID is a plain member id resolved at read time; it is nil whenever
// the book is available.
type Book struct {
	ID            int64      `db:"id" json:"id"`
	Title         string     `db:"title" json:"title" validate:"required,max=255"`
	Author        string     `db:"author" json:"author" validate:"required,max=255"`
	PublishedYear int64      `db:"published_year" json:"published_year" validate:"gte=-2147483648,lte=2147483647"`
	Status        BookStatus `db:"status" json:"status" validate:"oneof=available borrowed"`
	BorrowerID    *int64     `db:"borrower_id" json:"borrower"`
}

// Member represents a registered library member.
type Member struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name" validate:"required,max=255"`
	Email    string `db:"email" json:"email" validate:"required,max=254,email"`
	Address  string `db:"address" json:"address" validate:"required"`
	Phone    string `db:"phone" json:"phone" validate:"required,max=20"`
	JoinDate string `db:"join_date" json:"join_date"`
}

// User is an administrator allowed to log in and call the API.
type User struct {
	ID           int64  `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
}

// BookPatch carries the writable Book fields of a request. A nil pointer
// means the field was not supplied. Borrower distinguishes "absent" (nil)
// from an explicit null (Valid == false). Invalid holds problems found while
// decoding the request; those fields are left nil and reported with the rest.
type BookPatch struct {
	Title         *string
	Author        *string
	PublishedYear *int64
	Status        *BookStatus
	Borrower      *sql.NullInt64
	Invalid       *ValidationError
}

// MemberPatch carries the writable Member fields of a request.
type MemberPatch struct {
	Name    *string
	Email   *string
	Address *string
	Phone   *string
	Invalid *ValidationError
}

// Text fields are stored without surrounding whitespace.
func trimmed(s *string) string { return strings.TrimSpace(*s) }

func (p BookPatch) apply(b *Book) {
	if p.Title != nil {
		b.Title = trimmed(p.Title)
	}
	if p.Author != nil {
		b.Author = trimmed(p.Author)
	}
	if p.PublishedYear != nil {
		b.PublishedYear = *p.PublishedYear
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	if p.Borrower != nil {
		if p.Borrower.Valid {
			id := p.Borrower.Int64
			b.BorrowerID = &id
		} else {
			b.BorrowerID = nil
		}
	}
}

func (p MemberPatch) apply(m *Member) {
	if p.Name != nil {
		m.Name = trimmed(p.Name)
	}
	if p.Email != nil {
		m.Email = trimmed(p.Email)
	}
	if p.Address != nil {
		m.Address = trimmed(p.Address)
	}
	if p.Phone != nil {
		m.Phone = trimmed(p.Phone)
	}
}
