package library

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// LibraryManager is the domain façade used by the HTTP layer and the CLI. It
// applies validation and delegates persistence to the Database.
type LibraryManager struct {
	db       *Database
	now      func() time.Time
	newToken func() (string, error)
	hashCost int
}

// NewLibraryManager opens (or creates) the database and returns a manager
// over it.
func NewLibraryManager(ctx context.Context, driver, dsn string) (*LibraryManager, error) {
	db, err := NewDatabase(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return newManager(db), nil
}

func newManager(db *Database) *LibraryManager {
	return &LibraryManager{
		db:       db,
		now:      time.Now,
		newToken: generateTokenKey,
		hashCost: bcrypt.DefaultCost,
	}
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Ping reports whether the database is reachable.
func (lm *LibraryManager) Ping(ctx context.Context) error { return lm.db.Ping(ctx) }

// ------------------ Books ------------------

func (lm *LibraryManager) ListBooks(ctx context.Context, status string) ([]*Book, error) {
	return lm.db.ListBooks(ctx, status)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

// CreateBook validates p as a complete book and stores it. Status defaults to
// available.
func (lm *LibraryManager) CreateBook(ctx context.Context, p BookPatch) (*Book, error) {
	b := &Book{Status: StatusAvailable}
	verr := ValidateBook(b, p, false)
	if err := lm.db.CreateBook(ctx, b, verr); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBook applies p to the stored book. With partial unset, title, author
// and published_year must all be supplied.
func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, p BookPatch, partial bool) (*Book, error) {
	return lm.db.UpdateBook(ctx, id, func(b *Book) *ValidationError {
		return ValidateBook(b, p, partial)
	})
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	return lm.db.DeleteBook(ctx, id)
}

// ------------------ Members ------------------

func (lm *LibraryManager) ListMembers(ctx context.Context) ([]*Member, error) {
	return lm.db.ListMembers(ctx)
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.db.GetMember(ctx, id)
}

// CreateMember validates p as a complete member and stores it with today's
// join date.
func (lm *LibraryManager) CreateMember(ctx context.Context, p MemberPatch) (*Member, error) {
	m := &Member{JoinDate: lm.now().Format(DateLayout)}
	verr := ValidateMember(m, p, false)
	if err := lm.db.CreateMember(ctx, m, verr); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMember applies p to the stored member. The join date never changes.
func (lm *LibraryManager) UpdateMember(ctx context.Context, id int64, p MemberPatch, partial bool) (*Member, error) {
	return lm.db.UpdateMember(ctx, id, func(m *Member) *ValidationError {
		return ValidateMember(m, p, partial)
	})
}

func (lm *LibraryManager) DeleteMember(ctx context.Context, id int64) error {
	return lm.db.DeleteMember(ctx, id)
}

// ------------------ Circulation ------------------

// BorrowBook lends the book to the member. A zero memberID means the caller
// did not name a member.
func (lm *LibraryManager) BorrowBook(ctx context.Context, bookID, memberID int64) (*Book, error) {
	return lm.db.BorrowBook(ctx, bookID, memberID)
}

// ReturnBook makes a borrowed book available again.
func (lm *LibraryManager) ReturnBook(ctx context.Context, bookID int64) (*Book, error) {
	return lm.db.ReturnBook(ctx, bookID)
}
