package library

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(context.Background(), DriverSQLite, filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addBook(t *testing.T, db *Database, title string) *Book {
	t.Helper()
	b := &Book{Title: title, Author: "Author", PublishedYear: 1999, Status: StatusAvailable}
	require.NoError(t, db.CreateBook(context.Background(), b, nil))
	return b
}

func addMember(t *testing.T, db *Database, email, joined string) *Member {
	t.Helper()
	m := &Member{Name: "Alice", Email: email, Address: "1 Main St", Phone: "555", JoinDate: joined}
	require.NoError(t, db.CreateMember(context.Background(), m, nil))
	return m
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	ctx := context.Background()

	db, err := NewDatabase(ctx, DriverSQLite, path)
	require.NoError(t, err)
	b := &Book{Title: "Kept", Author: "A", PublishedYear: 1, Status: StatusAvailable}
	require.NoError(t, db.CreateBook(ctx, b, nil))
	require.NoError(t, db.Close())

	db, err = NewDatabase(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kept", got.Title)
}

func TestCheckoutFlow(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	book := addBook(t, db, "Book")
	member := addMember(t, db, "alice@example.com", "2024-01-01")

	borrowed, err := db.BorrowBook(ctx, book.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, borrowed.Status)
	require.NotNil(t, borrowed.BorrowerID)
	assert.Equal(t, member.ID, *borrowed.BorrowerID)

	_, err = db.BorrowBook(ctx, book.ID, member.ID)
	assert.Equal(t, errBookBorrowed, err)

	returned, err := db.ReturnBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, returned.Status)
	assert.Nil(t, returned.BorrowerID)

	_, err = db.ReturnBook(ctx, book.ID)
	assert.Equal(t, errBookNotBorrowed, err)

	stored, err := db.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, stored.Status)
	assert.Nil(t, stored.BorrowerID)
}

func TestBorrowPreconditionOrder(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	book := addBook(t, db, "Book")

	_, err := db.BorrowBook(ctx, 999, 0)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "No Book matches the given query.", nf.Error())

	_, err = db.BorrowBook(ctx, book.ID, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []FieldError{{Field: "member_id", Message: MsgRequired}}, verr.Errors)

	_, err = db.BorrowBook(ctx, book.ID, 42)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []FieldError{{Field: "member_id", Message: MsgNoMember}}, verr.Errors)

	_, err = db.BorrowBook(ctx, book.ID, -1)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgNoMember, verr.Errors[0].Message)

	_, err = db.ReturnBook(ctx, 999)
	require.ErrorAs(t, err, &nf)
}

func TestConcurrentBorrowHasOneWinner(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	book := addBook(t, db, "Contended")
	member := addMember(t, db, "bob@example.com", "2024-01-01")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.BorrowBook(ctx, book.ID, member.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, errBookBorrowed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
}

func TestDeleteMemberReleasesBooks(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	book := addBook(t, db, "Held")
	member := addMember(t, db, "carol@example.com", "2024-01-01")
	_, err := db.BorrowBook(ctx, book.ID, member.ID)
	require.NoError(t, err)

	require.NoError(t, db.DeleteMember(ctx, member.ID))

	got, err := db.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)
	assert.Nil(t, got.BorrowerID)

	var nf *NotFoundError
	assert.ErrorAs(t, db.DeleteMember(ctx, member.ID), &nf)
}

func TestListBooksOrderAndFilter(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	addBook(t, db, "Zen")
	second := addBook(t, db, "Alpha")
	addBook(t, db, "Middle")
	member := addMember(t, db, "dan@example.com", "2024-01-01")
	_, err := db.BorrowBook(ctx, second.ID, member.ID)
	require.NoError(t, err)

	all, err := db.ListBooks(ctx, "")
	require.NoError(t, err)
	titles := make([]string, 0, len(all))
	for _, b := range all {
		titles = append(titles, b.Title)
	}
	assert.Equal(t, []string{"Alpha", "Middle", "Zen"}, titles)

	borrowed, err := db.ListBooks(ctx, string(StatusBorrowed))
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, second.ID, borrowed[0].ID)

	none, err := db.ListBooks(ctx, "lost")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestListMembersNewestFirst(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	old := addMember(t, db, "old@example.com", "2020-05-01")
	newer := addMember(t, db, "new@example.com", "2024-05-01")
	sameDay := addMember(t, db, "same@example.com", "2024-05-01")

	members, err := db.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, []int64{sameDay.ID, newer.ID, old.ID},
		[]int64{members[0].ID, members[1].ID, members[2].ID})
}

func TestCreateMemberDuplicateEmail(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	addMember(t, db, "dup@example.com", "2024-01-01")

	m := &Member{Name: "Other", Email: "dup@example.com", Address: "x", Phone: "1", JoinDate: "2024-01-02"}
	err := db.CreateMember(ctx, m, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []FieldError{{Field: "email", Message: MsgDuplicateMail}}, verr.Errors)
}

func TestCreateBookUnknownBorrower(t *testing.T) {
	db := tempDB(t)
	id := int64(77)
	b := &Book{Title: "T", Author: "A", PublishedYear: 1, Status: StatusBorrowed, BorrowerID: &id}
	err := db.CreateBook(context.Background(), b, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, `Invalid pk "77" - object does not exist.`, verr.Errors[0].Message)
	assert.Zero(t, b.ID)
}

func TestTokenForReusesExistingKey(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	user, err := db.SaveUser(ctx, "admin", "hash")
	require.NoError(t, err)

	first, err := db.TokenFor(ctx, user.ID, "aaaa")
	require.NoError(t, err)
	second, err := db.TokenFor(ctx, user.ID, "bbbb")
	require.NoError(t, err)
	assert.Equal(t, "aaaa", first)
	assert.Equal(t, first, second)

	owner, err := db.UserByToken(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "admin", owner.Username)

	_, err = db.UserByToken(ctx, "bbbb")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func mockDB(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newDatabase(sqlx.NewDb(conn, "sqlite3"), DriverSQLite), mock
}

func TestBorrowRollsBackOnWriteFailure(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM books WHERE id=\?`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author", "published_year", "status", "borrower_id"}).
			AddRow(1, "T", "A", 2000, "available", nil))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`UPDATE books SET status=\?, borrower_id=\? WHERE id=\? AND status=\?`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := db.BorrowBook(context.Background(), 1, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "borrow book 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrowLosesRaceWhenNoRowUpdated(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM books WHERE id=\?`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author", "published_year", "status", "borrower_id"}).
			AddRow(1, "T", "A", 2000, "available", nil))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`UPDATE books SET status=\?, borrower_id=\? WHERE id=\? AND status=\?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := db.BorrowBook(context.Background(), 1, 5)
	assert.Equal(t, errBookBorrowed, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBookMissingRow(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(`DELETE FROM books WHERE id=\?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.DeleteBook(context.Background(), 7)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, int64(7), nf.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsStopWhenVersionUnreadable(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(`PRAGMA journal_mode=WAL`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS meta`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT value FROM meta WHERE key='schema_version'`).
		WillReturnError(errors.New("database is locked"))

	err := db.applyMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read schema version")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsRunOnFreshDatabase(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(`PRAGMA journal_mode=WAL`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS meta`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT value FROM meta WHERE key='schema_version'`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := db.applyMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration")
	assert.NoError(t, mock.ExpectationsWereMet())
}
