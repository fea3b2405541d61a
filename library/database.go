package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Database provides high-level helpers around a SQLite or PostgreSQL
// connection. Every state change runs in its own transaction.
type Database struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
}

// NewDatabase opens the database described by driver and dsn, applies schema
// migrations and returns a ready handle. For SQLite dsn may be a plain file
// path; busy timeout, foreign keys and immediate write locks are enabled.
func NewDatabase(ctx context.Context, driver, dsn string) (*Database, error) {
	switch driver {
	case DriverSQLite:
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(sqlitePath(dsn)); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	database := newDatabase(db, driver)
	if err := database.applyMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

func newDatabase(db *sqlx.DB, driver string) *Database {
	return &Database{db: db, driver: driver, dialect: goqu.Dialect(driver)}
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	path, _, _ = strings.Cut(path, "?")
	return path
}

func sqliteDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dsn)
}

// Close closes the underlying connection pool.
func (d *Database) Close() error { return d.db.Close() }

// Ping checks that the database is reachable.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var schema = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            address TEXT NOT NULL,
            phone TEXT NOT NULL,
            join_date TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            published_year INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available','borrowed')),
            borrower_id INTEGER REFERENCES members(id) ON DELETE SET NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_books_borrower ON books(borrower_id);`,
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS tokens (
            token_key TEXT PRIMARY KEY,
            user_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
            created_at TEXT NOT NULL
        );`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS members (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            email VARCHAR(254) NOT NULL UNIQUE,
            address TEXT NOT NULL,
            phone VARCHAR(20) NOT NULL,
            join_date VARCHAR(10) NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id BIGSERIAL PRIMARY KEY,
            title VARCHAR(255) NOT NULL,
            author VARCHAR(255) NOT NULL,
            published_year INTEGER NOT NULL,
            status VARCHAR(20) NOT NULL DEFAULT 'available' CHECK (status IN ('available','borrowed')),
            borrower_id BIGINT REFERENCES members(id) ON DELETE SET NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_books_borrower ON books(borrower_id);`,
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            username VARCHAR(150) NOT NULL UNIQUE,
            password_hash TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS tokens (
            token_key VARCHAR(40) PRIMARY KEY,
            user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
            created_at TEXT NOT NULL
        );`,
	},
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if d.driver == DriverSQLite {
		// WAL lets readers proceed while a borrow holds the write lock.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return fmt.Errorf("create meta: %w", err)
	}

	var current int
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range schema[d.driver] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`), strconv.Itoa(schemaVersion))
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (d *Database) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// forUpdate locks the selected row on PostgreSQL. SQLite already holds the
// database write lock for the whole transaction (_txlock=immediate).
func (d *Database) forUpdate(lock bool) string {
	if lock && d.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func (d *Database) memberExists(ctx context.Context, q sqlx.QueryerContext, id int64) (bool, error) {
	var exists bool
	err := q.QueryRowxContext(ctx, d.db.Rebind(`SELECT EXISTS(SELECT 1 FROM members WHERE id=?)`), id).Scan(&exists)
	return exists, err
}

func (d *Database) emailTaken(ctx context.Context, q sqlx.QueryerContext, email string, excludeID int64) (bool, error) {
	var exists bool
	err := q.QueryRowxContext(ctx, d.db.Rebind(`SELECT EXISTS(SELECT 1 FROM members WHERE email=? AND id<>?)`), email, excludeID).Scan(&exists)
	return exists, err
}

// checkBorrower appends an error when b references a member that does not
// exist.
func (d *Database) checkBorrower(ctx context.Context, q sqlx.QueryerContext, b *Book, verr *ValidationError) error {
	if b.BorrowerID == nil || verr.Has("borrower") {
		return nil
	}
	ok, err := d.memberExists(ctx, q, *b.BorrowerID)
	if err != nil {
		return fmt.Errorf("check borrower: %w", err)
	}
	if !ok {
		verr.Add("borrower", borrowerMissing(*b.BorrowerID))
		verr.SortFields(BookFields)
	}
	return nil
}

// checkEmail appends an error when m.Email belongs to another member.
func (d *Database) checkEmail(ctx context.Context, q sqlx.QueryerContext, m *Member, verr *ValidationError) error {
	if m.Email == "" || verr.Has("email") {
		return nil
	}
	taken, err := d.emailTaken(ctx, q, m.Email, m.ID)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if taken {
		verr.Add("email", MsgDuplicateMail)
		verr.SortFields(MemberFields)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

const bookColumns = `id, title, author, published_year, status, borrower_id`

func (d *Database) getBook(ctx context.Context, q sqlx.QueryerContext, id int64, lock bool) (*Book, error) {
	var b Book
	err := sqlx.GetContext(ctx, q, &b, d.db.Rebind(`SELECT `+bookColumns+` FROM books WHERE id=?`+d.forUpdate(lock)), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "Book", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return &b, nil
}

// GetBook fetches a single book.
func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	return d.getBook(ctx, d.db, id, false)
}

// ListBooks returns books ordered by title. A non-empty status keeps only
// books in that state.
func (d *Database) ListBooks(ctx context.Context, status string) ([]*Book, error) {
	ds := d.dialect.From("books").
		Select("id", "title", "author", "published_year", "status", "borrower_id").
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()).
		Prepared(true)
	if status != "" {
		ds = ds.Where(goqu.C("status").Eq(status))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	books := []*Book{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// CreateBook inserts b after checking its borrower reference. Problems are
// added to verr; nothing is written unless verr ends up empty.
func (d *Database) CreateBook(ctx context.Context, b *Book, verr *ValidationError) error {
	if verr == nil {
		verr = &ValidationError{}
	}
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.checkBorrower(ctx, tx, b, verr); err != nil {
			return err
		}
		if err := verr.Err(); err != nil {
			return err
		}
		err := tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO books(title,author,published_year,status,borrower_id) VALUES(?,?,?,?,?) RETURNING id`),
			b.Title, b.Author, b.PublishedYear, b.Status, b.BorrowerID).Scan(&b.ID)
		if err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
		return nil
	})
}

// UpdateBook loads the book, lets change modify it and writes it back, all in
// one transaction. change reports validation problems; the borrower reference
// is checked here.
func (d *Database) UpdateBook(ctx context.Context, id int64, change func(*Book) *ValidationError) (*Book, error) {
	var out *Book
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		b, err := d.getBook(ctx, tx, id, true)
		if err != nil {
			return err
		}
		verr := change(b)
		if verr == nil {
			verr = &ValidationError{}
		}
		if err := d.checkBorrower(ctx, tx, b, verr); err != nil {
			return err
		}
		if err := verr.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE books SET title=?, author=?, published_year=?, status=?, borrower_id=? WHERE id=?`),
			b.Title, b.Author, b.PublishedYear, b.Status, b.BorrowerID, b.ID)
		if err != nil {
			return fmt.Errorf("update book %d: %w", id, err)
		}
		out = b
		return nil
	})
	return out, err
}

// DeleteBook removes a book.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM books WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete book %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{Entity: "Book", ID: id}
	}
	return nil
}

// BorrowBook lends a book to a member in one transaction. Preconditions are
// checked in order: the book exists, a member id was given (zero means none),
// the member exists, the book is available. The final write only matches an
// available row, so of two concurrent borrows exactly one succeeds.
func (d *Database) BorrowBook(ctx context.Context, bookID, memberID int64) (*Book, error) {
	var out *Book
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		b, err := d.getBook(ctx, tx, bookID, true)
		if err != nil {
			return err
		}
		if memberID == 0 {
			return NewValidationError("member_id", MsgRequired)
		}
		ok, err := d.memberExists(ctx, tx, memberID)
		if err != nil {
			return fmt.Errorf("check member %d: %w", memberID, err)
		}
		if !ok {
			return NewValidationError("member_id", MsgNoMember)
		}
		if b.Status != StatusAvailable {
			return errBookBorrowed
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE books SET status=?, borrower_id=? WHERE id=? AND status=?`),
			StatusBorrowed, memberID, bookID, StatusAvailable)
		if err != nil {
			return fmt.Errorf("borrow book %d: %w", bookID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errBookBorrowed
		}

		b.Status = StatusBorrowed
		b.BorrowerID = &memberID
		out = b
		return nil
	})
	return out, err
}

// ReturnBook makes a borrowed book available again and clears its borrower.
func (d *Database) ReturnBook(ctx context.Context, bookID int64) (*Book, error) {
	var out *Book
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		b, err := d.getBook(ctx, tx, bookID, true)
		if err != nil {
			return err
		}
		if b.Status != StatusBorrowed {
			return errBookNotBorrowed
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE books SET status=?, borrower_id=NULL WHERE id=? AND status=?`),
			StatusAvailable, bookID, StatusBorrowed)
		if err != nil {
			return fmt.Errorf("return book %d: %w", bookID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errBookNotBorrowed
		}

		b.Status = StatusAvailable
		b.BorrowerID = nil
		out = b
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

const memberColumns = `id, name, email, address, phone, join_date`

func (d *Database) getMember(ctx context.Context, q sqlx.QueryerContext, id int64, lock bool) (*Member, error) {
	var m Member
	err := sqlx.GetContext(ctx, q, &m, d.db.Rebind(`SELECT `+memberColumns+` FROM members WHERE id=?`+d.forUpdate(lock)), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "Member", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get member %d: %w", id, err)
	}
	return &m, nil
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	return d.getMember(ctx, d.db, id, false)
}

// ListMembers returns all members, most recently joined first.
func (d *Database) ListMembers(ctx context.Context) ([]*Member, error) {
	query, args, err := d.dialect.From("members").
		Select("id", "name", "email", "address", "phone", "join_date").
		Order(goqu.C("join_date").Desc(), goqu.C("id").Desc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}

	members := []*Member{}
	if err := d.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// CreateMember inserts m after checking its email against existing members.
// Problems are added to verr; nothing is written unless verr ends up empty.
func (d *Database) CreateMember(ctx context.Context, m *Member, verr *ValidationError) error {
	if verr == nil {
		verr = &ValidationError{}
	}
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.checkEmail(ctx, tx, m, verr); err != nil {
			return err
		}
		if err := verr.Err(); err != nil {
			return err
		}
		err := tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO members(name,email,address,phone,join_date) VALUES(?,?,?,?,?) RETURNING id`),
			m.Name, m.Email, m.Address, m.Phone, m.JoinDate).Scan(&m.ID)
		if isUniqueViolation(err) {
			return NewValidationError("email", MsgDuplicateMail)
		}
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		return nil
	})
}

// UpdateMember is the Member counterpart of UpdateBook. The email is checked
// against every other member.
func (d *Database) UpdateMember(ctx context.Context, id int64, change func(*Member) *ValidationError) (*Member, error) {
	var out *Member
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		m, err := d.getMember(ctx, tx, id, true)
		if err != nil {
			return err
		}
		verr := change(m)
		if verr == nil {
			verr = &ValidationError{}
		}
		if err := d.checkEmail(ctx, tx, m, verr); err != nil {
			return err
		}
		if err := verr.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE members SET name=?, email=?, address=?, phone=? WHERE id=?`),
			m.Name, m.Email, m.Address, m.Phone, m.ID)
		if isUniqueViolation(err) {
			return NewValidationError("email", MsgDuplicateMail)
		}
		if err != nil {
			return fmt.Errorf("update member %d: %w", id, err)
		}
		out = m
		return nil
	})
	return out, err
}

// DeleteMember removes a member. Books the member was holding become
// available again in the same transaction.
func (d *Database) DeleteMember(ctx context.Context, id int64) error {
	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE books SET status=?, borrower_id=NULL WHERE borrower_id=?`), StatusAvailable, id); err != nil {
			return fmt.Errorf("release books of member %d: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM members WHERE id=?`), id)
		if err != nil {
			return fmt.Errorf("delete member %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &NotFoundError{Entity: "Member", ID: id}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Users and tokens
// ---------------------------------------------------------------------------

// SaveUser creates the user or replaces the password hash of an existing one.
func (d *Database) SaveUser(ctx context.Context, username, passwordHash string) (*User, error) {
	u := &User{Username: username, PasswordHash: passwordHash}
	err := d.db.QueryRowxContext(ctx, d.db.Rebind(`INSERT INTO users(username,password_hash) VALUES(?,?)
        ON CONFLICT(username) DO UPDATE SET password_hash=excluded.password_hash RETURNING id`),
		username, passwordHash).Scan(&u.ID)
	if err != nil {
		return nil, fmt.Errorf("save user %q: %w", username, err)
	}
	return u, nil
}

// UserByUsername fetches a user by login name.
func (d *Database) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, d.db.Rebind(`SELECT id, username, password_hash FROM users WHERE username=?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "User"}
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return &u, nil
}

// UserByToken resolves a token key to its owner.
func (d *Database) UserByToken(ctx context.Context, key string) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, d.db.Rebind(`SELECT u.id, u.username, u.password_hash
        FROM tokens t JOIN users u ON u.id = t.user_id WHERE t.token_key=?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "Token"}
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &u, nil
}

// TokenFor returns the user's token, storing candidate as the token when the
// user has none yet.
func (d *Database) TokenFor(ctx context.Context, userID int64, candidate string) (string, error) {
	var key string
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO tokens(token_key,user_id,created_at) VALUES(?,?,?)
            ON CONFLICT(user_id) DO NOTHING`), candidate, userID, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return tx.QueryRowxContext(ctx, tx.Rebind(`SELECT token_key FROM tokens WHERE user_id=?`), userID).Scan(&key)
	})
	return key, err
}
