/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the persistence surface of the circulation engine
  (ledger.Store and catalog.Store) using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

COUNTER ATOMICITY:
  The availability counter is never read-then-written. Reserve and release
  are single conditional UPDATEs:

    UPDATE books SET available_copies = available_copies - 1
    WHERE id = ? AND available_copies > 0

  so the capacity check and the decrement are one atomic unit at the
  storage layer. This needs no application lock and is robust to a process
  crash between steps. The return path pairs the same idiom with a
  transaction: the open -> closed transition and the capped increment
  commit together or roll back together.

KEY TABLES:
  books:    catalog metadata plus (total_copies, available_copies)
  members:  membership roster (no credentials)
  loans:    append-style loan records; status constrained to open/closed

INDEXES:
  - idx_loans_book_status:   open-loan counting (reconciler hot path)
  - idx_loans_member_status: per-member loan views
  - unique ISBN / email indexes back the catalog conflict rules

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, a single writer at a time, better crash recovery. Lock contention
  surfaces as SQLITE_BUSY and is mapped to ledger.ErrBusy so callers can
  retry with backoff.

USAGE:
  store, err := sqlite.New("./data/circulation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.New(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface contracts
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/shelfwise/circulation-engine/catalog"
	"github.com/shelfwise/circulation-engine/ledger"
)

// Store implements ledger.Store and catalog.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=250")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the conditional updates serialized and
	// avoids SQLITE_BUSY between pooled connections of the same process.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Books: catalog metadata plus the availability counters.
	-- available_copies is mutated only through the conditional updates below.
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		isbn TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		publisher TEXT,
		category TEXT,
		publication_year INTEGER,
		description TEXT,
		total_copies INTEGER NOT NULL CHECK (total_copies >= 1),
		available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);

	-- Members: roster only, no credentials.
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin')),
		membership_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Loans: append-style records; created once, closed at most once.
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id),
		member_id TEXT NOT NULL REFERENCES members(id),
		issue_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		return_date TEXT,
		status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed'))
	);

	CREATE INDEX IF NOT EXISTS idx_loans_book_status ON loans(book_id, status);
	CREATE INDEX IF NOT EXISTS idx_loans_member_status ON loans(member_id, status);
	CREATE INDEX IF NOT EXISTS idx_loans_issue_date ON loans(issue_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CATALOG LOOKUPS (ledger.CatalogStore)
// =============================================================================

func (s *Store) GetBook(ctx context.Context, id ledger.BookID) (*ledger.Book, error) {
	return s.getBookWhere(ctx, "id = ?", string(id))
}

func (s *Store) GetBookByISBN(ctx context.Context, isbn string) (*ledger.Book, error) {
	return s.getBookWhere(ctx, "isbn = ?", isbn)
}

func (s *Store) getBookWhere(ctx context.Context, where string, arg any) (*ledger.Book, error) {
	query := `
		SELECT id, isbn, title, author, publisher, category, publication_year,
		       description, total_copies, available_copies, created_at, updated_at
		FROM books WHERE ` + where

	book, err := scanBook(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to get book")
	}
	return book, nil
}

func (s *Store) GetMember(ctx context.Context, id ledger.MemberID) (*ledger.Member, error) {
	var (
		m              ledger.Member
		membershipDate string
		createdAt      string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, role, membership_date, created_at FROM members WHERE id = ?",
		string(id),
	).Scan(&m.ID, &m.Name, &m.Email, &m.Role, &membershipDate, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to get member")
	}

	m.MembershipDate, _ = time.Parse(time.RFC3339, membershipDate)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// =============================================================================
// COUNTER PRIMITIVES (ledger.CounterStore)
// =============================================================================

// ReserveCopy decrements availability iff a copy is free. The WHERE clause
// makes check-and-decrement a single atomic unit; zero rows affected means
// either an unknown book or exhausted capacity, disambiguated afterwards.
func (s *Store) ReserveCopy(ctx context.Context, id ledger.BookID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies - 1, updated_at = ?
		WHERE id = ? AND available_copies > 0
	`, now(), string(id))
	if err != nil {
		return mapSQLiteError(err, "failed to reserve copy")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	book, err := s.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if book == nil {
		return ledger.ErrBookNotFound
	}
	return &ledger.CapacityError{BookID: id}
}

// ReleaseCopy increments availability iff it stays within the total. Zero
// rows affected on an existing book means the counter already equals the
// total: incrementing further would disagree with the ledger.
func (s *Store) ReleaseCopy(ctx context.Context, id ledger.BookID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = ?
		WHERE id = ? AND available_copies < total_copies
	`, now(), string(id))
	if err != nil {
		return mapSQLiteError(err, "failed to release copy")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	book, err := s.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if book == nil {
		return ledger.ErrBookNotFound
	}
	open, err := s.CountOpenLoans(ctx, id)
	if err != nil {
		return err
	}
	return &ledger.InvariantViolationError{
		BookID:    id,
		Total:     book.TotalCopies,
		Available: book.AvailableCopies,
		OpenLoans: open,
	}
}

// =============================================================================
// LOAN RECORDS (ledger.LoanStore)
// =============================================================================

func (s *Store) CreateLoan(ctx context.Context, loan ledger.Loan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (id, book_id, member_id, issue_date, due_date, return_date, status)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
	`,
		string(loan.ID),
		string(loan.BookID),
		string(loan.MemberID),
		loan.IssueDate.Format(time.RFC3339),
		loan.DueDate.Format(time.RFC3339),
		string(loan.Status),
	)
	if err != nil {
		return mapSQLiteError(err, "failed to create loan")
	}
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id ledger.LoanID) (*ledger.Loan, error) {
	loan, err := scanLoan(s.db.QueryRowContext(ctx, `
		SELECT id, book_id, member_id, issue_date, due_date, return_date, status
		FROM loans WHERE id = ?
	`, string(id)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLiteError(err, "failed to get loan")
	}
	return loan, nil
}

// CloseLoan performs the open -> closed transition and the availability
// increment inside one transaction. Each statement keeps the conditional
// WHERE clause, so concurrent double returns cannot both succeed, and a
// counter already at the total rolls the close back instead of committing a
// half-return.
func (s *Store) CloseLoan(ctx context.Context, id ledger.LoanID, returnedAt time.Time) (*ledger.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to begin return")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE loans
		SET status = 'closed', return_date = ?
		WHERE id = ? AND status = 'open'
	`, returnedAt.Format(time.RFC3339), string(id))
	if err != nil {
		return nil, mapSQLiteError(err, "failed to close loan")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM loans WHERE id = ?", string(id)).Scan(&status)
		if err == sql.ErrNoRows {
			return nil, ledger.ErrLoanNotFound
		}
		if err != nil {
			return nil, mapSQLiteError(err, "failed to get loan")
		}
		return nil, &ledger.AlreadyReturnedError{LoanID: id}
	}

	loan, err := scanLoan(tx.QueryRowContext(ctx, `
		SELECT id, book_id, member_id, issue_date, due_date, return_date, status
		FROM loans WHERE id = ?
	`, string(id)))
	if err != nil {
		return nil, mapSQLiteError(err, "failed to get loan")
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = ?
		WHERE id = ? AND available_copies < total_copies
	`, now(), string(loan.BookID))
	if err != nil {
		return nil, mapSQLiteError(err, "failed to release copy")
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var total, available, open int
		err := tx.QueryRowContext(ctx, `
			SELECT total_copies, available_copies,
			       (SELECT COUNT(*) FROM loans WHERE book_id = books.id AND status = 'open')
			FROM books WHERE id = ?
		`, string(loan.BookID)).Scan(&total, &available, &open)
		if err == sql.ErrNoRows {
			return nil, ledger.ErrBookNotFound
		}
		if err != nil {
			return nil, mapSQLiteError(err, "failed to get book")
		}
		return nil, &ledger.InvariantViolationError{
			BookID:    loan.BookID,
			Total:     total,
			Available: available,
			OpenLoans: open,
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLiteError(err, "failed to commit return")
	}
	return loan, nil
}

func (s *Store) LoadLoans(ctx context.Context, filter ledger.LoanFilter) ([]ledger.Loan, error) {
	query := `
		SELECT id, book_id, member_id, issue_date, due_date, return_date, status
		FROM loans WHERE 1=1`
	var args []any

	if filter.MemberID != nil {
		query += " AND member_id = ?"
		args = append(args, string(*filter.MemberID))
	}
	if filter.BookID != nil {
		query += " AND book_id = ?"
		args = append(args, string(*filter.BookID))
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY issue_date ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteError(err, "failed to query loans")
	}
	defer rows.Close()

	var loans []ledger.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *loan)
	}
	return loans, rows.Err()
}

func (s *Store) CountOpenLoans(ctx context.Context, id ledger.BookID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM loans WHERE book_id = ? AND status = 'open'",
		string(id),
	).Scan(&count)
	if err != nil {
		return 0, mapSQLiteError(err, "failed to count open loans")
	}
	return count, nil
}

// =============================================================================
// CATALOG ADMINISTRATION (catalog.Store)
// =============================================================================

func (s *Store) SaveBook(ctx context.Context, book ledger.Book) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books
		(id, isbn, title, author, publisher, category, publication_year,
		 description, total_copies, available_copies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			isbn = excluded.isbn,
			title = excluded.title,
			author = excluded.author,
			publisher = excluded.publisher,
			category = excluded.category,
			publication_year = excluded.publication_year,
			description = excluded.description,
			updated_at = excluded.updated_at
	`,
		string(book.ID), book.ISBN, book.Title, book.Author,
		nullString(book.Publisher), nullString(book.Category),
		book.PublicationYear, nullString(book.Description),
		book.TotalCopies, book.AvailableCopies,
		book.CreatedAt.Format(time.RFC3339), book.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return catalog.ErrDuplicateISBN
		}
		return mapSQLiteError(err, "failed to save book")
	}
	return nil
}

// SetTotalCopies resets the total and derives availability from the open-loan
// count in the same statement, so the invariant holds without a second write.
func (s *Store) SetTotalCopies(ctx context.Context, id ledger.BookID, total int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET total_copies = ?1,
		    available_copies = MAX(0, ?1 - (
		        SELECT COUNT(*) FROM loans WHERE book_id = books.id AND status = 'open'
		    )),
		    updated_at = ?2
		WHERE id = ?3
	`, total, now(), string(id))
	if err != nil {
		return mapSQLiteError(err, "failed to set total copies")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book and its closed loan history in one transaction.
// Open loans block deletion; the history delete keeps the loans.book_id
// foreign key satisfied.
func (s *Store) DeleteBook(ctx context.Context, id ledger.BookID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError(err, "failed to begin delete")
	}
	defer tx.Rollback()

	var open int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM loans WHERE book_id = ? AND status = 'open'",
		string(id),
	).Scan(&open)
	if err != nil {
		return mapSQLiteError(err, "failed to count open loans")
	}
	if open > 0 {
		return catalog.ErrOpenLoans
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM loans WHERE book_id = ?", string(id)); err != nil {
		return mapSQLiteError(err, "failed to delete loan history")
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM books WHERE id = ?", string(id))
	if err != nil {
		return mapSQLiteError(err, "failed to delete book")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrBookNotFound
	}
	return tx.Commit()
}

func (s *Store) SearchBooks(ctx context.Context, query string, offset, limit int) ([]ledger.Book, int, error) {
	where := "1=1"
	var args []any
	if query != "" {
		where = "(title LIKE ?1 OR author LIKE ?1 OR category LIKE ?1 OR isbn LIKE ?1)"
		args = append(args, "%"+query+"%")
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM books WHERE "+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, mapSQLiteError(err, "failed to count books")
	}

	listQuery := `
		SELECT id, isbn, title, author, publisher, category, publication_year,
		       description, total_copies, available_copies, created_at, updated_at
		FROM books WHERE ` + where + " ORDER BY title ASC, id ASC"
	if limit > 0 {
		listQuery += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, mapSQLiteError(err, "failed to search books")
	}
	defer rows.Close()

	var books []ledger.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		books = append(books, *book)
	}
	return books, total, rows.Err()
}

func (s *Store) SaveMember(ctx context.Context, member ledger.Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, name, email, role, membership_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role
	`,
		string(member.ID), member.Name, member.Email, string(member.Role),
		member.MembershipDate.Format(time.RFC3339), member.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return catalog.ErrDuplicateEmail
		}
		return mapSQLiteError(err, "failed to save member")
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context) ([]ledger.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, role, membership_date, created_at FROM members ORDER BY name ASC")
	if err != nil {
		return nil, mapSQLiteError(err, "failed to list members")
	}
	defer rows.Close()

	var members []ledger.Member
	for rows.Next() {
		var (
			m              ledger.Member
			membershipDate string
			createdAt      string
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Role, &membershipDate, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.MembershipDate, _ = time.Parse(time.RFC3339, membershipDate)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// SCANNING AND ERROR MAPPING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*ledger.Book, error) {
	var (
		b           ledger.Book
		publisher   sql.NullString
		category    sql.NullString
		pubYear     sql.NullInt64
		description sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&b.ID, &b.ISBN, &b.Title, &b.Author, &publisher, &category, &pubYear,
		&description, &b.TotalCopies, &b.AvailableCopies, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Publisher = publisher.String
	b.Category = category.String
	b.PublicationYear = int(pubYear.Int64)
	b.Description = description.String
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

func scanLoan(row rowScanner) (*ledger.Loan, error) {
	var (
		l          ledger.Loan
		issueDate  string
		dueDate    string
		returnDate sql.NullString
	)
	err := row.Scan(&l.ID, &l.BookID, &l.MemberID, &issueDate, &dueDate, &returnDate, &l.Status)
	if err != nil {
		return nil, err
	}

	l.IssueDate, _ = time.Parse(time.RFC3339, issueDate)
	l.DueDate, _ = time.Parse(time.RFC3339, dueDate)
	if returnDate.Valid {
		t, _ := time.Parse(time.RFC3339, returnDate.String)
		l.ReturnDate = &t
	}
	return &l, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapSQLiteError translates lock contention into the retryable ErrBusy;
// everything else is wrapped as a storage fault.
func mapSQLiteError(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%s: %w", msg, ledger.ErrBusy)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
