/*
store.go - Persistence interfaces consumed by the ledger engine

PURPOSE:
  Defines the boundary between the ledger core and the database. The
  counter-mutation primitives (ReserveCopy/ReleaseCopy) are the ONLY way
  availableCopies changes: catalog administration may reset totals, but the
  running count of copies on loan moves exclusively through this interface.

COUNTER CONTRACT:
  ReserveCopy and ReleaseCopy must each be a single atomic unit with respect
  to all other operations on the same book. Implementations express them as
  conditional updates at the storage layer ("decrement where available > 0"),
  so two concurrent issues can never both succeed on the last copy and no
  explicit lock is held across the check and the mutation.

LOAN CONTRACT:
  Loans are append-style: CreateLoan once, CloseLoan at most once
  (open -> closed), no update beyond that. CloseLoan is a conditional
  transition so a double return is detected at the storage layer, not by a
  racy read-then-write, and it commits the availability increment in the
  same atomic unit: close and release land together or not at all. Loan
  rows outlive their books only while the book exists; deleting a book
  removes its (fully closed) loan history with it.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: durable SQLite store
  - ledger/store/memory.go: in-memory store for tests and dev

SEE ALSO:
  - reconciler.go: wraps the counter primitives
  - ledger.go: drives the loan lifecycle
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// CATALOG STORE - Book and member lookup (read side of the catalog)
// =============================================================================

// CatalogStore resolves books and members. Missing entities are reported as
// (nil, nil); lookup errors are storage faults.
type CatalogStore interface {
	GetBook(ctx context.Context, id BookID) (*Book, error)
	GetMember(ctx context.Context, id MemberID) (*Member, error)
}

// =============================================================================
// COUNTER STORE - Atomic availability mutation
// =============================================================================

// CounterStore mutates availableCopies. Only the Reconciler calls these.
type CounterStore interface {
	// ReserveCopy atomically decrements availableCopies where it is > 0.
	// Returns ErrCapacityExhausted (no mutation) when no copy is free, or
	// ErrBookNotFound for an unknown book.
	ReserveCopy(ctx context.Context, id BookID) error

	// ReleaseCopy atomically increments availableCopies where it is below
	// totalCopies. An increment that would exceed the total indicates ledger
	// corruption and returns ErrInvariantViolation instead of clamping.
	ReleaseCopy(ctx context.Context, id BookID) error
}

// =============================================================================
// LOAN STORE - Append-style loan records
// =============================================================================

// LoanFilter narrows loan queries. Nil fields match everything.
type LoanFilter struct {
	MemberID *MemberID
	BookID   *BookID
	Status   *LoanStatus
}

type LoanStore interface {
	// CreateLoan persists a new open loan.
	CreateLoan(ctx context.Context, loan Loan) error

	// GetLoan returns a loan, or (nil, nil) when unknown.
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)

	// CloseLoan transitions open -> closed, sets the return date, and
	// increments the book's availability, all as one atomic unit: if the
	// increment cannot commit (counter already at total, meaning the ledger
	// is corrupt) the loan stays open and InvariantViolationError is
	// returned. Returns the closed loan, ErrLoanNotFound for an unknown id,
	// or AlreadyReturnedError when the loan is already closed.
	CloseLoan(ctx context.Context, id LoanID, returnedAt time.Time) (*Loan, error)

	// LoadLoans returns committed loans matching the filter, ordered by issue
	// date. Read-only; never exposes a partially committed loan.
	LoadLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)

	// CountOpenLoans returns the number of open loans on a book. Used by the
	// reconciler to validate the availability counter.
	CountOpenLoans(ctx context.Context, id BookID) (int, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is the full persistence surface the ledger engine needs.
type Store interface {
	CatalogStore
	CounterStore
	LoanStore
}
