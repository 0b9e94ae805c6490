/*
ledger.go - The loan ledger: issue/return state machine

PURPOSE:
  The Ledger enforces the loan lifecycle and the one global invariant tying
  loans to availability:

    availableCopies == totalCopies - (open loans on the book)

  Issue and return are the only writers of loan records, and they mutate
  the availability counter exclusively through the Reconciler's atomic
  primitives.

ISSUE (two-phase):
  1. Validate: book and member exist, loan period is positive.
  2. Reserve:  atomic conditional decrement via the Reconciler. Two
     concurrent issues can never both succeed on the last copy.
  3. Commit:   create the open loan record. If this fails (or the caller
     aborted), the reservation is released so availability is never
     permanently lost. The compensating release runs even when the caller's
     context is already cancelled.

RETURN:
  One atomic storage operation: the conditional open -> closed transition
  and the capped availability increment commit together or not at all.
  A double return fails with AlreadyReturned and mutates nothing; an
  increment that would exceed totalCopies means the ledger is corrupt,
  rolls the close back, and surfaces as InvariantViolation. A return that
  fails with Busy can therefore always be retried without losing a copy.

CONTENTION:
  Storage-level contention (ErrBusy) is retried with bounded exponential
  backoff; operations on different books never contend with each other.

SEE ALSO:
  - reconciler.go: reserve/release primitives and audit
  - query.go: read-side loan views
  - errors.go: the failure taxonomy
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger owns write access to loan records and, through the Reconciler, to
// the availableCopies counter.
type Ledger struct {
	store  Store
	rec    *Reconciler
	policy LoanPolicy
	retry  RetryConfig
	now    func() time.Time
	newID  func() LoanID
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPolicy overrides the default loan policy.
func WithPolicy(p LoanPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithRetry overrides the ErrBusy retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(l *Ledger) { l.retry = cfg }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDFunc overrides loan id generation. For tests.
func WithIDFunc(fn func() LoanID) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New creates a Ledger backed by the given store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		rec:    NewReconciler(store),
		policy: DefaultPolicy(),
		retry:  DefaultRetryConfig(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() LoanID { return LoanID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reconciler exposes the inventory reconciler, e.g. for admin audits.
func (l *Ledger) Reconciler() *Reconciler { return l.rec }

// Policy returns the loan policy in effect.
func (l *Ledger) Policy() LoanPolicy { return l.policy }

// =============================================================================
// ISSUE
// =============================================================================

// Issue lends one copy of a book to a member. periodDays == 0 means the
// policy default; a negative period is rejected before any mutation.
// Creating the loan and decrementing availability commit together or not
// at all: a failed loan insert releases the reservation.
func (l *Ledger) Issue(ctx context.Context, bookID BookID, memberID MemberID, periodDays int) (Loan, error) {
	if periodDays == 0 {
		periodDays = l.policy.PeriodDays
	}
	if periodDays <= 0 {
		return Loan{}, ErrInvalidPeriod
	}

	book, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return Loan{}, err
	}
	if book == nil {
		return Loan{}, ErrBookNotFound
	}
	member, err := l.store.GetMember(ctx, memberID)
	if err != nil {
		return Loan{}, err
	}
	if member == nil {
		return Loan{}, ErrMemberNotFound
	}

	var res *Reservation
	err = Retry(ctx, l.retry, func() error {
		var rerr error
		res, rerr = l.rec.TryReserve(ctx, bookID)
		return rerr
	})
	if err != nil {
		return Loan{}, err
	}

	now := l.now()
	loan := Loan{
		ID:        l.newID(),
		BookID:    bookID,
		MemberID:  memberID,
		IssueDate: now,
		DueDate:   now.AddDate(0, 0, periodDays),
		Status:    StatusOpen,
	}

	err = Retry(ctx, l.retry, func() error {
		return l.store.CreateLoan(ctx, loan)
	})
	if err != nil {
		// Compensate even if the caller already went away.
		_ = res.Release(context.WithoutCancel(ctx))
		return Loan{}, err
	}
	res.Redeem()

	return loan, nil
}

// =============================================================================
// RETURN
// =============================================================================

// Return closes an open loan and releases its copy back to availability.
// The close and the increment are one atomic storage operation: a failed
// return leaves the loan open and the counter untouched, so retrying is
// always safe. Returning a closed loan fails with AlreadyReturned and
// mutates nothing.
func (l *Ledger) Return(ctx context.Context, loanID LoanID) (Loan, error) {
	var closed *Loan
	err := Retry(ctx, l.retry, func() error {
		var cerr error
		closed, cerr = l.store.CloseLoan(ctx, loanID, l.now())
		return cerr
	})
	if err != nil {
		return Loan{}, err
	}
	return *closed, nil
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// Availability reports the counter pair for a book.
func (l *Ledger) Availability(ctx context.Context, bookID BookID) (Availability, error) {
	book, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return Availability{}, err
	}
	if book == nil {
		return Availability{}, ErrBookNotFound
	}
	return Availability{Total: book.TotalCopies, Available: book.AvailableCopies}, nil
}
