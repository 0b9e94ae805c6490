/*
errors.go - Centralized failure taxonomy for the ledger engine

PURPOSE:
  All ledger error types in one place. Every operation returns one of these
  typed results; nothing in the core panics or throws generic faults. The
  HTTP layer maps each kind to a distinct status code.

ERROR CATEGORIES:
  1. Lookup failures   - unknown book/member/loan ids
  2. Capacity failures - issue against zero availability, double return
  3. Input failures    - non-positive loan period
  4. Transient failures - storage contention (retryable)
  5. Invariant violations - counters and ledger disagree (a defect, never
     silently corrected)

USAGE:
  Callers classify with errors.Is():

    if errors.Is(err, ledger.ErrCapacityExhausted) { ... }

  Structured variants carry context and unwrap to the sentinels.

SEE ALSO:
  - ledger.go: produces these errors
  - reconciler.go: capacity and invariant errors
  - api/handlers.go: status-code mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBookNotFound is returned when a referenced book doesn't exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrMemberNotFound is returned when a referenced member doesn't exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrCapacityExhausted is returned when an issue finds no available copies.
	// No mutation is performed.
	ErrCapacityExhausted = errors.New("no copies available")

	// ErrAlreadyReturned is returned when returning a closed loan. Repeated
	// returns after the first success never corrupt state.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrInvalidPeriod is returned for a non-positive loan period, before any
	// mutation occurs.
	ErrInvalidPeriod = errors.New("loan period must be positive")

	// ErrBusy is returned on transient storage contention. The only kind the
	// caller should retry automatically.
	ErrBusy = errors.New("storage busy")

	// ErrInvariantViolation indicates the availability counter and the loan
	// ledger disagree. This is a defect, not a normal failure; it is surfaced,
	// never masked.
	ErrInvariantViolation = errors.New("availability counter disagrees with ledger")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CapacityError reports which book had no copies left.
type CapacityError struct {
	BookID BookID
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("no copies of book %s available", e.BookID)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExhausted }

// AlreadyReturnedError reports the loan that was returned twice.
type AlreadyReturnedError struct {
	LoanID LoanID
}

func (e *AlreadyReturnedError) Error() string {
	return fmt.Sprintf("loan %s already returned", e.LoanID)
}

func (e *AlreadyReturnedError) Unwrap() error { return ErrAlreadyReturned }

// InvariantViolationError details a counter/ledger mismatch found by the
// reconciler or a capped release.
type InvariantViolationError struct {
	BookID    BookID
	Total     int
	Available int
	OpenLoans int
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("book %s: available=%d total=%d open_loans=%d (expected available=%d)",
		e.BookID, e.Available, e.Total, e.OpenLoans, e.Total-e.OpenLoans)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrLoanNotFound)
}

// IsClientError returns true if the error is due to the caller's request
// rather than an internal fault. Retrying without a new decision (different
// book, different loan) will not help.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCapacityExhausted) ||
		errors.Is(err, ErrAlreadyReturned) ||
		errors.Is(err, ErrInvalidPeriod) ||
		IsNotFound(err)
}
