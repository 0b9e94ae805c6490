/*
reconciler.go - Inventory reconciler: atomic capacity check-and-mutate

PURPOSE:
  Single source of truth for "is there capacity". The reserve step is the
  only path that decrements availableCopies, and it is atomic, so the
  check-then-act race (two concurrent issues both reading available=1)
  cannot occur. Issue is modeled as a two-phase action: reserve, then
  commit the loan record, with an explicit compensating release if the
  second phase fails.

RESERVATION LIFECYCLE:
  res, err := rec.TryReserve(ctx, bookID)   // atomic decrement or failure
  ...create loan record...
  on success: res.Redeem()                  // reservation consumed
  on failure: res.Release(ctx)              // availability restored

  A reservation is single-shot: after Redeem, Release is a no-op, and
  Release itself releases at most once. Availability is never permanently
  lost to an abandoned issue.

AUDIT:
  Audit recomputes what availableCopies should be from the count of open
  loans and compares it with the stored counter. A mismatch is a defect
  (InvariantViolation) and is surfaced, never silently corrected.

SEE ALSO:
  - store.go: the atomic counter primitives this wraps
  - ledger.go: the only consumer of reservations
*/
package ledger

import (
	"context"
	"sync"
)

// ReconcilerStore is the slice of Store the reconciler needs.
type ReconcilerStore interface {
	CounterStore
	GetBook(ctx context.Context, id BookID) (*Book, error)
	CountOpenLoans(ctx context.Context, id BookID) (int, error)
}

// Reconciler owns all mutation of availableCopies.
type Reconciler struct {
	store ReconcilerStore
}

func NewReconciler(store ReconcilerStore) *Reconciler {
	return &Reconciler{store: store}
}

// TryReserve atomically tests available > 0 and decrements if true,
// returning a reservation to be redeemed by loan creation or released on
// failure. Returns a CapacityError (no mutation) when no copy is free.
func (r *Reconciler) TryReserve(ctx context.Context, bookID BookID) (*Reservation, error) {
	if err := r.store.ReserveCopy(ctx, bookID); err != nil {
		return nil, err
	}
	return &Reservation{bookID: bookID, rec: r}, nil
}

// Release atomically increments availableCopies, capped at totalCopies.
// This is the compensation path for failed issues; returns release their
// copy inside the CloseLoan storage operation instead.
func (r *Reconciler) Release(ctx context.Context, bookID BookID) error {
	return r.store.ReleaseCopy(ctx, bookID)
}

// Audit validates the availability counter against the open-loan count.
// Returns an *InvariantViolationError on mismatch, nil when consistent.
func (r *Reconciler) Audit(ctx context.Context, bookID BookID) error {
	book, err := r.store.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return ErrBookNotFound
	}
	open, err := r.store.CountOpenLoans(ctx, bookID)
	if err != nil {
		return err
	}
	if book.AvailableCopies != book.TotalCopies-open ||
		book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		return &InvariantViolationError{
			BookID:    bookID,
			Total:     book.TotalCopies,
			Available: book.AvailableCopies,
			OpenLoans: open,
		}
	}
	return nil
}

// =============================================================================
// RESERVATION - Token for a successful atomic decrement
// =============================================================================

// Reservation represents one decremented copy awaiting a loan record.
type Reservation struct {
	bookID BookID
	rec    *Reconciler

	mu       sync.Mutex
	redeemed bool
	released bool
}

// BookID returns the book this reservation holds a copy of.
func (res *Reservation) BookID() BookID { return res.bookID }

// Redeem marks the reservation consumed by a committed loan record.
func (res *Reservation) Redeem() {
	res.mu.Lock()
	defer res.mu.Unlock()
	res.redeemed = true
}

// Release returns the reserved copy to availability. No-op after Redeem or
// after a previous Release.
func (res *Reservation) Release(ctx context.Context) error {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.redeemed || res.released {
		return nil
	}
	res.released = true
	return res.rec.Release(ctx, res.bookID)
}
