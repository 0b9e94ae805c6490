/*
query.go - Ledger query service: read-side loan views

PURPOSE:
  Pure reads over committed ledger state for reporting and UI. Views join
  each loan with denormalized book and member display fields and with
  overdue/fine information derived from the loan policy. No side effects.

CONSISTENCY:
  Read-committed: a sequence may interleave arbitrarily with in-flight
  writes, but it never observes a loan whose commit did not fully complete
  (the stores only expose committed rows).

LAZINESS:
  Loans returns an iter.Seq2 that is restartable: each range over the
  sequence re-reads the store, and callers may stop early without cost.
*/
package ledger

import (
	"context"
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// QueryStore is the read-only slice of Store the query service needs.
type QueryStore interface {
	CatalogStore
	LoadLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)
}

// =============================================================================
// QUERY FILTER AND VIEW
// =============================================================================

// QueryFilter narrows the loan view. Zero value matches all loans.
type QueryFilter struct {
	MemberID    *MemberID
	BookID      *BookID
	Status      *LoanStatus
	OverdueOnly bool
}

// LoanView is a loan joined with display fields for the query-side consumer.
type LoanView struct {
	Loan
	BookTitle  string
	BookAuthor string
	MemberName string
	Overdue    bool
	Fine       decimal.Decimal
}

// =============================================================================
// QUERY SERVICE
// =============================================================================

// QueryService serves read-side loan views. It only reads committed state.
type QueryService struct {
	store  QueryStore
	policy LoanPolicy
	now    func() time.Time
}

func NewQueryService(store QueryStore, policy LoanPolicy) *QueryService {
	return &QueryService{
		store:  store,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithQueryClock overrides the time source used for overdue checks. For tests.
func (q *QueryService) WithQueryClock(now func() time.Time) *QueryService {
	q.now = now
	return q
}

// Loans returns a lazy, restartable sequence of loan views matching the
// filter. Book and member display fields are resolved per distinct id and
// cached for the life of one iteration.
func (q *QueryService) Loans(ctx context.Context, filter QueryFilter) iter.Seq2[LoanView, error] {
	return func(yield func(LoanView, error) bool) {
		loans, err := q.store.LoadLoans(ctx, LoanFilter{
			MemberID: filter.MemberID,
			BookID:   filter.BookID,
			Status:   filter.Status,
		})
		if err != nil {
			yield(LoanView{}, err)
			return
		}

		asOf := q.now()
		books := make(map[BookID]*Book)
		members := make(map[MemberID]*Member)

		for _, loan := range loans {
			if filter.OverdueOnly && !loan.Overdue(asOf) {
				continue
			}

			view := LoanView{
				Loan:    loan,
				Overdue: loan.Overdue(asOf),
				Fine:    q.policy.FineFor(loan, asOf),
			}

			book, ok := books[loan.BookID]
			if !ok {
				book, err = q.store.GetBook(ctx, loan.BookID)
				if err != nil {
					yield(LoanView{}, err)
					return
				}
				books[loan.BookID] = book
			}
			if book != nil {
				view.BookTitle = book.Title
				view.BookAuthor = book.Author
			}

			member, ok := members[loan.MemberID]
			if !ok {
				member, err = q.store.GetMember(ctx, loan.MemberID)
				if err != nil {
					yield(LoanView{}, err)
					return
				}
				members[loan.MemberID] = member
			}
			if member != nil {
				view.MemberName = member.Name
			}

			if !yield(view, nil) {
				return
			}
		}
	}
}
