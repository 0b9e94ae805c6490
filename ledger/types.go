/*
Package ledger provides the core loan-ledger engine.

PURPOSE:
  This package contains the types and algorithms that track physical book
  copies on loan: how many copies of a book exist, how many are available,
  which loan belongs to which member, and how issuing/returning a copy must
  atomically mutate the shared availability counter under concurrent
  requests.

KEY CONCEPTS IN THIS FILE (types.go):
  - Book: catalog record with totalCopies/availableCopies counters
  - Member: a library member that loans are issued against
  - Loan: an immutable-once-created record of one copy lent out
  - LoanPolicy: default loan period and overdue fine rate

DESIGN PRINCIPLES:
  1. Counter ownership: availableCopies is mutated only by the ledger,
     through the Reconciler's atomic primitives
  2. Append-style loans: a Loan is created once, transitions OPEN->CLOSED
     exactly once, and is never deleted
  3. Precision: fines use decimal.Decimal to avoid floating-point errors
  4. Type safety: BookID/MemberID/LoanID are distinct types

SEE ALSO:
  - ledger.go: issue/return state machine
  - reconciler.go: atomic reserve/release of availability
  - store.go: persistence interfaces
  - query.go: read-side loan views
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookID string
type MemberID string
type LoanID string

// =============================================================================
// BOOK - Catalog record plus availability counters
// =============================================================================

// Book is a catalog record. TotalCopies is admin-set (>= 1);
// AvailableCopies is owned by the ledger and always satisfies
// 0 <= available <= total and available = total - open loans.
type Book struct {
	ID              BookID
	ISBN            string
	Title           string
	Author          string
	Publisher       string
	Category        string
	PublicationYear int
	Description     string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Availability is the counter pair reported to callers.
type Availability struct {
	Total     int
	Available int
}

// =============================================================================
// MEMBER - Library member (no credentials; identity comes from outside)
// =============================================================================

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type Member struct {
	ID             MemberID
	Name           string
	Email          string
	Role           Role
	MembershipDate time.Time
	CreatedAt      time.Time
}

// =============================================================================
// LOAN - One copy of a book lent to a member for a bounded period
// =============================================================================

type LoanStatus string

const (
	StatusOpen   LoanStatus = "open"
	StatusClosed LoanStatus = "closed"
)

// Loan records one copy on loan. IssueDate and DueDate are immutable;
// ReturnDate is set exactly when Status becomes closed.
type Loan struct {
	ID         LoanID
	BookID     BookID
	MemberID   MemberID
	IssueDate  time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     LoanStatus
}

// Open reports whether the copy is still outstanding.
func (l Loan) Open() bool { return l.Status == StatusOpen }

// Overdue reports whether the loan is past due as of the given time.
// A closed loan is overdue when it was returned after its due date.
func (l Loan) Overdue(asOf time.Time) bool {
	if l.Status == StatusClosed {
		return l.ReturnDate != nil && l.ReturnDate.After(l.DueDate)
	}
	return asOf.After(l.DueDate)
}

// OverdueDays returns whole days past due, zero when not overdue.
func (l Loan) OverdueDays(asOf time.Time) int {
	end := asOf
	if l.ReturnDate != nil {
		end = *l.ReturnDate
	}
	if !end.After(l.DueDate) {
		return 0
	}
	return int(end.Sub(l.DueDate).Hours() / 24)
}

// =============================================================================
// LOAN POLICY - Default period and fine accrual
// =============================================================================

// DefaultLoanPeriodDays is used when an issue request leaves the period
// unspecified.
const DefaultLoanPeriodDays = 14

// LoanPolicy carries the lending parameters the ledger applies.
// How many distinct books a member may hold concurrently is deliberately
// unlimited: capacity alone limits issuing.
type LoanPolicy struct {
	PeriodDays    int
	DailyFineRate decimal.Decimal
}

// DefaultPolicy returns the standard 14-day, fee-free policy.
func DefaultPolicy() LoanPolicy {
	return LoanPolicy{PeriodDays: DefaultLoanPeriodDays, DailyFineRate: decimal.Zero}
}

// FineFor computes the accrued fine for a loan as of the given time.
func (p LoanPolicy) FineFor(l Loan, asOf time.Time) decimal.Decimal {
	days := l.OverdueDays(asOf)
	if days <= 0 {
		return decimal.Zero
	}
	return p.DailyFineRate.Mul(decimal.NewFromInt(int64(days)))
}
