// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfwise/circulation-engine/catalog"
	"github.com/shelfwise/circulation-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of the persistence interfaces
// =============================================================================

// Memory implements ledger.Store and catalog.Store. A single mutex guards
// all state, so the conditional counter updates are atomic the same way the
// SQLite store's conditional UPDATEs are.
type Memory struct {
	mu      sync.RWMutex
	books   map[ledger.BookID]ledger.Book
	members map[ledger.MemberID]ledger.Member
	loans   map[ledger.LoanID]ledger.Loan
}

func NewMemory() *Memory {
	return &Memory{
		books:   make(map[ledger.BookID]ledger.Book),
		members: make(map[ledger.MemberID]ledger.Member),
		loans:   make(map[ledger.LoanID]ledger.Loan),
	}
}

// =============================================================================
// CATALOG LOOKUPS (ledger.CatalogStore)
// =============================================================================

func (m *Memory) GetBook(_ context.Context, id ledger.BookID) (*ledger.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return nil, nil
	}
	return &book, nil
}

func (m *Memory) GetMember(_ context.Context, id ledger.MemberID) (*ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return nil, nil
	}
	return &member, nil
}

// =============================================================================
// COUNTER PRIMITIVES (ledger.CounterStore)
// =============================================================================

// ReserveCopy decrements availableCopies where it is > 0, atomically under
// the store lock.
func (m *Memory) ReserveCopy(_ context.Context, id ledger.BookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return ledger.ErrBookNotFound
	}
	if book.AvailableCopies <= 0 {
		return &ledger.CapacityError{BookID: id}
	}
	book.AvailableCopies--
	m.books[id] = book
	return nil
}

// ReleaseCopy increments availableCopies, failing rather than exceeding
// totalCopies.
func (m *Memory) ReleaseCopy(_ context.Context, id ledger.BookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return ledger.ErrBookNotFound
	}
	if book.AvailableCopies >= book.TotalCopies {
		open := 0
		for _, loan := range m.loans {
			if loan.BookID == id && loan.Open() {
				open++
			}
		}
		return &ledger.InvariantViolationError{
			BookID:    id,
			Total:     book.TotalCopies,
			Available: book.AvailableCopies,
			OpenLoans: open,
		}
	}
	book.AvailableCopies++
	m.books[id] = book
	return nil
}

// =============================================================================
// LOAN RECORDS (ledger.LoanStore)
// =============================================================================

func (m *Memory) CreateLoan(_ context.Context, loan ledger.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loans[loan.ID] = loan
	return nil
}

func (m *Memory) GetLoan(_ context.Context, id ledger.LoanID) (*ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, nil
	}
	return &loan, nil
}

// CloseLoan transitions open -> closed and increments the book's
// availability as one atomic step under the lock. If the counter is already
// at the total the ledger is corrupt: nothing is mutated and the violation
// is surfaced.
func (m *Memory) CloseLoan(_ context.Context, id ledger.LoanID, returnedAt time.Time) (*ledger.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, ledger.ErrLoanNotFound
	}
	if loan.Status == ledger.StatusClosed {
		return nil, &ledger.AlreadyReturnedError{LoanID: id}
	}
	book, ok := m.books[loan.BookID]
	if !ok {
		return nil, ledger.ErrBookNotFound
	}
	if book.AvailableCopies >= book.TotalCopies {
		open := 0
		for _, l := range m.loans {
			if l.BookID == loan.BookID && l.Open() {
				open++
			}
		}
		return nil, &ledger.InvariantViolationError{
			BookID:    loan.BookID,
			Total:     book.TotalCopies,
			Available: book.AvailableCopies,
			OpenLoans: open,
		}
	}

	loan.Status = ledger.StatusClosed
	loan.ReturnDate = &returnedAt
	m.loans[id] = loan
	book.AvailableCopies++
	m.books[loan.BookID] = book
	return &loan, nil
}

func (m *Memory) LoadLoans(_ context.Context, filter ledger.LoanFilter) ([]ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Loan
	for _, loan := range m.loans {
		if filter.MemberID != nil && loan.MemberID != *filter.MemberID {
			continue
		}
		if filter.BookID != nil && loan.BookID != *filter.BookID {
			continue
		}
		if filter.Status != nil && loan.Status != *filter.Status {
			continue
		}
		result = append(result, loan)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].IssueDate.Before(result[j].IssueDate)
	})
	return result, nil
}

func (m *Memory) CountOpenLoans(_ context.Context, id ledger.BookID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := 0
	for _, loan := range m.loans {
		if loan.BookID == id && loan.Open() {
			open++
		}
	}
	return open, nil
}

// =============================================================================
// CATALOG ADMINISTRATION (catalog.Store)
// =============================================================================

// SaveBook upserts a book. On an existing record only the descriptive
// metadata is replaced: the live counters and creation time are preserved,
// matching the SQL store's upsert, so a stale read-modify-write can never
// clobber a concurrent reserve or release.
func (m *Memory) SaveBook(_ context.Context, book ledger.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.books {
		if existing.ISBN == book.ISBN && existing.ID != book.ID {
			return catalog.ErrDuplicateISBN
		}
	}
	if existing, ok := m.books[book.ID]; ok {
		book.TotalCopies = existing.TotalCopies
		book.AvailableCopies = existing.AvailableCopies
		book.CreatedAt = existing.CreatedAt
	}
	m.books[book.ID] = book
	return nil
}

// SetTotalCopies resets the total and recomputes availability from the
// open-loan count, in one atomic step.
func (m *Memory) SetTotalCopies(_ context.Context, id ledger.BookID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return ledger.ErrBookNotFound
	}
	open := 0
	for _, loan := range m.loans {
		if loan.BookID == id && loan.Open() {
			open++
		}
	}
	book.TotalCopies = total
	book.AvailableCopies = max(0, total-open)
	m.books[id] = book
	return nil
}

// DeleteBook removes a book and its closed loan history. Open loans block
// deletion.
func (m *Memory) DeleteBook(_ context.Context, id ledger.BookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return ledger.ErrBookNotFound
	}
	for _, loan := range m.loans {
		if loan.BookID == id && loan.Open() {
			return catalog.ErrOpenLoans
		}
	}
	for loanID, loan := range m.loans {
		if loan.BookID == id {
			delete(m.loans, loanID)
		}
	}
	delete(m.books, id)
	return nil
}

// SearchBooks matches the query as a case-insensitive substring of title,
// author, category or ISBN. An empty query matches everything.
func (m *Memory) SearchBooks(_ context.Context, query string, offset, limit int) ([]ledger.Book, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(query)
	var matched []ledger.Book
	for _, book := range m.books {
		if q == "" ||
			strings.Contains(strings.ToLower(book.Title), q) ||
			strings.Contains(strings.ToLower(book.Author), q) ||
			strings.Contains(strings.ToLower(book.Category), q) ||
			strings.Contains(strings.ToLower(book.ISBN), q) {
			matched = append(matched, book)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Title < matched[j].Title })

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *Memory) GetBookByISBN(_ context.Context, isbn string) (*ledger.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, book := range m.books {
		if book.ISBN == isbn {
			b := book
			return &b, nil
		}
	}
	return nil, nil
}

func (m *Memory) SaveMember(_ context.Context, member ledger.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.members {
		if existing.Email == member.Email && existing.ID != member.ID {
			return catalog.ErrDuplicateEmail
		}
	}
	m.members[member.ID] = member
	return nil
}

func (m *Memory) ListMembers(_ context.Context) ([]ledger.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Member, 0, len(m.members))
	for _, member := range m.members {
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
