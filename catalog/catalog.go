/*
Package catalog provides catalog and membership administration.

PURPOSE:
  Admin-side writes the loan ledger does not own: book metadata, total copy
  counts, member records, and search. The catalog owns totalCopies and
  descriptive fields; it never touches the running availability counter
  directly - changing a book's total goes through SetTotalCopies, which
  recomputes availability from outstanding-loan accounting in one atomic
  storage step.

RULES ENFORCED HERE:
  - ISBN is unique across books; email is unique across members
  - totalCopies >= 1; a new book starts with all copies available
  - raising or lowering totalCopies yields
      available = max(0, newTotal - open loans)
    so availability can never exceed what the ledger accounts for
  - a book with open loans cannot be deleted

SEE ALSO:
  - ledger: the only writer of availableCopies during circulation
  - store/sqlite: durable implementation of Store
*/
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shelfwise/circulation-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateISBN is returned when adding a book whose ISBN exists.
	ErrDuplicateISBN = errors.New("book with this ISBN already exists")

	// ErrDuplicateEmail is returned when adding a member whose email exists.
	ErrDuplicateEmail = errors.New("member with this email already exists")

	// ErrOpenLoans is returned when deleting a book that still has open loans.
	ErrOpenLoans = errors.New("book has open loans")

	// ErrInvalidBook is returned for a book that fails validation.
	ErrInvalidBook = errors.New("invalid book")

	// ErrInvalidMember is returned for a member that fails validation.
	ErrInvalidMember = errors.New("invalid member")
)

// =============================================================================
// STORE - Persistence surface for catalog administration
// =============================================================================

// Store extends the ledger's read-side lookups with catalog writes. Note the
// deliberate absence of any availableCopies mutator: SetTotalCopies is the
// only counter-adjacent operation, and it derives availability rather than
// accepting it.
type Store interface {
	ledger.CatalogStore

	SaveBook(ctx context.Context, book ledger.Book) error
	SetTotalCopies(ctx context.Context, id ledger.BookID, total int) error
	DeleteBook(ctx context.Context, id ledger.BookID) error
	SearchBooks(ctx context.Context, query string, offset, limit int) ([]ledger.Book, int, error)
	GetBookByISBN(ctx context.Context, isbn string) (*ledger.Book, error)
	CountOpenLoans(ctx context.Context, id ledger.BookID) (int, error)

	SaveMember(ctx context.Context, member ledger.Member) error
	ListMembers(ctx context.Context) ([]ledger.Member, error)
}

// =============================================================================
// CATALOG SERVICE
// =============================================================================

type Catalog struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Catalog {
	return &Catalog{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source. For tests.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.now = now
	return c
}

// =============================================================================
// BOOKS
// =============================================================================

// AddBook validates and persists a new book. All copies start available.
func (c *Catalog) AddBook(ctx context.Context, book ledger.Book) (ledger.Book, error) {
	book.Title = strings.TrimSpace(book.Title)
	book.Author = strings.TrimSpace(book.Author)
	book.ISBN = strings.TrimSpace(book.ISBN)

	if book.Title == "" {
		return ledger.Book{}, fmt.Errorf("%w: title is required", ErrInvalidBook)
	}
	if book.Author == "" {
		return ledger.Book{}, fmt.Errorf("%w: author is required", ErrInvalidBook)
	}
	if book.ISBN == "" {
		return ledger.Book{}, fmt.Errorf("%w: isbn is required", ErrInvalidBook)
	}
	if book.TotalCopies < 1 {
		return ledger.Book{}, fmt.Errorf("%w: total copies must be at least 1", ErrInvalidBook)
	}

	existing, err := c.store.GetBookByISBN(ctx, book.ISBN)
	if err != nil {
		return ledger.Book{}, err
	}
	if existing != nil {
		return ledger.Book{}, ErrDuplicateISBN
	}

	if book.ID == "" {
		book.ID = ledger.BookID(uuid.NewString())
	}
	book.AvailableCopies = book.TotalCopies
	book.CreatedAt = c.now()
	book.UpdatedAt = book.CreatedAt

	if err := c.store.SaveBook(ctx, book); err != nil {
		return ledger.Book{}, err
	}
	return book, nil
}

// BookUpdate carries the fields an admin may change. Nil fields are left
// untouched. TotalCopies flows through SetTotalCopies so availability is
// recomputed, never set directly.
type BookUpdate struct {
	Title           *string
	Author          *string
	Publisher       *string
	Category        *string
	PublicationYear *int
	Description     *string
	TotalCopies     *int
}

// UpdateBook applies a partial update to a book's descriptive metadata and,
// when requested, its total copy count.
func (c *Catalog) UpdateBook(ctx context.Context, id ledger.BookID, update BookUpdate) (ledger.Book, error) {
	book, err := c.store.GetBook(ctx, id)
	if err != nil {
		return ledger.Book{}, err
	}
	if book == nil {
		return ledger.Book{}, ledger.ErrBookNotFound
	}

	if update.Title != nil {
		if strings.TrimSpace(*update.Title) == "" {
			return ledger.Book{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidBook)
		}
		book.Title = strings.TrimSpace(*update.Title)
	}
	if update.Author != nil {
		if strings.TrimSpace(*update.Author) == "" {
			return ledger.Book{}, fmt.Errorf("%w: author cannot be empty", ErrInvalidBook)
		}
		book.Author = strings.TrimSpace(*update.Author)
	}
	if update.Publisher != nil {
		book.Publisher = *update.Publisher
	}
	if update.Category != nil {
		book.Category = *update.Category
	}
	if update.PublicationYear != nil {
		book.PublicationYear = *update.PublicationYear
	}
	if update.Description != nil {
		book.Description = *update.Description
	}
	book.UpdatedAt = c.now()

	if err := c.store.SaveBook(ctx, *book); err != nil {
		return ledger.Book{}, err
	}

	if update.TotalCopies != nil {
		if *update.TotalCopies < 1 {
			return ledger.Book{}, fmt.Errorf("%w: total copies must be at least 1", ErrInvalidBook)
		}
		if err := c.store.SetTotalCopies(ctx, id, *update.TotalCopies); err != nil {
			return ledger.Book{}, err
		}
	}

	updated, err := c.store.GetBook(ctx, id)
	if err != nil {
		return ledger.Book{}, err
	}
	return *updated, nil
}

// DeleteBook removes a book that has no open loans.
func (c *Catalog) DeleteBook(ctx context.Context, id ledger.BookID) error {
	return c.store.DeleteBook(ctx, id)
}

// GetBook returns a single book.
func (c *Catalog) GetBook(ctx context.Context, id ledger.BookID) (ledger.Book, error) {
	book, err := c.store.GetBook(ctx, id)
	if err != nil {
		return ledger.Book{}, err
	}
	if book == nil {
		return ledger.Book{}, ledger.ErrBookNotFound
	}
	return *book, nil
}

// SearchResult is one page of a catalog search.
type SearchResult struct {
	Books []ledger.Book
	Total int
	Page  int
	Pages int
}

// SearchBooks matches the query across title, author, category and ISBN,
// paginated. Page numbers start at 1; limit defaults to 20.
func (c *Catalog) SearchBooks(ctx context.Context, query string, page, limit int) (SearchResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	books, total, err := c.store.SearchBooks(ctx, query, (page-1)*limit, limit)
	if err != nil {
		return SearchResult{}, err
	}

	pages := (total + limit - 1) / limit
	return SearchResult{Books: books, Total: total, Page: page, Pages: pages}, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

// AddMember validates and persists a new member. Credentials are not stored
// here; identity arrives pre-authenticated from the surrounding service.
func (c *Catalog) AddMember(ctx context.Context, member ledger.Member) (ledger.Member, error) {
	member.Name = strings.TrimSpace(member.Name)
	member.Email = strings.ToLower(strings.TrimSpace(member.Email))

	if member.Name == "" {
		return ledger.Member{}, fmt.Errorf("%w: name is required", ErrInvalidMember)
	}
	if member.Email == "" {
		return ledger.Member{}, fmt.Errorf("%w: email is required", ErrInvalidMember)
	}
	switch member.Role {
	case ledger.RoleMember, ledger.RoleAdmin:
	case "":
		member.Role = ledger.RoleMember
	default:
		return ledger.Member{}, fmt.Errorf("%w: unknown role %q", ErrInvalidMember, member.Role)
	}

	if member.ID == "" {
		member.ID = ledger.MemberID(uuid.NewString())
	}
	now := c.now()
	if member.MembershipDate.IsZero() {
		member.MembershipDate = now
	}
	member.CreatedAt = now

	if err := c.store.SaveMember(ctx, member); err != nil {
		return ledger.Member{}, err
	}
	return member, nil
}

// GetMember returns a single member.
func (c *Catalog) GetMember(ctx context.Context, id ledger.MemberID) (ledger.Member, error) {
	member, err := c.store.GetMember(ctx, id)
	if err != nil {
		return ledger.Member{}, err
	}
	if member == nil {
		return ledger.Member{}, ledger.ErrMemberNotFound
	}
	return *member, nil
}

// ListMembers returns all members.
func (c *Catalog) ListMembers(ctx context.Context) ([]ledger.Member, error) {
	return c.store.ListMembers(ctx)
}
