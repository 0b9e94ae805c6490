/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and in the domain services; DTOs are pure
  data carriers.
*/
package api

import (
	"time"

	"github.com/shelfwise/circulation-engine/ledger"
)

// =============================================================================
// BOOKS
// =============================================================================

type BookDTO struct {
	ID              string `json:"id"`
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Publisher       string `json:"publisher,omitempty"`
	Category        string `json:"category,omitempty"`
	PublicationYear int    `json:"publication_year,omitempty"`
	Description     string `json:"description,omitempty"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	CreatedAt       string `json:"created_at,omitempty"`
}

type CreateBookRequest struct {
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Publisher       string `json:"publisher"`
	Category        string `json:"category"`
	PublicationYear int    `json:"publication_year"`
	Description     string `json:"description"`
	TotalCopies     int    `json:"total_copies"`
}

// UpdateBookRequest applies a partial update; absent fields are untouched.
type UpdateBookRequest struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	Publisher       *string `json:"publisher"`
	Category        *string `json:"category"`
	PublicationYear *int    `json:"publication_year"`
	Description     *string `json:"description"`
	TotalCopies     *int    `json:"total_copies"`
}

type BookListResponse struct {
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Pages int       `json:"pages"`
	Books []BookDTO `json:"books"`
}

type AvailabilityDTO struct {
	BookID    string `json:"book_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
}

// =============================================================================
// MEMBERS
// =============================================================================

type MemberDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	MembershipDate string `json:"membership_date"`
}

type CreateMemberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// =============================================================================
// LOANS
// =============================================================================

// IssueLoanRequest requests a loan. LoanPeriodDays is a pointer so an
// explicit zero is distinguishable from an omitted field: absent means the
// policy default, an explicit non-positive value is rejected.
type IssueLoanRequest struct {
	BookID         string `json:"book_id"`
	MemberID       string `json:"member_id"`
	LoanPeriodDays *int   `json:"loan_period_days"`
}

type LoanDTO struct {
	ID         string `json:"id"`
	BookID     string `json:"book_id"`
	MemberID   string `json:"member_id"`
	IssueDate  string `json:"issue_date"`
	DueDate    string `json:"due_date"`
	ReturnDate string `json:"return_date,omitempty"`
	Status     string `json:"status"`

	// Denormalized display fields, present on query-side responses.
	BookTitle  string `json:"book_title,omitempty"`
	BookAuthor string `json:"book_author,omitempty"`
	MemberName string `json:"member_name,omitempty"`
	Overdue    bool   `json:"overdue,omitempty"`
	Fine       string `json:"fine,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBookDTO(b ledger.Book) BookDTO {
	dto := BookDTO{
		ID:              string(b.ID),
		ISBN:            b.ISBN,
		Title:           b.Title,
		Author:          b.Author,
		Publisher:       b.Publisher,
		Category:        b.Category,
		PublicationYear: b.PublicationYear,
		Description:     b.Description,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
	if !b.CreatedAt.IsZero() {
		dto.CreatedAt = b.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toMemberDTO(m ledger.Member) MemberDTO {
	return MemberDTO{
		ID:             string(m.ID),
		Name:           m.Name,
		Email:          m.Email,
		Role:           string(m.Role),
		MembershipDate: m.MembershipDate.Format("2006-01-02"),
	}
}

func toLoanDTO(l ledger.Loan) LoanDTO {
	dto := LoanDTO{
		ID:        string(l.ID),
		BookID:    string(l.BookID),
		MemberID:  string(l.MemberID),
		IssueDate: l.IssueDate.Format(time.RFC3339),
		DueDate:   l.DueDate.Format(time.RFC3339),
		Status:    string(l.Status),
	}
	if l.ReturnDate != nil {
		dto.ReturnDate = l.ReturnDate.Format(time.RFC3339)
	}
	return dto
}

func toLoanViewDTO(v ledger.LoanView) LoanDTO {
	dto := toLoanDTO(v.Loan)
	dto.BookTitle = v.BookTitle
	dto.BookAuthor = v.BookAuthor
	dto.MemberName = v.MemberName
	dto.Overdue = v.Overdue
	if v.Fine.IsPositive() {
		dto.Fine = v.Fine.StringFixed(2)
	}
	return dto
}
