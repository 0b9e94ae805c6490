/*
handlers.go - HTTP API handlers for the circulation engine

PURPOSE:
  Exposes the catalog and loan ledger via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Books:
    GET    /api/books                  Search + paginate the catalog
    POST   /api/books                  Add a book (admin)
    GET    /api/books/{id}             Get one book
    PUT    /api/books/{id}             Update metadata / total copies (admin)
    DELETE /api/books/{id}             Delete (admin; refused with open loans)
    GET    /api/books/{id}/availability Availability counters

  Members:
    GET    /api/members                List members (admin)
    POST   /api/members                Add a member (admin)
    GET    /api/members/{id}           Get one member
    GET    /api/members/{id}/loans     Loans for a member

  Loans:
    GET    /api/loans                  Query loans (member_id/book_id/status/overdue)
    POST   /api/loans/issue            Issue a copy (admin)
    POST   /api/loans/{id}/return      Return a copy (admin or borrower)

  Admin:
    POST   /api/admin/reconcile/{bookId}  Audit counter vs ledger

ERROR HANDLING:
  Every ledger failure kind maps to a distinct status:
  - 400: InvalidPeriod, validation failures
  - 404: unknown book/member/loan
  - 409: CapacityExhausted, AlreadyReturned, duplicate ISBN/email, open loans
  - 503 + Retry-After: Busy (transient contention; retryable)
  - 500: InvariantViolation and storage faults

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and actor identity
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shelfwise/circulation-engine/catalog"
	"github.com/shelfwise/circulation-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the full persistence surface the API needs.
type Store interface {
	ledger.Store
	catalog.Store
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	catalog *catalog.Catalog
	engine  *ledger.Ledger
	queries *ledger.QueryService
}

// NewHandler creates a handler over the given store and loan policy.
func NewHandler(store Store, policy ledger.LoanPolicy) *Handler {
	return &Handler{
		catalog: catalog.New(store),
		engine:  ledger.New(store, ledger.WithPolicy(policy)),
		queries: ledger.NewQueryService(store, policy),
	}
}

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks searches the catalog with pagination.
// GET /api/books?search=&page=&limit=
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.catalog.SearchBooks(r.Context(), r.URL.Query().Get("search"), page, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]BookDTO, len(result.Books))
	for i, b := range result.Books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, BookListResponse{
		Total: result.Total,
		Page:  result.Page,
		Pages: result.Pages,
		Books: dtos,
	})
}

// CreateBook adds a book to the catalog.
// POST /api/books
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	book, err := h.catalog.AddBook(r.Context(), ledger.Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		Publisher:       req.Publisher,
		Category:        req.Category,
		PublicationYear: req.PublicationYear,
		Description:     req.Description,
		TotalCopies:     req.TotalCopies,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// GetBook returns a single book.
// GET /api/books/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.catalog.GetBook(r.Context(), ledger.BookID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// UpdateBook applies a partial update to a book.
// PUT /api/books/{id}
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	book, err := h.catalog.UpdateBook(r.Context(), ledger.BookID(chi.URLParam(r, "id")), catalog.BookUpdate{
		Title:           req.Title,
		Author:          req.Author,
		Publisher:       req.Publisher,
		Category:        req.Category,
		PublicationYear: req.PublicationYear,
		Description:     req.Description,
		TotalCopies:     req.TotalCopies,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// DeleteBook removes a book that has no open loans.
// DELETE /api/books/{id}
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteBook(r.Context(), ledger.BookID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GetAvailability reports the counter pair for a book.
// GET /api/books/{id}/availability
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookID(chi.URLParam(r, "id"))
	avail, err := h.engine.Availability(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		BookID:    string(id),
		Total:     avail.Total,
		Available: avail.Available,
	})
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns all members.
// GET /api/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.catalog.ListMembers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember registers a member.
// POST /api/members
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	member, err := h.catalog.AddMember(r.Context(), ledger.Member{
		Name:  req.Name,
		Email: req.Email,
		Role:  ledger.Role(req.Role),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(member))
}

// GetMember returns a single member.
// GET /api/members/{id}
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.catalog.GetMember(r.Context(), ledger.MemberID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(member))
}

// ListMemberLoans returns loans for one member.
// GET /api/members/{id}/loans?status=
func (h *Handler) ListMemberLoans(w http.ResponseWriter, r *http.Request) {
	memberID := ledger.MemberID(chi.URLParam(r, "id"))
	filter := ledger.QueryFilter{MemberID: &memberID}
	if status, ok := parseStatus(r.URL.Query().Get("status")); ok {
		filter.Status = &status
	}
	h.writeLoanViews(w, r, filter)
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// IssueLoan lends a copy to a member.
// POST /api/loans/issue
func (h *Handler) IssueLoan(w http.ResponseWriter, r *http.Request) {
	var req IssueLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.BookID == "" || req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "book_id and member_id are required", nil)
		return
	}

	// Absent period means the policy default; an explicit zero or negative
	// period is invalid.
	periodDays := 0
	if req.LoanPeriodDays != nil {
		if *req.LoanPeriodDays <= 0 {
			writeDomainError(w, ledger.ErrInvalidPeriod)
			return
		}
		periodDays = *req.LoanPeriodDays
	}

	loan, err := h.engine.Issue(r.Context(),
		ledger.BookID(req.BookID), ledger.MemberID(req.MemberID), periodDays)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(loan))
}

// ReturnLoan closes an open loan. Allowed for admins and for the member who
// borrowed the copy.
// POST /api/loans/{id}/return
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	loanID := ledger.LoanID(chi.URLParam(r, "id"))
	actor := actorFrom(r.Context())

	if !actor.IsAdmin() {
		owned := false
		for view, err := range h.queries.Loans(r.Context(), ledger.QueryFilter{MemberID: &actor.ID}) {
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if view.ID == loanID {
				owned = true
				break
			}
		}
		if !owned {
			writeError(w, http.StatusForbidden, "loan belongs to another member", nil)
			return
		}
	}

	loan, err := h.engine.Return(r.Context(), loanID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := toLoanDTO(loan)
	if fine := h.engine.Policy().FineFor(loan, *loan.ReturnDate); fine.IsPositive() {
		dto.Overdue = true
		dto.Fine = fine.StringFixed(2)
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListLoans returns loan views matching the query parameters.
// GET /api/loans?member_id=&book_id=&status=&overdue=
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	var filter ledger.QueryFilter
	if v := r.URL.Query().Get("member_id"); v != "" {
		id := ledger.MemberID(v)
		filter.MemberID = &id
	}
	if v := r.URL.Query().Get("book_id"); v != "" {
		id := ledger.BookID(v)
		filter.BookID = &id
	}
	if status, ok := parseStatus(r.URL.Query().Get("status")); ok {
		filter.Status = &status
	}
	filter.OverdueOnly = r.URL.Query().Get("overdue") == "true"

	h.writeLoanViews(w, r, filter)
}

func (h *Handler) writeLoanViews(w http.ResponseWriter, r *http.Request, filter ledger.QueryFilter) {
	dtos := []LoanDTO{}
	for view, err := range h.queries.Loans(r.Context(), filter) {
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dtos = append(dtos, toLoanViewDTO(view))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ReconcileBook audits the availability counter against the loan ledger.
// POST /api/admin/reconcile/{bookId}
func (h *Handler) ReconcileBook(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookID(chi.URLParam(r, "bookId"))
	if err := h.engine.Reconciler().Audit(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"book_id": string(id), "status": "consistent"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseStatus(s string) (ledger.LoanStatus, bool) {
	switch ledger.LoanStatus(s) {
	case ledger.StatusOpen:
		return ledger.StatusOpen, true
	case ledger.StatusClosed:
		return ledger.StatusClosed, true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the ledger/catalog failure taxonomy to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ledger.ErrInvalidPeriod),
		errors.Is(err, catalog.ErrInvalidBook),
		errors.Is(err, catalog.ErrInvalidMember):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ledger.ErrCapacityExhausted),
		errors.Is(err, ledger.ErrAlreadyReturned),
		errors.Is(err, catalog.ErrDuplicateISBN),
		errors.Is(err, catalog.ErrDuplicateEmail),
		errors.Is(err, catalog.ErrOpenLoans):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, ledger.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily busy, retry with backoff", nil)
	case errors.Is(err, ledger.ErrInvariantViolation):
		log.Printf("INVARIANT VIOLATION: %v", err)
		writeError(w, http.StatusInternalServerError, "internal inventory inconsistency", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
