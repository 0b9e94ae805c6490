package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/circulation-engine/api"
	"github.com/shelfwise/circulation-engine/ledger"
	"github.com/shelfwise/circulation-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testClock = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (http.Handler, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	handler := api.NewHandler(mem, ledger.DefaultPolicy())
	return api.NewRouter(handler), mem
}

func seedBook(t *testing.T, mem *store.Memory, id string, copies int) {
	t.Helper()

	err := mem.SaveBook(context.Background(), ledger.Book{
		ID:              ledger.BookID(id),
		ISBN:            "isbn-" + id,
		Title:           "Title " + id,
		Author:          "Author " + id,
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       testClock,
		UpdatedAt:       testClock,
	})
	require.NoError(t, err)
}

func seedMember(t *testing.T, mem *store.Memory, id string, role ledger.Role) {
	t.Helper()

	err := mem.SaveMember(context.Background(), ledger.Member{
		ID:             ledger.MemberID(id),
		Name:           "Member " + id,
		Email:          id + "@example.com",
		Role:           role,
		MembershipDate: testClock,
		CreatedAt:      testClock,
	})
	require.NoError(t, err)
}

// doRequest sends a request through the router with actor identity headers.
func doRequest(t *testing.T, router http.Handler, method, path string, body any, actorID, actorRole string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set("X-Actor-Id", actorID)
	}
	if actorRole != "" {
		req.Header.Set("X-Actor-Role", actorRole)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func asAdmin(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, router, method, path, body, "admin-1", "admin")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

// =============================================================================
// BOOKS
// =============================================================================

func TestCreateBook_ThenGet(t *testing.T) {
	router, _ := newTestServer(t)

	rec := asAdmin(t, router, http.MethodPost, "/api/books", map[string]any{
		"isbn":         "978-0134190440",
		"title":        "The Go Programming Language",
		"author":       "Donovan",
		"total_copies": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[api.BookDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 3, created.AvailableCopies)

	rec = doRequest(t, router, http.MethodGet, "/api/books/"+created.ID, nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.BookDTO](t, rec)
	assert.Equal(t, "The Go Programming Language", got.Title)
}

func TestCreateBook_RequiresAdmin(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/books", map[string]any{
		"isbn": "x", "title": "T", "author": "A", "total_copies": 1,
	}, "alice", "member")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateBook_ValidationAndDuplicates(t *testing.T) {
	router, _ := newTestServer(t)

	rec := asAdmin(t, router, http.MethodPost, "/api/books", map[string]any{
		"isbn": "x", "title": "", "author": "A", "total_copies": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := map[string]any{"isbn": "dup", "title": "T", "author": "A", "total_copies": 1}
	rec = asAdmin(t, router, http.MethodPost, "/api/books", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = asAdmin(t, router, http.MethodPost, "/api/books", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBook_NotFound(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/books/ghost", nil, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBooks_SearchAndPaginate(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 1)
	seedBook(t, mem, "book-2", 1)
	seedBook(t, mem, "book-3", 1)

	rec := doRequest(t, router, http.MethodGet, "/api/books?page=1&limit=2", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[api.BookListResponse](t, rec)
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 2, list.Pages)
	assert.Len(t, list.Books, 2)

	rec = doRequest(t, router, http.MethodGet, "/api/books?search=book-2", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[api.BookListResponse](t, rec)
	assert.Equal(t, 1, list.Total)
}

func TestUpdateBook_TotalCopies(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 2)

	rec := asAdmin(t, router, http.MethodPut, "/api/books/book-1", map[string]any{
		"total_copies": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[api.BookDTO](t, rec)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 5, updated.AvailableCopies)
}

func TestDeleteBook_ConflictWithOpenLoans(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 1)
	seedMember(t, mem, "alice", ledger.RoleMember)

	rec := asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = asAdmin(t, router, http.MethodDelete, "/api/books/book-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAvailability(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 4)

	rec := doRequest(t, router, http.MethodGet, "/api/books/book-1/availability", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	avail := decode[api.AvailabilityDTO](t, rec)
	assert.Equal(t, 4, avail.Total)
	assert.Equal(t, 4, avail.Available)
}

// =============================================================================
// MEMBERS
// =============================================================================

func TestCreateMember_AdminOnly(t *testing.T) {
	router, _ := newTestServer(t)

	body := map[string]any{"name": "Alice", "email": "alice@example.com"}
	rec := doRequest(t, router, http.MethodPost, "/api/members", body, "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = asAdmin(t, router, http.MethodPost, "/api/members", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	member := decode[api.MemberDTO](t, rec)
	assert.Equal(t, "member", member.Role)

	rec = asAdmin(t, router, http.MethodPost, "/api/members", body)
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate email")
}

func TestListMembers_AdminOnly(t *testing.T) {
	router, mem := newTestServer(t)
	seedMember(t, mem, "alice", ledger.RoleMember)

	rec := doRequest(t, router, http.MethodGet, "/api/members", nil, "alice", "member")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = asAdmin(t, router, http.MethodGet, "/api/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	members := decode[[]api.MemberDTO](t, rec)
	assert.Len(t, members, 1)
}

// =============================================================================
// LOANS
// =============================================================================

func TestIssueLoan_FullFlow(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 1)
	seedMember(t, mem, "alice", ledger.RoleMember)
	seedMember(t, mem, "bob", ledger.RoleMember)

	// Issue the only copy.
	rec := asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	loan := decode[api.LoanDTO](t, rec)
	assert.Equal(t, "open", loan.Status)
	assert.NotEmpty(t, loan.ID)

	// Second issue conflicts.
	rec = asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "bob",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Return restores availability.
	rec = asAdmin(t, router, http.MethodPost, "/api/loans/"+loan.ID+"/return", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	returned := decode[api.LoanDTO](t, rec)
	assert.Equal(t, "closed", returned.Status)
	assert.NotEmpty(t, returned.ReturnDate)

	// Double return conflicts.
	rec = asAdmin(t, router, http.MethodPost, "/api/loans/"+loan.ID+"/return", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIssueLoan_Validation(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 1)
	seedMember(t, mem, "alice", ledger.RoleMember)

	rec := asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"member_id": "alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing book_id")

	rec = asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "alice", "loan_period_days": -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "negative period")

	rec = asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "alice", "loan_period_days": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "explicit zero period is invalid, not the default")

	rec = asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "ghost", "member_id": "alice",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueLoan_RequiresAdmin(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 1)
	seedMember(t, mem, "alice", ledger.RoleMember)

	rec := doRequest(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "alice",
	}, "alice", "member")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReturnLoan_BorrowerMayReturnOwnLoanOnly(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 2)
	seedMember(t, mem, "alice", ledger.RoleMember)
	seedMember(t, mem, "bob", ledger.RoleMember)

	rec := asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	loan := decode[api.LoanDTO](t, rec)

	// Bob cannot return Alice's loan.
	rec = doRequest(t, router, http.MethodPost, "/api/loans/"+loan.ID+"/return", nil, "bob", "member")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Alice can.
	rec = doRequest(t, router, http.MethodPost, "/api/loans/"+loan.ID+"/return", nil, "alice", "member")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListLoans_Filters(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 2)
	seedBook(t, mem, "book-2", 1)
	seedMember(t, mem, "alice", ledger.RoleMember)
	seedMember(t, mem, "bob", ledger.RoleMember)

	issue := func(bookID, memberID string) api.LoanDTO {
		rec := asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
			"book_id": bookID, "member_id": memberID,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		return decode[api.LoanDTO](t, rec)
	}
	l1 := issue("book-1", "alice")
	issue("book-1", "bob")
	issue("book-2", "alice")

	rec := asAdmin(t, router, http.MethodPost, "/api/loans/"+l1.ID+"/return", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/loans?member_id=alice", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	loans := decode[[]api.LoanDTO](t, rec)
	assert.Len(t, loans, 2)
	assert.Equal(t, "Member alice", loans[0].MemberName, "views carry display fields")

	rec = doRequest(t, router, http.MethodGet, "/api/loans?status=open", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	loans = decode[[]api.LoanDTO](t, rec)
	assert.Len(t, loans, 2)

	rec = doRequest(t, router, http.MethodGet, "/api/loans?book_id=book-2&status=open", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	loans = decode[[]api.LoanDTO](t, rec)
	assert.Len(t, loans, 1)
}

func TestListLoans_EmptyResultIsArray(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/loans", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String(), "empty list renders as [], not null")
}

func TestListMemberLoans(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 1)
	seedMember(t, mem, "alice", ledger.RoleMember)

	rec := asAdmin(t, router, http.MethodPost, "/api/loans/issue", map[string]any{
		"book_id": "book-1", "member_id": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/members/alice/loans", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	loans := decode[[]api.LoanDTO](t, rec)
	require.Len(t, loans, 1)
	assert.Equal(t, "Title book-1", loans[0].BookTitle)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestReconcileBook(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 2)

	rec := asAdmin(t, router, http.MethodPost, "/api/admin/reconcile/book-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "consistent", body["status"])

	rec = doRequest(t, router, http.MethodPost, "/api/admin/reconcile/book-1", nil, "alice", "member")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = asAdmin(t, router, http.MethodPost, "/api/admin/reconcile/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileBook_ReportsCorruptedCounter(t *testing.T) {
	router, mem := newTestServer(t)
	seedBook(t, mem, "book-1", 3)

	// Corrupt the counter behind the engine's back: reserves with no loan
	// records leave available disagreeing with the open-loan count.
	require.NoError(t, mem.ReserveCopy(context.Background(), "book-1"))
	require.NoError(t, mem.ReserveCopy(context.Background(), "book-1"))

	rec := asAdmin(t, router, http.MethodPost, "/api/admin/reconcile/book-1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
