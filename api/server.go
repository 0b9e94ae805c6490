/*
server.go - HTTP router, middleware, and actor identity

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

ACTOR IDENTITY:
  Authentication lives in the surrounding service; this layer only consumes
  an already-authenticated identity from the X-Actor-Id and X-Actor-Role
  headers and enforces role checks. Admin-only routes reject anything but
  role "admin"; returning a loan is allowed for admins and for the member
  who borrowed the copy.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

SEE ALSO:
  - handlers.go: handler implementations and error mapping
  - cmd/server/main.go: server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shelfwise/circulation-engine/ledger"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-Id", "X-Actor-Role"},
		AllowCredentials: true,
	}))
	r.Use(actorContext)

	r.Route("/api", func(r chi.Router) {
		// Book routes
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.With(requireAdmin).Post("/", h.CreateBook)
			r.Get("/{id}", h.GetBook)
			r.With(requireAdmin).Put("/{id}", h.UpdateBook)
			r.With(requireAdmin).Delete("/{id}", h.DeleteBook)
			r.Get("/{id}/availability", h.GetAvailability)
		})

		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.With(requireAdmin).Get("/", h.ListMembers)
			r.With(requireAdmin).Post("/", h.CreateMember)
			r.Get("/{id}", h.GetMember)
			r.Get("/{id}/loans", h.ListMemberLoans)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.With(requireAdmin).Post("/issue", h.IssueLoan)
			r.Post("/{id}/return", h.ReturnLoan)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.With(requireAdmin).Post("/reconcile/{bookId}", h.ReconcileBook)
		})
	})

	return r
}

// =============================================================================
// ACTOR IDENTITY
// =============================================================================

type actorKey struct{}

// Actor is the authenticated caller as asserted by the surrounding service.
type Actor struct {
	ID   ledger.MemberID
	Role ledger.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == ledger.RoleAdmin }

// actorContext extracts the actor identity headers into the request context.
func actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Actor{
			ID:   ledger.MemberID(r.Header.Get("X-Actor-Id")),
			Role: ledger.Role(r.Header.Get("X-Actor-Role")),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// actorFrom returns the actor attached to the request context.
func actorFrom(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}

// requireAdmin rejects non-admin actors.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
