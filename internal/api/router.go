/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their handlers and applies authentication,
 * role and internal-key middleware per route group.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/ledger-service/internal/domain"
)

// RouterConfig carries the security settings the router needs.
type RouterConfig struct {
	Verifier       *TokenVerifier
	InternalAPIKey string
	AllowedOrigins []string
}

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/accounts", h.InternalOpenAccountHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Post("/transfers", h.TransferHandler)
		r.Put("/transfers", h.TransferHandler)

		r.Route("/customers/{customerID}", func(r chi.Router) {
			r.Post("/accounts", h.OpenAccountHandler)
			r.Get("/accounts", h.ListAccountsHandler)
			r.Get("/accounts/{accountNumber}", h.GetAccountHandler)
			r.Get("/accounts/{accountNumber}/transactions", h.ListTransactionsHandler)

			r.Post("/beneficiaries", h.AddBeneficiaryHandler)
			r.Get("/beneficiaries", h.ListBeneficiariesHandler)
			r.Delete("/beneficiaries/{beneficiaryID}", h.RemoveBeneficiaryHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(domain.RoleStaff))
			r.Put("/staff/accounts/{accountNumber}/approval", h.ApproveAccountHandler)
		})
	})

	return r
}
