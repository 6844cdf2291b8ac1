/**
 * @description
 * This file sets up the HTTP router for the badge-service. It defines the
 * API endpoints, associates them with their handlers, and applies
 * middleware for logging, panic recovery, timeouts, CORS and auth.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and returns the router for the badge service.
func NewRouter(h *BadgeHandlers, jwtSecret, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway webhooks carry their own HMAC signature; no bearer token.
	r.Post("/webhooks/{gateway}", h.WebhookHandler)

	// User-facing routes require a valid bearer token.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/payments", h.InitiatePaymentHandler)
		r.Post("/payments/{transactionID}/cancel", h.CancelPaymentHandler)
		r.Post("/trial", h.ActivateTrialHandler)
		r.Get("/redemptions/eligibility", h.RedemptionEligibilityHandler)
		r.Post("/redemptions", h.RedeemHandler)
		r.Get("/redemptions", h.ListRedemptionsHandler)
		r.Get("/subscription", h.GetSubscriptionHandler)
		r.Get("/badge", h.GetBadgeHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
	})

	// Internal routes for reconciliation tooling and dashboards.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalAPIKey))

		r.Post("/payments/{transactionID}/confirm", h.ConfirmPaymentHandler)
		r.Get("/stats", h.StatsHandler)
	})

	return r
}
