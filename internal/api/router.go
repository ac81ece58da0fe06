/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, jwtSecret, clientOrigin string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := []string{"https://*", "http://*"}
	if clientOrigin != "" {
		allowedOrigins = []string{clientOrigin}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway-initiated notifications carry no session token; authenticity
	// is established by signature verification, not by this middleware.
	r.Post("/payments/notify/payfast", h.PayfastNotificationHandler)
	r.Post("/payments/notify/stripe", h.StripeWebhookHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/payments/initiate", h.InitiatePaymentHandler)
		r.Post("/payments/confirm", h.ConfirmPaymentHandler)

		r.Post("/payments/jobs/{jobID}/confirmation-code", h.IssueConfirmationCodeHandler)
		r.Get("/payments/jobs/{jobID}/transaction", h.GetJobTransactionHandler)

		// Platform fee balance and settlement
		r.Get("/payments/fees", h.GetOutstandingFeeHandler)
		r.Post("/payments/fees/settle", h.PayOutstandingFeeHandler)

		// Worker payout destination
		r.Post("/payments/payout-account", h.SetupPayoutAccountHandler)
	})

	return r
}
