package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/billoapp/tabz-payments/internal/payment"
	"github.com/billoapp/tabz-payments/internal/transport/middleware"
	"github.com/billoapp/tabz-payments/internal/transport/swagger"
)

// RegisterAllRoutes wires the payment endpoints. Initiation and the provider
// callback are public; status and retry require an operator token.
func RegisterAllRoutes(router *chi.Mux, db *sql.DB, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, operatorJWTKey []byte, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if webhookHandler != nil {
			r.Post("/payments/callback", webhookHandler.HandleCallback)
		}

		if paymentHandler != nil {
			r.Route("/payments", func(pr chi.Router) {
				pr.Post("/initiate", paymentHandler.Initiate)

				// Operator routes behind JWT auth
				pr.Group(func(or chi.Router) {
					or.Use(middleware.OperatorAuth(operatorJWTKey, logger))
					or.Get("/status/{transactionId}", paymentHandler.Status)
					or.Post("/retry/{transactionId}", paymentHandler.Retry)
				})
			})
		}
	})
}
