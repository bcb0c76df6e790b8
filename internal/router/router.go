package router

import (
	"net/http"

	"vinreports-api/internal/handler"
	"vinreports-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	ReportHandler   *handler.ReportHandler
	CheckoutHandler *handler.CheckoutHandler
	WebhookHandler  *handler.WebhookHandler
	ShareHandler    *handler.ShareHandler
	CreditsHandler  *handler.CreditsHandler
	AdminHandler    *handler.AdminHandler
	AuthHandler     *handler.AuthHandler
	// IdentityMiddleware attaches the caller's session to the context
	// without rejecting guests. Routes that need an account add
	// middleware.RequireAuth on top.
	IdentityMiddleware func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Token", "X-Login-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Report-Cache", "X-Report-VIN"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no identity resolution needed)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	// Webhooks authenticate by signature, never by session.
	if cfg.WebhookHandler != nil {
		r.Post("/api/v1/webhooks/payment", cfg.WebhookHandler.HandlePayment)
	}

	// IDENTITY routes: guests pass through, a presented token is
	// validated and attached. Fulfillment and checkout serve both.
	r.Group(func(r chi.Router) {
		if cfg.IdentityMiddleware != nil {
			r.Use(cfg.IdentityMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			// Health check endpoints
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			// Auth endpoints
			if cfg.AuthHandler != nil {
				r.Route("/auth", func(r chi.Router) {
					r.Post("/token", cfg.AuthHandler.GenerateToken)
					r.Post("/revoke", cfg.AuthHandler.RevokeToken)
					r.Post("/refresh", cfg.AuthHandler.RefreshToken)
				})
			}

			// Report fulfillment and share resolution
			if cfg.ReportHandler != nil {
				r.Post("/reports", cfg.ReportHandler.GetReport)
				r.Get("/share/{token}", cfg.ReportHandler.ResolveShare)
			}

			// Checkout endpoints
			if cfg.CheckoutHandler != nil {
				r.Post("/checkout", cfg.CheckoutHandler.CreateCheckout)
				r.Post("/checkout/{session_id}/finalize", cfg.CheckoutHandler.FinalizeCheckout)
			}

			// ACCOUNT routes: require an authenticated session.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth)

				if cfg.CreditsHandler != nil {
					r.Get("/credits", cfg.CreditsHandler.GetCredits)
				}
				if cfg.ShareHandler != nil {
					r.Post("/share", cfg.ShareHandler.CreateShare)
				}
			})

			// Admin endpoints, guarded by X-Login-Key
			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Use(cfg.AdminHandler.RequireLoginKey)
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Get("/health", cfg.AdminHandler.GetHealth)
					r.Post("/shares/purge", cfg.AdminHandler.PurgeShares)
				})
			}
		})
	})

	return r
}
