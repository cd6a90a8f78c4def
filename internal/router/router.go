package router

import (
	"net/http"

	"stocksync/internal/handler"
	"stocksync/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	WebhookHandler   *handler.WebhookHandler
	InventoryHandler *handler.InventoryHandler
	AdminHandler     *handler.AdminHandler
	LogHandler       *handler.LogHandler
	AdminAuth        func(http.Handler) http.Handler
	Metrics          http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)

	// PUBLIC routes
	if cfg.Handler != nil {
		r.Get("/health", cfg.Handler.Health)
		r.Get("/ready", cfg.Handler.Ready)
		r.Get("/status", cfg.Handler.Status)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	// Webhooks authenticate by signature, not by key.
	if cfg.WebhookHandler != nil {
		r.Post("/webhooks", cfg.WebhookHandler.Receive)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.HeaderRequestID, middleware.HeaderAdminKey},
			ExposedHeaders:   []string{middleware.HeaderRequestID},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		if cfg.AdminAuth != nil {
			r.Use(cfg.AdminAuth)
		}

		if cfg.AdminHandler != nil {
			r.Get("/stats", cfg.AdminHandler.GetStats)
			r.Route("/replicas", func(r chi.Router) {
				r.Get("/", cfg.AdminHandler.ListReplicas)
				r.Post("/{domain}/enable", cfg.AdminHandler.EnableReplica)
				r.Post("/{domain}/disable", cfg.AdminHandler.DisableReplica)
				r.Post("/{domain}/bulk-push", cfg.AdminHandler.BulkPush)
				r.Post("/{domain}/catalog-sync", cfg.AdminHandler.CatalogSync)
			})
		}

		if cfg.InventoryHandler != nil {
			r.Get("/products", cfg.InventoryHandler.ListProducts)
			r.Get("/products/{sku}", cfg.InventoryHandler.GetBySKU)
		}

		if cfg.LogHandler != nil {
			r.Get("/operations", cfg.LogHandler.ListOperations)
			r.Get("/conflicts", cfg.LogHandler.ListConflicts)
			r.Post("/conflicts/{id}/resolve", cfg.LogHandler.ResolveConflict)
		}
	})

	return r
}
