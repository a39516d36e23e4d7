package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type Deps struct {
	Auth          Authenticator
	Users         user.Service
	Catalog       catalog.Service
	Orders        order.Service
	Reconciler    NotificationHandler
	WebhookSecret string
	// Ping, when set, backs the health check.
	Ping func(ctx context.Context) error
}

func NewRouter(deps Deps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", healthHandler(deps.Ping))

	authHandler := NewAuthHandler(deps.Auth)
	userHandler := NewUserHandler(deps.Users)
	productHandler := NewProductHandler(deps.Catalog)
	orderHandler := NewOrderHandler(deps.Orders, deps.Users)
	paymentHandler := NewPaymentHandler(deps.Reconciler, deps.WebhookSecret)

	router.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r)
		paymentHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(OptionalAuthenticate(deps.Auth))
			productHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(deps.Auth))
			userHandler.RegisterRoutes(r)
			orderHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(user.RoleAdmin, user.RoleStaff))
				productHandler.RegisterAdminRoutes(r)
				orderHandler.RegisterAdminRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(user.RoleAdmin))
				userHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return router
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check failed")
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
