/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. RealIP:       Client IP from proxy headers
  3. requestLog:   Structured request logging (zap)
  4. Recoverer:    Panic recovery (500 instead of crash)
  5. CORS:         Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/auth/*       Login, token refresh, logout, current user
  /api/services/*   Service records and earnings stats (authenticated)
  /api/settings/*   Employee percentage (read: any user, write: admin)
  /api/users/*      Employee directory (admin)

Every route outside /api/auth/login and /api/auth/refresh requires a
valid access token. Admin-only routes additionally pass RequireAdmin.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Auth middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
			r.With(h.RequireAuth).Get("/me", h.Me)
		})

		// Service routes
		r.Route("/services", func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Get("/", h.ListServices)
			r.With(h.RequireAdmin).Post("/", h.CreateService)
			r.Delete("/{id}", h.DeleteService)
			r.Patch("/{id}/comment", h.UpdateComment)

			r.Route("/stats", func(r chi.Router) {
				r.Get("/user", h.UserStats)
				r.With(h.RequireAdmin).Get("/user/{userID}", h.UserStats)
				r.With(h.RequireAdmin).Get("/admin", h.AdminStats)
			})
		})

		// Settings routes
		r.Route("/settings", func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Get("/employee-percentage", h.GetPercentage)
			r.With(h.RequireAdmin).Put("/employee-percentage", h.UpdatePercentage)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.With(h.RequireAdmin).Get("/employees", h.ListEmployees)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// requestLog logs each request with method, path, status, and latency.
func requestLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("latency", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
