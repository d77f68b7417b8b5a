package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-vault/internal/web/handlers"
	"github.com/kozaktomas/face-vault/internal/web/middleware"
)

func (s *Server) setupRoutes(deps Deps) {
	authHandler := handlers.NewAuthHandler(deps.Store, s.sessionManager, deps.Embedder)
	processHandler := handlers.NewProcessHandler(deps.Store, s.config, deps.Detector, deps.Embedder, deps.Matcher, deps.Index)
	identifyHandler := handlers.NewIdentifyHandler(deps.Store, s.config, deps.Matcher)
	personsHandler := handlers.NewPersonsHandler(deps.Store, s.config, deps.Matcher, deps.Claims)
	claimsHandler := handlers.NewClaimsHandler(deps.Store, s.config, deps.Matcher, deps.Claims)
	facesHandler := handlers.NewFacesHandler(deps.Store, deps.Index)
	clustersHandler := handlers.NewClustersHandler(deps.Store, s.config)
	statsHandler := handlers.NewStatsHandler(deps.Store, deps.Index)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Auth routes. Registration is rate limited to slow account farming.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(deps.Limiter))
			r.Post("/auth/register", authHandler.Register)
		})
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		// All other routes require authentication
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.sessionManager))

			// Photo processing (rate limited, uploads are expensive)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(deps.Limiter))
				r.Post("/photos/process", processHandler.Process)
			})

			// Identification
			r.Post("/identify", identifyHandler.Identify)

			// Faces
			r.Delete("/faces/{id}", facesHandler.Delete)

			// Clusters
			r.Get("/clusters", clustersHandler.List)

			// Persons
			r.Get("/persons", personsHandler.List)
			r.Get("/persons/{id}", personsHandler.Get)
			r.Delete("/persons/{id}", personsHandler.Delete)
			r.Post("/persons/{id}/merge", personsHandler.Merge)
			r.Get("/persons/{id}/merge-suggestions", personsHandler.MergeSuggestions)

			// Current user
			r.Get("/users/me/unclaimed-matches", claimsHandler.UnclaimedMatches)
			r.Post("/users/me/claims", claimsHandler.Claim)
			r.Delete("/users/me/claims/{personID}", claimsHandler.Unclaim)
			r.Post("/users/me/claims/{personID}/transfer", claimsHandler.Transfer)
			r.Get("/users/me/photos", claimsHandler.Photos)

			// Stats
			r.Get("/stats", statsHandler.Get)
		})
	})
}
