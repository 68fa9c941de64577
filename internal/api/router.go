package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	// MaxBodyBytes caps request bodies. Zero disables the limit.
	MaxBodyBytes int64
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(Sentry)                  // Inside Recoverer so panics are reported before recovery
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(MaxBodyBytes(opts.MaxBodyBytes))

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Route("/entries", func(r chi.Router) {
			r.Post("/", apiHandler.CreateEntryHandler)
			r.Get("/", apiHandler.ListEntriesHandler)
			r.Get("/search", apiHandler.SearchEntriesHandler)
			r.Get("/{entryID}", apiHandler.GetEntryHandler)
			r.Put("/{entryID}", apiHandler.UpdateEntryHandler)
			r.Delete("/{entryID}", apiHandler.DeleteEntryHandler)
		})

		r.Post("/search", apiHandler.SearchHandler)
		r.Post("/temporal/parse", apiHandler.ParseDateHandler)

		r.Post("/personas", apiHandler.CreatePersonaHandler)
		r.Get("/personas", apiHandler.ListPersonasHandler)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", apiHandler.CreateSessionHandler)
			r.Get("/", apiHandler.ListSessionsHandler)
			r.Get("/{sessionID}", apiHandler.GetSessionHandler)
			r.Delete("/{sessionID}", apiHandler.DeleteSessionHandler)
			r.Post("/{sessionID}/messages", apiHandler.PostMessageHandler)
			r.Put("/{sessionID}/filter", apiHandler.SetSessionFilterHandler)
			r.Delete("/{sessionID}/filter", apiHandler.ClearSessionFilterHandler)
			r.Delete("/{sessionID}/summary", apiHandler.ClearSummaryHandler)
		})
	})

	return r
}
