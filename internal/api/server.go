package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/inapp-messaging/internal/ratelimit"
	"github.com/shehryarbajwa/inapp-messaging/internal/stream"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(messageHandler *MessageHandler, streamServer *stream.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Event stream (long lived, not rate limited)
	api.HandleFunc("/sessions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		streamServer.HandleEvents(w, r, mux.Vars(r)["id"])
	}).Methods("GET")

	// Session endpoints are called by every client tab and are rate limited per subject,
	// falling back to the client address for anonymous requests
	sessions := api.PathPrefix("/sessions").Subrouter()
	sessions.Use(RateLimitMiddleware(rateLimiter, h.rateLimitKey))

	sessions.HandleFunc("", h.CreateSession).Methods("POST")
	sessions.HandleFunc("", h.ListSessions).Methods("GET")
	sessions.HandleFunc("/{id}", h.GetSession).Methods("GET")
	sessions.HandleFunc("/{id}", h.DeleteSession).Methods("DELETE")
	sessions.HandleFunc("/{id}/evaluate", h.Evaluate).Methods("POST")
	sessions.HandleFunc("/{id}/display", h.CommitDisplay).Methods("POST")
	sessions.HandleFunc("/{id}/next", h.NextMessage).Methods("GET")
	sessions.HandleFunc("/{id}/actions", h.RecordAction).Methods("POST")
	sessions.HandleFunc("/{id}/suppress", h.Suppress).Methods("PUT")
	sessions.HandleFunc("/{id}/data-collection", h.SetDataCollection).Methods("PUT")
	sessions.HandleFunc("/{id}/reset", h.ResetSession).Methods("POST")

	// Catalog endpoints
	api.HandleFunc("/messages", messageHandler.PutMessage).Methods("POST")
	api.HandleFunc("/messages", messageHandler.ListMessages).Methods("GET")
	api.HandleFunc("/messages/{id}", messageHandler.GetMessage).Methods("GET")
	api.HandleFunc("/messages/{id}", messageHandler.DeleteMessage).Methods("DELETE")

	api.HandleFunc("/config", h.GetConfig).Methods("GET")

	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Subject-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
