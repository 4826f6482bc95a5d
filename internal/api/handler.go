// Package api provides HTTP handlers for the tutor API.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/baun-edu/baun-server/internal/chat"
	"github.com/baun-edu/baun-server/internal/connectivity"
	"github.com/baun-edu/baun-server/internal/domain"
	"github.com/baun-edu/baun-server/internal/identity"
	"github.com/baun-edu/baun-server/internal/library"
	"github.com/baun-edu/baun-server/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler provides common handler utilities and shared dependencies.
type Handler struct {
	repo                store.Repository
	manager             *chat.Manager
	guests              *identity.GuestManager
	resolver            *identity.Resolver
	monitor             *connectivity.Monitor
	docs                *library.Client
	frontendRedirectURL string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, manager *chat.Manager, guests *identity.GuestManager, resolver *identity.Resolver, monitor *connectivity.Monitor, docs *library.Client, frontendURL string) *Handler {
	return &Handler{
		repo:                repo,
		manager:             manager,
		guests:              guests,
		resolver:            resolver,
		monitor:             monitor,
		docs:                docs,
		frontendRedirectURL: frontendURL,
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/role", h.ResolveRole)
		r.Get("/prompts", h.SuggestedPrompts)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Post("/", h.CreateConversation)
			r.Delete("/", h.DeleteAllConversations)
			r.Post("/{id}/select", h.SelectConversation)
			r.Post("/{id}/messages", h.SendMessage)
			r.Put("/{id}", h.RenameConversation)
			r.Delete("/{id}", h.DeleteConversation)
		})

		r.Route("/guests", func(r chi.Router) {
			r.Get("/active", h.ActiveGuestRole)
			r.Post("/switch", h.SwitchGuestRole)
			r.Delete("/", h.ClearAllGuests)
			r.Post("/{role}", h.CreateGuest)
			r.Get("/{role}", h.GetGuest)
			r.Delete("/{role}", h.ClearGuest)
		})

		r.Route("/connectivity", func(r chi.Router) {
			r.Get("/", h.ConnectivityStatus)
			r.Put("/", h.ReportConnectivity)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Get("/search", h.SearchDocuments)
			r.Post("/upload", h.UploadDocument)
			r.Delete("/{id}", h.DeleteDocument)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// roleParam parses and validates a role from the query string or body field.
func roleParam(value string) (domain.Role, bool) {
	role := domain.Role(value)
	return role, role.Valid()
}

// isDevelopment returns true if running in development mode.
func (h *Handler) isDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return h.frontendRedirectURL == "" ||
		strings.Contains(h.frontendRedirectURL, "localhost") ||
		strings.Contains(h.frontendRedirectURL, "127.0.0.1")
}
