package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chathub/internal/domain"
	"chathub/internal/service"
)

// OnlineLister reports participants with at least one live connection.
type OnlineLister interface {
	Online() []domain.ParticipantID
}

type Deps struct {
	CORSOrigins   []string
	Tokens        TokenVerifier
	Users         domain.UserRepository
	Messages      *service.MessageService
	Notifications *service.NotificationService
	Online        OnlineLister
	WS            http.Handler
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// The websocket lives as long as the device stays connected, so it sits
	// outside the request timeout.
	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(AuthMiddleware(d.Tokens, d.Users))

		r.Get("/me", handleMe())
		r.Get("/chats/{chatID}/messages", handleListMessages(d.Messages))
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", handleListNotifications(d.Notifications))
			r.Delete("/{notificationID}", handleClearNotification(d.Notifications))
		})
		r.Get("/participants/online", handleListOnline(d.Online))
	})

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
