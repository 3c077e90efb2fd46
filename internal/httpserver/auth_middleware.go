package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"chathub/internal/domain"
)

// TokenVerifier resolves a bearer token to the participant it was issued to.
type TokenVerifier interface {
	Participant(token string) (domain.ParticipantID, error)
}

type contextKey string

const participantContextKey contextKey = "participant"

// WithParticipant returns a new context carrying the authenticated participant.
func WithParticipant(ctx context.Context, id domain.ParticipantID) context.Context {
	return context.WithValue(ctx, participantContextKey, id)
}

// CurrentParticipant extracts the authenticated participant from context, if any.
func CurrentParticipant(r *http.Request) domain.ParticipantID {
	if v, ok := r.Context().Value(participantContextKey).(domain.ParticipantID); ok {
		return v
	}
	return ""
}

// AuthMiddleware validates the Bearer token and attaches the participant to
// the context. Participants unknown to the user store are let through since
// the store is owned elsewhere; known but inactive ones are refused.
func AuthMiddleware(tokens TokenVerifier, users domain.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			id, err := tokens.Participant(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if users != nil {
				user, err := users.GetByID(r.Context(), id)
				switch {
				case err == nil && !user.IsActive:
					log.Info().Str("module", "http").Str("participant", string(id)).Msg("inactive participant refused")
					http.Error(w, "user not found", http.StatusUnauthorized)
					return
				case err != nil && !errors.Is(err, domain.ErrNotFound):
					log.Error().Err(err).Str("module", "http").Str("participant", string(id)).Msg("load user")
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), id)))
		})
	}
}
