package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chathub/internal/domain"
)

// Engine is the relay core as the transport sees it.
type Engine interface {
	Connect(ctx context.Context, conn domain.Connection)
	Disconnect(ctx context.Context, id domain.ConnectionID)
	Handle(ctx context.Context, conn domain.ConnectionID, participant domain.ParticipantID, raw []byte)
}

// TokenVerifier resolves a bearer token to the participant it was issued to.
type TokenVerifier interface {
	Participant(token string) (domain.ParticipantID, error)
}

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin allows listed origins; "*" allows any, and requests
// without an Origin header (non-browser clients) are accepted only then.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}
	if _, all := allowed["*"]; all {
		return func(r *http.Request) bool {
			return true
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// ExtractToken reads the bearer token from the Authorization header, the
// "bearer, <token>" subprotocol pair, or the token query parameter.
func ExtractToken(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint. It authenticates
// the bearer token, upgrades, registers the connection with the engine and
// feeds it every inbound frame until the socket closes.
func MakeHandler(
	eng Engine,
	tokens TokenVerifier,
	users domain.UserRepository,
	allowedOrigins []string,
	opts Options,
) http.HandlerFunc {
	opts = opts.withDefaults()
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := ExtractToken(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		participant, err := tokens.Participant(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		if users != nil {
			user, err := users.GetByID(ctx, participant)
			switch {
			case err == nil && !user.IsActive:
				http.Error(w, "user inactive", http.StatusUnauthorized)
				return
			case err != nil && !errors.Is(err, domain.ErrNotFound):
				log.Error().Err(err).Str("module", "ws").Str("participant", string(participant)).Msg("load user")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
			return
		}

		client := newClient(ws, participant, opts)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		log.Info().Str("module", "ws").Str("conn", string(client.ID())).Str("participant", string(participant)).Msg("new WS connection")

		go client.writePump(ctx)
		eng.Connect(ctx, client)

		client.readPump(ctx, func(data []byte) {
			eng.Handle(ctx, client.ID(), participant, data)
		})

		eng.Disconnect(context.WithoutCancel(ctx), client.ID())
		client.Close()
		log.Info().Str("module", "ws").Str("conn", string(client.ID())).Msg("connection closed")
	}
}
