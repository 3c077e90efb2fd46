package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chathub/internal/domain"
	"chathub/internal/presence"
	"chathub/internal/security"
	"chathub/internal/service"
	"chathub/internal/store/memory"
)

type staticOnline []domain.ParticipantID

func (s staticOnline) Online() []domain.ParticipantID {
	return append([]domain.ParticipantID(nil), s...)
}

type testServer struct {
	handler  http.Handler
	tokens   *security.TokenService
	store    *memory.Store
	messages *service.MessageService
	notifier *service.NotificationService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	enc, err := security.NewEncryptor([]byte("http test key"), nil)
	require.NoError(t, err)

	store := memory.New()
	store.AddUser(domain.User{ID: "u1", DisplayName: "Alice", IsActive: true})
	store.AddUser(domain.User{ID: "u2", DisplayName: "Bob", IsActive: true})
	store.AddUser(domain.User{ID: "banned", DisplayName: "Mallory"})
	store.AddMember("c1", "u1", "u2")

	tracker := presence.NewTracker()
	notifier := service.NewNotificationService(store.Notifications(), tracker, enc)
	messages := service.NewMessageService(store.Messages(), store.Members(), notifier, enc)
	tokens := security.NewTokenService("http-secret", time.Hour)

	h := NewRouter(Deps{
		CORSOrigins:   []string{"http://localhost:3000"},
		Tokens:        tokens,
		Users:         store.Users(),
		Messages:      messages,
		Notifications: notifier,
		Online:        staticOnline{"u2", "u1"},
	})
	return &testServer{handler: h, tokens: tokens, store: store, messages: messages, notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, path string, as domain.ParticipantID) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, nil)
	if as != "" {
		tok, err := s.tokens.CreateForParticipant(as)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/me", "").Code)

	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_InactiveRefusedUnknownAllowed(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/me", "banned").Code)

	w := s.do(t, http.MethodGet, "/api/me", "stranger")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"participantId":"stranger"}`, w.Body.String())
}

func TestListMessages(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	ctx := context.Background()

	// Given two messages in c1
	_, err := s.messages.Send(ctx, "u1", service.SendInput{ChatID: "c1", Content: "hello"})
	req.NoError(err)
	_, err = s.messages.Send(ctx, "u2", service.SendInput{ChatID: "c1", Content: "hi"})
	req.NoError(err)

	// When a member lists the history
	w := s.do(t, http.MethodGet, "/api/chats/c1/messages", "u2")

	// Then both come back in order with plain content
	req.Equal(http.StatusOK, w.Code)
	var msgs []domain.Message
	req.NoError(json.Unmarshal(w.Body.Bytes(), &msgs))
	req.Len(msgs, 2)
	req.Equal("hello", msgs[0].Content)
	req.Equal("hi", msgs[1].Content)

	w = s.do(t, http.MethodGet, "/api/chats/c1/messages?limit=1", "u1")
	req.NoError(json.Unmarshal(w.Body.Bytes(), &msgs))
	req.Len(msgs, 1)
	req.Equal("hi", msgs[0].Content)
}

func TestListMessages_Errors(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/chats/c1/messages", "stranger").Code)
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/chats/c1/messages?limit=x", "u1").Code)
}

func TestNotifications_ListAndClear(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given u2 was notified about a message in c1
	_, err := s.messages.Send(context.Background(), "u1", service.SendInput{ChatID: "c1", Content: "ping"})
	req.NoError(err)

	w := s.do(t, http.MethodGet, "/api/notifications", "u2")
	req.Equal(http.StatusOK, w.Code)
	var list []domain.Notification
	req.NoError(json.Unmarshal(w.Body.Bytes(), &list))
	req.Len(list, 1)
	req.Equal("ping", list[0].Content)
	id := string(list[0].ID)

	// Then nobody else can clear it, and the owner can clear it once
	req.Equal(http.StatusNotFound, s.do(t, http.MethodDelete, "/api/notifications/"+id, "u1").Code)
	req.Equal(http.StatusNoContent, s.do(t, http.MethodDelete, "/api/notifications/"+id, "u2").Code)
	req.Equal(http.StatusNotFound, s.do(t, http.MethodDelete, "/api/notifications/"+id, "u2").Code)

	w = s.do(t, http.MethodGet, "/api/notifications", "u2")
	req.JSONEq(`[]`, w.Body.String())
}

func TestListOnline(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/participants/online", "u1")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"participants":["u1","u2"]}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidRequest))
	require.Equal(t, http.StatusConflict, statusFor(domain.ErrAlreadyInProgress))
	require.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrPersistence))
}
