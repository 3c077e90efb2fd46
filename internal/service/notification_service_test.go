package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chathub/internal/domain"
	"chathub/internal/presence"
	"chathub/internal/service"
)

func TestFetchForUser_NewestFirst(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, "u1", "c1", "first")
	time.Sleep(2 * time.Millisecond)
	f.send(t, "u1", "g1", "second")

	list, err := f.notifier.FetchForUser(ctx, "u2")
	req.NoError(err)
	req.Len(list, 2)
	req.Equal("second", list[0].Content)
	req.Equal("first", list[1].Content)
}

func TestClearForChat(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, "u1", "c1", "a")
	f.send(t, "u1", "c1", "b")
	f.send(t, "u1", "g1", "c")

	n, err := f.notifier.ClearForChat(ctx, "c1", "u2")
	req.NoError(err)
	req.Equal(2, n)

	list, err := f.notifier.FetchForUser(ctx, "u2")
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(domain.ChatID("g1"), list[0].ChatID)

	// u3 keeps its own notification for g1
	list, err = f.notifier.FetchForUser(ctx, "u3")
	req.NoError(err)
	req.Len(list, 1)
}

func TestClearOneAndOwned(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, "u1", "c1", "a")
	list, err := f.notifier.FetchForUser(ctx, "u2")
	req.NoError(err)
	id := list[0].ID

	// Someone else cannot clear it
	req.ErrorIs(f.notifier.ClearOwned(ctx, "u3", id), domain.ErrNotFound)

	req.NoError(f.notifier.ClearOwned(ctx, "u2", id))
	req.ErrorIs(f.notifier.ClearOne(ctx, id), domain.ErrNotFound)
	req.ErrorIs(f.notifier.ClearOne(ctx, ""), domain.ErrInvalidRequest)
}

// MockNotificationRepo only answers what a test expects; any other call
// hits the nil embedded interface.
type MockNotificationRepo struct {
	mock.Mock
	domain.NotificationRepository
}

func (m *MockNotificationRepo) DeleteOwned(ctx context.Context, id domain.NotificationID, receiver domain.ParticipantID) error {
	return m.Called(ctx, id, receiver).Error(0)
}

func TestClearOwned_SingleLookup(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := new(MockNotificationRepo)
	repo.On("DeleteOwned", mock.Anything, domain.NotificationID("n1"), domain.ParticipantID("u2")).Return(nil).Once()
	repo.On("DeleteOwned", mock.Anything, domain.NotificationID("n1"), domain.ParticipantID("u3")).Return(domain.ErrNotFound).Once()
	repo.On("DeleteOwned", mock.Anything, domain.NotificationID("n2"), domain.ParticipantID("u2")).Return(errors.New("db gone")).Once()
	svc := service.NewNotificationService(repo, presence.NewTracker(), nil)

	req.NoError(svc.ClearOwned(ctx, "u2", "n1"))
	req.ErrorIs(svc.ClearOwned(ctx, "u3", "n1"), domain.ErrNotFound)
	req.ErrorIs(svc.ClearOwned(ctx, "u2", "n2"), domain.ErrPersistence)
	req.ErrorIs(svc.ClearOwned(ctx, "u2", ""), domain.ErrInvalidRequest)
	repo.AssertExpectations(t)
}
