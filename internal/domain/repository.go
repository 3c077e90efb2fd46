package domain

import (
	"context"
)

// UserRepository is the part of the external user store the relay touches.
type UserRepository interface {
	GetByID(ctx context.Context, id ParticipantID) (*User, error)
	SetOnlineStatus(ctx context.Context, id ParticipantID, isOnline bool) error
}

// MemberRepository resolves chat membership owned by the external chat store.
type MemberRepository interface {
	ListMembers(ctx context.Context, chatID ChatID) ([]ParticipantID, error)
	IsMember(ctx context.Context, chatID ChatID, userID ParticipantID) (bool, error)
}

// MessageRepository defines persistence operations for messages.
// GetByID returns ErrNotFound for unknown or fully deleted messages.
type MessageRepository interface {
	Save(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id MessageID) (*Message, error)
	UpdateStatus(ctx context.Context, id MessageID, status MessageStatus) error
	AddReader(ctx context.Context, id MessageID, reader ParticipantID) error
	Delete(ctx context.Context, id MessageID) error
	DeleteMany(ctx context.Context, ids []MessageID) error
	HideForUser(ctx context.Context, userID ParticipantID, ids []MessageID) error
	ListForChat(ctx context.Context, chatID ChatID, viewer ParticipantID, limit int) ([]*Message, error)
}

// NotificationRepository defines persistence operations for notifications.
type NotificationRepository interface {
	Save(ctx context.Context, n *Notification) error
	Delete(ctx context.Context, id NotificationID) error
	// DeleteOwned deletes id only when receiverID owns it; ErrNotFound otherwise.
	DeleteOwned(ctx context.Context, id NotificationID, receiverID ParticipantID) error
	DeleteForChat(ctx context.Context, chatID ChatID, receiverID ParticipantID) (int, error)
	ListForReceiver(ctx context.Context, receiverID ParticipantID) ([]*Notification, error)
	ListForMessage(ctx context.Context, messageID MessageID) ([]*Notification, error)
}
