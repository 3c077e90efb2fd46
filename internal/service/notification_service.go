package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chathub/internal/domain"
)

// Cipher seals content at rest. security.Encryptor satisfies it.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(enc string) (string, error)
}

// Presence answers whether a participant has a chat open right now.
type Presence interface {
	IsViewing(id domain.ParticipantID, chat domain.ChatID) bool
}

const attachmentSnapshot = "[attachment]"

type NotificationService struct {
	notifications domain.NotificationRepository
	presence      Presence
	cipher        Cipher
	now           func() time.Time
}

func NewNotificationService(notifications domain.NotificationRepository, presence Presence, cipher Cipher) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		presence:      presence,
		cipher:        cipher,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MaybeNotify creates a notification for recipient unless both the sender
// and the recipient are looking at the message's chat right now. msg must
// carry plain content. A nil notification means it was suppressed.
func (s *NotificationService) MaybeNotify(ctx context.Context, msg *domain.Message, recipient domain.ParticipantID) (*domain.Notification, error) {
	senderActive := s.presence.IsViewing(msg.SenderID, msg.ChatID)
	receiverActive := s.presence.IsViewing(recipient, msg.ChatID)
	if senderActive && receiverActive {
		log.Debug().Str("module", "notify").Str("chat", string(msg.ChatID)).Str("receiver", string(recipient)).Msg("suppressed")
		return nil, nil
	}

	snapshot := msg.Content
	if snapshot == "" && msg.Attachment != nil {
		snapshot = attachmentSnapshot
	}
	n := &domain.Notification{
		ID:         domain.NotificationID(uuid.NewString()),
		SenderID:   msg.SenderID,
		ReceiverID: recipient,
		ChatID:     msg.ChatID,
		MessageID:  msg.ID,
		Content:    snapshot,
		CreatedAt:  s.now(),
	}

	stored := *n
	sealed, err := seal(s.cipher, n.Content)
	if err != nil {
		return nil, err
	}
	stored.Content = sealed
	if err := s.notifications.Save(ctx, &stored); err != nil {
		return nil, fmt.Errorf("%w: save notification: %w", domain.ErrPersistence, err)
	}
	return n, nil
}

// FetchForUser returns the user's notifications, newest first.
func (s *NotificationService) FetchForUser(ctx context.Context, userID domain.ParticipantID) ([]*domain.Notification, error) {
	list, err := s.notifications.ListForReceiver(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list notifications: %w", domain.ErrPersistence, err)
	}
	for _, n := range list {
		n.Content = open(s.cipher, n.Content)
	}
	return list, nil
}

// ClearForChat drops every notification of receiver for chat and returns
// how many were removed.
func (s *NotificationService) ClearForChat(ctx context.Context, chatID domain.ChatID, receiverID domain.ParticipantID) (int, error) {
	n, err := s.notifications.DeleteForChat(ctx, chatID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("%w: clear notifications: %w", domain.ErrPersistence, err)
	}
	return n, nil
}

func (s *NotificationService) ClearOne(ctx context.Context, id domain.NotificationID) error {
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrInvalidRequest)
	}
	if err := s.notifications.Delete(ctx, id); err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("%w: delete notification: %w", domain.ErrPersistence, err)
	}
	return nil
}

// ClearOwned deletes a notification only if it belongs to receiver.
func (s *NotificationService) ClearOwned(ctx context.Context, receiverID domain.ParticipantID, id domain.NotificationID) error {
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrInvalidRequest)
	}
	if err := s.notifications.DeleteOwned(ctx, id, receiverID); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: notification %s", domain.ErrNotFound, id)
		}
		return fmt.Errorf("%w: delete notification: %w", domain.ErrPersistence, err)
	}
	return nil
}

// ClearForMessage removes the notifications a message produced.
func (s *NotificationService) ClearForMessage(ctx context.Context, msgID domain.MessageID) (int, error) {
	list, err := s.notifications.ListForMessage(ctx, msgID)
	if err != nil {
		return 0, fmt.Errorf("%w: list notifications: %w", domain.ErrPersistence, err)
	}
	cleared := 0
	for _, n := range list {
		if err := s.ClearOne(ctx, n.ID); err != nil {
			if isNotFound(err) {
				continue
			}
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

func seal(c Cipher, plain string) (string, error) {
	if c == nil || plain == "" {
		return plain, nil
	}
	enc, err := c.Encrypt(plain)
	if err != nil {
		return "", fmt.Errorf("encrypt content: %w", err)
	}
	return enc, nil
}

// open falls back to the raw value when content predates encryption.
func open(c Cipher, enc string) string {
	if c == nil || enc == "" {
		return enc
	}
	plain, err := c.Decrypt(enc)
	if err != nil {
		return enc
	}
	return plain
}
