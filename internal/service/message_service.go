package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"chathub/internal/domain"
	"chathub/internal/keylock"
)

const (
	DefaultMaxContentLength = 5000
	DefaultHistoryLimit     = 100
)

type MessageService struct {
	messages domain.MessageRepository
	members  domain.MemberRepository
	notifier *NotificationService
	cipher   Cipher
	locks    *keylock.Map
	now      func() time.Time

	MaxContentLength int
	HistoryLimit     int
}

func NewMessageService(
	messages domain.MessageRepository,
	members domain.MemberRepository,
	notifier *NotificationService,
	cipher Cipher,
) *MessageService {
	return &MessageService{
		messages:         messages,
		members:          members,
		notifier:         notifier,
		cipher:           cipher,
		locks:            keylock.New(),
		now:              func() time.Time { return time.Now().UTC() },
		MaxContentLength: DefaultMaxContentLength,
		HistoryLimit:     DefaultHistoryLimit,
	}
}

type SendInput struct {
	ChatID     domain.ChatID
	Content    string
	Attachment *domain.Attachment
}

// SendResult is the stored message with plain content plus the
// notifications that were not suppressed.
type SendResult struct {
	Message       *domain.Message
	Notifications []*domain.Notification
}

// StatusChange is what a status-update broadcast carries.
type StatusChange struct {
	MessageID domain.MessageID
	ChatID    domain.ChatID
	Status    domain.MessageStatus
	ReaderID  domain.ParticipantID
}

type DeleteResult struct {
	ChatID      domain.ChatID
	MessageID   domain.MessageID
	ForEveryone bool
}

// BulkDeleteResult splits a bulk delete into messages removed for everyone,
// grouped by chat, and messages only hidden for the requester.
type BulkDeleteResult struct {
	Everyone map[domain.ChatID][]domain.MessageID
	Local    []domain.MessageID
}

func msgKey(id domain.MessageID) string { return "msg:" + string(id) }
func chatKey(id domain.ChatID) string   { return "chat:" + string(id) }

// Send persists a message and evaluates notifications for every other
// member. Nothing is returned for broadcast unless the save succeeded.
func (s *MessageService) Send(ctx context.Context, senderID domain.ParticipantID, in SendInput) (*SendResult, error) {
	if in.ChatID == "" {
		return nil, fmt.Errorf("%w: chatId is required", domain.ErrInvalidRequest)
	}
	hasAttachment := in.Attachment != nil && in.Attachment.Path != ""
	if in.Content == "" && !hasAttachment {
		return nil, fmt.Errorf("%w: content or attachment is required", domain.ErrInvalidRequest)
	}
	if s.MaxContentLength > 0 && utf8.RuneCountInString(in.Content) > s.MaxContentLength {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidRequest, s.MaxContentLength)
	}
	members, err := s.requireMember(ctx, in.ChatID, senderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(chatKey(in.ChatID))
	defer unlock()

	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		ChatID:    in.ChatID,
		SenderID:  senderID,
		Content:   in.Content,
		Status:    domain.StatusSent,
		ReadBy:    []domain.ParticipantID{},
		CreatedAt: s.now(),
	}
	if hasAttachment {
		a := *in.Attachment
		msg.Attachment = &a
	}

	stored := msg.Clone()
	if stored.Content, err = seal(s.cipher, msg.Content); err != nil {
		return nil, err
	}
	if err := s.messages.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("%w: save message: %w", domain.ErrPersistence, err)
	}

	res := &SendResult{Message: msg}
	for _, member := range lo.Without(members, senderID) {
		n, err := s.notifier.MaybeNotify(ctx, msg, member)
		if err != nil {
			// the message itself is stored; a lost notification must not undo it
			log.Error().Err(err).Str("module", "message").Str("message", string(msg.ID)).Str("receiver", string(member)).Msg("notification failed")
			continue
		}
		if n != nil {
			res.Notifications = append(res.Notifications, n)
		}
	}
	log.Info().Str("module", "message").Str("message", string(msg.ID)).Str("chat", string(msg.ChatID)).
		Str("sender", string(senderID)).Int("notified", len(res.Notifications)).Msg("message sent")
	return res, nil
}

// MarkDelivered moves a message from sent to delivered. Any other state,
// or the sender marking its own message, is a silent no-op (nil change).
func (s *MessageService) MarkDelivered(ctx context.Context, actor domain.ParticipantID, id domain.MessageID) (*StatusChange, error) {
	unlock := s.locks.Lock(msgKey(id))
	defer unlock()

	msg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, msg.ChatID, actor); err != nil {
		return nil, err
	}
	if actor == msg.SenderID || msg.Status != domain.StatusSent {
		return nil, nil
	}
	if err := s.messages.UpdateStatus(ctx, id, domain.StatusDelivered); err != nil {
		return nil, fmt.Errorf("%w: update status: %w", domain.ErrPersistence, err)
	}
	return &StatusChange{MessageID: id, ChatID: msg.ChatID, Status: domain.StatusDelivered}, nil
}

// MarkSeen records reader in readBy and recomputes the status from it. The
// status becomes seen only once every member other than the sender has read
// the message; the first read also implies delivery. A reader already in
// readBy still gets a status recompute, so a failed status write is repaired
// on retry. Nothing changed means a nil change.
func (s *MessageService) MarkSeen(ctx context.Context, reader domain.ParticipantID, id domain.MessageID) (*StatusChange, error) {
	unlock := s.locks.Lock(msgKey(id))
	defer unlock()

	msg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.requireMember(ctx, msg.ChatID, reader)
	if err != nil {
		return nil, err
	}
	if reader == msg.SenderID {
		return nil, nil
	}

	added := !msg.HasReader(reader)
	readBy := msg.ReadBy
	if added {
		if err := s.messages.AddReader(ctx, id, reader); err != nil {
			return nil, fmt.Errorf("%w: add reader: %w", domain.ErrPersistence, err)
		}
		readBy = append(slices.Clone(readBy), reader)
	}

	next := msg.Status
	if lo.Every(readBy, lo.Without(members, msg.SenderID)) {
		next = domain.StatusSeen
	} else if msg.Status == domain.StatusSent {
		next = domain.StatusDelivered
	}
	advanced := msg.Status.Before(next)
	if advanced {
		if err := s.messages.UpdateStatus(ctx, id, next); err != nil {
			return nil, fmt.Errorf("%w: update status: %w", domain.ErrPersistence, err)
		}
	}
	if !added && !advanced {
		return nil, nil
	}
	return &StatusChange{MessageID: id, ChatID: msg.ChatID, Status: next, ReaderID: reader}, nil
}

// Delete removes the message for everyone when the requester sent it and
// otherwise hides it for the requester only.
func (s *MessageService) Delete(ctx context.Context, requester domain.ParticipantID, id domain.MessageID) (*DeleteResult, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: messageId is required", domain.ErrInvalidRequest)
	}
	unlock := s.locks.Lock(msgKey(id))
	defer unlock()

	msg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, msg.ChatID, requester); err != nil {
		return nil, err
	}

	res := &DeleteResult{ChatID: msg.ChatID, MessageID: id}
	if msg.SenderID != requester {
		if err := s.messages.HideForUser(ctx, requester, []domain.MessageID{id}); err != nil {
			return nil, fmt.Errorf("%w: hide message: %w", domain.ErrPersistence, err)
		}
		return res, nil
	}

	if err := s.messages.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: delete message: %w", domain.ErrPersistence, err)
	}
	res.ForEveryone = true
	s.clearNotifications(ctx, id)
	return res, nil
}

// DeleteMany validates every id before touching anything, then deletes the
// requester's own messages for everyone and hides the rest for them.
func (s *MessageService) DeleteMany(ctx context.Context, requester domain.ParticipantID, ids []domain.MessageID) (*BulkDeleteResult, error) {
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: messageIds is required", domain.ErrInvalidRequest)
	}
	unlock := s.locks.LockAll(lo.Map(ids, func(id domain.MessageID, _ int) string { return msgKey(id) }))
	defer unlock()

	msgs := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	for _, chat := range lo.Uniq(lo.Map(msgs, func(m *domain.Message, _ int) domain.ChatID { return m.ChatID })) {
		if _, err := s.requireMember(ctx, chat, requester); err != nil {
			return nil, err
		}
	}

	owned, foreign := lo.FilterReject(msgs, func(m *domain.Message, _ int) bool { return m.SenderID == requester })
	ownedIDs := lo.Map(owned, func(m *domain.Message, _ int) domain.MessageID { return m.ID })
	foreignIDs := lo.Map(foreign, func(m *domain.Message, _ int) domain.MessageID { return m.ID })

	if len(ownedIDs) > 0 {
		if err := s.messages.DeleteMany(ctx, ownedIDs); err != nil {
			return nil, fmt.Errorf("%w: delete messages: %w", domain.ErrPersistence, err)
		}
		for _, id := range ownedIDs {
			s.clearNotifications(ctx, id)
		}
	}
	if len(foreignIDs) > 0 {
		if err := s.messages.HideForUser(ctx, requester, foreignIDs); err != nil {
			return nil, fmt.Errorf("%w: hide messages: %w", domain.ErrPersistence, err)
		}
	}

	byChat := lo.GroupBy(owned, func(m *domain.Message) domain.ChatID { return m.ChatID })
	return &BulkDeleteResult{
		Everyone: lo.MapValues(byChat, func(list []*domain.Message, _ domain.ChatID) []domain.MessageID {
			return lo.Map(list, func(m *domain.Message, _ int) domain.MessageID { return m.ID })
		}),
		Local: foreignIDs,
	}, nil
}

// List returns the chat history visible to viewer in chronological order.
func (s *MessageService) List(ctx context.Context, viewer domain.ParticipantID, chatID domain.ChatID, limit int) ([]*domain.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: chatId is required", domain.ErrInvalidRequest)
	}
	if _, err := s.requireMember(ctx, chatID, viewer); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.HistoryLimit {
		limit = s.HistoryLimit
	}
	msgs, err := s.messages.ListForChat(ctx, chatID, viewer, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", domain.ErrPersistence, err)
	}
	for _, m := range msgs {
		m.Content = open(s.cipher, m.Content)
	}
	return msgs, nil
}

// IsMember is used by the typing indicator and room joins.
func (s *MessageService) IsMember(ctx context.Context, chatID domain.ChatID, id domain.ParticipantID) (bool, error) {
	ok, err := s.members.IsMember(ctx, chatID, id)
	if err != nil {
		return false, fmt.Errorf("%w: check member: %w", domain.ErrPersistence, err)
	}
	return ok, nil
}

func (s *MessageService) load(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get message: %w", domain.ErrPersistence, err)
	}
	return msg, nil
}

// requireMember returns the chat's members if id is one of them.
func (s *MessageService) requireMember(ctx context.Context, chatID domain.ChatID, id domain.ParticipantID) ([]domain.ParticipantID, error) {
	members, err := s.members.ListMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: list members: %w", domain.ErrPersistence, err)
	}
	if !lo.Contains(members, id) {
		return nil, fmt.Errorf("%w: %s is not a member of chat %s", domain.ErrUnauthorized, id, chatID)
	}
	return members, nil
}

func (s *MessageService) clearNotifications(ctx context.Context, id domain.MessageID) {
	if _, err := s.notifier.ClearForMessage(ctx, id); err != nil {
		log.Warn().Err(err).Str("module", "message").Str("message", string(id)).Msg("clear notifications failed")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
