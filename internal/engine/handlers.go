package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"chathub/internal/domain"
	"chathub/internal/event"
	"chathub/internal/service"
)

func (e *Engine) joinRoom(ctx context.Context, req Request) ([]event.Outbound, error) {
	room := req.Event.RoomID
	if err := required("roomId", string(room)); err != nil {
		return nil, err
	}
	switch {
	case room.IsPersonal():
		if room != domain.PersonalRoom(req.Participant) {
			return nil, fmt.Errorf("%w: personal room of another participant", domain.ErrUnauthorized)
		}
	default:
		chat, ok := room.ChatOf()
		if !ok {
			return nil, fmt.Errorf("%w: unknown room %q", domain.ErrInvalidRequest, room)
		}
		if err := e.requireMember(ctx, chat, req.Participant); err != nil {
			return nil, err
		}
	}
	if err := e.hub.JoinRoom(req.Conn, room); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return nil, nil
}

// setPresence records the open chat; opening a chat also clears the
// participant's notifications for it.
func (e *Engine) setPresence(ctx context.Context, req Request) ([]event.Outbound, error) {
	chat := req.Event.ChatID
	if chat == "" {
		e.presence.Clear(req.Participant)
		return nil, nil
	}
	if err := e.requireMember(ctx, chat, req.Participant); err != nil {
		return nil, err
	}
	e.presence.Set(req.Participant, chat)

	n, err := e.notifications.ClearForChat(ctx, chat, req.Participant)
	if err != nil {
		return nil, err
	}
	return []event.Outbound{
		event.ToParticipant(req.Participant, event.NotificationsCleared, event.Cleared{ChatID: chat, Count: n}),
	}, nil
}

func (e *Engine) sendMessage(ctx context.Context, req Request) ([]event.Outbound, error) {
	in := req.Event
	res, err := e.messages.Send(ctx, req.Participant, service.SendInput{
		ChatID:     in.ChatID,
		Content:    in.Content,
		Attachment: in.Attachment,
	})
	if err != nil {
		return nil, err
	}
	out := make([]event.Outbound, 0, 1+len(res.Notifications))
	out = append(out, event.ToChat(res.Message.ChatID, event.MessageReceived, res.Message))
	for _, n := range res.Notifications {
		out = append(out, event.ToParticipant(n.ReceiverID, event.NotificationReceived, n))
	}
	return out, nil
}

func (e *Engine) markDelivered(ctx context.Context, req Request) ([]event.Outbound, error) {
	if err := required("messageId", string(req.Event.MessageID)); err != nil {
		return nil, err
	}
	change, err := e.messages.MarkDelivered(ctx, req.Participant, req.Event.MessageID)
	if err != nil || change == nil {
		return nil, err
	}
	return []event.Outbound{statusUpdate(change)}, nil
}

func (e *Engine) markSeen(ctx context.Context, req Request) ([]event.Outbound, error) {
	if err := required("messageId", string(req.Event.MessageID)); err != nil {
		return nil, err
	}
	change, err := e.messages.MarkSeen(ctx, req.Participant, req.Event.MessageID)
	if err != nil || change == nil {
		return nil, err
	}
	return []event.Outbound{statusUpdate(change)}, nil
}

func statusUpdate(c *service.StatusChange) event.Outbound {
	return event.ToChat(c.ChatID, event.MessageStatusUpdate, event.StatusUpdate{
		MessageID: c.MessageID,
		ChatID:    c.ChatID,
		Status:    c.Status,
		ReaderID:  c.ReaderID,
	})
}

func (e *Engine) deleteMessage(ctx context.Context, req Request) ([]event.Outbound, error) {
	res, err := e.messages.Delete(ctx, req.Participant, req.Event.MessageID)
	if err != nil {
		return nil, err
	}
	payload := event.Deleted{ChatID: res.ChatID, MessageID: res.MessageID}
	if res.ForEveryone {
		return []event.Outbound{event.ToChat(res.ChatID, event.MessageDeletedEveryone, payload)}, nil
	}
	return []event.Outbound{event.ToParticipant(req.Participant, event.MessageDeletedLocally, payload)}, nil
}

// deleteMessages emits one room-wide event per affected chat and a single
// local event for the messages only hidden from the requester.
func (e *Engine) deleteMessages(ctx context.Context, req Request) ([]event.Outbound, error) {
	res, err := e.messages.DeleteMany(ctx, req.Participant, req.Event.MessageIDs)
	if err != nil {
		return nil, err
	}
	var out []event.Outbound
	chats := lo.Keys(res.Everyone)
	slices.Sort(chats)
	for _, chat := range chats {
		out = append(out, event.ToChat(chat, event.MessageDeletedEveryone, event.Deleted{
			ChatID:     chat,
			MessageIDs: res.Everyone[chat],
		}))
	}
	if len(res.Local) > 0 {
		out = append(out, event.ToParticipant(req.Participant, event.MessageDeletedLocally, event.Deleted{
			MessageIDs: res.Local,
		}))
	}
	return out, nil
}

func (e *Engine) typing(ctx context.Context, req Request) ([]event.Outbound, error) {
	chat := req.Event.ChatID
	if err := required("chatId", string(chat)); err != nil {
		return nil, err
	}
	if err := e.requireMember(ctx, chat, req.Participant); err != nil {
		return nil, err
	}
	return []event.Outbound{
		event.ToChat(chat, event.TypingStarted, event.TypingIndicator{ChatID: chat, ParticipantID: req.Participant}).
			Excluding(req.Conn),
	}, nil
}

func (e *Engine) ping(_ context.Context, req Request) ([]event.Outbound, error) {
	return []event.Outbound{event.Reply(req.Conn, event.Pong, nil)}, nil
}

func (e *Engine) whoAmI(_ context.Context, req Request) ([]event.Outbound, error) {
	active, _ := e.presence.ActiveChat(req.Participant)
	return []event.Outbound{event.Reply(req.Conn, event.WhoAmIState, event.Identity{
		ParticipantID: req.Participant,
		ConnectionID:  req.Conn,
		ActiveChatID:  active,
		Rooms:         e.hub.RoomsOf(req.Conn),
	})}, nil
}

func (e *Engine) requireMember(ctx context.Context, chat domain.ChatID, id domain.ParticipantID) error {
	ok, err := e.messages.IsMember(ctx, chat, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a member of chat %s", domain.ErrUnauthorized, id, chat)
	}
	return nil
}
