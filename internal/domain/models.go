package domain

import (
	"slices"
	"strings"
	"time"
)

type (
	ParticipantID  string
	ChatID         string
	MessageID      string
	NotificationID string
	ConnectionID   string
	RoomID         string
)

const (
	personalRoomPrefix = "user:"
	chatRoomPrefix     = "chat:"
)

// PersonalRoom is the room every connection of a participant is joined to.
func PersonalRoom(id ParticipantID) RoomID {
	return RoomID(personalRoomPrefix + string(id))
}

// ChatRoom is the broadcast room of a conversation.
func ChatRoom(id ChatID) RoomID {
	return RoomID(chatRoomPrefix + string(id))
}

// ChatOf returns the chat id a room broadcasts to, if it is a chat room.
func (r RoomID) ChatOf() (ChatID, bool) {
	id, ok := strings.CutPrefix(string(r), chatRoomPrefix)
	if !ok || id == "" {
		return "", false
	}
	return ChatID(id), true
}

// IsPersonal reports whether r is a personal room.
func (r RoomID) IsPersonal() bool {
	id, ok := strings.CutPrefix(string(r), personalRoomPrefix)
	return ok && id != ""
}

// User is the slice of the external user store the relay reads and writes.
type User struct {
	ID          ParticipantID `db:"id" json:"id"`
	DisplayName string        `db:"display_name" json:"display_name"`
	IsActive    bool          `db:"is_active" json:"is_active"`
	IsOnline    bool          `db:"is_online" json:"is_online"`
	LastSeen    time.Time     `db:"last_seen" json:"last_seen"`
}

// MessageStatus only ever moves forward: sent -> delivered -> seen.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool { return s.rank() > 0 }

// Before reports whether s precedes other in the status order.
func (s MessageStatus) Before(other MessageStatus) bool {
	return s.rank() < other.rank()
}

// Attachment references media stored elsewhere.
type Attachment struct {
	Path string `json:"path"`
	Type string `json:"type,omitempty"`
}

// Message represents a single chat message.
type Message struct {
	ID         MessageID       `db:"id" json:"id"`
	ChatID     ChatID          `db:"chat_id" json:"chatId"`
	SenderID   ParticipantID   `db:"sender_id" json:"senderId"`
	Content    string          `db:"content" json:"content,omitempty"` // encrypted at rest
	Attachment *Attachment     `json:"attachment,omitempty"`
	Status     MessageStatus   `db:"status" json:"status"`
	ReadBy     []ParticipantID `json:"readBy"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
}

// HasReader reports whether id already marked the message read.
func (m *Message) HasReader(id ParticipantID) bool {
	return slices.Contains(m.ReadBy, id)
}

// Clone returns a deep copy so callers can hand messages across goroutines.
func (m *Message) Clone() *Message {
	c := *m
	c.ReadBy = slices.Clone(m.ReadBy)
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return &c
}

// Notification is created only when the presence rule allows it.
type Notification struct {
	ID         NotificationID `db:"id" json:"id"`
	SenderID   ParticipantID  `db:"sender_id" json:"senderId"`
	ReceiverID ParticipantID  `db:"receiver_id" json:"receiverId"`
	ChatID     ChatID         `db:"chat_id" json:"chatId"`
	MessageID  MessageID      `db:"message_id" json:"messageId"`
	Content    string         `db:"content" json:"content"`
	Read       bool           `db:"is_read" json:"read"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}
