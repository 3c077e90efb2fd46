package event

import (
	"encoding/json"

	"chathub/internal/domain"
)

// Type is an outbound event type.
type Type string

const (
	ConnectedAck            Type = "connected-ack"
	MessageReceived         Type = "message-received"
	MessageStatusUpdate     Type = "message-status-update"
	MessageDeletedEveryone  Type = "message-deleted-everyone"
	MessageDeletedLocally   Type = "message-deleted-locally"
	NotificationReceived    Type = "notification-received"
	NotificationsCleared    Type = "notifications-cleared"
	IncomingCall            Type = "incoming-call"
	CallAnswered            Type = "call-answer"
	CallIceCandidate        Type = "call-ice"
	CallAccepted            Type = "call-accepted"
	CallRejected            Type = "call-rejected"
	CallEnded               Type = "call-ended"
	ScreenshareRequested    Type = "screenshare-requested"
	ScreenshareDenied       Type = "screenshare-denied"
	ScreenshareForceStopped Type = "screenshare-forcestopped"
	TypingStarted           Type = "typing"
	ParticipantOnline       Type = "participant-online"
	ParticipantOffline      Type = "participant-offline"
	Pong                    Type = "pong"
	WhoAmIState             Type = "whoami"
	Error                   Type = "error"
)

// Outbound is one event plus where it goes. Conn wins over Room; All
// reaches every live connection.
type Outbound struct {
	Type    Type
	Data    any
	Room    domain.RoomID
	Conn    domain.ConnectionID
	All     bool
	Exclude domain.ConnectionID
}

func ToRoom(room domain.RoomID, t Type, data any) Outbound {
	return Outbound{Type: t, Data: data, Room: room}
}

func ToParticipant(id domain.ParticipantID, t Type, data any) Outbound {
	return ToRoom(domain.PersonalRoom(id), t, data)
}

func ToChat(id domain.ChatID, t Type, data any) Outbound {
	return ToRoom(domain.ChatRoom(id), t, data)
}

func Reply(conn domain.ConnectionID, t Type, data any) Outbound {
	return Outbound{Type: t, Data: data, Conn: conn}
}

func ToAll(t Type, data any) Outbound {
	return Outbound{Type: t, Data: data, All: true}
}

// Excluding returns a copy that skips the given sender connection.
func (o Outbound) Excluding(conn domain.ConnectionID) Outbound {
	o.Exclude = conn
	return o
}

type frame struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Encode renders the wire frame.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(frame{Type: o.Type, Data: o.Data})
}

type Connected struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	ConnectionID  domain.ConnectionID  `json:"connectionId"`
}

type StatusUpdate struct {
	MessageID domain.MessageID     `json:"messageId"`
	ChatID    domain.ChatID        `json:"chatId"`
	Status    domain.MessageStatus `json:"status"`
	ReaderID  domain.ParticipantID `json:"readerId,omitempty"`
}

type Deleted struct {
	ChatID     domain.ChatID      `json:"chatId,omitempty"`
	MessageID  domain.MessageID   `json:"messageId,omitempty"`
	MessageIDs []domain.MessageID `json:"messageIds,omitempty"`
}

type Cleared struct {
	ChatID domain.ChatID `json:"chatId"`
	Count  int           `json:"count"`
}

type Incoming struct {
	SessionID  string               `json:"sessionId"`
	CallerID   domain.ParticipantID `json:"callerId"`
	CallerName string               `json:"callerName"`
	Kind       domain.CallKind      `json:"kind"`
	Offer      json.RawMessage      `json:"offer,omitempty"`
}

// Signal carries an opaque answer or candidate from FromID.
type Signal struct {
	SessionID string               `json:"sessionId"`
	FromID    domain.ParticipantID `json:"fromId"`
	Kind      domain.CallKind      `json:"kind"`
	Answer    json.RawMessage      `json:"answer,omitempty"`
	Candidate json.RawMessage      `json:"candidate,omitempty"`
}

// CallStatus reports a lifecycle change of the session shared with PeerID.
type CallStatus struct {
	SessionID string               `json:"sessionId"`
	PeerID    domain.ParticipantID `json:"peerId"`
	Kind      domain.CallKind      `json:"kind"`
	Reason    string               `json:"reason,omitempty"`
}

type ShareRequest struct {
	SessionID     string               `json:"sessionId"`
	RequesterID   domain.ParticipantID `json:"requesterId"`
	RequesterName string               `json:"requesterName"`
	Offer         json.RawMessage      `json:"offer,omitempty"`
}

type TypingIndicator struct {
	ChatID        domain.ChatID        `json:"chatId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type Presence struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type Identity struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	ConnectionID  domain.ConnectionID  `json:"connectionId"`
	ActiveChatID  domain.ChatID        `json:"activeChatId,omitempty"`
	Rooms         []domain.RoomID      `json:"rooms"`
}

type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request Kind   `json:"request,omitempty"`
}
