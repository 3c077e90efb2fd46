// Package event holds the wire vocabulary between participants and the relay:
// inbound kinds decoded from client frames, outbound kinds and their payloads,
// and the Outbound routing record handlers return.
package event

import (
	"encoding/json"
	"fmt"

	"chathub/internal/domain"
)

// Kind is an inbound event type.
type Kind string

const (
	JoinRoom             Kind = "join-room"
	SetPresence          Kind = "set-presence"
	SendMessage          Kind = "send-message"
	MarkDelivered        Kind = "mark-delivered"
	MarkSeen             Kind = "mark-seen"
	DeleteMessage        Kind = "delete-message"
	DeleteMessages       Kind = "delete-messages"
	CallInitiate         Kind = "call-initiate"
	CallAccept           Kind = "call-accept"
	CallReject           Kind = "call-reject"
	CallAnswer           Kind = "call-answer"
	CallIce              Kind = "call-ice"
	CallEnd              Kind = "call-end"
	CallTimeoutAck       Kind = "call-timeout-ack"
	ScreenshareRequest   Kind = "screenshare-request"
	ScreenshareDeny      Kind = "screenshare-deny"
	ScreenshareForceStop Kind = "screenshare-forcestop"
	Typing               Kind = "typing"
	Ping                 Kind = "ping"
	WhoAmI               Kind = "whoami"
)

// Inbound is one decoded client frame. Only the fields of its Type are set.
// Signaling payloads stay raw and are never inspected.
type Inbound struct {
	Type Kind `json:"type"`

	RoomID     domain.RoomID      `json:"roomId,omitempty"`
	ChatID     domain.ChatID      `json:"chatId,omitempty"`
	Content    string             `json:"content,omitempty"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
	MessageID  domain.MessageID   `json:"messageId,omitempty"`
	MessageIDs []domain.MessageID `json:"messageIds,omitempty"`

	CalleeID    domain.ParticipantID `json:"calleeId,omitempty"`
	CallerID    domain.ParticipantID `json:"callerId,omitempty"`
	TargetID    domain.ParticipantID `json:"targetId,omitempty"`
	RequesterID domain.ParticipantID `json:"requesterId,omitempty"`
	OtherID     domain.ParticipantID `json:"otherId,omitempty"`
	ToID        domain.ParticipantID `json:"toId,omitempty"`
	CallKind    domain.CallKind      `json:"kind,omitempty"`
	Offer       json.RawMessage      `json:"offer,omitempty"`
	Answer      json.RawMessage      `json:"answer,omitempty"`
	Candidate   json.RawMessage      `json:"candidate,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// Decode parses a client frame.
func Decode(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: bad json: %v", domain.ErrInvalidRequest, err)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrInvalidRequest)
	}
	return &in, nil
}
