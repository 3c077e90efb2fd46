// Package engine routes inbound participant events to the registry, presence,
// message and call components through a dispatch table, and delivers the
// outbound events the handlers return.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"chathub/internal/call"
	"chathub/internal/domain"
	"chathub/internal/event"
	"chathub/internal/hub"
	"chathub/internal/keylock"
	"chathub/internal/presence"
	"chathub/internal/service"
)

// Request is one decoded event together with who sent it and over which
// connection. Identity was resolved by the transport before it got here.
type Request struct {
	Conn        domain.ConnectionID
	Participant domain.ParticipantID
	Event       *event.Inbound
}

type handlerFunc func(ctx context.Context, req Request) ([]event.Outbound, error)

type Deps struct {
	Hub           *hub.Hub
	Presence      *presence.Tracker
	Messages      *service.MessageService
	Notifications *service.NotificationService
	Users         domain.UserRepository
}

type Engine struct {
	hub           *hub.Hub
	presence      *presence.Tracker
	messages      *service.MessageService
	notifications *service.NotificationService
	users         domain.UserRepository
	calls         *call.Manager
	lifecycle     *keylock.Map

	handlers map[event.Kind]handlerFunc
}

func New(d Deps, callOpts ...call.Option) *Engine {
	e := &Engine{
		hub:           d.Hub,
		presence:      d.Presence,
		messages:      d.Messages,
		notifications: d.Notifications,
		users:         d.Users,
		lifecycle:     keylock.New(),
	}
	opts := append([]call.Option{call.WithUsers(d.Users)}, callOpts...)
	e.calls = call.NewManager(e, d.Hub, opts...)

	e.handlers = map[event.Kind]handlerFunc{
		event.JoinRoom:             e.joinRoom,
		event.SetPresence:          e.setPresence,
		event.SendMessage:          e.sendMessage,
		event.MarkDelivered:        e.markDelivered,
		event.MarkSeen:             e.markSeen,
		event.DeleteMessage:        e.deleteMessage,
		event.DeleteMessages:       e.deleteMessages,
		event.CallInitiate:         e.callInitiate,
		event.CallAccept:           e.callAccept,
		event.CallReject:           e.callReject,
		event.CallAnswer:           e.callAnswer,
		event.CallIce:              e.callIce,
		event.CallEnd:              e.callEnd,
		event.CallTimeoutAck:       e.callTimeoutAck,
		event.ScreenshareRequest:   e.screenshareRequest,
		event.ScreenshareDeny:      e.screenshareDeny,
		event.ScreenshareForceStop: e.screenshareForceStop,
		event.Typing:               e.typing,
		event.Ping:                 e.ping,
		event.WhoAmI:               e.whoAmI,
	}
	return e
}

// Calls exposes the call manager, mainly for inspection in tests.
func (e *Engine) Calls() *call.Manager { return e.calls }

// Connect registers a connection, acknowledges it and announces the
// participant when this is its first device. Connect and the offline half
// of Disconnect are serialized per participant.
func (e *Engine) Connect(ctx context.Context, conn domain.Connection) {
	id, uid := conn.ID(), conn.Participant()
	unlock := e.lifecycle.Lock(string(uid))
	defer unlock()

	first := e.hub.Register(conn)
	out := []event.Outbound{
		event.Reply(id, event.ConnectedAck, event.Connected{ParticipantID: uid, ConnectionID: id}),
	}
	if first {
		e.setOnline(ctx, uid, true)
		out = append(out, event.ToAll(event.ParticipantOnline, event.Presence{ParticipantID: uid}).Excluding(id))
	}
	e.deliver(out)
}

// Disconnect tears a connection down. Only the first call for a connection
// has an effect. When the participant's last connection goes, presence is
// cleared, its calls end and everyone is told it went offline.
func (e *Engine) Disconnect(ctx context.Context, id domain.ConnectionID) {
	uid, last, ok := e.hub.LeaveAll(id)
	if !ok || !last {
		return
	}
	e.wentOffline(ctx, uid)
}

// wentOffline runs the offline side effects unless a new device of the
// participant connected after its last connection left.
func (e *Engine) wentOffline(ctx context.Context, uid domain.ParticipantID) {
	unlock := e.lifecycle.Lock(string(uid))
	defer unlock()

	if e.hub.IsOnline(uid) {
		log.Debug().Str("module", "engine").Str("participant", string(uid)).Msg("reconnected before offline, skipped")
		return
	}
	e.presence.Clear(uid)
	out := e.calls.EndAllFor(uid, call.ReasonDisconnected)
	e.setOnline(ctx, uid, false)
	out = append(out, event.ToAll(event.ParticipantOffline, event.Presence{ParticipantID: uid}))
	e.deliver(out)
}

// Handle decodes and dispatches one frame. Failures are answered on the
// originating connection only.
func (e *Engine) Handle(ctx context.Context, conn domain.ConnectionID, participant domain.ParticipantID, raw []byte) {
	in, err := event.Decode(raw)
	if err != nil {
		e.fail(conn, "", err)
		return
	}
	e.Dispatch(ctx, Request{Conn: conn, Participant: participant, Event: in})
}

// Dispatch runs the handler registered for the event kind.
func (e *Engine) Dispatch(ctx context.Context, req Request) {
	kind := req.Event.Type
	h, ok := e.handlers[kind]
	if !ok {
		e.fail(req.Conn, kind, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidRequest, kind))
		return
	}
	out, err := h(ctx, req)
	if err != nil {
		e.fail(req.Conn, kind, err)
		return
	}
	log.Debug().Str("module", "engine").Str("conn", string(req.Conn)).Str("participant", string(req.Participant)).
		Str("event", string(kind)).Int("outbound", len(out)).Msg("handled")
	e.deliver(out)
}

// Publish delivers events raised outside a request, such as ringing timeouts.
func (e *Engine) Publish(out ...event.Outbound) {
	e.deliver(out)
}

func (e *Engine) deliver(out []event.Outbound) {
	for _, o := range out {
		frame, err := o.Encode()
		if err != nil {
			log.Error().Err(err).Str("module", "engine").Str("event", string(o.Type)).Msg("encode outbound")
			continue
		}
		switch {
		case o.Conn != "":
			if !e.hub.SendToConnection(o.Conn, frame) {
				log.Warn().Str("module", "engine").Str("conn", string(o.Conn)).Str("event", string(o.Type)).Msg("reply not delivered")
			}
		case o.All:
			e.hub.BroadcastAll(frame, o.Exclude)
		default:
			if n := e.hub.Broadcast(o.Room, frame, o.Exclude); n == 0 && o.Room.IsPersonal() {
				log.Warn().Str("module", "engine").Str("room", string(o.Room)).Str("event", string(o.Type)).Msg("target not connected")
			}
		}
	}
}

func (e *Engine) fail(conn domain.ConnectionID, kind event.Kind, err error) {
	code := domain.Code(err)
	l := log.Warn()
	if code == "internal" || errors.Is(err, domain.ErrPersistence) {
		l = log.Error()
	}
	l.Err(err).Str("module", "engine").Str("conn", string(conn)).Str("event", string(kind)).Str("code", code).Msg("request failed")

	e.deliver([]event.Outbound{event.Reply(conn, event.Error, event.Failure{
		Code:    code,
		Message: err.Error(),
		Request: kind,
	})})
}

func (e *Engine) setOnline(ctx context.Context, id domain.ParticipantID, online bool) {
	if e.users == nil {
		return
	}
	if err := e.users.SetOnlineStatus(ctx, id, online); err != nil {
		log.Warn().Err(err).Str("module", "engine").Str("participant", string(id)).Bool("online", online).Msg("persist online flag")
	}
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidRequest, name)
	}
	return nil
}
