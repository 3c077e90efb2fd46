package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"chathub/internal/call"
	"chathub/internal/domain"
	"chathub/internal/event"
	"chathub/internal/hub"
	"chathub/internal/presence"
	"chathub/internal/service"
	"chathub/internal/store/memory"
)

type frame struct {
	Type event.Type     `json:"type"`
	Data map[string]any `json:"data"`
}

type fakeConn struct {
	id  domain.ConnectionID
	uid domain.ParticipantID

	mu     sync.Mutex
	frames []frame
}

func (c *fakeConn) ID() domain.ConnectionID          { return c.id }
func (c *fakeConn) Participant() domain.ParticipantID { return c.uid }
func (c *fakeConn) Close()                           {}

func (c *fakeConn) TrySend(raw []byte) error {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

// take returns and forgets everything received so far.
func (c *fakeConn) take() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

func (c *fakeConn) types() []event.Type {
	var out []event.Type
	for _, f := range c.take() {
		out = append(out, f.Type)
	}
	return out
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	engine *Engine
	clock  *clock.Mock
	seq    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	for _, id := range []domain.ParticipantID{"u1", "u2", "u3"} {
		store.AddUser(domain.User{ID: id, DisplayName: "User " + string(id), IsActive: true})
	}
	store.AddMember("c1", "u1", "u2")
	store.AddMember("g1", "u1", "u2", "u3")

	tracker := presence.NewTracker()
	notifier := service.NewNotificationService(store.Notifications(), tracker, nil)
	messages := service.NewMessageService(store.Messages(), store.Members(), notifier, nil)
	mock := clock.NewMock()

	e := New(Deps{
		Hub:           hub.New(),
		Presence:      tracker,
		Messages:      messages,
		Notifications: notifier,
		Users:         store.Users(),
	}, call.WithClock(mock), call.WithRingTimeout(30*time.Second))

	return &harness{t: t, ctx: context.Background(), store: store, engine: e, clock: mock}
}

// connect registers a new device and drains its handshake frames.
func (h *harness) connect(uid domain.ParticipantID) *fakeConn {
	h.seq++
	c := &fakeConn{id: domain.ConnectionID(fmt.Sprintf("conn-%d", h.seq)), uid: uid}
	h.engine.Connect(h.ctx, c)
	c.take()
	return c
}

func (h *harness) send(c *fakeConn, payload map[string]any) {
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	h.engine.Handle(h.ctx, c.id, c.uid, raw)
}

func (h *harness) join(c *fakeConn, chat domain.ChatID) {
	c.take()
	h.send(c, map[string]any{"type": "join-room", "roomId": string(domain.ChatRoom(chat))})
	require.Empty(h.t, c.take())
}

func drainAll(conns ...*fakeConn) {
	for _, c := range conns {
		c.take()
	}
}

func TestConnect_AckAndOnlineBroadcast(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	u2 := h.connect("u2")
	c := &fakeConn{id: "conn-x", uid: "u1"}
	h.engine.Connect(h.ctx, c)

	got := c.take()
	req.Len(got, 1)
	req.Equal(event.ConnectedAck, got[0].Type)
	req.Equal("u1", got[0].Data["participantId"])

	req.Equal([]event.Type{event.ParticipantOnline}, u2.types())
	u, err := h.store.Users().GetByID(h.ctx, "u1")
	req.NoError(err)
	req.True(u.IsOnline)

	// A second device is not announced again
	h.connect("u1")
	req.Empty(u2.take())
}

func TestNotificationForAbsentRecipient(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	drainAll(u1, u2)
	h.join(u1, "c1")
	h.join(u2, "c1")

	h.send(u1, map[string]any{"type": "send-message", "chatId": "c1", "content": "hi"})

	req.Equal([]event.Type{event.MessageReceived}, u1.types())
	got := u2.take()
	req.Len(got, 2)
	req.Equal(event.MessageReceived, got[0].Type)
	req.Equal("hi", got[0].Data["content"])
	req.Equal(event.NotificationReceived, got[1].Type)
	req.Equal("u1", got[1].Data["senderId"])
	req.Equal("u2", got[1].Data["receiverId"])
	req.Equal("c1", got[1].Data["chatId"])
}

func TestNoNotificationWhenBothViewing(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	drainAll(u1, u2)
	h.join(u1, "c1")
	h.join(u2, "c1")

	h.send(u1, map[string]any{"type": "set-presence", "chatId": "c1"})
	h.send(u2, map[string]any{"type": "set-presence", "chatId": "c1"})
	req.Equal([]event.Type{event.NotificationsCleared}, u1.types())
	req.Equal([]event.Type{event.NotificationsCleared}, u2.types())

	h.send(u1, map[string]any{"type": "send-message", "chatId": "c1", "content": "hi"})
	req.Equal([]event.Type{event.MessageReceived}, u1.types())
	req.Equal([]event.Type{event.MessageReceived}, u2.types())

	list, err := h.store.Notifications().ListForReceiver(h.ctx, "u2")
	req.NoError(err)
	req.Empty(list)
}

func TestSetPresenceClearsNotifications(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")

	h.send(u1, map[string]any{"type": "send-message", "chatId": "c1", "content": "one"})
	h.send(u1, map[string]any{"type": "send-message", "chatId": "c1", "content": "two"})
	drainAll(u1, u2)

	h.send(u2, map[string]any{"type": "set-presence", "chatId": "c1"})
	got := u2.take()
	req.Len(got, 1)
	req.Equal(event.NotificationsCleared, got[0].Type)
	req.EqualValues(2, got[0].Data["count"])

	h.send(u2, map[string]any{"type": "set-presence"})
	_, active := h.engine.presence.ActiveChat("u2")
	req.False(active)
}

func TestStatusUpdates(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	h.join(u1, "c1")
	h.join(u2, "c1")

	h.send(u1, map[string]any{"type": "send-message", "chatId": "c1", "content": "hi"})
	id := u1.take()[0].Data["id"].(string)
	drainAll(u2)

	h.send(u2, map[string]any{"type": "mark-delivered", "messageId": id})
	got := u1.take()
	req.Len(got, 1)
	req.Equal(event.MessageStatusUpdate, got[0].Type)
	req.Equal("delivered", got[0].Data["status"])
	drainAll(u2)

	// Repeated delivery is silent
	h.send(u2, map[string]any{"type": "mark-delivered", "messageId": id})
	req.Empty(u1.take())
	req.Empty(u2.take())

	h.send(u2, map[string]any{"type": "mark-seen", "messageId": id})
	got = u1.take()
	req.Len(got, 1)
	req.Equal("seen", got[0].Data["status"])
	req.Equal("u2", got[0].Data["readerId"])

	h.send(u2, map[string]any{"type": "mark-seen", "messageId": id})
	req.Empty(u1.take())
}

func TestSenderDeletesForEveryone(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2, u3 := h.connect("u1"), h.connect("u2"), h.connect("u3")
	for _, c := range []*fakeConn{u1, u2, u3} {
		h.join(c, "g1")
	}

	h.send(u1, map[string]any{"type": "send-message", "chatId": "g1", "content": "oops"})
	id := u1.take()[0].Data["id"].(string)
	drainAll(u2, u3)

	h.send(u1, map[string]any{"type": "delete-message", "messageId": id})
	for _, c := range []*fakeConn{u1, u2, u3} {
		got := c.take()
		req.Len(got, 1)
		req.Equal(event.MessageDeletedEveryone, got[0].Type)
		req.Equal(id, got[0].Data["messageId"])
	}

	list, err := h.engine.messages.List(h.ctx, "u2", "g1", 0)
	req.NoError(err)
	req.Empty(list)
}

func TestNonSenderDeletesLocally(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2, u3 := h.connect("u1"), h.connect("u2"), h.connect("u3")
	for _, c := range []*fakeConn{u1, u2, u3} {
		h.join(c, "g1")
	}

	h.send(u1, map[string]any{"type": "send-message", "chatId": "g1", "content": "stay"})
	id := u1.take()[0].Data["id"].(string)
	drainAll(u2, u3)

	h.send(u2, map[string]any{"type": "delete-message", "messageId": id})
	req.Equal([]event.Type{event.MessageDeletedLocally}, u2.types())
	req.Empty(u1.take())
	req.Empty(u3.take())

	for _, viewer := range []domain.ParticipantID{"u1", "u3"} {
		list, err := h.engine.messages.List(h.ctx, viewer, "g1", 0)
		req.NoError(err)
		req.Len(list, 1)
	}
}

func TestDeleteMessages_Partitioned(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	h.join(u1, "g1")
	h.join(u2, "g1")

	h.send(u1, map[string]any{"type": "send-message", "chatId": "g1", "content": "mine"})
	mine := u1.take()[0].Data["id"].(string)
	h.send(u2, map[string]any{"type": "send-message", "chatId": "g1", "content": "theirs"})
	theirs := u1.take()[0].Data["id"].(string)
	drainAll(u2)

	h.send(u1, map[string]any{"type": "delete-messages", "messageIds": []string{mine, theirs}})

	got := u1.take()
	req.Len(got, 2)
	req.Equal(event.MessageDeletedEveryone, got[0].Type)
	req.Equal([]any{mine}, got[0].Data["messageIds"])
	req.Equal(event.MessageDeletedLocally, got[1].Type)
	req.Equal([]any{theirs}, got[1].Data["messageIds"])

	req.Equal([]event.Type{event.MessageDeletedEveryone}, u2.types())
}

func TestErrorsGoOnlyToOriginator(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	drainAll(u1, u2)
	h.join(u2, "c1")

	cases := []struct {
		payload map[string]any
		code    string
	}{
		{map[string]any{"type": "send-message", "chatId": "c1"}, "invalid_request"},
		{map[string]any{"type": "send-message", "content": "x"}, "invalid_request"},
		{map[string]any{"type": "mark-seen", "messageId": "missing"}, "not_found"},
		{map[string]any{"type": "join-room", "roomId": "chat:c9"}, "unauthorized"},
		{map[string]any{"type": "join-room", "roomId": "user:u2"}, "unauthorized"},
		{map[string]any{"type": "teleport"}, "invalid_request"},
	}
	for _, tc := range cases {
		h.send(u1, tc.payload)
		got := u1.take()
		req.Len(got, 1, "%v", tc.payload)
		req.Equal(event.Error, got[0].Type)
		req.Equal(tc.code, got[0].Data["code"], "%v", tc.payload)
	}
	req.Empty(u2.take())

	h.engine.Handle(h.ctx, u1.id, u1.uid, []byte("{not json"))
	got := u1.take()
	req.Len(got, 1)
	req.Equal("invalid_request", got[0].Data["code"])
}

func TestTypingSkipsSenderConnection(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1a, u1b, u2 := h.connect("u1"), h.connect("u1"), h.connect("u2")
	drainAll(u1a, u1b, u2)
	for _, c := range []*fakeConn{u1a, u1b, u2} {
		h.join(c, "c1")
	}

	h.send(u1a, map[string]any{"type": "typing", "chatId": "c1"})
	req.Empty(u1a.take())
	req.Equal([]event.Type{event.TypingStarted}, u1b.types())
	req.Equal([]event.Type{event.TypingStarted}, u2.types())
}

func TestPingAndWhoAmI(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1 := h.connect("u1")
	h.join(u1, "c1")
	h.send(u1, map[string]any{"type": "set-presence", "chatId": "c1"})
	u1.take()

	h.send(u1, map[string]any{"type": "ping"})
	req.Equal([]event.Type{event.Pong}, u1.types())

	h.send(u1, map[string]any{"type": "whoami"})
	got := u1.take()
	req.Len(got, 1)
	req.Equal("u1", got[0].Data["participantId"])
	req.Equal("c1", got[0].Data["activeChatId"])
	req.ElementsMatch([]any{"chat:c1", "user:u1"}, got[0].Data["rooms"])
}

func TestCallTimesOut(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	drainAll(u1, u2)

	h.send(u1, map[string]any{"type": "call-initiate", "calleeId": "u2", "kind": "video", "offer": map[string]any{"sdp": "x"}})
	got := u2.take()
	req.Len(got, 1)
	req.Equal(event.IncomingCall, got[0].Type)
	req.Equal("User u1", got[0].Data["callerName"])
	req.Equal(map[string]any{"sdp": "x"}, got[0].Data["offer"])

	h.clock.Add(30 * time.Second)

	var callerFrames []frame
	req.Eventually(func() bool {
		callerFrames = append(callerFrames, u1.take()...)
		return len(callerFrames) > 0
	}, time.Second, 5*time.Millisecond)
	req.Equal(event.CallRejected, callerFrames[0].Type)
	req.Equal("no answer", callerFrames[0].Data["reason"])
	req.Eventually(func() bool { return len(u2.take()) == 1 }, time.Second, 5*time.Millisecond)

	s, ok := h.engine.Calls().Session("u1", "u2", domain.CallVideo)
	req.True(ok)
	req.Equal(call.Ended, s.State)
}

func TestAcceptBeatsTimer(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	drainAll(u1, u2)

	h.send(u1, map[string]any{"type": "call-initiate", "calleeId": "u2", "kind": "audio"})
	u2.take()

	h.clock.Add(30*time.Second - time.Millisecond)
	h.send(u2, map[string]any{"type": "call-accept", "callerId": "u1"})
	req.Equal([]event.Type{event.CallAccepted}, u1.types())

	h.clock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	req.Empty(u1.take())
	req.Empty(u2.take())

	s, _ := h.engine.Calls().Session("u1", "u2", domain.CallAudio)
	req.Equal(call.Connected, s.State)

	// Signaling flows both ways once connected
	h.send(u2, map[string]any{"type": "call-answer", "callerId": "u1", "answer": map[string]any{"sdp": "y"}})
	req.Equal([]event.Type{event.CallAnswered}, u1.types())
	h.send(u1, map[string]any{"type": "call-ice", "toId": "u2", "candidate": map[string]any{"c": 1}})
	req.Equal([]event.Type{event.CallIceCandidate}, u2.types())

	h.send(u1, map[string]any{"type": "call-end", "otherId": "u2"})
	req.Equal([]event.Type{event.CallEnded}, u2.types())
}

func TestCallToOfflineParticipant(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1 := h.connect("u1")

	h.send(u1, map[string]any{"type": "call-initiate", "calleeId": "u3", "kind": "audio"})
	got := u1.take()
	req.Len(got, 1)
	req.Equal(event.CallRejected, got[0].Type)
	req.Equal("user unavailable", got[0].Data["reason"])

	h.send(u1, map[string]any{"type": "call-initiate", "calleeId": "u3", "kind": "audio"})
	req.Equal([]event.Type{event.CallRejected}, u1.types())
}

func TestDuplicateCallIsRejectedToCaller(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	drainAll(u1, u2)

	h.send(u1, map[string]any{"type": "call-initiate", "calleeId": "u2", "kind": "audio"})
	h.send(u1, map[string]any{"type": "call-initiate", "calleeId": "u2", "kind": "audio"})
	got := u1.take()
	req.Len(got, 1)
	req.Equal("already_in_progress", got[0].Data["code"])
	req.Len(u2.take(), 1)
}

func TestScreenshareFlow(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1, u2 := h.connect("u1"), h.connect("u2")
	drainAll(u1, u2)

	h.send(u1, map[string]any{"type": "screenshare-request", "targetId": "u2"})
	req.Equal([]event.Type{event.ScreenshareRequested}, u2.types())
	h.send(u2, map[string]any{"type": "screenshare-deny", "requesterId": "u1"})
	req.Equal([]event.Type{event.ScreenshareDenied}, u1.types())

	h.send(u1, map[string]any{"type": "screenshare-request", "targetId": "u2"})
	u2.take()
	h.send(u2, map[string]any{"type": "call-accept", "callerId": "u1", "kind": "screenshare"})
	req.Equal([]event.Type{event.CallAccepted}, u1.types())
	h.send(u1, map[string]any{"type": "screenshare-forcestop", "otherId": "u2"})
	req.Equal([]event.Type{event.ScreenshareForceStopped}, u2.types())
}

func TestDisconnect_LastDeviceEndsCallsAndGoesOffline(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	u1a, u1b, u2 := h.connect("u1"), h.connect("u1"), h.connect("u2")
	drainAll(u1a, u1b, u2)
	h.join(u1a, "c1")
	h.send(u1a, map[string]any{"type": "set-presence", "chatId": "c1"})
	u1a.take()

	h.send(u1a, map[string]any{"type": "call-initiate", "calleeId": "u2", "kind": "audio"})
	u2.take()

	// Closing one of two devices changes nothing visible
	h.engine.Disconnect(h.ctx, u1a.id)
	h.engine.Disconnect(h.ctx, u1a.id)
	req.Empty(u2.take())
	req.True(h.engine.presence.IsViewing("u1", "c1"))

	h.engine.Disconnect(h.ctx, u1b.id)
	got := u2.take()
	req.Len(got, 2)
	req.Equal(event.CallEnded, got[0].Type)
	req.Equal("disconnected", got[0].Data["reason"])
	req.Equal(event.ParticipantOffline, got[1].Type)

	_, active := h.engine.presence.ActiveChat("u1")
	req.False(active)
	u, err := h.store.Users().GetByID(h.ctx, "u1")
	req.NoError(err)
	req.False(u.IsOnline)
}

// gatedUsers holds SetOnlineStatus(false) open until released.
type gatedUsers struct {
	domain.UserRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedUsers) SetOnlineStatus(ctx context.Context, id domain.ParticipantID, online bool) error {
	if !online {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.UserRepository.SetOnlineStatus(ctx, id, online)
}

func TestReconnectDuringOfflineIsAnnouncedLast(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	gate := &gatedUsers{UserRepository: h.store.Users(), entered: make(chan struct{}), release: make(chan struct{})}
	h.engine = New(Deps{
		Hub:           h.engine.hub,
		Presence:      h.engine.presence,
		Messages:      h.engine.messages,
		Notifications: h.engine.notifications,
		Users:         gate,
	}, call.WithClock(h.clock))

	watcher := h.connect("u2")
	u1a := h.connect("u1")
	drainAll(watcher)

	// Given the last device is going offline and stuck persisting it
	disconnected := make(chan struct{})
	go func() {
		h.engine.Disconnect(h.ctx, u1a.id)
		close(disconnected)
	}()
	<-gate.entered

	// When a new device connects meanwhile
	connected := make(chan struct{})
	u1b := &fakeConn{id: "conn-new", uid: "u1"}
	go func() {
		h.engine.Connect(h.ctx, u1b)
		close(connected)
	}()
	req.Never(func() bool {
		select {
		case <-connected:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(gate.release)
	<-disconnected
	<-connected

	// Then the participant ends up online everywhere
	req.Equal([]event.Type{event.ParticipantOffline, event.ParticipantOnline}, watcher.types())
	req.True(h.engine.hub.IsOnline("u1"))
	u, err := h.store.Users().GetByID(h.ctx, "u1")
	req.NoError(err)
	req.True(u.IsOnline)
}

func TestOfflineSkippedWhenAlreadyReconnected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	watcher := h.connect("u2")
	u1a := h.connect("u1")
	drainAll(watcher)

	// Given the last connection left the registry
	uid, last, ok := h.engine.hub.LeaveAll(u1a.id)
	req.True(ok)
	req.True(last)

	// And a new device registered before the offline half ran
	h.connect("u1")
	h.engine.presence.Set("u1", "c1")
	req.Equal([]event.Type{event.ParticipantOnline}, watcher.types())

	// When the offline half runs, it leaves the new device alone
	h.engine.wentOffline(h.ctx, uid)
	req.Empty(watcher.take())
	req.True(h.engine.presence.IsViewing("u1", "c1"))
	u, err := h.store.Users().GetByID(h.ctx, "u1")
	req.NoError(err)
	req.True(u.IsOnline)
}
