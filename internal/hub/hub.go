// Package hub is the connection registry: it maps participants to their live
// connections and connections to the rooms they joined, and fans frames out.
package hub

import (
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"chathub/internal/domain"
)

var ErrUnknownConnection = errors.New("unknown connection")

type member struct {
	conn  domain.Connection
	rooms map[domain.RoomID]struct{}
}

// Hub manages active connections keyed by participant and room membership
// keyed by room id. All maps are guarded by a single RWMutex.
type Hub struct {
	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*member
	byUser map[domain.ParticipantID]map[domain.ConnectionID]struct{}
	rooms  map[domain.RoomID]map[domain.ConnectionID]struct{}
}

func New() *Hub {
	return &Hub{
		conns:  make(map[domain.ConnectionID]*member),
		byUser: make(map[domain.ParticipantID]map[domain.ConnectionID]struct{}),
		rooms:  make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
	}
}

// Register adds a connection and joins it to the participant's personal room.
// It reports whether this is the participant's first live connection.
func (h *Hub) Register(conn domain.Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, uid := conn.ID(), conn.Participant()
	if _, ok := h.conns[id]; ok {
		return false
	}
	h.conns[id] = &member{conn: conn, rooms: make(map[domain.RoomID]struct{})}

	first := len(h.byUser[uid]) == 0
	if h.byUser[uid] == nil {
		h.byUser[uid] = make(map[domain.ConnectionID]struct{})
	}
	h.byUser[uid][id] = struct{}{}
	h.joinLocked(id, domain.PersonalRoom(uid))

	log.Info().Str("module", "hub").Str("conn", string(id)).Str("participant", string(uid)).Bool("first", first).Msg("registered")
	return first
}

// JoinRoom adds a registered connection to a room. Joining twice is a no-op.
func (h *Hub) JoinRoom(id domain.ConnectionID, room domain.RoomID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; !ok {
		return ErrUnknownConnection
	}
	h.joinLocked(id, room)
	return nil
}

func (h *Hub) joinLocked(id domain.ConnectionID, room domain.RoomID) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[domain.ConnectionID]struct{})
	}
	h.rooms[room][id] = struct{}{}
	h.conns[id].rooms[room] = struct{}{}
}

// LeaveAll removes the connection from every room and forgets it.
// ok is false when the connection was already gone, which makes repeated
// calls harmless; last reports whether the participant has no connection left.
func (h *Hub) LeaveAll(id domain.ConnectionID) (participant domain.ParticipantID, last bool, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, found := h.conns[id]
	if !found {
		return "", false, false
	}
	for room := range m.rooms {
		if set, exists := h.rooms[room]; exists {
			delete(set, id)
			if len(set) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.conns, id)

	uid := m.conn.Participant()
	if set, exists := h.byUser[uid]; exists {
		delete(set, id)
		if len(set) == 0 {
			delete(h.byUser, uid)
			last = true
		}
	}
	log.Info().Str("module", "hub").Str("conn", string(id)).Str("participant", string(uid)).Bool("last", last).Msg("left all rooms")
	return uid, last, true
}

// Broadcast sends the frame to every connection joined to room except
// exclude and returns how many connections accepted it.
func (h *Hub) Broadcast(room domain.RoomID, frame []byte, exclude domain.ConnectionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for id := range h.rooms[room] {
		if id == exclude {
			continue
		}
		if h.trySendLocked(id, frame) {
			sent++
		}
	}
	log.Debug().Str("module", "hub").Str("room", string(room)).Int("sent_to", sent).Msg("broadcast")
	return sent
}

// SendToParticipant reaches every device of the participant.
func (h *Hub) SendToParticipant(id domain.ParticipantID, frame []byte) int {
	return h.Broadcast(domain.PersonalRoom(id), frame, "")
}

// SendToConnection targets a single connection.
func (h *Hub) SendToConnection(id domain.ConnectionID, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.trySendLocked(id, frame)
}

// BroadcastAll sends the frame to every live connection except exclude.
func (h *Hub) BroadcastAll(frame []byte, exclude domain.ConnectionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for id := range h.conns {
		if id == exclude {
			continue
		}
		if h.trySendLocked(id, frame) {
			sent++
		}
	}
	return sent
}

func (h *Hub) trySendLocked(id domain.ConnectionID, frame []byte) bool {
	m, ok := h.conns[id]
	if !ok {
		return false
	}
	if err := m.conn.TrySend(frame); err != nil {
		// slow or closing consumers lose the frame; their read loop tears them down
		log.Warn().Err(err).Str("module", "hub").Str("conn", string(id)).Msg("frame dropped")
		return false
	}
	return true
}

// IsOnline reports whether the participant has at least one live connection.
func (h *Hub) IsOnline(id domain.ParticipantID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[id]) > 0
}

// ConnectionCount returns the number of live connections of the participant.
func (h *Hub) ConnectionCount(id domain.ParticipantID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[id])
}

// Online lists participants with at least one live connection.
func (h *Hub) Online() []domain.ParticipantID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(h.byUser))
	for id := range h.byUser {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// RoomsOf lists the rooms a connection joined, sorted.
func (h *Hub) RoomsOf(id domain.ConnectionID) []domain.RoomID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.conns[id]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(m.rooms))
	for room := range m.rooms {
		out = append(out, room)
	}
	slices.Sort(out)
	return out
}

// InRoom reports whether the connection joined room.
func (h *Hub) InRoom(id domain.ConnectionID, room domain.RoomID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.conns[id]
	if !ok {
		return false
	}
	_, in := m.rooms[room]
	return in
}
