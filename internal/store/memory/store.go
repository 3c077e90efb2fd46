// Package memory is a process-local store for development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"chathub/internal/domain"
)

// Store holds every table in maps behind one RWMutex. Values are cloned on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu            sync.RWMutex
	users         map[domain.ParticipantID]*domain.User
	members       map[domain.ChatID][]domain.ParticipantID
	messages      map[domain.MessageID]*domain.Message
	hidden        map[domain.ParticipantID]map[domain.MessageID]struct{}
	notifications map[domain.NotificationID]*domain.Notification

	// seq orders rows saved within the same clock tick.
	seq   uint64
	order map[string]uint64
}

func New() *Store {
	return &Store{
		users:         make(map[domain.ParticipantID]*domain.User),
		members:       make(map[domain.ChatID][]domain.ParticipantID),
		messages:      make(map[domain.MessageID]*domain.Message),
		hidden:        make(map[domain.ParticipantID]map[domain.MessageID]struct{}),
		notifications: make(map[domain.NotificationID]*domain.Notification),
		order:         make(map[string]uint64),
	}
}

// AddUser seeds the external user table.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// AddMember seeds chat membership.
func (s *Store) AddMember(chat domain.ChatID, ids ...domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if !slices.Contains(s.members[chat], id) {
			s.members[chat] = append(s.members[chat], id)
		}
	}
}

func (s *Store) Users() *UserRepo                 { return &UserRepo{s} }
func (s *Store) Members() *MemberRepo             { return &MemberRepo{s} }
func (s *Store) Messages() *MessageRepo           { return &MessageRepo{s} }
func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{s} }

type UserRepo struct{ s *Store }

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) GetByID(_ context.Context, id domain.ParticipantID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepo) SetOnlineStatus(_ context.Context, id domain.ParticipantID, isOnline bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.IsOnline = isOnline
	u.LastSeen = time.Now().UTC()
	return nil
}

type MemberRepo struct{ s *Store }

var _ domain.MemberRepository = (*MemberRepo)(nil)

func (r *MemberRepo) ListMembers(_ context.Context, chat domain.ChatID) ([]domain.ParticipantID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return slices.Clone(r.s.members[chat]), nil
}

func (r *MemberRepo) IsMember(_ context.Context, chat domain.ChatID, id domain.ParticipantID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return slices.Contains(r.s.members[chat], id), nil
}

type MessageRepo struct{ s *Store }

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Save(_ context.Context, m *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.messages[m.ID] = m.Clone()
	r.s.stamp("m:" + string(m.ID))
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (r *MessageRepo) UpdateStatus(_ context.Context, id domain.MessageID, status domain.MessageStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	return nil
}

func (r *MessageRepo) AddReader(_ context.Context, id domain.MessageID, reader domain.ParticipantID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !m.HasReader(reader) {
		m.ReadBy = append(m.ReadBy, reader)
	}
	return nil
}

func (r *MessageRepo) Delete(_ context.Context, id domain.MessageID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.messages, id)
	delete(r.s.order, "m:"+string(id))
	return nil
}

func (r *MessageRepo) DeleteMany(_ context.Context, ids []domain.MessageID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		delete(r.s.messages, id)
		delete(r.s.order, "m:"+string(id))
	}
	return nil
}

func (r *MessageRepo) HideForUser(_ context.Context, user domain.ParticipantID, ids []domain.MessageID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.hidden[user] == nil {
		r.s.hidden[user] = make(map[domain.MessageID]struct{})
	}
	for _, id := range ids {
		r.s.hidden[user][id] = struct{}{}
	}
	return nil
}

// ListForChat returns the newest limit messages visible to viewer, oldest first.
func (r *MessageRepo) ListForChat(_ context.Context, chat domain.ChatID, viewer domain.ParticipantID, limit int) ([]*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*domain.Message
	for id, m := range r.s.messages {
		if m.ChatID != chat {
			continue
		}
		if _, hidden := r.s.hidden[viewer][id]; hidden {
			continue
		}
		res = append(res, m.Clone())
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return r.s.order["m:"+string(a.ID)] < r.s.order["m:"+string(b.ID)]
	})
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

type NotificationRepo struct{ s *Store }

var _ domain.NotificationRepository = (*NotificationRepo)(nil)

func (r *NotificationRepo) Save(_ context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *n
	r.s.notifications[n.ID] = &c
	r.s.stamp("n:" + string(n.ID))
	return nil
}

func (r *NotificationRepo) Delete(_ context.Context, id domain.NotificationID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.notifications[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.notifications, id)
	delete(r.s.order, "n:"+string(id))
	return nil
}

func (r *NotificationRepo) DeleteOwned(_ context.Context, id domain.NotificationID, receiver domain.ParticipantID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok || n.ReceiverID != receiver {
		return domain.ErrNotFound
	}
	delete(r.s.notifications, id)
	delete(r.s.order, "n:"+string(id))
	return nil
}

func (r *NotificationRepo) DeleteForChat(_ context.Context, chat domain.ChatID, receiver domain.ParticipantID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for id, notif := range r.s.notifications {
		if notif.ChatID == chat && notif.ReceiverID == receiver {
			delete(r.s.notifications, id)
			delete(r.s.order, "n:"+string(id))
			n++
		}
	}
	return n, nil
}

// ListForReceiver returns the receiver's notifications, newest first.
func (r *NotificationRepo) ListForReceiver(_ context.Context, receiver domain.ParticipantID) ([]*domain.Notification, error) {
	return r.list(func(n *domain.Notification) bool { return n.ReceiverID == receiver }), nil
}

func (r *NotificationRepo) ListForMessage(_ context.Context, msg domain.MessageID) ([]*domain.Notification, error) {
	return r.list(func(n *domain.Notification) bool { return n.MessageID == msg }), nil
}

func (r *NotificationRepo) list(keep func(*domain.Notification) bool) []*domain.Notification {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var res []*domain.Notification
	for _, n := range r.s.notifications {
		if keep(n) {
			c := *n
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return r.s.order["n:"+string(a.ID)] > r.s.order["n:"+string(b.ID)]
	})
	return res
}

func (s *Store) stamp(key string) {
	if _, ok := s.order[key]; ok {
		return
	}
	s.seq++
	s.order[key] = s.seq
}
