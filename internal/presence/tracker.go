// Package presence records which chat, if any, each participant has open.
package presence

import (
	"sync"

	"github.com/rs/zerolog/log"

	"chathub/internal/domain"
)

// Tracker holds at most one active chat per participant. Absence means the
// participant is not viewing any chat.
type Tracker struct {
	mu     sync.RWMutex
	active map[domain.ParticipantID]domain.ChatID
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[domain.ParticipantID]domain.ChatID)}
}

// Set records the open chat; an empty chat id clears the entry.
func (t *Tracker) Set(id domain.ParticipantID, chat domain.ChatID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if chat == "" {
		delete(t.active, id)
	} else {
		t.active[id] = chat
	}
	log.Debug().Str("module", "presence").Str("participant", string(id)).Str("chat", string(chat)).Msg("presence set")
}

func (t *Tracker) Clear(id domain.ParticipantID) {
	t.Set(id, "")
}

// ActiveChat returns the chat the participant is viewing.
func (t *Tracker) ActiveChat(id domain.ParticipantID) (domain.ChatID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	chat, ok := t.active[id]
	return chat, ok
}

// IsViewing reports whether the participant has chat open right now.
func (t *Tracker) IsViewing(id domain.ParticipantID, chat domain.ChatID) bool {
	active, ok := t.ActiveChat(id)
	return ok && active == chat
}
