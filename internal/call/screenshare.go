package call

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"chathub/internal/domain"
	"chathub/internal/event"
)

// Screen sharing reuses the call machine with kind screenshare: the
// requester is the caller and the target the callee.

// RequestShare asks target to share its screen with requester.
func (m *Manager) RequestShare(ctx context.Context, requester, target domain.ParticipantID, offer json.RawMessage) ([]event.Outbound, error) {
	return m.start(ctx, requester, target, domain.CallScreenshare, offer)
}

// Deny is the target declining the capture prompt. The requester handles it
// like a rejection.
func (m *Manager) Deny(target, requester domain.ParticipantID) ([]event.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(requester, target, domain.CallScreenshare)
	if err != nil {
		return nil, err
	}
	if s.State != Ringing {
		return nil, nil
	}
	if err := s.transition(deny, m.clock.Now()); err != nil {
		return nil, err
	}
	s.EndReason = ReasonDenied
	log.Info().Str("module", "call").Str("session", s.ID).Msg("screen share denied")
	return []event.Outbound{m.refusal(s, ReasonDenied)}, nil
}

// ForceStop ends an active share from either side.
func (m *Manager) ForceStop(by, other domain.ParticipantID) ([]event.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.betweenLocked(by, other, domain.CallScreenshare)
	if err != nil {
		return nil, err
	}
	switch s.State {
	case Ended:
		return nil, nil
	case Ringing:
		return nil, fmt.Errorf("%w: screen share %s is not active", domain.ErrInvalidRequest, s.ID)
	}
	if err := s.transition(forceStop, m.clock.Now()); err != nil {
		return nil, err
	}
	s.EndReason = ReasonForceStopped
	log.Info().Str("module", "call").Str("session", s.ID).Str("by", string(by)).Msg("screen share force stopped")
	return []event.Outbound{
		event.ToParticipant(other, event.ScreenshareForceStopped, status(s, by, ReasonForceStopped)),
	}, nil
}

// Grant reports the screen-share state between requester and target.
func (m *Manager) Grant(requester, target domain.ParticipantID) GrantState {
	s, ok := m.Session(requester, target, domain.CallScreenshare)
	if !ok {
		return GrantNone
	}
	return s.Grant()
}
