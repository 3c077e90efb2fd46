package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"chathub/internal/domain"
	"chathub/internal/event"
)

const (
	DefaultRingTimeout = 30 * time.Second

	ReasonNoAnswer     = "no answer"
	ReasonUnavailable  = "user unavailable"
	ReasonRejected     = "rejected"
	ReasonDenied       = "denied"
	ReasonEnded        = "ended"
	ReasonForceStopped = "force stopped"
	ReasonDisconnected = "disconnected"
)

// Publisher delivers events produced outside of a request, i.e. by the
// ringing timer.
type Publisher interface {
	Publish(out ...event.Outbound)
}

// Reachability tells whether a participant has any live connection.
type Reachability interface {
	IsOnline(id domain.ParticipantID) bool
}

// Manager owns every call session. All transitions run under mu, and the
// ringing timer re-checks session identity and state before acting, so a
// timeout and an accept can never both take effect.
type Manager struct {
	mu          sync.Mutex
	sessions    map[pairKey]*Session
	clock       clock.Clock
	ringTimeout time.Duration
	pub         Publisher
	reach       Reachability
	users       domain.UserRepository
}

type Option func(*Manager)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithRingTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ringTimeout = d
		}
	}
}

// WithUsers resolves caller display names for incoming-call events.
func WithUsers(users domain.UserRepository) Option {
	return func(m *Manager) { m.users = users }
}

func NewManager(pub Publisher, reach Reachability, opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[pairKey]*Session),
		clock:       clock.New(),
		ringTimeout: DefaultRingTimeout,
		pub:         pub,
		reach:       reach,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate starts ringing the callee. An offline callee ends the session at
// once and the caller gets a rejection with ReasonUnavailable.
func (m *Manager) Initiate(ctx context.Context, caller, callee domain.ParticipantID, kind domain.CallKind, offer json.RawMessage) ([]event.Outbound, error) {
	return m.start(ctx, caller, callee, kind, offer)
}

func (m *Manager) start(ctx context.Context, caller, callee domain.ParticipantID, kind domain.CallKind, offer json.RawMessage) ([]event.Outbound, error) {
	if caller == "" || callee == "" {
		return nil, fmt.Errorf("%w: both participants are required", domain.ErrInvalidRequest)
	}
	if caller == callee {
		return nil, fmt.Errorf("%w: cannot call yourself", domain.ErrInvalidRequest)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown call kind %q", domain.ErrInvalidRequest, kind)
	}
	name := m.displayName(ctx, caller)
	online := m.reach.IsOnline(callee)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{caller: caller, callee: callee, kind: kind}
	if cur, ok := m.sessions[key]; ok && cur.State.Live() {
		return nil, fmt.Errorf("%w: %s call %s -> %s is %s", domain.ErrAlreadyInProgress, kind, caller, callee, cur.State)
	}

	now := m.clock.Now()
	s := newSession(caller, callee, kind, offer, now)
	if err := s.transition(ring, now); err != nil {
		return nil, err
	}
	m.sessions[key] = s

	l := log.With().Str("module", "call").Str("session", s.ID).Str("caller", string(caller)).
		Str("callee", string(callee)).Str("kind", string(kind)).Logger()

	if !online {
		_ = s.transition(unavailable, now)
		s.EndReason = ReasonUnavailable
		l.Warn().Msg("callee has no live connection")
		return []event.Outbound{m.refusal(s, ReasonUnavailable)}, nil
	}

	id := s.ID
	s.timer = m.clock.AfterFunc(m.ringTimeout, func() { m.expire(key, id) })
	l.Info().Dur("ring_timeout", m.ringTimeout).Msg("ringing")

	if kind == domain.CallScreenshare {
		return []event.Outbound{event.ToParticipant(callee, event.ScreenshareRequested, event.ShareRequest{
			SessionID:     s.ID,
			RequesterID:   caller,
			RequesterName: name,
			Offer:         offer,
		})}, nil
	}
	return []event.Outbound{event.ToParticipant(callee, event.IncomingCall, event.Incoming{
		SessionID:  s.ID,
		CallerID:   caller,
		CallerName: name,
		Kind:       kind,
		Offer:      offer,
	})}, nil
}

// expire fires from the ringing timer. It acts only if the same session is
// still ringing.
func (m *Manager) expire(key pairKey, id string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok || s.ID != id || s.State != Ringing {
		m.mu.Unlock()
		return
	}
	out := m.timeoutLocked(s)
	m.mu.Unlock()

	log.Info().Str("module", "call").Str("session", id).Msg("ringing timed out")
	if m.pub != nil {
		m.pub.Publish(out...)
	}
}

func (m *Manager) timeoutLocked(s *Session) []event.Outbound {
	_ = s.transition(timeout, m.clock.Now())
	s.EndReason = ReasonNoAnswer
	return []event.Outbound{
		m.refusal(s, ReasonNoAnswer),
		event.ToParticipant(s.Callee, event.CallEnded, status(s, s.Caller, ReasonNoAnswer)),
	}
}

// TimeoutAck handles the caller's own timeout guard firing. It behaves
// exactly like the server timer and is a no-op once the session left Ringing.
func (m *Manager) TimeoutAck(caller, callee domain.ParticipantID, kind domain.CallKind) ([]event.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(caller, callee, kind)
	if err != nil {
		return nil, err
	}
	if s.State != Ringing {
		return nil, nil
	}
	return m.timeoutLocked(s), nil
}

// Accept connects a ringing session and tells the caller.
func (m *Manager) Accept(callee, caller domain.ParticipantID, kind domain.CallKind) ([]event.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(caller, callee, kind)
	if err != nil {
		return nil, err
	}
	if s.State != Ringing {
		log.Debug().Str("module", "call").Str("session", s.ID).Stringer("state", s.State).Msg("late accept ignored")
		return nil, nil
	}
	if err := s.transition(accept, m.clock.Now()); err != nil {
		return nil, err
	}
	log.Info().Str("module", "call").Str("session", s.ID).Msg("connected")
	return []event.Outbound{
		event.ToParticipant(caller, event.CallAccepted, status(s, callee, "")),
	}, nil
}

// Answer relays the callee's session answer to the caller. State is untouched.
func (m *Manager) Answer(callee, caller domain.ParticipantID, kind domain.CallKind, answer json.RawMessage) ([]event.Outbound, error) {
	if len(answer) == 0 {
		return nil, fmt.Errorf("%w: answer is required", domain.ErrInvalidRequest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(caller, callee, kind)
	if err != nil {
		return nil, err
	}
	if !s.State.Live() {
		log.Warn().Str("module", "call").Str("session", s.ID).Msg("answer for finished session dropped")
		return nil, nil
	}
	return []event.Outbound{event.ToParticipant(caller, event.CallAnswered, event.Signal{
		SessionID: s.ID,
		FromID:    callee,
		Kind:      s.Kind,
		Answer:    answer,
	})}, nil
}

// RelayIce forwards a trickled candidate to the other side of a live session
// in either direction.
func (m *Manager) RelayIce(from, to domain.ParticipantID, kind domain.CallKind, candidate json.RawMessage) ([]event.Outbound, error) {
	if len(candidate) == 0 {
		return nil, fmt.Errorf("%w: candidate is required", domain.ErrInvalidRequest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.betweenLocked(from, to, kind)
	if err != nil {
		return nil, err
	}
	if !s.State.Live() {
		log.Warn().Str("module", "call").Str("session", s.ID).Msg("candidate for finished session dropped")
		return nil, nil
	}
	return []event.Outbound{event.ToParticipant(to, event.CallIceCandidate, event.Signal{
		SessionID: s.ID,
		FromID:    from,
		Kind:      s.Kind,
		Candidate: candidate,
	})}, nil
}

// Reject ends a ringing session on the callee's behalf.
func (m *Manager) Reject(callee, caller domain.ParticipantID, kind domain.CallKind, reason string) ([]event.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(caller, callee, kind)
	if err != nil {
		return nil, err
	}
	if s.State != Ringing {
		return nil, nil
	}
	if reason == "" {
		reason = ReasonRejected
	}
	if err := s.transition(reject, m.clock.Now()); err != nil {
		return nil, err
	}
	s.EndReason = reason
	log.Info().Str("module", "call").Str("session", s.ID).Str("reason", reason).Msg("rejected")
	return []event.Outbound{m.refusal(s, reason)}, nil
}

// End hangs up a ringing or connected session from either side.
func (m *Manager) End(by, other domain.ParticipantID, kind domain.CallKind) ([]event.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.betweenLocked(by, other, kind)
	if err != nil {
		return nil, err
	}
	if !s.State.Live() {
		return nil, nil
	}
	if err := s.transition(hangup, m.clock.Now()); err != nil {
		return nil, err
	}
	s.EndReason = ReasonEnded
	log.Info().Str("module", "call").Str("session", s.ID).Str("by", string(by)).Msg("ended")
	return []event.Outbound{
		event.ToParticipant(other, event.CallEnded, status(s, by, ReasonEnded)),
	}, nil
}

// EndAllFor ends every live session the participant is part of and
// notifies each peer.
func (m *Manager) EndAllFor(id domain.ParticipantID, reason string) []event.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []event.Outbound
	now := m.clock.Now()
	for _, s := range m.sessions {
		if !s.involves(id) || !s.State.Live() {
			continue
		}
		_ = s.transition(drop, now)
		s.EndReason = reason
		out = append(out, event.ToParticipant(s.peer(id), event.CallEnded, status(s, id, reason)))
		log.Info().Str("module", "call").Str("session", s.ID).Str("reason", reason).Msg("ended with participant")
	}
	return out
}

// Session returns a copy of the latest session for the ordered pair.
func (m *Manager) Session(caller, callee domain.ParticipantID, kind domain.CallKind) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[pairKey{caller: caller, callee: callee, kind: kind}]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// lookupLocked finds the session for the ordered pair. Without a kind the
// single live session wins; several live kinds are ambiguous.
func (m *Manager) lookupLocked(caller, callee domain.ParticipantID, kind domain.CallKind) (*Session, error) {
	if kind != "" {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown call kind %q", domain.ErrInvalidRequest, kind)
		}
		if s, ok := m.sessions[pairKey{caller: caller, callee: callee, kind: kind}]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("%w: no %s call %s -> %s", domain.ErrNotFound, kind, caller, callee)
	}

	var live, last *Session
	for _, k := range domain.CallKinds {
		s, ok := m.sessions[pairKey{caller: caller, callee: callee, kind: k}]
		if !ok {
			continue
		}
		if s.State.Live() {
			if live != nil {
				return nil, fmt.Errorf("%w: several calls between %s and %s, kind required", domain.ErrInvalidRequest, caller, callee)
			}
			live = s
		}
		if last == nil || s.CreatedAt.After(last.CreatedAt) {
			last = s
		}
	}
	switch {
	case live != nil:
		return live, nil
	case last != nil:
		return last, nil
	}
	return nil, fmt.Errorf("%w: no call %s -> %s", domain.ErrNotFound, caller, callee)
}

// betweenLocked looks in both directions, preferring a live session.
func (m *Manager) betweenLocked(a, b domain.ParticipantID, kind domain.CallKind) (*Session, error) {
	fwd, errFwd := m.lookupLocked(a, b, kind)
	rev, errRev := m.lookupLocked(b, a, kind)
	switch {
	case errFwd == nil && errRev == nil:
		if fwd.State.Live() && rev.State.Live() {
			return fwd, nil
		}
		if rev.State.Live() {
			return rev, nil
		}
		return fwd, nil
	case errFwd == nil:
		return fwd, nil
	case errRev == nil:
		return rev, nil
	}
	if errors.Is(errFwd, domain.ErrInvalidRequest) {
		return nil, errFwd
	}
	return nil, errRev
}

// refusal is what the caller sees when the callee side never connected.
func (m *Manager) refusal(s *Session, reason string) event.Outbound {
	t := event.CallRejected
	if s.Kind == domain.CallScreenshare {
		t = event.ScreenshareDenied
	}
	return event.ToParticipant(s.Caller, t, status(s, s.Callee, reason))
}

func (m *Manager) displayName(ctx context.Context, id domain.ParticipantID) string {
	if m.users == nil {
		return string(id)
	}
	u, err := m.users.GetByID(ctx, id)
	if err != nil || u.DisplayName == "" {
		return string(id)
	}
	return u.DisplayName
}

func status(s *Session, peer domain.ParticipantID, reason string) event.CallStatus {
	return event.CallStatus{SessionID: s.ID, PeerID: peer, Kind: s.Kind, Reason: reason}
}
