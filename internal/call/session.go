// Package call drives the signaling state machine of audio, video and
// screen-share sessions between exactly two participants.
package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"chathub/internal/domain"
)

// State of a call session. Sessions only move forward.
type State int

const (
	Idle State = iota
	Ringing
	Connected
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ringing:
		return "ringing"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Live reports whether the session still occupies its pair.
func (s State) Live() bool { return s == Ringing || s == Connected }

type trigger string

const (
	ring        trigger = "ring"
	accept      trigger = "accept"
	reject      trigger = "reject"
	deny        trigger = "deny"
	timeout     trigger = "timeout"
	unavailable trigger = "unavailable"
	hangup      trigger = "hangup"
	forceStop   trigger = "force-stop"
	drop        trigger = "drop"
)

// transitions is the whole state machine; anything absent is rejected.
var transitions = map[State]map[trigger]State{
	Idle: {
		ring: Ringing,
	},
	Ringing: {
		accept:      Connected,
		reject:      Ended,
		deny:        Ended,
		timeout:     Ended,
		unavailable: Ended,
		hangup:      Ended,
		drop:        Ended,
	},
	Connected: {
		hangup:    Ended,
		forceStop: Ended,
		drop:      Ended,
	},
}

var errTransition = errors.New("invalid call transition")

type pairKey struct {
	caller domain.ParticipantID
	callee domain.ParticipantID
	kind   domain.CallKind
}

// Session is one call attempt between caller and callee.
type Session struct {
	ID          string
	Caller      domain.ParticipantID
	Callee      domain.ParticipantID
	Kind        domain.CallKind
	State       State
	Offer       json.RawMessage
	CreatedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	EndReason   string

	timer *clock.Timer
}

func newSession(caller, callee domain.ParticipantID, kind domain.CallKind, offer json.RawMessage, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Caller:    caller,
		Callee:    callee,
		Kind:      kind,
		State:     Idle,
		Offer:     offer,
		CreatedAt: now,
	}
}

func (s *Session) key() pairKey {
	return pairKey{caller: s.Caller, callee: s.Callee, kind: s.Kind}
}

// transition applies t and stamps the session. Every path into Ended
// cancels the ringing timer.
func (s *Session) transition(t trigger, now time.Time) error {
	next, ok := transitions[s.State][t]
	if !ok {
		return fmt.Errorf("%w: %s from %s", errTransition, t, s.State)
	}
	s.State = next
	switch next {
	case Connected:
		s.ConnectedAt = now
		s.stopTimer()
	case Ended:
		s.EndedAt = now
		s.stopTimer()
	}
	return nil
}

// stopTimer is safe to call any number of times.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// peer returns the other side of the session.
func (s *Session) peer(id domain.ParticipantID) domain.ParticipantID {
	if id == s.Caller {
		return s.Callee
	}
	return s.Caller
}

func (s *Session) involves(id domain.ParticipantID) bool {
	return s.Caller == id || s.Callee == id
}

// snapshot copies the session without its timer handle.
func (s *Session) snapshot() Session {
	c := *s
	c.timer = nil
	return c
}

// GrantState is the screen-share view of a session.
type GrantState string

const (
	GrantNone      GrantState = ""
	GrantRequested GrantState = "requested"
	GrantActive    GrantState = "active"
	GrantStopped   GrantState = "stopped"
)

// Grant maps the session state onto the screen-share lifecycle.
func (s Session) Grant() GrantState {
	switch s.State {
	case Ringing:
		return GrantRequested
	case Connected:
		return GrantActive
	case Ended:
		return GrantStopped
	}
	return GrantNone
}
