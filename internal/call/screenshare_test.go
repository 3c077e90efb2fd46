package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chathub/internal/domain"
	"chathub/internal/event"
)

func TestScreenshare_RequestAcceptForceStop(t *testing.T) {
	req := require.New(t)
	m, _, _ := newTestManager(t)

	// Given u1 asks to watch u2's screen
	out, err := m.RequestShare(context.Background(), "u1", "u2", offer)
	req.NoError(err)
	req.Len(out, 1)
	req.Equal(event.ScreenshareRequested, out[0].Type)
	req.Equal(domain.PersonalRoom("u2"), out[0].Room)
	req.Equal("Alice", out[0].Data.(event.ShareRequest).RequesterName)
	req.Equal(GrantRequested, m.Grant("u1", "u2"))

	// Force stop is not available before the share is active
	_, err = m.ForceStop("u2", "u1")
	req.ErrorIs(err, domain.ErrInvalidRequest)

	// When u2 accepts and later stops the capture
	_, err = m.Accept("u2", "u1", domain.CallScreenshare)
	req.NoError(err)
	req.Equal(GrantActive, m.Grant("u1", "u2"))

	out, err = m.ForceStop("u2", "u1")
	req.NoError(err)

	// Then u1 is told to release its resources
	req.Len(out, 1)
	req.Equal(event.ScreenshareForceStopped, out[0].Type)
	req.Equal(domain.PersonalRoom("u1"), out[0].Room)
	req.Equal(GrantStopped, m.Grant("u1", "u2"))

	out, err = m.ForceStop("u1", "u2")
	req.NoError(err)
	req.Empty(out)
}

func TestScreenshare_DenyActsAsReject(t *testing.T) {
	req := require.New(t)
	m, mock, rec := newTestManager(t)

	_, err := m.RequestShare(context.Background(), "u1", "u2", nil)
	req.NoError(err)

	out, err := m.Deny("u2", "u1")
	req.NoError(err)
	req.Len(out, 1)
	req.Equal(event.ScreenshareDenied, out[0].Type)
	req.Equal(domain.PersonalRoom("u1"), out[0].Room)
	req.Equal(ReasonDenied, out[0].Data.(event.CallStatus).Reason)
	req.Equal(GrantStopped, m.Grant("u1", "u2"))

	// Denial cancelled the ringing timer
	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	req.Empty(rec.events())

	// A fresh request is allowed once the old one ended
	_, err = m.RequestShare(context.Background(), "u1", "u2", nil)
	req.NoError(err)
}

func TestScreenshare_UnknownAndOffline(t *testing.T) {
	req := require.New(t)
	m, _, _ := newTestManager(t)

	req.Equal(GrantNone, m.Grant("u1", "u2"))
	_, err := m.Deny("u2", "u1")
	req.ErrorIs(err, domain.ErrNotFound)

	out, err := m.RequestShare(context.Background(), "u1", "u4", nil)
	req.NoError(err)
	req.Equal(event.ScreenshareDenied, out[0].Type)
	req.Equal(ReasonUnavailable, out[0].Data.(event.CallStatus).Reason)
}

func TestTransitionTable(t *testing.T) {
	req := require.New(t)
	now := time.Now()

	s := newSession("a", "b", domain.CallAudio, nil, now)
	req.Error(s.transition(accept, now))
	req.NoError(s.transition(ring, now))
	req.Error(s.transition(forceStop, now))
	req.NoError(s.transition(accept, now))
	req.Error(s.transition(reject, now))
	req.NoError(s.transition(hangup, now))
	req.Error(s.transition(hangup, now))
	req.Equal("ended", s.State.String())
}
