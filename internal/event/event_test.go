package event

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chathub/internal/domain"
)

func TestDecode_KeepsSignalingPayloadRaw(t *testing.T) {
	req := require.New(t)
	in, err := Decode([]byte(`{"type":"call-initiate","calleeId":"u2","kind":"video","offer":{"sdp":"v=0","type":"offer"}}`))
	req.NoError(err)
	req.Equal(CallInitiate, in.Type)
	req.Equal(domain.ParticipantID("u2"), in.CalleeID)
	req.Equal(domain.CallKind("video"), in.CallKind)
	req.JSONEq(`{"sdp":"v=0","type":"offer"}`, string(in.Offer))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"chatId":"c1"}`))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = Decode([]byte(`not json`))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestOutbound_Routing(t *testing.T) {
	req := require.New(t)
	req.Equal(domain.RoomID("user:u1"), ToParticipant("u1", Pong, nil).Room)
	req.Equal(domain.RoomID("chat:c1"), ToChat("c1", TypingStarted, nil).Room)

	o := ToAll(ParticipantOnline, Presence{ParticipantID: "u1"}).Excluding("conn-1")
	req.True(o.All)
	req.Equal(domain.ConnectionID("conn-1"), o.Exclude)
}

func TestOutbound_Encode(t *testing.T) {
	raw, err := ToChat("c1", MessageDeletedEveryone, Deleted{ChatID: "c1", MessageID: "m1"}).Encode()
	require.NoError(t, err)
	require.Contains(t, string(raw), `"type":"message-deleted-everyone"`)
	require.Contains(t, string(raw), `"m1"`)

	raw, err = Reply("conn-1", Pong, nil).Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(raw))
}
