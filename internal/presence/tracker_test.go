package presence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracker_OneActiveChatAtATime(t *testing.T) {
	req := require.New(t)
	tr := NewTracker()

	_, ok := tr.ActiveChat("alice")
	req.False(ok)

	tr.Set("alice", "c1")
	req.True(tr.IsViewing("alice", "c1"))

	// Opening another chat replaces the entry
	tr.Set("alice", "c2")
	req.False(tr.IsViewing("alice", "c1"))
	req.True(tr.IsViewing("alice", "c2"))

	// An empty chat id means "none"
	tr.Set("alice", "")
	_, ok = tr.ActiveChat("alice")
	req.False(ok)
}

func TestTracker_Clear(t *testing.T) {
	tr := NewTracker()
	tr.Set("bob", "c1")
	tr.Clear("bob")
	require.False(t, tr.IsViewing("bob", "c1"))
}
