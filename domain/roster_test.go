package domain

import (
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestRoster_Sync_RebuildsInsteadOfDiffing(t *testing.T) {
	req := require.New(t)
	roster := NewRoster()
	at := time.UnixMilli(1000).UTC()

	// Given a roster with Alice and a stale delta for Bob
	roster.Sync(PresenceState{"conn-a": {{ID: "u1", Name: "Alice", JoinedAt: at}}})
	roster.Join("conn-b", []PresenceUser{{ID: "u2", Name: "Bob", JoinedAt: at.Add(time.Second)}})
	req.Len(roster.Participants(), 2)

	// When a sync arrives without Bob
	roster.Sync(PresenceState{"conn-a": {{ID: "u1", Name: "Alice", JoinedAt: at}}})

	// Then Bob is gone, the state was replaced
	participants := roster.Participants()
	req.Len(participants, 1)
	req.Equal("u1", participants[0].ID)
}

func TestRoster_MultipleDevices_CollapseToOneParticipant(t *testing.T) {
	req := require.New(t)
	roster := NewRoster()
	at := time.UnixMilli(5000).UTC()

	roster.Join("phone", []PresenceUser{{ID: "u1", Name: "Alice", JoinedAt: at.Add(time.Minute)}})
	roster.Join("laptop", []PresenceUser{{ID: "u1", Name: "Alice", JoinedAt: at}})

	participants := roster.Participants()
	req.Len(participants, 1)
	req.Equal(at, participants[0].JoinedAt)
	req.Equal(2, roster.Connections())

	// When one device leaves, Alice is still present
	roster.Leave("phone", nil)
	req.Len(roster.Participants(), 1)

	roster.Leave("laptop", []PresenceUser{{ID: "u1"}})
	req.Empty(roster.Participants())
	req.Equal(0, roster.Connections())
}

func TestSessionID_ChannelName(t *testing.T) {
	require.Equal(t, "session:abc-123", SessionID("abc-123").ChannelName())
}
