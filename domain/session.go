package domain

import "fmt"

// SessionID identifies one study session. Every channel, key and
// whiteboard log is scoped to exactly one SessionID.
type SessionID string

// ChannelName is the pub/sub topic shared by both client implementations.
func (s SessionID) ChannelName() string {
	return fmt.Sprintf("session:%s", string(s))
}

func (s SessionID) String() string { return string(s) }

// ChannelStatus is the subscription state reported by the relay.
// Anything other than StatusSubscribed means "not yet safe to broadcast".
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
	StatusTimedOut     ChannelStatus = "TIMED_OUT"
	StatusClosed       ChannelStatus = "CLOSED"
)

func (c ChannelStatus) IsSubscribed() bool { return c == StatusSubscribed }
