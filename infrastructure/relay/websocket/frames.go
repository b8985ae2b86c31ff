// Package websocket carries relay frames over a websocket connection, one
// connection per joined channel. Frames are contract.RelayEvent values
// encoded as JSON text messages in both directions.
//
// Client to relay: broadcast, track and untrack.
// Relay to client: a status frame first, then broadcast and presence frames.
package websocket

import (
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	handshakeWait  = 10 * time.Second
	maxFrameSize   = 1 << 20
	historyKey     = "history"
	queryChannel   = "channel"
	queryKey       = "key"
	queryToken     = "token"
	headerAuthName = "Authorization"
)
