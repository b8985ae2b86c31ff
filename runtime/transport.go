// Package runtime owns the live session channels of a client.
// It moves already normalized data between the relay and the session layer
// without containing business logic or domain rules.
package runtime

import (
	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/runtime/workers"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultStatusBuffer = 8

// Transport opens session channels over one relay. Every channel gets its
// own dispatch worker, so sessions deliver concurrently and independently.
type Transport struct {
	mu          sync.Mutex
	log         *slog.Logger
	relay       contract.Relay
	supervisor  contract.ISupervisor
	ctx         context.Context
	cancel      context.CancelFunc
	channels    map[domain.SessionID]*Channel
	presenceKey string
}

// NewTransport binds a transport to ctx: cancelling it stops every dispatch
// worker. The presence key identifies this process in presence state and is
// random unless WithPresenceKey is used.
func NewTransport(ctx context.Context, log *slog.Logger, relay contract.Relay) *Transport {
	ctx, cancel := context.WithCancel(ctx)
	return &Transport{
		log:         log,
		relay:       relay,
		supervisor:  workers.NewSupervisor(log),
		ctx:         ctx,
		cancel:      cancel,
		channels:    make(map[domain.SessionID]*Channel),
		presenceKey: uuid.NewString(),
	}
}

func (t *Transport) WithPresenceKey(key string) *Transport {
	t.presenceKey = key
	return t
}

func (t *Transport) PresenceKey() string { return t.presenceKey }

// Open returns the channel of the session, creating it on first use.
// Opening the same session twice returns the same channel.
func (t *Transport) Open(sessionID domain.SessionID) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.channels[sessionID]; ok {
		return ch
	}
	ch := newChannel(t, sessionID)
	t.channels[sessionID] = ch
	t.log.Debug("Channel opened", "channel", sessionID.ChannelName())
	return ch
}

// Close releases the channel. Same as ch.Close.
func (t *Transport) Close(ch *Channel) error {
	return ch.Close()
}

// Shutdown closes every open channel and waits for their dispatch workers.
// It must not be called from a channel handler.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	open := make([]*Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		open = append(open, ch)
	}
	t.mu.Unlock()

	for _, ch := range open {
		if err := ch.Close(); err != nil {
			t.log.Warn("Closing channel failed", "channel", ch.sessionID.ChannelName(), "error", err)
		}
	}
	t.cancel()
	t.supervisor.Wait()
}

func (t *Transport) forget(ch *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.channels[ch.sessionID]; ok && current == ch {
		delete(t.channels, ch.sessionID)
	}
}
