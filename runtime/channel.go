package runtime

import (
	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/runtime/workers"
	"collab-lab/wire"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type (
	MessageHandler   func(domain.ChatMessage)
	OperationHandler func(domain.WhiteboardOperation)
	SyncHandler      func(domain.PresenceState)
	PresenceHandler  func(key string, users []domain.PresenceUser)
)

// Channel is the pub/sub channel of one session.
//
// Handlers run on the channel's single dispatch goroutine, never
// concurrently with each other. Every handler receives data that already
// went through the wire codec; payloads the codec rejects are dropped with a
// warning.
type Channel struct {
	transport *Transport
	log       *slog.Logger
	sessionID domain.SessionID
	closed    atomic.Bool

	mu      sync.Mutex
	sub     contract.RelaySubscription
	cancel  context.CancelFunc
	status  domain.ChannelStatus
	streams []chan domain.ChannelStatus

	handlersMu sync.RWMutex
	onMessage  []MessageHandler
	onOp       []OperationHandler
	onSync     []SyncHandler
	onJoin     []PresenceHandler
	onLeave    []PresenceHandler
}

func newChannel(t *Transport, sessionID domain.SessionID) *Channel {
	return &Channel{
		transport: t,
		log:       t.log.With("channel", sessionID.ChannelName()),
		sessionID: sessionID,
	}
}

func (c *Channel) SessionID() domain.SessionID { return c.sessionID }

func (c *Channel) OnMessage(h MessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onMessage = append(c.onMessage, h)
}

func (c *Channel) OnWhiteboardOp(h OperationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onOp = append(c.onOp, h)
}

func (c *Channel) OnPresenceSync(h SyncHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onSync = append(c.onSync, h)
}

func (c *Channel) OnPresenceJoin(h PresenceHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onJoin = append(c.onJoin, h)
}

func (c *Channel) OnPresenceLeave(h PresenceHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onLeave = append(c.onLeave, h)
}

// Subscribe joins the relay channel and returns a stream of status changes.
// The current status, if any, is replayed first. The stream is closed when
// the channel is closed.
//
// A relay that refuses the join yields CHANNEL_ERROR on the stream and an
// error wrapping errors.ErrChannelError. Subscribing an already subscribed
// channel only returns a new stream.
func (c *Channel) Subscribe(ctx context.Context) (<-chan domain.ChannelStatus, error) {
	if c.closed.Load() {
		return nil, errors.ErrChannelClosed
	}

	c.mu.Lock()
	stream := make(chan domain.ChannelStatus, defaultStatusBuffer)
	if c.status != "" {
		stream <- c.status
	}
	c.streams = append(c.streams, stream)
	if c.sub != nil {
		c.mu.Unlock()
		return stream, nil
	}
	c.mu.Unlock()

	sub, err := c.transport.relay.Join(ctx, c.sessionID.ChannelName(), c.transport.presenceKey)
	if err != nil {
		c.log.Warn("Relay join failed", "error", err)
		c.setStatus(domain.StatusChannelError)
		return stream, fmt.Errorf("%w: %v", errors.ErrChannelError, err)
	}

	c.mu.Lock()
	if c.closed.Load() || c.sub != nil {
		// Closed or subscribed by a concurrent call while joining
		c.mu.Unlock()
		if err := sub.Close(); err != nil {
			c.log.Debug("Releasing extra subscription failed", "error", err)
		}
		return stream, nil
	}
	workerCtx, cancel := context.WithCancel(c.transport.ctx)
	c.sub = sub
	c.cancel = cancel
	c.mu.Unlock()

	c.setStatus(domain.StatusSubscribed)
	worker := workers.NewChannelWorker(c.log, c.sessionID.ChannelName(), sub.Events(), c.dispatch, c.relayEnded)
	c.transport.supervisor.Start(workerCtx, worker)
	c.log.Info("Channel subscribed")
	return stream, nil
}

// Status is the last status reported for the channel, empty before Subscribe.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// BroadcastMessage sends a chat message to the other participants.
// Nothing is sent unless the channel is subscribed; failures are logged.
func (c *Channel) BroadcastMessage(ctx context.Context, msg domain.ChatMessage) {
	payload, err := json.Marshal(wire.BuildOutboundMessage(msg))
	if err != nil {
		c.log.Warn("Encoding chat message failed", "id", msg.ID, "error", err)
		return
	}
	c.broadcast(ctx, contract.EventNewMessage, payload)
}

// BroadcastWhiteboardOp sends a whiteboard operation to the other participants.
func (c *Channel) BroadcastWhiteboardOp(ctx context.Context, op domain.WhiteboardOperation) {
	payload, err := json.Marshal(wire.BuildOutboundWhiteboardOp(c.sessionID, op))
	if err != nil {
		c.log.Warn("Encoding whiteboard operation failed", "id", op.Meta().ID, "error", err)
		return
	}
	c.broadcast(ctx, contract.EventWhiteboardOp, payload)
}

func (c *Channel) broadcast(ctx context.Context, event string, payload []byte) {
	sub, ok := c.active()
	if !ok {
		c.log.Debug("Broadcast skipped, channel not subscribed", "event", event, "status", c.Status())
		return
	}
	if err := sub.Broadcast(ctx, event, payload); err != nil {
		c.log.Warn("Broadcast failed", "event", event, "error", err)
	}
}

func (c *Channel) TrackPresence(ctx context.Context, user domain.PresenceUser) {
	sub, ok := c.active()
	if !ok {
		c.log.Debug("Track skipped, channel not subscribed", "user", user.ID)
		return
	}
	record, err := json.Marshal(wire.BuildOutboundPresence(user))
	if err != nil {
		c.log.Warn("Encoding presence failed", "user", user.ID, "error", err)
		return
	}
	if err := sub.Track(ctx, record); err != nil {
		c.log.Warn("Track failed", "user", user.ID, "error", err)
	}
}

func (c *Channel) UntrackPresence(ctx context.Context) {
	sub, ok := c.active()
	if !ok {
		c.log.Debug("Untrack skipped, channel not subscribed")
		return
	}
	if err := sub.Untrack(ctx); err != nil {
		c.log.Warn("Untrack failed", "error", err)
	}
}

// Close stops handler delivery at once, releases the relay subscription and
// removes the channel from its transport. It does not wait for the dispatch
// goroutine and is safe to call from inside a handler. Closing twice is a
// no-op.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.setStatus(domain.StatusClosed)
	c.closeStreams()
	c.transport.forget(c)
	c.log.Info("Channel closed")

	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (c *Channel) active() (contract.RelaySubscription, bool) {
	if c.closed.Load() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil || !c.status.IsSubscribed() {
		return nil, false
	}
	return c.sub, true
}

func (c *Channel) setStatus(status domain.ChannelStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == status || c.status == domain.StatusClosed {
		return
	}
	c.status = status
	for _, stream := range c.streams {
		select {
		case stream <- status:
		default:
			c.log.Debug("Status stream full, dropping update", "status", status)
		}
	}
}

func (c *Channel) closeStreams() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stream := range c.streams {
		close(stream)
	}
	c.streams = nil
}

// relayEnded runs when the relay stream ends without Close.
func (c *Channel) relayEnded() {
	if c.closed.Load() {
		return
	}
	c.log.Warn("Relay stream ended unexpectedly")
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()
	c.setStatus(domain.StatusChannelError)
}

func (c *Channel) dispatch(e contract.RelayEvent) {
	if c.closed.Load() {
		return
	}
	switch e.Type {
	case contract.EventBroadcast:
		c.dispatchBroadcast(e)
	case contract.EventPresenceSync:
		state := make(domain.PresenceState, len(e.Presences))
		for key, records := range e.Presences {
			state[key] = c.presences(key, records)
		}
		c.handlersMu.RLock()
		handlers := append([]SyncHandler(nil), c.onSync...)
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			if c.closed.Load() {
				return
			}
			h(state)
		}
	case contract.EventPresenceJoin, contract.EventPresenceLeave:
		users := c.presences(e.Key, e.Presences[e.Key])
		c.handlersMu.RLock()
		handlers := c.onJoin
		if e.Type == contract.EventPresenceLeave {
			handlers = c.onLeave
		}
		handlers = append([]PresenceHandler(nil), handlers...)
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			if c.closed.Load() {
				return
			}
			h(e.Key, users)
		}
	case contract.EventStatus:
		c.setStatus(e.Status)
	default:
		c.log.Debug("Unknown relay event dropped", "type", e.Type)
	}
}

func (c *Channel) dispatchBroadcast(e contract.RelayEvent) {
	if sessionID := wire.SessionOf(e.Payload); sessionID != c.sessionID.String() {
		c.log.Debug("Cross-talk dropped", "event", e.Event, "session", sessionID)
		return
	}

	switch e.Event {
	case contract.EventNewMessage:
		msg, err := wire.NormalizeInboundMessage(e.Payload)
		if err != nil {
			c.log.Warn("Malformed chat payload dropped", "error", err)
			return
		}
		c.handlersMu.RLock()
		handlers := append([]MessageHandler(nil), c.onMessage...)
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			if c.closed.Load() {
				return
			}
			h(msg)
		}
	case contract.EventWhiteboardOp:
		op, err := wire.NormalizeInboundWhiteboardOp(e.Payload)
		if err != nil {
			c.log.Warn("Malformed whiteboard payload dropped", "error", err)
			return
		}
		c.handlersMu.RLock()
		handlers := append([]OperationHandler(nil), c.onOp...)
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			if c.closed.Load() {
				return
			}
			h(op)
		}
	default:
		c.log.Debug("Unknown broadcast event dropped", "event", e.Event)
	}
}

func (c *Channel) presences(key string, records []json.RawMessage) []domain.PresenceUser {
	raws := make([][]byte, len(records))
	for i, r := range records {
		raws[i] = r
	}
	users, skipped := wire.NormalizeInboundPresences(raws)
	if skipped > 0 {
		c.log.Warn("Malformed presence records dropped", "key", key, "count", skipped)
	}
	return users
}
