// Package memory is an in-process relay. It backs tests, single process
// demos and the development relay server, which puts a websocket in front
// of it.
package memory

import (
	"collab-lab/contract"
	"collab-lab/errors"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

const DefaultBufferSize = 256

var _ contract.Relay = (*Hub)(nil)

type member struct {
	key      string
	events   chan contract.RelayEvent
	presence []json.RawMessage
}

// Hub keeps channel members and their presence records. Delivery never
// blocks: a member whose buffer is full misses the event, like a slow
// client on a real relay.
type Hub struct {
	mu         sync.Mutex
	log        *slog.Logger
	channels   map[string]map[*member]struct{}
	bufferSize int
}

func NewHub(log *slog.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		log:        log,
		channels:   make(map[string]map[*member]struct{}),
		bufferSize: bufferSize,
	}
}

// Join adds a member to the channel. The new member first receives a
// presence sync with the current state of the channel.
func (h *Hub) Join(ctx context.Context, channel, presenceKey string) (contract.RelaySubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &member{key: presenceKey, events: make(chan contract.RelayEvent, h.bufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*member]struct{})
		h.channels[channel] = members
	}
	members[m] = struct{}{}
	h.deliver(m, h.syncEvent(channel))
	h.log.Debug("Member joined", "channel", channel, "key", presenceKey, "members", len(members))

	return &subscription{hub: h, channel: channel, member: m}, nil
}

// Members is the number of subscriptions on the channel.
func (h *Hub) Members(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// Presences returns the presence records of the channel by connection key.
func (h *Hub) Presences(channel string) map[string][]json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presenceState(channel)
}

func (h *Hub) broadcast(channel string, from *member, event string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isMember(channel, from) {
		return errors.ErrChannelClosed
	}
	e := contract.RelayEvent{
		Type:    contract.EventBroadcast,
		Channel: channel,
		Event:   event,
		Key:     from.key,
		Payload: append(json.RawMessage(nil), payload...),
	}
	for m := range h.channels[channel] {
		if m == from {
			continue
		}
		h.deliver(m, e)
	}
	return nil
}

func (h *Hub) track(channel string, from *member, record []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isMember(channel, from) {
		return errors.ErrChannelClosed
	}
	from.presence = []json.RawMessage{append(json.RawMessage(nil), record...)}
	h.fanoutPresence(channel, contract.EventPresenceJoin, from.key, from.presence)
	return nil
}

func (h *Hub) untrack(channel string, from *member) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isMember(channel, from) {
		return errors.ErrChannelClosed
	}
	h.dropPresence(channel, from)
	return nil
}

func (h *Hub) leave(channel string, m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	if _, ok := members[m]; !ok {
		return
	}
	delete(members, m)
	close(m.events)
	h.dropPresence(channel, m)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
	h.log.Debug("Member left", "channel", channel, "key", m.key, "members", len(members))
}

// dropPresence removes the records of m and tells the remaining members.
func (h *Hub) dropPresence(channel string, m *member) {
	if len(m.presence) == 0 {
		return
	}
	gone := m.presence
	m.presence = nil
	h.fanoutPresence(channel, contract.EventPresenceLeave, m.key, gone)
}

// fanoutPresence sends the delta then a full sync to every member.
func (h *Hub) fanoutPresence(channel string, eventType contract.EventType, key string, records []json.RawMessage) {
	delta := contract.RelayEvent{
		Type:      eventType,
		Channel:   channel,
		Key:       key,
		Presences: map[string][]json.RawMessage{key: records},
	}
	full := h.syncEvent(channel)
	for m := range h.channels[channel] {
		h.deliver(m, delta)
		h.deliver(m, full)
	}
}

func (h *Hub) syncEvent(channel string) contract.RelayEvent {
	return contract.RelayEvent{
		Type:      contract.EventPresenceSync,
		Channel:   channel,
		Presences: h.presenceState(channel),
	}
}

func (h *Hub) presenceState(channel string) map[string][]json.RawMessage {
	state := make(map[string][]json.RawMessage)
	for m := range h.channels[channel] {
		if len(m.presence) > 0 {
			state[m.key] = append(state[m.key], m.presence...)
		}
	}
	return state
}

func (h *Hub) isMember(channel string, m *member) bool {
	_, ok := h.channels[channel][m]
	return ok
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(m *member, e contract.RelayEvent) {
	select {
	case m.events <- e:
	default:
		h.log.Debug("Member buffer full, dropping event", "key", m.key, "type", e.Type)
	}
}
