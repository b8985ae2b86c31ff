// Package redis shares session channels between processes through Redis.
// Broadcasts and presence deltas travel on a pub/sub topic per channel;
// presence records live in a hash so late joiners get a full sync, and each
// record is backed by an expiring liveness key refreshed by its owner. A
// record whose liveness key expired belongs to a dead process: the first
// subscriber to notice removes it and announces the leave.
package redis

import (
	"collab-lab/contract"
	"collab-lab/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPresenceTTL = 2 * time.Minute
	bufferSize         = 256
)

var (
	_ contract.Relay             = (*Relay)(nil)
	_ contract.RelaySubscription = (*subscription)(nil)
)

// frame is what travels on the topic. From is the presence key of the
// publishing connection.
type frame struct {
	From  string              `json:"from"`
	Event contract.RelayEvent `json:"event"`
}

func topic(channel string) string         { return "relay:" + channel }
func presenceHash(channel string) string  { return "presence:" + channel }
func aliveKey(channel, key string) string { return "alive:" + channel + ":" + key }

type Relay struct {
	client      *redis.Client
	log         *slog.Logger
	presenceTTL time.Duration
}

func NewRelay(client *redis.Client, log *slog.Logger, presenceTTL time.Duration) *Relay {
	if presenceTTL <= 0 {
		presenceTTL = DefaultPresenceTTL
	}
	return &Relay{client: client, log: log, presenceTTL: presenceTTL}
}

// Join subscribes the channel topic and emits the current presence state
// as the first event.
func (r *Relay) Join(ctx context.Context, channel, presenceKey string) (contract.RelaySubscription, error) {
	pubsub := r.client.Subscribe(ctx, topic(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		relay:   r,
		log:     r.log.With("channel", channel, "key", presenceKey),
		channel: channel,
		key:     presenceKey,
		pubsub:  pubsub,
		events:  make(chan contract.RelayEvent, bufferSize),
		ctx:     runCtx,
		cancel:  cancel,
	}
	state, err := s.presenceState(ctx)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}
	s.events <- contract.RelayEvent{Type: contract.EventPresenceSync, Channel: channel, Presences: state}

	go s.listen()
	go s.sweep(runCtx)
	return s, nil
}

type subscription struct {
	relay   *Relay
	log     *slog.Logger
	channel string
	key     string
	pubsub  *redis.PubSub
	events  chan contract.RelayEvent
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	once    sync.Once

	mu       sync.Mutex
	record   json.RawMessage
	stopBeat context.CancelFunc
}

func (s *subscription) Events() <-chan contract.RelayEvent {
	return s.events
}

func (s *subscription) listen() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			s.log.Warn("Malformed bus frame dropped", "error", err)
			continue
		}
		if f.Event.Type == contract.EventBroadcast && f.From == s.key {
			continue
		}
		if !s.emit(f.Event) {
			return
		}
		if f.Event.Type == contract.EventPresenceJoin || f.Event.Type == contract.EventPresenceLeave {
			state, err := s.presenceState(s.ctx)
			if err != nil {
				s.log.Warn("Presence state unavailable", "error", err)
				continue
			}
			if !s.emit(contract.RelayEvent{Type: contract.EventPresenceSync, Channel: s.channel, Presences: state}) {
				return
			}
		}
	}
}

func (s *subscription) emit(e contract.RelayEvent) bool {
	select {
	case s.events <- e:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *subscription) publish(ctx context.Context, e contract.RelayEvent) error {
	if s.closed.Load() {
		return errors.ErrChannelClosed
	}
	e.Channel = s.channel
	bytes, err := json.Marshal(frame{From: s.key, Event: e})
	if err != nil {
		return err
	}
	return s.relay.client.Publish(ctx, topic(s.channel), bytes).Err()
}

func (s *subscription) Broadcast(ctx context.Context, event string, payload []byte) error {
	return s.publish(ctx, contract.RelayEvent{
		Type:    contract.EventBroadcast,
		Event:   event,
		Key:     s.key,
		Payload: payload,
	})
}

// Track stores the record in the presence hash and keeps it alive while
// the subscription lives.
func (s *subscription) Track(ctx context.Context, record []byte) error {
	if s.closed.Load() {
		return errors.ErrChannelClosed
	}
	rec := append(json.RawMessage(nil), record...)
	if err := s.store(ctx, rec); err != nil {
		return err
	}

	s.mu.Lock()
	s.record = rec
	if s.stopBeat == nil {
		beatCtx, stop := context.WithCancel(s.ctx)
		s.stopBeat = stop
		go s.heartbeat(beatCtx)
	}
	s.mu.Unlock()

	return s.publish(ctx, contract.RelayEvent{
		Type:      contract.EventPresenceJoin,
		Key:       s.key,
		Presences: map[string][]json.RawMessage{s.key: {rec}},
	})
}

func (s *subscription) store(ctx context.Context, record json.RawMessage) error {
	_, err := s.relay.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceHash(s.channel), s.key, []byte(record))
		pipe.Set(ctx, aliveKey(s.channel, s.key), 1, s.relay.presenceTTL)
		return nil
	})
	return err
}

// sweep removes the records whose owner stopped refreshing them and
// publishes a leave for each one it removed.
func (s *subscription) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.relay.presenceTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reap(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("Presence sweep failed", "error", err)
			}
		}
	}
}

func (s *subscription) reap(ctx context.Context) error {
	_, stale, err := s.scan(ctx)
	if err != nil {
		return err
	}
	for key, record := range stale {
		removed, err := s.relay.client.HDel(ctx, presenceHash(s.channel), key).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		s.log.Debug("Expired presence removed", "member", key)
		bytes, err := json.Marshal(frame{From: key, Event: contract.RelayEvent{
			Type:      contract.EventPresenceLeave,
			Channel:   s.channel,
			Key:       key,
			Presences: map[string][]json.RawMessage{key: {record}},
		}})
		if err != nil {
			return err
		}
		if err = s.relay.client.Publish(ctx, topic(s.channel), bytes).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *subscription) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.relay.presenceTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			rec := s.record
			s.mu.Unlock()
			if err := s.store(ctx, rec); err != nil && ctx.Err() == nil {
				s.log.Warn("Presence refresh failed", "error", err)
			}
		}
	}
}

func (s *subscription) Untrack(ctx context.Context) error {
	if s.closed.Load() {
		return errors.ErrChannelClosed
	}
	return s.untrack(ctx)
}

func (s *subscription) untrack(ctx context.Context) error {
	s.mu.Lock()
	rec := s.record
	s.record = nil
	if s.stopBeat != nil {
		s.stopBeat()
		s.stopBeat = nil
	}
	s.mu.Unlock()
	if rec == nil {
		return nil
	}

	_, err := s.relay.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, presenceHash(s.channel), s.key)
		pipe.Del(ctx, aliveKey(s.channel, s.key))
		return nil
	})
	if err != nil {
		return err
	}
	bytes, err := json.Marshal(frame{From: s.key, Event: contract.RelayEvent{
		Type:      contract.EventPresenceLeave,
		Channel:   s.channel,
		Key:       s.key,
		Presences: map[string][]json.RawMessage{s.key: {rec}},
	}})
	if err != nil {
		return err
	}
	return s.relay.client.Publish(ctx, topic(s.channel), bytes).Err()
}

// Close removes the presence of this connection, if any, then leaves the
// topic. Events is closed once the listener has stopped.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if uerr := s.untrack(ctx); uerr != nil {
			s.log.Warn("Presence removal failed", "error", uerr)
		}
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}

func (s *subscription) presenceState(ctx context.Context) (map[string][]json.RawMessage, error) {
	live, _, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	state := make(map[string][]json.RawMessage, len(live))
	for key, record := range live {
		state[key] = []json.RawMessage{record}
	}
	return state, nil
}

// scan splits the presence records of the channel between the live ones and
// the ones whose liveness key has expired.
func (s *subscription) scan(ctx context.Context) (live, stale map[string]json.RawMessage, err error) {
	records, err := s.relay.client.HGetAll(ctx, presenceHash(s.channel)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("presence of %s: %w", s.channel, err)
	}
	live = make(map[string]json.RawMessage, len(records))
	stale = make(map[string]json.RawMessage)
	if len(records) == 0 {
		return live, stale, nil
	}

	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	alive := make([]string, len(keys))
	for i, key := range keys {
		alive[i] = aliveKey(s.channel, key)
	}
	flags, err := s.relay.client.MGet(ctx, alive...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("presence liveness of %s: %w", s.channel, err)
	}
	for i, key := range keys {
		record := json.RawMessage(records[key])
		if !json.Valid(record) {
			continue
		}
		if flags[i] == nil {
			stale[key] = record
			continue
		}
		live[key] = record
	}
	return live, stale, nil
}
